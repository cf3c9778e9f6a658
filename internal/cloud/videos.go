// Copyright 2025 PlayStory Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloud provides components for interacting with external services.
// This file implements the client for the upstream text/image-to-video
// generation API (the `/v1/videos` job endpoints).
//
// Logic Flow:
// The client submits generation jobs, polls their status, and retrieves the
// finished bytes. Two upstream quirks are part of the wire contract and are
// deliberately preserved here:
//
//  1. The `seconds` parameter must be serialized as its string representation
//     ("4" | "8" | "12"), not as a JSON number.
//  2. When continuing a story from a parent clip, the parent's last frame is
//     transmitted as binary multipart content under the `input_reference`
//     field so the new clip preserves visual continuity.
//
// Any non-success HTTP outcome is surfaced as an *APIStatusError carrying the
// upstream status code and decoded body (or raw text when the body is not
// JSON), so callers can forward the upstream detail to the end user.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Default request timeouts. Downloads get a much larger budget since clip
// payloads run to tens of megabytes.
const (
	SubmitTimeout   = 2 * time.Minute
	StatusTimeout   = 1 * time.Minute
	DownloadTimeout = 10 * time.Minute
)

// downloadChunkSize is the copy buffer used when streaming video bytes to disk.
const downloadChunkSize = 512 * 1024

// APIStatusError is returned for any non-2xx upstream response. It keeps the
// upstream status code and body so the HTTP layer can surface generation
// problems (bad parameters, missing model access) as client-facing errors
// rather than opaque server faults.
type APIStatusError struct {
	StatusCode int         // The upstream HTTP status code.
	Body       interface{} // The decoded JSON body, or the raw text when not JSON.
}

// Error implements the error interface.
func (e *APIStatusError) Error() string {
	return fmt.Sprintf("videos api error %d: %v", e.StatusCode, e.Body)
}

// newAPIStatusError builds an APIStatusError from a response body, preferring
// the decoded JSON form when the body parses.
func newAPIStatusError(statusCode int, body []byte) *APIStatusError {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		decoded = string(body)
	}
	return &APIStatusError{StatusCode: statusCode, Body: decoded}
}

// VideoClient is the HTTP client for the upstream video-generation service.
type VideoClient struct {
	BaseURL    string       // The API base URL (e.g., "https://api.openai.com").
	APIKey     string       // The bearer token for authentication.
	HTTPClient *http.Client // The underlying HTTP client; per-request timeouts come from contexts.
}

// NewVideoClient is the constructor for VideoClient.
//
// Inputs:
//   - baseURL: The upstream API base URL, without the "/v1/videos" suffix.
//   - apiKey: The bearer token used on every request.
//
// Outputs:
//   - *VideoClient: A pointer to the newly instantiated client.
func NewVideoClient(baseURL string, apiKey string) *VideoClient {
	return &VideoClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
	}
}

// videosURL returns the `/v1/videos` endpoint, optionally suffixed with
// additional path segments.
func (c *VideoClient) videosURL(suffix string) string {
	return c.BaseURL + "/v1/videos" + suffix
}

// StartJob submits a new generation job and returns the raw job payload.
//
// Inputs:
//   - ctx: The context for the request.
//   - model: The video model identifier.
//   - prompt: The full prompt text, including any continuity-context prefix.
//   - seconds: The clip duration; serialized as a string per the upstream contract.
//   - size: The frame-size string (e.g., "1280x720").
//   - referenceImagePath: Optional path to a reference image; when non-empty the
//     request is sent as multipart form data with the image bytes attached.
//
// Outputs:
//   - map[string]interface{}: The decoded job payload (id, status, ...).
//   - error: An *APIStatusError on non-success responses, or a transport error.
func (c *VideoClient) StartJob(ctx context.Context, model string, prompt string, seconds int, size string, referenceImagePath string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()

	var req *http.Request
	var err error

	if referenceImagePath != "" {
		req, err = c.newMultipartStartRequest(ctx, model, prompt, seconds, size, referenceImagePath)
	} else {
		payload := map[string]string{
			"model":   model,
			"prompt":  prompt,
			"seconds": strconv.Itoa(seconds),
			"size":    size,
		}
		var body []byte
		body, err = json.Marshal(payload)
		if err == nil {
			req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.videosURL(""), bytes.NewReader(body))
			if req != nil {
				req.Header.Set("Content-Type", "application/json")
			}
		}
	}
	if err != nil {
		return nil, err
	}

	return c.doJSON(req)
}

// newMultipartStartRequest builds the multipart form of the job-submission
// request, attaching the reference image bytes under `input_reference`.
func (c *VideoClient) newMultipartStartRequest(ctx context.Context, model string, prompt string, seconds int, size string, referenceImagePath string) (*http.Request, error) {
	file, err := os.Open(referenceImagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference image: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":   model,
		"prompt":  prompt,
		"seconds": strconv.Itoa(seconds),
		"size":    size,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("input_reference", filepath.Base(referenceImagePath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.videosURL(""), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

// GetJob fetches the current status payload for a job.
//
// Inputs:
//   - ctx: The context for the request.
//   - jobID: The opaque job reference returned by StartJob.
//
// Outputs:
//   - map[string]interface{}: The raw status payload, decoded as a generic map
//     since the upstream shape is loosely specified.
//   - error: An *APIStatusError on non-success responses, or a transport error.
func (c *VideoClient) GetJob(ctx context.Context, jobID string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.videosURL("/"+jobID), nil)
	if err != nil {
		return nil, err
	}
	return c.doJSON(req)
}

// Download streams the bytes at an already-resolved asset URL to a local file.
//
// Inputs:
//   - ctx: The context for the request.
//   - downloadURL: The asset URL resolved from the job payload.
//   - localPath: The destination file path; parent directories are created.
func (c *VideoClient) Download(ctx context.Context, downloadURL string, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	return c.streamToFile(req, localPath)
}

// DownloadContent is the fallback retrieval path: some upstream snapshots
// expose the finished bytes via `/v1/videos/{id}/content` instead of an asset
// URL in the status payload.
//
// Inputs:
//   - ctx: The context for the request.
//   - jobID: The job reference to fetch content for.
//   - localPath: The destination file path; parent directories are created.
func (c *VideoClient) DownloadContent(ctx context.Context, jobID string, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.videosURL("/"+jobID+"/content"), nil)
	if err != nil {
		return err
	}
	return c.streamToFile(req, localPath)
}

// doJSON executes a request with auth headers and decodes a JSON object
// response, converting non-2xx outcomes into *APIStatusError.
func (c *VideoClient) doJSON(req *http.Request) (map[string]interface{}, error) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIStatusError(resp.StatusCode, body)
	}

	out := make(map[string]interface{})
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return out, nil
}

// streamToFile executes a request and copies the response body to localPath in
// fixed-size chunks, creating parent directories as needed.
func (c *VideoClient) streamToFile(req *http.Request, localPath string) error {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return newAPIStatusError(resp.StatusCode, body)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(out, resp.Body, buf); err != nil {
		return fmt.Errorf("failed to stream video bytes: %w", err)
	}
	return out.Close()
}
