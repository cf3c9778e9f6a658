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

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartJobSerializesSecondsAsString(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/videos", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"video_123","status":"queued"}`))
	}))
	defer server.Close()

	client := NewVideoClient(server.URL, "test-key")
	job, err := client.StartJob(context.Background(), "sora-2", "a storm gathers", 8, "1280x720", "")
	require.NoError(t, err)

	// The duration is a string on the wire, not a number.
	assert.Equal(t, "8", received["seconds"])
	assert.Equal(t, "sora-2", received["model"])
	assert.Equal(t, "a storm gathers", received["prompt"])
	assert.Equal(t, "1280x720", received["size"])
	assert.Equal(t, "video_123", job["id"])
}

func TestStartJobWithReferenceImageUsesMultipart(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("jpeg-bytes"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "sora-2", r.FormValue("model"))
		assert.Equal(t, "8", r.FormValue("seconds"))
		assert.Equal(t, "1280x720", r.FormValue("size"))

		file, header, err := r.FormFile("input_reference")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "frame.jpg", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg-bytes"), content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"video_456","status":"queued"}`))
	}))
	defer server.Close()

	client := NewVideoClient(server.URL, "test-key")
	job, err := client.StartJob(context.Background(), "sora-2", "the scene continues", 8, "1280x720", imagePath)
	require.NoError(t, err)
	assert.Equal(t, "video_456", job["id"])
}

func TestStartJobMissingReferenceImage(t *testing.T) {
	client := NewVideoClient("http://unused.example.com", "test-key")
	_, err := client.StartJob(context.Background(), "sora-2", "prompt", 8, "1280x720", "/nonexistent/frame.jpg")
	require.Error(t, err)
}

func TestStartJobSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unsupported size"}}`))
	}))
	defer server.Close()

	client := NewVideoClient(server.URL, "test-key")
	_, err := client.StartJob(context.Background(), "sora-2", "prompt", 8, "9999x1", "")
	require.Error(t, err)

	var apiErr *APIStatusError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unsupported size")
}

func TestGetJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/videos/video_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"video_123","status":"in_progress","progress":42}`))
	}))
	defer server.Close()

	client := NewVideoClient(server.URL, "test-key")
	job, err := client.GetJob(context.Background(), "video_123")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", job["status"])
}

func TestDownloadStreamsToFile(t *testing.T) {
	payload := []byte("fake-video-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "videos", "story", "node.mp4")
	client := NewVideoClient(server.URL, "test-key")
	require.NoError(t, client.Download(context.Background(), server.URL+"/asset", dest))

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

func TestDownloadContentUsesContentEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/videos/video_123/content", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("content-bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "node.mp4")
	client := NewVideoClient(server.URL, "test-key")
	require.NoError(t, client.DownloadContent(context.Background(), "video_123", dest))

	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("content-bytes"), written)
}

func TestDownloadNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("gone"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "node.mp4")
	client := NewVideoClient(server.URL, "test-key")
	err := client.Download(context.Background(), server.URL+"/missing", dest)
	require.Error(t, err)

	var apiErr *APIStatusError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestAPIStatusErrorKeepsRawTextBody(t *testing.T) {
	err := newAPIStatusError(http.StatusBadGateway, []byte("upstream unavailable"))
	assert.Equal(t, http.StatusBadGateway, err.StatusCode)
	assert.Contains(t, err.Error(), "upstream unavailable")
	assert.Contains(t, err.Error(), "502")
}
