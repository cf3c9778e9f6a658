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

// This file defines the command that locates a downloadable video URL inside
// a completed job payload. Video API responses are not stable across versions
// or providers, so the resolver probes a fixed ladder of payload shapes, in
// priority order:
//
//  1. Direct keys: download_url, asset_url, video_url, url.
//  2. An "output" list (first element's url/download_url) or "output" object
//     (its "video" or "asset" object's url).
//  3. An "assets" object keyed by video/original/mp4, or an "assets" list
//     (preferring entries whose type starts with "video").
//  4. A "video" object's url.
//
// Resolving no URL is not an error: the downloader falls back to the job
// content endpoint.
package commands

import (
	"strings"

	"github.com/playstory/go-playstory/internal/core/cor"
	"github.com/playstory/go-playstory/internal/core/model"
)

// directURLKeys are probed first, in order.
var directURLKeys = []string{"download_url", "asset_url", "video_url", "url"}

// assetMapKeys are the entries probed in an "assets" object, in order.
var assetMapKeys = []string{"video", "original", "mp4"}

// ResolveURLCommand extracts a download URL from the job payload stored under
// CtxJobPayload and publishes it under CtxDownloadURL.
type ResolveURLCommand struct {
	cor.BaseCommand
}

// NewResolveURLCommand creates the URL resolution step.
func NewResolveURLCommand(name string) *ResolveURLCommand {
	return &ResolveURLCommand{BaseCommand: *cor.NewBaseCommand(name)}
}

// Execute probes the payload and records the resolved URL, passing the node
// through unchanged.
func (c *ResolveURLCommand) Execute(context cor.Context) {
	node := context.Get(c.GetInputParam()).(*model.StoryNode)
	payload, _ := context.Get(CtxJobPayload).(map[string]interface{})

	if url := ResolveDownloadURL(payload); url != "" {
		context.Add(CtxDownloadURL, url)
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.GetOutputParam(), node)
}

// ResolveDownloadURL walks the known payload shapes and returns the first
// plausible video URL, or "" when none is present.
func ResolveDownloadURL(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if url := probeDirectKeys(payload); url != "" {
		return url
	}
	if url := probeOutput(payload["output"]); url != "" {
		return url
	}
	if url := probeAssets(payload["assets"]); url != "" {
		return url
	}
	if video, ok := payload["video"].(map[string]interface{}); ok {
		if url, ok := video["url"].(string); ok {
			return url
		}
	}
	return ""
}

// JobStatus returns the payload's status field, tolerating both "status" and
// "job_status" spellings.
func JobStatus(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if status, ok := payload["status"].(string); ok && status != "" {
		return status
	}
	if status, ok := payload["job_status"].(string); ok {
		return status
	}
	return ""
}

// JobID returns the payload's job identifier, tolerating both "id" and
// "job_id" spellings.
func JobID(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if id, ok := payload["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := payload["job_id"].(string); ok {
		return id
	}
	return ""
}

// JobErrorMessage extracts a human-readable error from a failed payload, or
// "" when the payload carries none.
func JobErrorMessage(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	switch e := payload["error"].(type) {
	case string:
		return e
	case map[string]interface{}:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func probeDirectKeys(payload map[string]interface{}) string {
	for _, key := range directURLKeys {
		if val, ok := payload[key].(string); ok && strings.HasPrefix(val, "http") {
			return val
		}
	}
	return ""
}

func probeOutput(output interface{}) string {
	switch out := output.(type) {
	case []interface{}:
		if len(out) == 0 {
			return ""
		}
		if first, ok := out[0].(map[string]interface{}); ok {
			if url, ok := first["url"].(string); ok && url != "" {
				return url
			}
			if url, ok := first["download_url"].(string); ok {
				return url
			}
		}
	case map[string]interface{}:
		candidate := out["video"]
		if candidate == nil {
			candidate = out["asset"]
		}
		if obj, ok := candidate.(map[string]interface{}); ok {
			if url, ok := obj["url"].(string); ok {
				return url
			}
		}
	}
	return ""
}

func probeAssets(assets interface{}) string {
	switch a := assets.(type) {
	case map[string]interface{}:
		for _, key := range assetMapKeys {
			item := a[key]
			if obj, ok := item.(map[string]interface{}); ok {
				if url, ok := obj["url"].(string); ok {
					return url
				}
				continue
			}
			if val, ok := item.(string); ok && strings.HasPrefix(val, "http") {
				return val
			}
		}
	case []interface{}:
		for _, item := range a {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			url, hasURL := obj["url"].(string)
			if assetType, ok := obj["type"].(string); ok && strings.HasPrefix(assetType, "video") && hasURL {
				return url
			}
			if hasURL {
				return url
			}
		}
	}
	return ""
}
