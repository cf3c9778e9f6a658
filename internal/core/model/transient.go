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

// Package model defines the core data structures for the application.
// This file, `transient.go`, contains struct definitions used for in-memory
// operations during workflow execution. These objects are intermediate
// containers passed between commands in a chain; they are not persisted in
// this form.
package model

// GenerationParams are the per-node video-generation parameters, resolved
// from request overrides falling back to configured defaults.
type GenerationParams struct {
	Model   string // The video model identifier.
	Seconds int    // Clip duration in seconds.
	Size    string // Frame-size string, e.g. "1280x720".
}

// StoryOption is one proposed next action surfaced to the player after a clip
// completes: a short label plus the generation prompt submitted if chosen.
type StoryOption struct {
	Label      string `json:"label"`       // Short, punchy action label (at most 60 characters after sanitation).
	SoraPrompt string `json:"sora_prompt"` // 1-2 sentence visual beat description sent to the video API.
}

// OptionList is the JSON envelope the chat model is instructed to return.
type OptionList struct {
	Options []StoryOption `json:"options"`
}

// CompletionResult is the outcome of reconciling a completed job: the owning
// node, the public media URLs, and the (possibly cached) option set.
type CompletionResult struct {
	NodeID        string        `json:"node_id"`
	VideoURL      string        `json:"video_url"`
	FrameURL      *string       `json:"frame_url"`      // Nil when frame extraction failed.
	Options       []StoryOption `json:"options"`        // The proposed next actions.
	OptionsSource string        `json:"options_source"` // "llm" or "fallback".
}
