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

// Package commands provides the concrete Command implementations that make up
// the completion reconciliation workflow. The primary value piped from
// command to command is the *model.StoryNode under reconciliation; the keys
// below name the auxiliary values commands exchange through the shared
// context.
package commands

const (
	// CtxJobPayload holds the raw job-status payload (map[string]interface{})
	// returned by the video API.
	CtxJobPayload = "JOB_PAYLOAD"
	// CtxDownloadURL holds the resolved download URL (string), when one was
	// found in the payload.
	CtxDownloadURL = "DOWNLOAD_URL"
	// CtxVideoPath holds the local path (string) of the downloaded clip.
	CtxVideoPath = "VIDEO_PATH"
	// CtxFramePath holds the local path (string) of the extracted last frame.
	// Absent when frame extraction failed.
	CtxFramePath = "FRAME_PATH"
	// CtxOptions holds the generated choices ([]model.StoryOption).
	CtxOptions = "OPTIONS"
	// CtxOptionsSource holds the provenance tag (string) of the options,
	// model.OptionsSourceLLM or model.OptionsSourceFallback.
	CtxOptionsSource = "OPTIONS_SOURCE"
)
