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

// Package cloud defines the data structures for application configuration,
// loaded from TOML files, along with the clients used to talk to the external
// video-generation and chat-completion services. It provides a structured way
// to manage settings for the HTTP server, media storage, generation defaults,
// and the prompt templates sent to the option-proposal model.
//
// Structs:
//   - Storage: Local filesystem locations for materialized media artifacts.
//   - VideoDefaults: Default generation parameters for new video jobs.
//   - ChatModel: Configuration for the chat-completion model that proposes
//     narrative options.
//   - PromptTemplates: Text templates for prompts sent to the chat model.
//   - Config: The top-level struct that aggregates all other configuration structs.
package cloud

// Storage holds the local filesystem layout for materialized artifacts.
// Videos and frames are written under per-story directories so that a story's
// clips can be served as a unit without any stitching step.
type Storage struct {
	MediaDir  string `toml:"media_dir"`  // Root directory for all media artifacts.
	VideosDir string `toml:"videos_dir"` // Directory for downloaded video clips.
	FramesDir string `toml:"frames_dir"` // Directory for extracted last-frames.
	Database  string `toml:"database"`   // Path to the sqlite database file.
}

// VideoDefaults holds the generation parameters applied when a request does
// not override them.
type VideoDefaults struct {
	Model   string `toml:"model"`   // The video-generation model identifier (e.g., "sora-2").
	Seconds int    `toml:"seconds"` // Clip duration in seconds.
	Size    string `toml:"size"`    // Frame size string (e.g., "1280x720").
}

// ChatModel holds the configuration for a chat-completion model used for
// narrative option proposal.
type ChatModel struct {
	Model     string `toml:"model"`      // The chat model identifier (e.g., "gpt-5-mini").
	MaxTokens int    `toml:"max_tokens"` // The maximum number of completion tokens.
	RateLimit int    `toml:"rate_limit"` // Allowed requests per second against the model.
}

// PromptTemplates holds the templates for prompts sent to the chat model.
// Templates are parsed with text/template; see OptionsService for the
// parameters substituted into the options template.
type PromptTemplates struct {
	OptionsPrompt string `toml:"options"` // The template for proposing next-action options.
}

// Config represents the overall configuration for the application, loaded from
// TOML files. It acts as the root container for all other configuration structs.
type Config struct {
	// Application holds general application settings.
	Application struct {
		Name           string `toml:"name"`            // The name of the application, used for telemetry resource attribution.
		Port           int    `toml:"port"`            // The TCP port the HTTP server listens on.
		OptionCount    int    `toml:"option_count"`    // How many narrative options to request per completed clip.
		FfmpegCommand  string `toml:"ffmpeg_command"`  // Path to the ffmpeg executable; defaults to "ffmpeg" on PATH.
		FfprobeCommand string `toml:"ffprobe_command"` // Path to the ffprobe executable; defaults to "ffprobe" on PATH.
	} `toml:"application"`
	Storage         Storage              `toml:"storage"`          // Local media storage configuration.
	VideoDefaults   VideoDefaults        `toml:"video_defaults"`   // Default video-generation parameters.
	ChatModels      map[string]ChatModel `toml:"chat_models"`      // Chat models keyed by a logical name (e.g., "options").
	PromptTemplates PromptTemplates      `toml:"prompt_templates"` // Prompt templates configuration.
}

// NewConfig is a constructor function that creates a new, initialized Config
// instance. The map fields must be initialized before the TOML loader
// populates them.
//
// Outputs:
//   - *Config: A pointer to a new Config struct with its map fields initialized.
func NewConfig() *Config {
	return &Config{
		ChatModels: make(map[string]ChatModel),
	}
}
