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

package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/commands"
	"github.com/playstory/go-playstory/internal/core/services"
	"github.com/playstory/go-playstory/internal/core/workflow"
)

// StateManager holds the shared components for the application.
type StateManager struct {
	config     *cloud.Config
	cloud      *cloud.ServiceClients
	stories    *services.StoryService
	options    *services.OptionsService
	frames     *services.FrameService
	completion *workflow.CompletionWorkflow
}

var state = &StateManager{}

// SetupOS points the configuration loader at the local configs directory
// unless the environment already says otherwise.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig loads the application configuration once and caches it.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os environment: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		state.config = config
	}
	return state.config
}

// InitState initializes the application state and dependencies: the external
// service clients, the story store, the option generator, and the completion
// reconciliation workflow.
func InitState(ctx context.Context) {
	config := GetConfig()

	apiKey := os.Getenv(cloud.EnvAPIKey)
	if apiKey == "" {
		log.Fatalf("environment variable %s is required\n", cloud.EnvAPIKey)
	}

	serviceClients, err := cloud.NewServiceClients(ctx, config, apiKey)
	if err != nil {
		panic(err)
	}
	state.cloud = serviceClients

	stories, err := services.NewStoryService(serviceClients.DB)
	if err != nil {
		panic(err)
	}
	state.stories = stories

	state.frames = services.NewFrameService(config.Application.FfmpegCommand, config.Application.FfprobeCommand)

	logger := slog.Default()
	optionsChat, ok := serviceClients.ChatModels["options"]
	if !ok {
		log.Fatalf("no \"options\" chat model configured\n")
	}
	options, err := services.NewOptionsService(config, optionsChat, logger)
	if err != nil {
		panic(err)
	}
	state.options = options

	for _, dir := range []string{config.Storage.MediaDir, config.Storage.VideosDir, config.Storage.FramesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create media directory %s: %v\n", dir, err)
		}
	}

	state.completion = workflow.NewCompletionWorkflow(
		serviceClients.VideoClient,
		stories,
		commands.NewResolveURLCommand("resolve_url"),
		commands.NewVideoDownloadCommand("video_download", serviceClients.VideoClient, config, logger),
		commands.NewFrameExtractCommand("frame_extract", state.frames, config, logger),
		commands.NewNodeCompleteCommand("node_complete", stories, logger),
		commands.NewOptionsGenerateCommand("options_generate", stories, options, config.Application.OptionCount, logger),
		logger,
	)
}
