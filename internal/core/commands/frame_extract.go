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

// This file defines the command that extracts the near-final frame of the
// downloaded clip and normalizes it to the node's generation resolution. The
// frame becomes the visual anchor for the next branch: it is sent to the
// options model and reused as the input_reference image of the continuation
// job.
//
// Frame extraction failure is explicitly non-fatal. A clip with no frame
// still completes; downstream steps fall back to text-only option proposal
// and frame-less continuation.
package commands

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/cor"
	"github.com/playstory/go-playstory/internal/core/model"
	"github.com/playstory/go-playstory/internal/core/services"
)

// FrameExtractCommand pulls the last frame out of the clip recorded under
// CtxVideoPath and publishes its path under CtxFramePath.
type FrameExtractCommand struct {
	cor.BaseCommand
	frames *services.FrameService
	config *cloud.Config
	logger *slog.Logger
}

// NewFrameExtractCommand creates the frame extraction step.
func NewFrameExtractCommand(name string, frames *services.FrameService, config *cloud.Config, logger *slog.Logger) *FrameExtractCommand {
	return &FrameExtractCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		frames:      frames,
		config:      config,
		logger:      logger,
	}
}

// Execute extracts and normalizes the frame. On any failure the node is
// passed through without a frame and without an error.
func (c *FrameExtractCommand) Execute(context cor.Context) {
	node := context.Get(c.GetInputParam()).(*model.StoryNode)
	ctx := context.GetContext()

	if node.FramePath != nil && fileIsUsable(*node.FramePath) {
		context.Add(CtxFramePath, *node.FramePath)
		c.GetSuccessCounter().Add(ctx, 1)
		context.Add(c.GetOutputParam(), node)
		return
	}

	videoPath, ok := context.Get(CtxVideoPath).(string)
	if !ok || videoPath == "" {
		c.logger.Warn("no video path available for frame extraction", "node_id", node.ID)
		context.Add(c.GetOutputParam(), node)
		return
	}

	storyDir := filepath.Join(c.config.Storage.FramesDir, node.StoryID)
	if err := os.MkdirAll(storyDir, 0o755); err != nil {
		c.logger.Warn("failed to create story frame dir, continuing without frame", "error", err)
		context.Add(c.GetOutputParam(), node)
		return
	}
	framePath := filepath.Join(storyDir, node.ID+".jpg")

	if err := c.frames.ExtractLastFrame(ctx, videoPath, framePath); err != nil {
		c.logger.Warn("frame extraction failed, continuing without frame",
			"node_id", node.ID, "error", err)
		context.Add(c.GetOutputParam(), node)
		return
	}
	if err := c.frames.EnsureResolution(ctx, framePath, node.Size); err != nil {
		c.logger.Warn("frame resolution normalization failed, keeping raw frame",
			"node_id", node.ID, "error", err)
	}

	context.Add(CtxFramePath, framePath)
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), node)
}
