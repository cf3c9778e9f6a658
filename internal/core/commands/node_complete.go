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

// This file defines the command that persists the terminal state of a
// reconciled node: the artifact paths, the completed status, and the story's
// latest-node pointer. The writes are plain overwrites with identical values
// on every poll, so re-running them is harmless.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/playstory/go-playstory/internal/core/cor"
	"github.com/playstory/go-playstory/internal/core/model"
	"github.com/playstory/go-playstory/internal/core/services"
)

// NodeCompleteCommand marks the node completed and advances the story's
// latest-node pointer.
type NodeCompleteCommand struct {
	cor.BaseCommand
	stories *services.StoryService
	logger  *slog.Logger
}

// NewNodeCompleteCommand creates the persistence step.
func NewNodeCompleteCommand(name string, stories *services.StoryService, logger *slog.Logger) *NodeCompleteCommand {
	return &NodeCompleteCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		stories:     stories,
		logger:      logger,
	}
}

// Execute writes the completion record. The in-memory node is updated in
// place so downstream commands see the persisted state.
func (c *NodeCompleteCommand) Execute(context cor.Context) {
	node := context.Get(c.GetInputParam()).(*model.StoryNode)
	ctx := context.GetContext()

	videoPath, ok := context.Get(CtxVideoPath).(string)
	if !ok || videoPath == "" {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("node %s reached completion with no video artifact", node.ID))
		return
	}

	var framePath *string
	if path, ok := context.Get(CtxFramePath).(string); ok && path != "" {
		framePath = &path
	}

	if err := c.stories.MarkCompleted(ctx, node.ID, videoPath, framePath); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to mark node %s completed: %w", node.ID, err))
		return
	}
	if err := c.stories.SetLatest(ctx, node.StoryID, node.ID); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to set latest node for story %s: %w", node.StoryID, err))
		return
	}

	node.Status = model.StatusCompleted
	node.VideoPath = &videoPath
	node.FramePath = framePath

	c.logger.Info("node completed", "node_id", node.ID, "story_id", node.StoryID, "has_frame", framePath != nil)
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), node)
}
