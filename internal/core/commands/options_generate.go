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

// This file defines the command that attaches the branching choices to a
// completed node. Options are generated once per node and cached on the node
// row; subsequent polls of the same job replay the cached set instead of
// re-invoking the model. A corrupt cache entry is treated as absent and
// regenerated in place.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/playstory/go-playstory/internal/core/cor"
	"github.com/playstory/go-playstory/internal/core/model"
	"github.com/playstory/go-playstory/internal/core/services"
)

// OptionsGenerateCommand resolves the node's options, from cache or from the
// options model, and publishes them under CtxOptions / CtxOptionsSource.
type OptionsGenerateCommand struct {
	cor.BaseCommand
	stories     *services.StoryService
	options     *services.OptionsService
	optionCount int
	logger      *slog.Logger
}

// NewOptionsGenerateCommand creates the option resolution step.
func NewOptionsGenerateCommand(name string, stories *services.StoryService, options *services.OptionsService, optionCount int, logger *slog.Logger) *OptionsGenerateCommand {
	return &OptionsGenerateCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		stories:     stories,
		options:     options,
		optionCount: optionCount,
		logger:      logger,
	}
}

// Execute returns the cached options when present and valid, otherwise
// generates and caches a fresh set.
func (c *OptionsGenerateCommand) Execute(context cor.Context) {
	node := context.Get(c.GetInputParam()).(*model.StoryNode)
	ctx := context.GetContext()

	if cached, err := c.stories.GetOptions(ctx, node.ID); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to read options cache for node %s: %w", node.ID, err))
		return
	} else if cached != nil {
		var options []model.StoryOption
		if err := json.Unmarshal([]byte(*cached), &options); err == nil && len(options) > 0 {
			context.Add(CtxOptions, options)
			context.Add(CtxOptionsSource, model.OptionsSourceLLM)
			c.GetSuccessCounter().Add(ctx, 1)
			context.Add(c.GetOutputParam(), node)
			return
		}
		c.logger.Warn("cached options were malformed, regenerating", "node_id", node.ID)
	}

	summary, err := c.stories.GetSummary(ctx, node.StoryID)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to read summary for story %s: %w", node.StoryID, err))
		return
	}

	framePath := ""
	if path, ok := context.Get(CtxFramePath).(string); ok {
		framePath = path
	}

	options, source := c.options.Propose(ctx, summary, framePath, c.optionCount)

	encoded, err := json.Marshal(options)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to encode options for node %s: %w", node.ID, err))
		return
	}
	if err := c.stories.SetOptions(ctx, node.ID, string(encoded)); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to cache options for node %s: %w", node.ID, err))
		return
	}

	context.Add(CtxOptions, options)
	context.Add(CtxOptionsSource, source)
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), node)
}
