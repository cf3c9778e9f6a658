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

// Package services contains the business logic for interacting with data
// sources. This file defines the StoryService, the sole writer of story nodes
// and per-story state. The service owns the narrative-continuity rules: the
// bounded bullet-log summary, the continuation-prompt context prefix, and the
// write-once options cache.
package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/playstory/go-playstory/internal/core/model"
)

// Summary bounds. The summary is a rolling window of the most recent story
// beats, sized to stay useful as LLM context without dominating the prompt.
const (
	MaxSummaryBullets   = 8   // Bullets retained in the stored summary.
	MaxContextBullets   = 3   // Bullets used for the continuation-prompt prefix.
	MaxContextChars     = 150 // Hard cap on the joined context prefix.
	seedPromptChars     = 200 // Prefix of the base prompt kept in the seed bullet.
	choicePromptChars   = 140 // Prefix of the chosen prompt kept in a choice bullet.
)

// StoryService is the data access layer for nodes and story state. All writes
// go through gorm against the shared sqlite handle; each call is a single
// atomic statement (or a small transaction), which is the only serialization
// the store guarantees across concurrent polls.
type StoryService struct {
	DB *gorm.DB // The shared database handle.
}

// NewStoryService constructs the service and syncs the schema. AutoMigrate
// covers additive changes such as the options-cache column on older databases.
func NewStoryService(db *gorm.DB) (*StoryService, error) {
	if err := db.AutoMigrate(&model.StoryNode{}, &model.StoryState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate story schema: %w", err)
	}
	return &StoryService{DB: db}, nil
}

// AddNode inserts a new node and guarantees the owning story has a state row.
// The state row is created exactly once, on the first node insertion for the
// story, pointing at that node.
func (s *StoryService) AddNode(ctx context.Context, node *model.StoryNode) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(node).Error; err != nil {
			return err
		}
		state := model.StoryState{StoryID: node.StoryID, Summary: "", LatestNodeID: node.ID}
		// FirstOrCreate leaves an existing row untouched.
		return tx.Where(model.StoryState{StoryID: node.StoryID}).FirstOrCreate(&state).Error
	})
}

// GetNode retrieves a node by its ID, returning nil (no error) when absent.
func (s *StoryService) GetNode(ctx context.Context, nodeID string) (*model.StoryNode, error) {
	var node model.StoryNode
	err := s.DB.WithContext(ctx).First(&node, "id = ?", nodeID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// GetNodeByJob retrieves the node owning a job reference, returning nil when
// no node correlates — the caller reports that as a consistency error.
func (s *StoryService) GetNodeByJob(ctx context.Context, jobID string) (*model.StoryNode, error) {
	var node model.StoryNode
	err := s.DB.WithContext(ctx).First(&node, "job_id = ?", jobID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// MarkCompleted records the artifact paths and flips the node to the
// completed status. framePath stays nil when frame extraction failed; the
// node still completes on the strength of the video alone.
func (s *StoryService) MarkCompleted(ctx context.Context, nodeID string, videoPath string, framePath *string) error {
	return s.DB.WithContext(ctx).Model(&model.StoryNode{}).Where("id = ?", nodeID).
		Updates(map[string]interface{}{
			"status":     model.StatusCompleted,
			"video_path": videoPath,
			"frame_path": framePath,
		}).Error
}

// NodeUpdate is a partial mutation of a pending node's job correlation fields.
// Nil fields are left untouched.
type NodeUpdate struct {
	JobID  *string
	Status *string
	Prompt *string
}

// UpdateNode applies a partial update to a node.
func (s *StoryService) UpdateNode(ctx context.Context, nodeID string, update NodeUpdate) error {
	fields := make(map[string]interface{})
	if update.JobID != nil {
		fields["job_id"] = *update.JobID
	}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.Prompt != nil {
		fields["prompt"] = *update.Prompt
	}
	if len(fields) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&model.StoryNode{}).Where("id = ?", nodeID).Updates(fields).Error
}

// GetOptions returns the cached options JSON for a node, or nil when no cache
// exists yet.
func (s *StoryService) GetOptions(ctx context.Context, nodeID string) (*string, error) {
	var node model.StoryNode
	err := s.DB.WithContext(ctx).Select("options").First(&node, "id = ?", nodeID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if node.Options == nil || *node.Options == "" {
		return nil, nil
	}
	return node.Options, nil
}

// SetOptions caches the generated options for a node. The write is an
// idempotent overwrite: concurrent polls racing on the check-then-generate
// pattern at worst duplicate the LLM call, never corrupt the row.
func (s *StoryService) SetOptions(ctx context.Context, nodeID string, optionsJSON string) error {
	return s.DB.WithContext(ctx).Model(&model.StoryNode{}).Where("id = ?", nodeID).
		Update("options", optionsJSON).Error
}

// SetLatest points the story state at the most recently completed node.
func (s *StoryService) SetLatest(ctx context.Context, storyID string, nodeID string) error {
	return s.DB.WithContext(ctx).Model(&model.StoryState{}).Where("story_id = ?", storyID).
		Update("latest_node_id", nodeID).Error
}

// GetSummary returns the story's summary, or "" when the story is unknown.
func (s *StoryService) GetSummary(ctx context.Context, storyID string) (string, error) {
	var state model.StoryState
	err := s.DB.WithContext(ctx).First(&state, "story_id = ?", storyID).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.Summary, nil
}

// SeedSummary initializes the summary from the story's base prompt, but only
// while the summary is still empty — re-running a start request must not
// clobber accumulated beats.
func (s *StoryService) SeedSummary(ctx context.Context, storyID string, basePrompt string) error {
	current, err := s.GetSummary(ctx, storyID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(current) != "" {
		return nil
	}
	initial := fmt.Sprintf("- Setup: %s", truncateRunes(basePrompt, seedPromptChars))
	return s.DB.WithContext(ctx).Model(&model.StoryState{}).Where("story_id = ?", storyID).
		Update("summary", initial).Error
}

// AppendChoice appends one compact bullet for the player's choice, trims the
// summary to the most recent MaxSummaryBullets entries, and records the
// parent as the story's current position.
func (s *StoryService) AppendChoice(ctx context.Context, storyID string, parentNodeID string, choiceLabel string, prompt string) error {
	prev, err := s.GetSummary(ctx, storyID)
	if err != nil {
		return err
	}

	bullets := splitBullets(prev)
	bullets = append(bullets, fmt.Sprintf("Choice: %s. Next: %s", choiceLabel, truncateRunes(prompt, choicePromptChars)))
	if len(bullets) > MaxSummaryBullets {
		bullets = bullets[len(bullets)-MaxSummaryBullets:]
	}

	lines := make([]string, 0, len(bullets))
	for _, b := range bullets {
		lines = append(lines, "- "+b)
	}

	return s.DB.WithContext(ctx).Model(&model.StoryState{}).Where("story_id = ?", storyID).
		Updates(map[string]interface{}{
			"summary":        strings.Join(lines, "\n"),
			"latest_node_id": parentNodeID,
		}).Error
}

// ListStory returns every node of a story in creation order together with the
// story state (nil when the story is unknown).
func (s *StoryService) ListStory(ctx context.Context, storyID string) ([]model.StoryNode, *model.StoryState, error) {
	var nodes []model.StoryNode
	if err := s.DB.WithContext(ctx).Where("story_id = ?", storyID).Order("created_at").Find(&nodes).Error; err != nil {
		return nil, nil, err
	}
	var state model.StoryState
	err := s.DB.WithContext(ctx).First(&state, "story_id = ?", storyID).Error
	if err == gorm.ErrRecordNotFound {
		return nodes, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return nodes, &state, nil
}

// ContinuationPrompt builds the final prompt submitted for a continuation:
// the player's action prompt, optionally prefixed with a compact continuity
// context built from the story's most recent summary beats.
//
// The context uses at most the last MaxContextBullets bullets, stripped of
// bullet markup and joined with spaces. A joined string longer than
// MaxContextChars is hard-truncated to 147 characters plus an ellipsis so the
// context never overwhelms the main prompt.
func ContinuationPrompt(summary string, actionPrompt string, includeContext bool) string {
	if !includeContext || strings.TrimSpace(summary) == "" {
		return actionPrompt
	}

	bullets := splitBullets(summary)
	if len(bullets) > MaxContextBullets {
		bullets = bullets[len(bullets)-MaxContextBullets:]
	}
	contextText := strings.Join(bullets, " ")
	if len([]rune(contextText)) > MaxContextChars {
		contextText = truncateRunes(contextText, MaxContextChars-3) + "..."
	}
	return fmt.Sprintf("[Story context: %s]\n\n%s", contextText, actionPrompt)
}

// splitBullets breaks a stored summary into its bullet texts, dropping blank
// lines and the leading "- " markup.
func splitBullets(summary string) []string {
	out := make([]string, 0, MaxSummaryBullets)
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
