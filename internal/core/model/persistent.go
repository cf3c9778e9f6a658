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
// This file, `persistent.go`, contains the structs persisted to sqlite via
// gorm: the branching tree of video-generation attempts (StoryNode) and the
// per-story narrative state (StoryState).
package model

import (
	"time"

	"github.com/google/uuid"
)

// Job status vocabulary. The values are dictated by the external video API and
// passed through verbatim; only the two terminal values branch behavior, any
// other string is treated as non-terminal.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Sources for a node's cached options set.
const (
	OptionsSourceLLM      = "llm"
	OptionsSourceFallback = "fallback"
)

// StoryNode is one video-generation attempt and its resulting clip in a
// story's branching tree. Nodes are never deleted; the tree only grows.
//
// Invariants:
//   - VideoPath is set exactly when Status is "completed". FramePath may stay
//     nil on a completed node if frame extraction failed.
//   - Options is written at most once under normal operation and always holds
//     valid JSON when non-nil; a corrupt cache is transparently regenerated.
type StoryNode struct {
	ID         string    `gorm:"primaryKey" json:"id"`         // Opaque unique identifier, generated at creation.
	ParentID   *string   `gorm:"index" json:"parent_id"`       // The node this one branched from; nil for a story root.
	StoryID    string    `gorm:"index" json:"story_id"`        // Groups nodes into one branching tree.
	Prompt     string    `json:"prompt"`                       // The exact text sent to the video API, context prefix included.
	ChoiceText *string   `json:"choice_text"`                  // The human-readable label chosen to reach this node; nil for the root.
	JobID      string    `gorm:"index" json:"job_id"`          // Opaque job reference from the video API, used to poll and correlate.
	Status     string    `json:"status"`                       // Upstream status vocabulary, passed through verbatim.
	VideoPath  *string   `json:"video_path"`                   // Local path of the materialized clip; nil until completion.
	FramePath  *string   `json:"frame_path"`                   // Local path of the extracted last frame; nil until completion or on extraction failure.
	Seconds    int       `json:"seconds"`                      // Generation parameter, fixed at creation.
	Size       string    `json:"size"`                         // Generation parameter, fixed at creation.
	Model      string    `json:"model"`                        // Generation parameter, fixed at creation.
	Options    *string   `json:"options"`                      // Cached JSON array of proposed next actions; nil until first completion reconciliation.
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"` // Creation timestamp, immutable.
}

// TableName keeps the original table naming.
func (StoryNode) TableName() string { return "nodes" }

// StoryState is the single mutable row tracked per story: a bounded bullet-log
// summary used as narrative continuity context, and a pointer to the most
// recently completed node ("current position", not necessarily a leaf).
type StoryState struct {
	StoryID      string `gorm:"primaryKey" json:"story_id"`
	Summary      string `json:"summary"`        // Append-only bullet log; at most the 8 most recent bullets are retained.
	LatestNodeID string `json:"latest_node_id"` // The most recently completed node in the tree.
}

// TableName keeps the original table naming.
func (StoryState) TableName() string { return "story_state" }

// NewStoryNode constructs a pending node with a fresh UUID. The artifact paths
// and options cache start nil; Status carries whatever the upstream job
// submission reported (defaulting to queued when the payload omitted it).
func NewStoryNode(storyID string, parentID *string, prompt string, choiceText *string, jobID string, status string, params GenerationParams) *StoryNode {
	if status == "" {
		status = StatusQueued
	}
	return &StoryNode{
		ID:         uuid.NewString(),
		ParentID:   parentID,
		StoryID:    storyID,
		Prompt:     prompt,
		ChoiceText: choiceText,
		JobID:      jobID,
		Status:     status,
		Seconds:    params.Seconds,
		Size:       params.Size,
		Model:      params.Model,
	}
}
