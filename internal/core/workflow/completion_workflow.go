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

// Package workflow wires individual commands into executable chains. This
// file assembles the completion reconciliation workflow, the heart of the
// poll endpoint: given a job payload reporting "completed", it materializes
// the clip, extracts the continuation frame, persists the node's terminal
// state, and resolves the branching options — all in a way that is safe to
// repeat on every poll of the same job.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/commands"
	"github.com/playstory/go-playstory/internal/core/cor"
	"github.com/playstory/go-playstory/internal/core/model"
)

// Poll outcome statuses surfaced to the client. Non-terminal job statuses
// (queued, in_progress, ...) pass through verbatim.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeError     = "error"
)

// PollOutcome is the result of reconciling one poll of a video job.
type PollOutcome struct {
	Status string                  `json:"status"`
	Error  string                  `json:"error,omitempty"`
	Raw    map[string]interface{}  `json:"raw,omitempty"`
	Result *model.CompletionResult `json:"result,omitempty"`
}

// StoryStore is the subset of the story service the reconciler needs.
type StoryStore interface {
	GetNodeByJob(ctx context.Context, jobID string) (*model.StoryNode, error)
}

// CompletionWorkflow owns the reconciliation chain and the job-status
// dispatch around it.
type CompletionWorkflow struct {
	videos  *cloud.VideoClient
	stories StoryStore
	chain   cor.Chain
	logger  *slog.Logger
}

// NewCompletionWorkflow assembles the chain:
//
//	resolve URL -> download video -> extract frame -> complete node -> resolve options
//
// The chain stops on the first recorded error except for frame extraction,
// which reports failure by omission rather than by error.
func NewCompletionWorkflow(
	videos *cloud.VideoClient,
	stories StoryStore,
	resolveURL cor.Command,
	download cor.Command,
	extractFrame cor.Command,
	completeNode cor.Command,
	resolveOptions cor.Command,
	logger *slog.Logger,
) *CompletionWorkflow {
	chain := cor.NewBaseChain("completion_reconciliation").
		AddCommand(resolveURL).
		AddCommand(download).
		AddCommand(extractFrame).
		AddCommand(completeNode).
		AddCommand(resolveOptions)

	return &CompletionWorkflow{
		videos:  videos,
		stories: stories,
		chain:   chain,
		logger:  logger,
	}
}

// Poll fetches the job's current state and dispatches on its status:
//
//   - completed: run the reconciliation chain and return the full result.
//   - failed: surface the provider's error message with the raw payload.
//   - anything else: pass the status through untouched with the raw payload.
//
// A completed job with no owning node is reported as a consistency error
// rather than reconciled blindly, and a reconciliation failure becomes an
// error outcome instead of a hard error: the returned error covers only the
// status fetch and the node lookup.
func (w *CompletionWorkflow) Poll(ctx context.Context, jobID string) (*PollOutcome, error) {
	payload, err := w.videos.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}

	status := commands.JobStatus(payload)
	switch status {
	case OutcomeCompleted:
		node, err := w.stories.GetNodeByJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up node for job %s: %w", jobID, err)
		}
		if node == nil {
			w.logger.Error("completed job has no owning node", "job_id", jobID)
			return &PollOutcome{Status: OutcomeError, Error: "job is not associated with any story node", Raw: payload}, nil
		}
		result, err := w.Reconcile(ctx, node, payload)
		if err != nil {
			// Materialization failures are part of the poll contract: the
			// client sees an error outcome with the raw payload and is free
			// to poll again once the upstream asset becomes fetchable.
			w.logger.Error("completion reconciliation failed", "job_id", jobID, "error", err)
			return &PollOutcome{Status: OutcomeError, Error: err.Error(), Raw: payload}, nil
		}
		return &PollOutcome{Status: OutcomeCompleted, Result: result}, nil

	case OutcomeFailed:
		message := commands.JobErrorMessage(payload)
		if message == "" {
			message = "generation failed"
		}
		return &PollOutcome{Status: OutcomeFailed, Error: message, Raw: payload}, nil

	default:
		return &PollOutcome{Status: status, Raw: payload}, nil
	}
}

// Reconcile runs the chain for a completed job payload and assembles the
// client-facing result.
func (w *CompletionWorkflow) Reconcile(ctx context.Context, node *model.StoryNode, payload map[string]interface{}) (*model.CompletionResult, error) {
	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.SetContext(ctx)
	chainCtx.Add(cor.CtxIn, node)
	chainCtx.Add(commands.CtxJobPayload, payload)

	w.chain.Execute(chainCtx)

	if chainCtx.HasErrors() {
		parts := make([]string, 0, len(chainCtx.GetErrors()))
		for name, err := range chainCtx.GetErrors() {
			parts = append(parts, fmt.Sprintf("%s: %v", name, err))
		}
		return nil, fmt.Errorf("completion reconciliation failed for node %s: %s", node.ID, strings.Join(parts, "; "))
	}

	result := &model.CompletionResult{
		NodeID:   node.ID,
		VideoURL: fmt.Sprintf("/media/videos/%s/%s.mp4", node.StoryID, node.ID),
	}
	if _, ok := chainCtx.Get(commands.CtxFramePath).(string); ok {
		frameURL := fmt.Sprintf("/media/frames/%s/%s.jpg", node.StoryID, node.ID)
		result.FrameURL = &frameURL
	}
	if options, ok := chainCtx.Get(commands.CtxOptions).([]model.StoryOption); ok {
		result.Options = options
	}
	if source, ok := chainCtx.Get(commands.CtxOptionsSource).(string); ok {
		result.OptionsSource = source
	}
	return result, nil
}
