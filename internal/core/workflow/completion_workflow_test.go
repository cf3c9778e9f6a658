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

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/commands"
	"github.com/playstory/go-playstory/internal/core/model"
	"github.com/playstory/go-playstory/internal/core/services"
	"github.com/playstory/go-playstory/internal/testutil"
)

// testHarness bundles the fakes and services backing one workflow test.
type testHarness struct {
	workflow  *CompletionWorkflow
	stories   *services.StoryService
	videoURL  string
	jobStatus func(jobID string) map[string]interface{}

	downloadCalls *atomic.Int64
	chatCalls     *atomic.Int64
}

// newTestHarness stands up a fake video API, a fake chat API, an in-memory
// database, and the full reconciliation workflow on top of them. Frame
// extraction is pointed at a nonexistent ffmpeg so clips complete without a
// frame, which keeps the test independent of local tooling.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		downloadCalls: &atomic.Int64{},
		chatCalls:     &atomic.Int64{},
	}

	videoMux := http.NewServeMux()
	videoServer := httptest.NewServer(videoMux)
	t.Cleanup(videoServer.Close)
	h.videoURL = videoServer.URL

	h.jobStatus = func(jobID string) map[string]interface{} {
		return testutil.GetCompletedJobPayload(jobID, videoServer.URL+"/assets/clip.mp4")
	}
	videoMux.HandleFunc("/v1/videos/", func(w http.ResponseWriter, r *http.Request) {
		jobID := filepath.Base(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.jobStatus(jobID))
	})
	videoMux.HandleFunc("/assets/clip.mp4", func(w http.ResponseWriter, _ *http.Request) {
		h.downloadCalls.Add(1)
		_, _ = w.Write([]byte("fake-video-bytes"))
	})

	chatServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.chatCalls.Add(1)
		content := `{"options":[` +
			`{"label":"Advance","sora_prompt":"The hero advances into the dark."},` +
			`{"label":"Retreat","sora_prompt":"The hero falls back to the tree line."},` +
			`{"label":"Hide","sora_prompt":"The hero slips behind a broken wall."}]}`
		response := map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{"index": 0, "finish_reason": "stop",
					"message": map[string]interface{}{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(chatServer.Close)

	db, err := cloud.OpenDatabase(filepath.Join(t.TempDir(), "playstory-test.db"))
	require.NoError(t, err)
	stories, err := services.NewStoryService(db)
	require.NoError(t, err)
	h.stories = stories

	// Start from the shared test configuration, but point media storage at a
	// per-test scratch directory. The copy keeps the cached config pristine
	// for the other packages of the test run.
	config := &cloud.Config{}
	*config = *testutil.GetConfig()
	config.Application.OptionCount = 3
	config.Storage.MediaDir = t.TempDir()
	config.Storage.VideosDir = filepath.Join(config.Storage.MediaDir, "videos")
	config.Storage.FramesDir = filepath.Join(config.Storage.MediaDir, "frames")

	optionsModel, ok := config.ChatModels["options"]
	require.True(t, ok)
	chatConfig := openai.DefaultConfig("test-key")
	chatConfig.BaseURL = chatServer.URL + "/v1"
	chat := cloud.NewQuotaAwareChatModel(openai.NewClientWithConfig(chatConfig), optionsModel.Model, 100)

	logger := slog.Default()
	options, err := services.NewOptionsService(config, chat, logger)
	require.NoError(t, err)

	frames := services.NewFrameService("/nonexistent/ffmpeg", "/nonexistent/ffprobe")
	videos := cloud.NewVideoClient(videoServer.URL, "test-key")

	h.workflow = NewCompletionWorkflow(
		videos,
		stories,
		commands.NewResolveURLCommand("resolve_url"),
		commands.NewVideoDownloadCommand("video_download", videos, config, logger),
		commands.NewFrameExtractCommand("frame_extract", frames, config, logger),
		commands.NewNodeCompleteCommand("node_complete", stories, logger),
		commands.NewOptionsGenerateCommand("options_generate", stories, options, config.Application.OptionCount, logger),
		logger,
	)
	return h
}

func (h *testHarness) addNode(t *testing.T, jobID string) *model.StoryNode {
	t.Helper()
	node := model.NewStoryNode("story-1", nil, "a hero sets out", nil, jobID, "queued",
		model.GenerationParams{Model: "sora-2", Seconds: 8, Size: "1280x720"})
	require.NoError(t, h.stories.AddNode(context.Background(), node))
	return node
}

func TestPollCompletedJob(t *testing.T) {
	h := newTestHarness(t)
	node := h.addNode(t, "job-1")

	outcome, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, node.ID, outcome.Result.NodeID)
	assert.Equal(t, fmt.Sprintf("/media/videos/story-1/%s.mp4", node.ID), outcome.Result.VideoURL)
	// Frame extraction failed (no ffmpeg), so the clip completes frameless.
	assert.Nil(t, outcome.Result.FrameURL)
	assert.Len(t, outcome.Result.Options, 3)
	assert.Equal(t, model.OptionsSourceLLM, outcome.Result.OptionsSource)

	stored, err := h.stories.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	require.NotNil(t, stored.VideoPath)
	assert.Nil(t, stored.FramePath)
}

func TestPollIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	node := h.addNode(t, "job-1")

	first, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	second, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, first.Status)
	assert.Equal(t, OutcomeCompleted, second.Status)
	assert.Equal(t, first.Result.Options, second.Result.Options)
	assert.Equal(t, node.ID, second.Result.NodeID)

	// The second poll reuses the downloaded clip and the cached options.
	assert.Equal(t, int64(1), h.downloadCalls.Load())
	assert.Equal(t, int64(1), h.chatCalls.Load())
}

func TestPollUnknownJobIsConsistencyError(t *testing.T) {
	h := newTestHarness(t)

	outcome, err := h.workflow.Poll(context.Background(), "job-orphan")
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
	assert.NotNil(t, outcome.Raw)
}

func TestPollFailedJob(t *testing.T) {
	h := newTestHarness(t)
	h.addNode(t, "job-1")
	h.jobStatus = func(jobID string) map[string]interface{} {
		return map[string]interface{}{
			"id":     jobID,
			"status": "failed",
			"error":  map[string]interface{}{"message": "content policy violation"},
		}
	}

	outcome, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "content policy violation", outcome.Error)
	assert.Nil(t, outcome.Result)
}

func TestPollFailedJobWithoutMessage(t *testing.T) {
	h := newTestHarness(t)
	h.addNode(t, "job-1")
	h.jobStatus = func(jobID string) map[string]interface{} {
		return map[string]interface{}{"id": jobID, "status": "failed"}
	}

	outcome, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "generation failed", outcome.Error)
}

func TestPollNonTerminalStatusPassesThrough(t *testing.T) {
	h := newTestHarness(t)
	h.addNode(t, "job-1")
	h.jobStatus = func(jobID string) map[string]interface{} {
		return testutil.GetQueuedJobPayload(jobID)
	}

	outcome, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "queued", outcome.Status)
	assert.Nil(t, outcome.Result)
	require.NotNil(t, outcome.Raw)
	assert.Equal(t, float64(0), outcome.Raw["progress"])

	// Nothing was materialized or persisted for a job still rendering.
	assert.Equal(t, int64(0), h.downloadCalls.Load())
	node, err := h.stories.GetNodeByJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, node.Status)
}

func TestPollFallsBackToContentEndpoint(t *testing.T) {
	h := newTestHarness(t)

	// Payload reports completed but exposes no URL in any known shape; the
	// downloader must fall back to /v1/videos/{id}/content.
	h.jobStatus = func(jobID string) map[string]interface{} {
		return map[string]interface{}{"id": jobID, "status": "completed"}
	}
	node := h.addNode(t, "job-7")

	outcome, err := h.workflow.Poll(context.Background(), "job-7")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	assert.Equal(t, node.ID, outcome.Result.NodeID)
	assert.Equal(t, int64(0), h.downloadCalls.Load())
}

func TestPollDownloadFailureReturnsErrorOutcome(t *testing.T) {
	h := newTestHarness(t)
	h.addNode(t, "job-1")

	// The payload advertises an asset the server no longer has; the download
	// fails, and the outcome reports it alongside the raw payload instead of
	// surfacing a hard error.
	h.jobStatus = func(jobID string) map[string]interface{} {
		return testutil.GetCompletedJobPayload(jobID, h.videoURL+"/assets/missing.mp4")
	}

	outcome, err := h.workflow.Poll(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
	assert.Nil(t, outcome.Result)
	require.NotNil(t, outcome.Raw)
	assert.Equal(t, "completed", outcome.Raw["status"])

	// The node is untouched, so a later poll can retry the materialization.
	node, err := h.stories.GetNodeByJob(context.Background(), "job-1")
	testutil.HandleErr(err, t)
	require.NotNil(t, node)
	assert.Equal(t, model.StatusQueued, node.Status)
	assert.Nil(t, node.VideoPath)
}
