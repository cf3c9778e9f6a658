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
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/commands"
	"github.com/playstory/go-playstory/internal/core/model"
	"github.com/playstory/go-playstory/internal/core/services"
	"github.com/playstory/go-playstory/internal/core/workflow"
	"github.com/playstory/go-playstory/internal/telemetry"
)

func main() {
	// Load a local .env file when present; deployments set the environment
	// directly.
	_ = godotenv.Load()

	telemetry.SetupLogging()
	slog.Info("Logging initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := GetConfig()

	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("Failed to setup OpenTelemetry", "error", err)
		log.Fatal(err)
	}
	slog.Info("Tracing initialized")

	InitState(ctx)
	slog.Info("Initialized State")

	r := gin.Default()

	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "PlayStory backend running"})
	})

	// Serve downloaded clips and extracted frames directly from disk.
	r.Static("/media", config.Storage.MediaDir)

	apiV1 := r.Group("/api/v1")
	{
		StoryRouter(apiV1)
		JobRouter(apiV1)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Application.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to listen: ", "error", err)
		}
	}()
	slog.Info("Server Ready", "port", config.Application.Port)

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed:", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Telemetry Shutdown Failed:", "error", err)
	}
	state.cloud.Close()

	log.Println("Server exiting")
}

// StartRequest begins a new story from a base prompt.
type StartRequest struct {
	StoryID    string `json:"story_id" binding:"required"`
	BasePrompt string `json:"base_prompt" binding:"required"`
	Seconds    int    `json:"seconds"`
	Size       string `json:"size"`
	Model      string `json:"model"`
}

// ContinueRequest extends a story from an existing node with a chosen action.
type ContinueRequest struct {
	StoryID        string `json:"story_id" binding:"required"`
	ParentNodeID   string `json:"parent_node_id" binding:"required"`
	ChoiceLabel    string `json:"choice_label" binding:"required"`
	SoraPrompt     string `json:"sora_prompt" binding:"required"`
	Seconds        int    `json:"seconds"`
	Size           string `json:"size"`
	Model          string `json:"model"`
	IncludeContext bool   `json:"include_context"`
}

// StoryRouter sets up the routes for starting, continuing, and reading
// stories.
func StoryRouter(r *gin.RouterGroup) {
	stories := r.Group("/stories")
	{
		stories.POST("/start", func(c *gin.Context) {
			var req StartRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			params := resolveParams(req.Model, req.Seconds, req.Size)

			job, err := state.cloud.VideoClient.StartJob(c, params.Model, req.BasePrompt, params.Seconds, params.Size, "")
			if err != nil {
				c.JSON(upstreamStatus(err), gin.H{"error": err.Error()})
				return
			}

			node := model.NewStoryNode(req.StoryID, nil, req.BasePrompt, nil, commands.JobID(job), commands.JobStatus(job), params)
			if err := state.stories.AddNode(c, node); err != nil {
				slog.Error("failed to persist start node", "error", err)
				c.Status(http.StatusInternalServerError)
				return
			}
			// Seed the summary so the first option proposal has context.
			if err := state.stories.SeedSummary(c, req.StoryID, req.BasePrompt); err != nil {
				slog.Warn("failed to seed story summary", "story_id", req.StoryID, "error", err)
			}

			c.JSON(http.StatusOK, gin.H{"node_id": node.ID, "job_id": node.JobID})
		})

		stories.POST("/continue", func(c *gin.Context) {
			var req ContinueRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			params := resolveParams(req.Model, req.Seconds, req.Size)

			parent, err := state.stories.GetNode(c, req.ParentNodeID)
			if err != nil {
				slog.Error("failed to load parent node", "error", err)
				c.Status(http.StatusInternalServerError)
				return
			}
			if parent == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "parent_node not found"})
				return
			}

			finalPrompt := req.SoraPrompt
			if req.IncludeContext {
				summary, err := state.stories.GetSummary(c, req.StoryID)
				if err != nil {
					slog.Warn("failed to load summary for context", "story_id", req.StoryID, "error", err)
				} else {
					finalPrompt = services.ContinuationPrompt(summary, req.SoraPrompt, true)
				}
			}

			referenceImage := ""
			if parent.FramePath != nil {
				referenceImage = *parent.FramePath
			}

			job, err := state.cloud.VideoClient.StartJob(c, params.Model, finalPrompt, params.Seconds, params.Size, referenceImage)
			if err != nil {
				c.JSON(upstreamStatus(err), gin.H{"error": err.Error()})
				return
			}

			node := model.NewStoryNode(req.StoryID, &parent.ID, finalPrompt, &req.ChoiceLabel, commands.JobID(job), commands.JobStatus(job), params)
			if err := state.stories.AddNode(c, node); err != nil {
				slog.Error("failed to persist continuation node", "error", err)
				c.Status(http.StatusInternalServerError)
				return
			}
			if err := state.stories.AppendChoice(c, req.StoryID, parent.ID, req.ChoiceLabel, req.SoraPrompt); err != nil {
				slog.Warn("failed to append choice to summary", "story_id", req.StoryID, "error", err)
			}

			c.JSON(http.StatusOK, gin.H{"node_id": node.ID, "job_id": node.JobID})
		})

		stories.GET("/:story_id", func(c *gin.Context) {
			nodes, storyState, err := state.stories.ListStory(c, c.Param("story_id"))
			if err != nil {
				slog.Error("failed to list story", "error", err)
				c.Status(http.StatusInternalServerError)
				return
			}
			c.JSON(http.StatusOK, gin.H{"nodes": nodes, "state": storyState})
		})
	}
}

// JobRouter sets up the poll route that drives completion reconciliation.
func JobRouter(r *gin.RouterGroup) {
	jobs := r.Group("/jobs")
	{
		jobs.GET("/:job_id", func(c *gin.Context) {
			outcome, err := state.completion.Poll(c, c.Param("job_id"))
			if err != nil {
				slog.Error("job poll failed", "job_id", c.Param("job_id"), "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"status": workflow.OutcomeError, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, pollResponse(outcome))
		})
	}
}

// pollResponse flattens a poll outcome into the client-facing shape.
func pollResponse(outcome *workflow.PollOutcome) gin.H {
	out := gin.H{"status": outcome.Status}
	if outcome.Error != "" {
		out["error"] = outcome.Error
	}
	if outcome.Raw != nil {
		out["raw"] = outcome.Raw
	}
	if outcome.Result != nil {
		out["node_id"] = outcome.Result.NodeID
		out["video_url"] = outcome.Result.VideoURL
		out["frame_url"] = outcome.Result.FrameURL
		out["options"] = outcome.Result.Options
		out["options_source"] = outcome.Result.OptionsSource
	}
	return out
}

// resolveParams applies the configured defaults to any parameter the request
// left unset.
func resolveParams(modelName string, seconds int, size string) model.GenerationParams {
	defaults := state.config.VideoDefaults
	if modelName == "" {
		modelName = defaults.Model
	}
	if seconds <= 0 {
		seconds = defaults.Seconds
	}
	if size == "" {
		size = defaults.Size
	}
	return model.GenerationParams{Model: modelName, Seconds: seconds, Size: size}
}

// upstreamStatus maps a video API error to the status returned to the
// client: 400 with the upstream detail for API-level rejections, 502 for
// transport failures.
func upstreamStatus(err error) int {
	var apiErr *cloud.APIStatusError
	if errors.As(err, &apiErr) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
