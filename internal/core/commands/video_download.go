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

// This file defines the command that materializes a completed job's video
// clip on local disk.
//
// Logic Flow:
//  1. If the node already carries a video path and the file exists, the
//     download is skipped. This is what makes repeated polls of a completed
//     job idempotent.
//  2. Otherwise the clip is fetched from the URL resolved earlier in the
//     chain, or, when no URL was found in the payload, streamed from the
//     job content endpoint.
//  3. The downloaded bytes are sniffed to confirm they look like a video
//     container; a mismatch is logged but tolerated, since some providers
//     serve valid clips with opaque framing.
//
// Clips land under a per-story directory, named by node ID, so a whole story
// can be served statically without a stitching step.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/cor"
	"github.com/playstory/go-playstory/internal/core/model"
)

// sniffHeaderSize is how many leading bytes are inspected to classify the
// downloaded file.
const sniffHeaderSize = 262

// VideoDownloadCommand downloads the finished clip for the node being
// reconciled and records its local path under CtxVideoPath.
type VideoDownloadCommand struct {
	cor.BaseCommand
	videos *cloud.VideoClient
	config *cloud.Config
	logger *slog.Logger
}

// NewVideoDownloadCommand creates the download step.
func NewVideoDownloadCommand(name string, videos *cloud.VideoClient, config *cloud.Config, logger *slog.Logger) *VideoDownloadCommand {
	return &VideoDownloadCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		videos:      videos,
		config:      config,
		logger:      logger,
	}
}

// Execute materializes the clip, reusing an existing file when the node has
// already been reconciled by a previous poll.
func (c *VideoDownloadCommand) Execute(context cor.Context) {
	node := context.Get(c.GetInputParam()).(*model.StoryNode)
	ctx := context.GetContext()

	if node.VideoPath != nil && fileIsUsable(*node.VideoPath) {
		context.Add(CtxVideoPath, *node.VideoPath)
		c.GetSuccessCounter().Add(ctx, 1)
		context.Add(c.GetOutputParam(), node)
		return
	}

	storyDir := filepath.Join(c.config.Storage.VideosDir, node.StoryID)
	if err := os.MkdirAll(storyDir, 0o755); err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to create story video dir: %w", err))
		return
	}
	videoPath := filepath.Join(storyDir, node.ID+".mp4")

	var err error
	if url, ok := context.Get(CtxDownloadURL).(string); ok && url != "" {
		err = c.videos.Download(ctx, url, videoPath)
	} else {
		c.logger.Info("no download URL in job payload, using content endpoint", "job_id", node.JobID)
		err = c.videos.DownloadContent(ctx, node.JobID, videoPath)
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to download video for node %s: %w", node.ID, err))
		return
	}

	if !looksLikeVideo(videoPath) {
		c.logger.Warn("downloaded file did not sniff as a video container", "path", videoPath)
	}

	context.Add(CtxVideoPath, videoPath)
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), node)
}

// fileIsUsable reports whether a previously recorded artifact still exists
// and is non-empty.
func fileIsUsable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// looksLikeVideo sniffs the file header for a known video container type.
func looksLikeVideo(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	header := make([]byte, sniffHeaderSize)
	n, err := file.Read(header)
	if err != nil || n == 0 {
		return false
	}
	return filetype.IsVideo(header[:n])
}
