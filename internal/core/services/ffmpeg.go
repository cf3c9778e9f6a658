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

// This file defines the FrameService, a thin wrapper around the ffmpeg and
// ffprobe executables used to pull a near-final frame out of a finished
// video clip.
//
// Extracting the literal last frame is unreliable across containers and
// codecs, so the service works through a ladder of strategies:
//
//  1. Probe the duration with ffprobe and seek to duration minus 0.1s.
//  2. If probing or the seek fails, seek relative to the end (-sseof -0.25).
//  3. As a last resort, grab a frame at the clip midpoint (or the 1s mark).
//
// The extracted frame is then scaled to the generation resolution so the
// next clip continues from an input_reference image of the exact size the
// video API expects.
package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	ffprobeDurationArgs = "-v error -select_streams v:0 -show_entries format=duration -of default=noprint_wrappers=1:nokey=1"
	frameTempPrefix     = "playstory-frame-"
	commandSeparator    = " "

	// minSeekableDuration is the shortest clip for which the precise
	// end-seek strategy is attempted.
	minSeekableDuration = 0.2
)

// FrameService shells out to ffmpeg and ffprobe. The command paths come from
// the application configuration so deployments can point at non-PATH builds.
type FrameService struct {
	FfmpegPath  string
	FfprobePath string
}

// NewFrameService creates a frame extractor using the configured executable
// paths, defaulting to the bare command names resolved via PATH.
func NewFrameService(ffmpegPath string, ffprobePath string) *FrameService {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FrameService{FfmpegPath: ffmpegPath, FfprobePath: ffprobePath}
}

// ProbeDuration returns the clip duration in seconds, or an error when
// ffprobe fails or emits something unparsable.
func (f *FrameService) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	args := append(strings.Split(ffprobeDurationArgs, commandSeparator), videoPath)
	out, err := exec.CommandContext(ctx, f.FfprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %q: %w", videoPath, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparsable duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}

// ExtractLastFrame writes a near-final frame of the video to outputPath as a
// JPEG, trying each seek strategy in turn and returning the last error when
// all of them fail.
func (f *FrameService) ExtractLastFrame(ctx context.Context, videoPath string, outputPath string) error {
	duration, probeErr := f.ProbeDuration(ctx, videoPath)

	if probeErr == nil && duration > minSeekableDuration {
		seek := duration - 0.10
		if seek < 0 {
			seek = 0
		}
		if err := f.grabFrame(ctx, videoPath, outputPath, "-ss", fmt.Sprintf("%.2f", seek)); err == nil {
			return nil
		}
	}

	if err := f.grabFrame(ctx, videoPath, outputPath, "-sseof", "-0.25"); err == nil {
		return nil
	}

	fallbackSeek := 1.0
	if probeErr == nil && duration > 0 {
		fallbackSeek = duration * 0.5
		if fallbackSeek < 0.5 {
			fallbackSeek = 0.5
		}
	}
	if err := f.grabFrame(ctx, videoPath, outputPath, "-ss", fmt.Sprintf("%.2f", fallbackSeek)); err != nil {
		return fmt.Errorf("all frame extraction attempts failed for %q: %w", videoPath, err)
	}
	return nil
}

// grabFrame runs one ffmpeg invocation that seeks with the given arguments
// and writes a single high-quality frame.
func (f *FrameService) grabFrame(ctx context.Context, videoPath string, outputPath string, seekArgs ...string) error {
	args := []string{"-y"}
	args = append(args, seekArgs...)
	args = append(args, "-i", videoPath, "-frames:v", "1", "-q:v", "2", "-update", "1", outputPath)
	cmd := exec.CommandContext(ctx, f.FfmpegPath, args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// EnsureResolution rescales the image in place to the given "WIDTHxHEIGHT"
// size. ffmpeg cannot write its own input, so the scaled frame goes to a
// temp file first and then replaces the original.
func (f *FrameService) EnsureResolution(ctx context.Context, imagePath string, size string) error {
	width, height, err := ParseSize(size)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp("", frameTempPrefix+"*.jpg")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	_ = tempFile.Close()
	defer func() { _ = os.Remove(tempName) }()

	cmd := exec.CommandContext(ctx, f.FfmpegPath,
		"-y", "-i", imagePath,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-q:v", "2", "-update", "1", tempName)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("error scaling frame %q: %w", imagePath, err)
	}
	return replaceFile(tempName, imagePath)
}

// ParseSize splits a "WIDTHxHEIGHT" string into its integer dimensions.
func ParseSize(size string) (int, int, error) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", size)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in size %q: %w", size, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in size %q: %w", size, err)
	}
	return width, height, nil
}

// replaceFile moves src over dst, falling back to copy-and-remove when a
// rename crosses filesystems.
func replaceFile(src string, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("could not read scaled frame: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("could not replace frame file: %w", err)
	}
	return os.Remove(src)
}
