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

// Package testutil provides utility functions and mock data to support the
// application's test suite. It helps in setting up a consistent test
// environment, loading test-specific configurations, and providing sample job
// payloads for workflows and services.
package testutil

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/playstory/go-playstory/internal/cloud"
)

// StateManager acts as a simple in-memory cache for the application
// configuration during test runs, so the TOML files are loaded only once per
// test binary.
type StateManager struct {
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr is a simple test helper that fails the test when err is non-nil.
//
// Inputs:
//   - err: The error to check.
//   - t: The *testing.T object from the current test.
func HandleErr(err error, t *testing.T) {
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetCompletedJobPayload returns a payload in the shape the video API reports
// for a finished job that exposes a direct download URL.
func GetCompletedJobPayload(jobID string, downloadURL string) map[string]interface{} {
	return map[string]interface{}{
		"id":           jobID,
		"object":       "video",
		"status":       "completed",
		"progress":     float64(100),
		"model":        "sora-2",
		"seconds":      "8",
		"size":         "1280x720",
		"download_url": downloadURL,
	}
}

// GetQueuedJobPayload returns a payload for a job that has not started
// rendering yet.
func GetQueuedJobPayload(jobID string) map[string]interface{} {
	return map[string]interface{}{
		"id":       jobID,
		"object":   "video",
		"status":   "queued",
		"progress": float64(0),
	}
}

// SetupOS configures the environment variables the configuration loader
// depends on, pointing it at the test override file (.env.test.toml). The
// configs directory is resolved relative to this source file, because test
// binaries run from their own package directory rather than the repo root.
//
// Returns:
//   - An error if setting any environment variable fails.
func SetupOS() (err error) {
	_, thisFile, _, _ := runtime.Caller(0)
	configDir := filepath.Join(filepath.Dir(thisFile), "..", "..", "configs")
	err = os.Setenv(cloud.EnvConfigFilePrefix, configDir)
	if err != nil {
		return err
	}
	err = os.Setenv(cloud.EnvConfigRuntime, "test")
	return err
}

// GetConfig is a singleton accessor for the test configuration. It loads the
// TOML files once and caches the result for subsequent calls.
//
// Returns:
//   - A pointer to the loaded and cached cloud.Config struct.
func GetConfig() *cloud.Config {
	if state.config == nil {
		err := SetupOS()
		if err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		state.config = config
	}
	return state.config
}
