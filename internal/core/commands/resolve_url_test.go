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

package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/playstory/go-playstory/internal/testutil"
)

func TestResolveDownloadURLDirectKeys(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a.mp4", ResolveDownloadURL(map[string]interface{}{
		"download_url": "https://cdn.example.com/a.mp4",
	}))
	assert.Equal(t, "https://cdn.example.com/b.mp4", ResolveDownloadURL(map[string]interface{}{
		"asset_url": "https://cdn.example.com/b.mp4",
	}))
	assert.Equal(t, "https://cdn.example.com/c.mp4", ResolveDownloadURL(map[string]interface{}{
		"video_url": "https://cdn.example.com/c.mp4",
	}))
	assert.Equal(t, "https://cdn.example.com/d.mp4", ResolveDownloadURL(map[string]interface{}{
		"url": "https://cdn.example.com/d.mp4",
	}))
}

func TestResolveDownloadURLDirectKeyPriority(t *testing.T) {
	url := ResolveDownloadURL(map[string]interface{}{
		"url":          "https://cdn.example.com/lowest.mp4",
		"download_url": "https://cdn.example.com/highest.mp4",
	})
	assert.Equal(t, "https://cdn.example.com/highest.mp4", url)
}

func TestResolveDownloadURLIgnoresNonHTTPValues(t *testing.T) {
	url := ResolveDownloadURL(map[string]interface{}{
		"download_url": "file:///etc/passwd",
		"video_url":    "https://cdn.example.com/ok.mp4",
	})
	assert.Equal(t, "https://cdn.example.com/ok.mp4", url)
}

func TestResolveDownloadURLOutputList(t *testing.T) {
	url := ResolveDownloadURL(map[string]interface{}{
		"output": []interface{}{
			map[string]interface{}{"url": "https://cdn.example.com/out.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/out.mp4", url)

	url = ResolveDownloadURL(map[string]interface{}{
		"output": []interface{}{
			map[string]interface{}{"download_url": "https://cdn.example.com/out2.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/out2.mp4", url)
}

func TestResolveDownloadURLOutputObject(t *testing.T) {
	url := ResolveDownloadURL(map[string]interface{}{
		"output": map[string]interface{}{
			"video": map[string]interface{}{"url": "https://cdn.example.com/video.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/video.mp4", url)

	url = ResolveDownloadURL(map[string]interface{}{
		"output": map[string]interface{}{
			"asset": map[string]interface{}{"url": "https://cdn.example.com/asset.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/asset.mp4", url)
}

func TestResolveDownloadURLAssetsMap(t *testing.T) {
	url := ResolveDownloadURL(map[string]interface{}{
		"assets": map[string]interface{}{
			"video": map[string]interface{}{"url": "https://cdn.example.com/v.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/v.mp4", url)

	// String-valued asset entries are accepted when they look like URLs.
	url = ResolveDownloadURL(map[string]interface{}{
		"assets": map[string]interface{}{
			"mp4": "https://cdn.example.com/raw.mp4",
		},
	})
	assert.Equal(t, "https://cdn.example.com/raw.mp4", url)
}

func TestResolveDownloadURLAssetsList(t *testing.T) {
	// Entries typed "video*" win.
	url := ResolveDownloadURL(map[string]interface{}{
		"assets": []interface{}{
			map[string]interface{}{"type": "video/mp4", "url": "https://cdn.example.com/typed.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/typed.mp4", url)

	// An untyped entry with a URL is still used.
	url = ResolveDownloadURL(map[string]interface{}{
		"assets": []interface{}{
			map[string]interface{}{"url": "https://cdn.example.com/untyped.mp4"},
		},
	})
	assert.Equal(t, "https://cdn.example.com/untyped.mp4", url)
}

func TestResolveDownloadURLVideoObject(t *testing.T) {
	url := ResolveDownloadURL(map[string]interface{}{
		"video": map[string]interface{}{"url": "https://cdn.example.com/nested.mp4"},
	})
	assert.Equal(t, "https://cdn.example.com/nested.mp4", url)
}

func TestResolveDownloadURLShapePriority(t *testing.T) {
	// Direct keys beat nested shapes, output beats assets, assets beat video.
	payload := map[string]interface{}{
		"output": []interface{}{
			map[string]interface{}{"url": "https://cdn.example.com/from-output.mp4"},
		},
		"assets": map[string]interface{}{
			"video": map[string]interface{}{"url": "https://cdn.example.com/from-assets.mp4"},
		},
		"video": map[string]interface{}{"url": "https://cdn.example.com/from-video.mp4"},
	}
	assert.Equal(t, "https://cdn.example.com/from-output.mp4", ResolveDownloadURL(payload))

	delete(payload, "output")
	assert.Equal(t, "https://cdn.example.com/from-assets.mp4", ResolveDownloadURL(payload))

	delete(payload, "assets")
	assert.Equal(t, "https://cdn.example.com/from-video.mp4", ResolveDownloadURL(payload))
}

func TestResolveDownloadURLEmpty(t *testing.T) {
	assert.Equal(t, "", ResolveDownloadURL(nil))
	assert.Equal(t, "", ResolveDownloadURL(map[string]interface{}{"status": "completed"}))
	assert.Equal(t, "", ResolveDownloadURL(map[string]interface{}{"output": []interface{}{}}))
}

func TestResolveDownloadURLSampleJobPayloads(t *testing.T) {
	completed := testutil.GetCompletedJobPayload("video_123", "https://cdn.example.com/clip.mp4")
	assert.Equal(t, "https://cdn.example.com/clip.mp4", ResolveDownloadURL(completed))
	assert.Equal(t, "completed", JobStatus(completed))
	assert.Equal(t, "video_123", JobID(completed))

	queued := testutil.GetQueuedJobPayload("video_456")
	assert.Equal(t, "", ResolveDownloadURL(queued))
	assert.Equal(t, "queued", JobStatus(queued))
}

func TestJobStatus(t *testing.T) {
	assert.Equal(t, "completed", JobStatus(map[string]interface{}{"status": "completed"}))
	assert.Equal(t, "queued", JobStatus(map[string]interface{}{"job_status": "queued"}))
	assert.Equal(t, "in_progress", JobStatus(map[string]interface{}{"status": "in_progress", "job_status": "queued"}))
	assert.Equal(t, "", JobStatus(nil))
}

func TestJobID(t *testing.T) {
	assert.Equal(t, "video_123", JobID(map[string]interface{}{"id": "video_123"}))
	assert.Equal(t, "job_456", JobID(map[string]interface{}{"job_id": "job_456"}))
	assert.Equal(t, "video_123", JobID(map[string]interface{}{"id": "video_123", "job_id": "job_456"}))
}

func TestJobErrorMessage(t *testing.T) {
	assert.Equal(t, "quota exceeded", JobErrorMessage(map[string]interface{}{"error": "quota exceeded"}))
	assert.Equal(t, "bad prompt", JobErrorMessage(map[string]interface{}{
		"error": map[string]interface{}{"message": "bad prompt"},
	}))
	assert.Equal(t, "", JobErrorMessage(map[string]interface{}{"status": "failed"}))
}
