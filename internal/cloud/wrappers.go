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

// Package cloud provides components for interacting with external services.
// This file implements a wrapper around the chat-completion client. The
// wrapper uses the Decorator pattern to add rate limiting and a retry
// mechanism without altering the underlying client.
//
// Why this exists:
//   - Rate Limiting: chat-completion services enforce per-minute quotas. The
//     wrapper keeps option proposals under quota instead of burning requests
//     into 429 responses.
//   - Retry Logic: transient transport failures are retried a bounded number
//     of times before the error is handed back to the caller.
//
// Structs:
//   - QuotaAwareChatModel: wraps an openai.Client and adds a rate limiter.
//   - ServiceClients: the aggregate of all external clients the application
//     needs, built once at startup and shared by request handlers.
package cloud

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// chatMaxRetries bounds the retry loop inside the quota-aware wrapper.
const chatMaxRetries = 3

// QuotaAwareChatModel is a decorator around the chat-completion client that
// enforces a request rate and retries transient failures.
type QuotaAwareChatModel struct {
	Client    *openai.Client // The wrapped chat-completion client.
	ModelName string         // The model identifier sent on every request.
	Limiter   *rate.Limiter  // Token-bucket limiter controlling request frequency.
}

// NewQuotaAwareChatModel is the constructor for QuotaAwareChatModel.
//
// Inputs:
//   - client: The chat-completion client to wrap.
//   - modelName: The model identifier to use for requests.
//   - requestsPerSecond: The maximum number of API calls allowed per second.
//
// Outputs:
//   - *QuotaAwareChatModel: A pointer to the newly created wrapper.
func NewQuotaAwareChatModel(client *openai.Client, modelName string, requestsPerSecond int) *QuotaAwareChatModel {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &QuotaAwareChatModel{
		Client:    client,
		ModelName: modelName,
		Limiter:   rate.NewLimiter(rate.Every(time.Second), requestsPerSecond),
	}
}

// CreateChatCompletion sends a chat-completion request through the rate
// limiter, retrying transient failures up to chatMaxRetries times.
//
// Inputs:
//   - ctx: The context for the request; cancellation aborts both the limiter
//     wait and the retry loop.
//   - req: The chat-completion request. The Model field is overwritten with the
//     wrapper's configured model name.
//
// Outputs:
//   - openai.ChatCompletionResponse: The upstream response on success.
//   - error: The last error observed after retries are exhausted.
func (q *QuotaAwareChatModel) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	req.Model = q.ModelName

	var lastErr error
	for attempt := 0; attempt <= chatMaxRetries; attempt++ {
		if err := q.Limiter.Wait(ctx); err != nil {
			return openai.ChatCompletionResponse{}, err
		}
		resp, err := q.Client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// A 4xx response will not improve on retry; hand it straight back so
		// the caller can fall through to its text-only attempt.
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			return openai.ChatCompletionResponse{}, err
		}
	}
	return openai.ChatCompletionResponse{}, lastErr
}

// ServiceClients holds the set of external clients shared across the
// application: the video-generation client, the rate-limited chat model, and
// the sqlite database handle.
type ServiceClients struct {
	VideoClient *VideoClient                    // Client for the upstream video-generation API.
	ChatModels  map[string]*QuotaAwareChatModel // Rate-limited chat models keyed by logical name.
	DB          *gorm.DB                        // The shared sqlite database handle.
}

// NewServiceClients initializes every external client the application needs.
//
// Inputs:
//   - _ : The root context (reserved; the sqlite open and client construction
//     are synchronous).
//   - config: The loaded application configuration.
//   - apiKey: The upstream API bearer token.
//
// Outputs:
//   - *ServiceClients: The aggregate of initialized clients.
//   - error: An error if the database cannot be opened.
func NewServiceClients(_ context.Context, config *Config, apiKey string) (*ServiceClients, error) {
	db, err := OpenDatabase(config.Storage.Database)
	if err != nil {
		return nil, err
	}

	baseURL := APIBaseURL()
	chatConfig := openai.DefaultConfig(apiKey)
	chatConfig.BaseURL = baseURL + "/v1"
	chatClient := openai.NewClientWithConfig(chatConfig)

	chatModels := make(map[string]*QuotaAwareChatModel)
	for name, mc := range config.ChatModels {
		chatModels[name] = NewQuotaAwareChatModel(chatClient, mc.Model, mc.RateLimit)
	}

	return &ServiceClients{
		VideoClient: NewVideoClient(baseURL, apiKey),
		ChatModels:  chatModels,
		DB:          db,
	}, nil
}

// OpenDatabase opens the sqlite database with the pure-Go driver and applies
// the pragmas a request-parallel API needs: write-ahead logging plus a busy
// timeout so concurrent polls serialize instead of failing.
//
// Inputs:
//   - path: The sqlite file path, or ":memory:" for tests.
//
// Outputs:
//   - *gorm.DB: The opened database handle.
//   - error: An error if the open or a pragma fails.
func OpenDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA synchronous=NORMAL;`).Error; err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying database connection. The HTTP clients hold no
// persistent resources of their own.
func (s *ServiceClients) Close() {
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
