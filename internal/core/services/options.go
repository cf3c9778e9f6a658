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

package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/playstory/go-playstory/internal/cloud"
	"github.com/playstory/go-playstory/internal/core/model"
)

const (
	// MaxOptionLabelChars caps the on-screen label length of a choice.
	MaxOptionLabelChars = 60

	optionsSchemaName = "story_options"

	// TemplateOptionCount, TemplateSummary, and TemplateExample are the
	// substitution variables of the options prompt template.
	TemplateOptionCount = "OptionCount"
	TemplateSummary     = "Summary"
	TemplateExample     = "ExampleJSON"
)

// DefaultOptionsPrompt is the built-in prompt used when the configuration
// does not override the template.
const DefaultOptionsPrompt = `You are the narrative engine of an interactive video story.
The attached image is the final frame of the scene that just played.

Story so far:
{{ .Summary }}

Propose exactly {{ .OptionCount }} distinct next actions the player could take.
For each action, provide a short on-screen label and a complete, self-contained
video generation prompt that continues the scene from this exact frame.
Keep prompts concrete and cinematic. Vary the tone and stakes across options.

Respond with JSON only, matching this shape:
{{ .ExampleJSON }}
`

// OptionsService generates the branching choices for a completed scene by
// asking a multimodal chat model to look at the scene's final frame. The
// service is deliberately infallible: any model or parsing failure degrades
// to a fixed fallback set, so a finished video is never blocked on the LLM.
type OptionsService struct {
	chat      *cloud.QuotaAwareChatModel
	template  *template.Template
	maxTokens int
	logger    *slog.Logger
}

// NewOptionsService creates the options generator. The prompt template and
// token budget come from the configuration, falling back to
// DefaultOptionsPrompt when the template is unset.
func NewOptionsService(config *cloud.Config, chat *cloud.QuotaAwareChatModel, logger *slog.Logger) (*OptionsService, error) {
	promptText := config.PromptTemplates.OptionsPrompt
	if strings.TrimSpace(promptText) == "" {
		promptText = DefaultOptionsPrompt
	}
	tmpl, err := template.New("options").Parse(promptText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse options prompt template: %w", err)
	}
	maxTokens := 0
	if chatModel, ok := config.ChatModels["options"]; ok {
		maxTokens = chatModel.MaxTokens
	}
	return &OptionsService{chat: chat, template: tmpl, maxTokens: maxTokens, logger: logger}, nil
}

// Propose asks the model for optionCount next actions given the story summary
// and the path of the scene's last frame. It returns the sanitized options
// and the source tag (model.OptionsSourceLLM or model.OptionsSourceFallback).
//
// The call never fails: a model error with the image attached triggers one
// text-only retry, and any remaining failure (transport, refusal, malformed
// or empty JSON) yields the fixed fallback set instead of an error.
func (o *OptionsService) Propose(ctx context.Context, summary string, framePath string, optionCount int) ([]model.StoryOption, string) {
	if optionCount < 2 {
		optionCount = 2
	}
	if optionCount > 5 {
		optionCount = 5
	}

	prompt, err := o.renderPrompt(summary, optionCount)
	if err != nil {
		o.logger.Error("failed to render options prompt, using fallback", "error", err)
		return fallbackSet(optionCount), model.OptionsSourceFallback
	}

	content, err := o.complete(ctx, prompt, framePath)
	if err != nil {
		o.logger.Warn("options generation with frame failed, retrying text-only", "error", err)
		content, err = o.complete(ctx, prompt, "")
	}
	if err != nil {
		o.logger.Error("options generation failed, using fallback", "error", err)
		return fallbackSet(optionCount), model.OptionsSourceFallback
	}

	options := parseOptions(content)
	if len(options) == 0 {
		o.logger.Error("options response contained no usable options, using fallback")
		return fallbackSet(optionCount), model.OptionsSourceFallback
	}
	if len(options) > optionCount {
		options = options[:optionCount]
	}
	return options, model.OptionsSourceLLM
}

// renderPrompt executes the template with the current story summary.
func (o *OptionsService) renderPrompt(summary string, optionCount int) (string, error) {
	if strings.TrimSpace(summary) == "" {
		summary = "(the story is just beginning)"
	}
	example, err := json.MarshalIndent(model.GetExampleOptionList(), "", "  ")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	err = o.template.Execute(&sb, map[string]interface{}{
		TemplateOptionCount: optionCount,
		TemplateSummary:     summary,
		TemplateExample:     string(example),
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// complete performs one chat completion. When framePath is non-empty and
// readable, the frame is attached as a base64 data URL image part.
func (o *OptionsService) complete(ctx context.Context, prompt string, framePath string) (string, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	if framePath != "" {
		if dataURL, err := encodeFrame(framePath); err != nil {
			o.logger.Warn("failed to read frame for options prompt", "path", framePath, "error", err)
		} else {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailLow},
			})
		}
	}

	request := openai.ChatCompletionRequest{
		Model:               o.chat.ModelName,
		MaxCompletionTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   optionsSchemaName,
				Schema: optionsSchema(),
				Strict: true,
			},
		},
	}

	response, err := o.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}

// optionsSchema is the strict response schema: an object with an "options"
// array of {label, sora_prompt} objects.
func optionsSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"options": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"label":       {Type: jsonschema.String},
						"sora_prompt": {Type: jsonschema.String},
					},
					Required:             []string{"label", "sora_prompt"},
					AdditionalProperties: false,
				},
			},
		},
		Required:             []string{"options"},
		AdditionalProperties: false,
	}
}

// parseOptions extracts and sanitizes the option list from the model output.
// Incomplete entries are dropped and labels are trimmed and capped.
func parseOptions(content string) []model.StoryOption {
	content = stripMarkdownFence(content)
	var list model.OptionList
	if err := json.Unmarshal([]byte(content), &list); err != nil {
		return nil
	}
	out := make([]model.StoryOption, 0, len(list.Options))
	for _, option := range list.Options {
		label := strings.TrimSpace(option.Label)
		prompt := strings.TrimSpace(option.SoraPrompt)
		if label == "" || prompt == "" {
			continue
		}
		out = append(out, model.StoryOption{
			Label:      truncateRunes(label, MaxOptionLabelChars),
			SoraPrompt: prompt,
		})
	}
	return out
}

// stripMarkdownFence removes a surrounding ```json code fence, which some
// models emit even under a JSON response format.
func stripMarkdownFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// fallbackSet returns optionCount fixed options, cycling the base set when
// more are requested than it holds.
func fallbackSet(optionCount int) []model.StoryOption {
	base := model.FallbackOptions()
	out := make([]model.StoryOption, 0, optionCount)
	for i := 0; i < optionCount; i++ {
		out = append(out, base[i%len(base)])
	}
	return out
}

// encodeFrame reads an image file and packages it as a base64 data URL.
func encodeFrame(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
