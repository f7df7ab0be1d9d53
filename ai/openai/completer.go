// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/poiesic/arbor/ai"
	"github.com/poiesic/arbor/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// stopReasonLength is the OpenAI finish reason for hitting the token budget.
const stopReasonLength = "length"

// Completer implements ai.Completer using OpenAI-compatible chat APIs.
type Completer struct {
	client      llms.Model
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// newCompleter is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newCompleter(config *ai.Config) (*Completer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Use "none" as token for local OpenAI-compatible services that don't require authentication
	client, err := openai.New(
		openai.WithBaseURL(config.CompletionHost),
		openai.WithToken("none"),
		openai.WithModel(config.CompletionModel),
	)
	if err != nil {
		return nil, err
	}

	return &Completer{
		client:      client,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		logger:      slog.Default().With("component", "openai-completer"),
	}, nil
}

// NewCompleter creates a new completer using the provided configuration.
//
// Returns ai.Completer interface to enforce abstraction.
func NewCompleter(config *ai.Config) (ai.Completer, error) {
	return newCompleter(config)
}

// StreamCompletion generates a completion, streaming partial text through emit
// as it arrives and reporting any tool calls before the final event.
func (c *Completer) StreamCompletion(ctx context.Context, req ai.CompletionRequest, emit func(ai.CompletionEvent) error) error {
	content := convertMessages(req.Messages)

	temperature := c.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	opts := []llms.CallOption{
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	opts = append(opts,
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return emit(ai.CompletionEvent{Kind: ai.EventPartial, Text: string(chunk)})
		}),
	)
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(convertTools(req.Tools)))
	}
	if choice := convertToolChoice(req.ToolChoice); choice != nil {
		opts = append(opts, llms.WithToolChoice(choice))
	}

	response, err := c.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		c.logger.Error("failed to generate completion", "err", err)
		return err
	}

	if len(response.Choices) < 1 {
		c.logger.Debug("no choices returned from model")
		return emit(ai.CompletionEvent{Kind: ai.EventFinal})
	}

	choice := response.Choices[0]

	for _, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}
		args := call.FunctionCall.Arguments
		// Local models sometimes emit slightly malformed argument objects.
		if !json.Valid([]byte(args)) {
			args = repairJSON(args)
		}
		event := ai.CompletionEvent{
			Kind: ai.EventCall,
			Call: &ai.ToolCall{
				ID:        call.ID,
				Name:      call.FunctionCall.Name,
				Arguments: args,
			},
		}
		if err := emit(event); err != nil {
			return err
		}
	}

	return emit(ai.CompletionEvent{
		Kind:      ai.EventFinal,
		Text:      choice.Content,
		Truncated: choice.StopReason == stopReasonLength,
	})
}

// convertMessages maps conversation messages to langchaingo message content.
func convertMessages(messages []core.Message) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.MessageContent{
			Role:  convertRole(msg.Role),
			Parts: []llms.ContentPart{llms.TextPart(msg.Content)},
		})
	}
	return content
}

func convertRole(role core.Role) llms.ChatMessageType {
	switch role {
	case core.RoleAssistant:
		return llms.ChatMessageTypeAI
	case core.RoleSystem:
		return llms.ChatMessageTypeSystem
	case core.RoleFunction:
		return llms.ChatMessageTypeFunction
	default:
		return llms.ChatMessageTypeHuman
	}
}

func convertTools(tools []ai.ToolDefinition) []llms.Tool {
	converted := make([]llms.Tool, 0, len(tools))
	for _, tool := range tools {
		converted = append(converted, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return converted
}

// convertToolChoice maps the request's tool choice to the wire form:
// "auto" and "none" pass through as strings, anything else names a
// specific function the model must call.
func convertToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none":
		return choice
	default:
		return llms.ToolChoice{
			Type:     "function",
			Function: &llms.FunctionReference{Name: choice},
		}
	}
}
