package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/amelia-run/amelia/driver"
)

// ChatCompletions captures the subset of the OpenAI SDK used here.
type ChatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIDriver drives a single agent turn against the OpenAI Chat
// Completions API, used when a profile configures an agent role with
// workflow.DriverAPI and a model from the OpenAI family.
type OpenAIDriver struct {
	chat  ChatCompletions
	model string
}

// NewOpenAIDriver builds a driver.Driver backed by chat.
func NewOpenAIDriver(chat ChatCompletions, model string) *OpenAIDriver {
	return &OpenAIDriver{chat: chat, model: model}
}

// Run implements driver.Driver.
func (d *OpenAIDriver) Run(ctx context.Context, turn driver.Turn) (driver.Stream, error) {
	model := turn.Model
	if model == "" {
		model = d.model
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(turn.SystemPrompt),
	}
	for _, h := range turn.History {
		switch h.Role {
		case "user":
			messages = append(messages, openai.UserMessage(h.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(h.Content))
		case "tool":
			for _, tr := range h.ToolResults {
				messages = append(messages, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		}
	}
	resp, err := d.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return newOpenAIStream(resp), nil
}

type openAIStream struct {
	messages []driver.AgenticMessage
	pos      int
	cur      driver.AgenticMessage
}

// CleanupSession is a no-op: Chat Completions is stateless.
func (d *OpenAIDriver) CleanupSession(_ context.Context, _ string) error {
	return nil
}

func newOpenAIStream(resp *openai.ChatCompletion) *openAIStream {
	var msgs []driver.AgenticMessage
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != "" {
			msgs = append(msgs, driver.AgenticMessage{Kind: driver.KindResult, Result: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			input, _ := json.Marshal(tc.Function.Arguments)
			msgs = append(msgs, driver.AgenticMessage{
				Kind: driver.KindToolCall,
				ToolCall: &driver.ToolCall{
					ID:    tc.ID,
					Name:  driver.CanonicalToolName(tc.Function.Name),
					Input: input,
				},
			})
		}
	}
	msgs = append(msgs, driver.AgenticMessage{
		Kind: driver.KindUsage,
		Usage: &driver.Usage{
			Model:        resp.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	})
	return &openAIStream{messages: msgs}
}

func (s *openAIStream) Next(ctx context.Context) bool {
	if s.pos >= len(s.messages) {
		return false
	}
	s.cur = s.messages[s.pos]
	s.pos++
	return true
}

func (s *openAIStream) Message() driver.AgenticMessage { return s.cur }
func (s *openAIStream) Err() error                     { return nil }
func (s *openAIStream) Close() error                   { return nil }

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return driver.NewModelProviderError("openai", "chat.completions.new", 0,
			driver.ProviderErrorUnknown, "", err.Error(), "", true, err)
	}
	kind := driver.ProviderErrorUnknown
	retryable := false
	switch apiErr.StatusCode {
	case 401, 403:
		kind = driver.ProviderErrorAuth
	case 400, 404, 422:
		kind = driver.ProviderErrorInvalidRequest
	case 429:
		kind = driver.ProviderErrorRateLimited
		retryable = true
	default:
		if apiErr.StatusCode >= 500 {
			kind = driver.ProviderErrorUnavailable
			retryable = true
		}
	}
	return driver.NewModelProviderError("openai", "chat.completions.new", apiErr.StatusCode,
		kind, "", apiErr.Message, "", retryable, err)
}
