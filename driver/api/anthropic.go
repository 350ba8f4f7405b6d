// Package api implements driver.Driver directly against model provider
// APIs (Anthropic, OpenAI, Bedrock) rather than through a CLI subprocess,
// for profiles that configure an agent with workflow.DriverAPI.
package api

import (
	"context"
	"encoding/json"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/amelia-run/amelia/driver"
)

// AnthropicMessages captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake in place of *sdk.MessageService.
type AnthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicDriver drives a single agent turn against the Anthropic Claude
// Messages API.
type AnthropicDriver struct {
	msg          AnthropicMessages
	model        string
	maxTokens    int64
	systemPrefix string
}

// NewAnthropicDriver builds a driver.Driver backed by msg.
func NewAnthropicDriver(msg AnthropicMessages, model string, maxTokens int64) *AnthropicDriver {
	return &AnthropicDriver{msg: msg, model: model, maxTokens: maxTokens}
}

// Run implements driver.Driver.
func (d *AnthropicDriver) Run(ctx context.Context, turn driver.Turn) (driver.Stream, error) {
	model := turn.Model
	if model == "" {
		model = d.model
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: d.maxTokens,
		System:    []sdk.TextBlockParam{{Text: turn.SystemPrompt}},
		Messages:  toAnthropicMessages(turn.History),
	}
	resp, err := d.msg.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}
	return newAnthropicStream(resp), nil
}

// CleanupSession is a no-op: the Messages API is stateless, replaying the
// full History every call, so there is no server-side session to release.
func (d *AnthropicDriver) CleanupSession(_ context.Context, _ string) error {
	return nil
}

func toAnthropicMessages(history []driver.HistoryMessage) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	for _, h := range history {
		switch h.Role {
		case "user":
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(h.Content)))
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(h.Content)))
		case "tool":
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(h.ToolResults))
			for _, tr := range h.ToolResults {
				blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

// anthropicStream adapts a single non-streaming Anthropic response into a
// driver.Stream that yields its content blocks one AgenticMessage at a
// time, followed by a final usage message. The Anthropic SDK's own
// server-sent-events streaming mode is not used here because Amelia only
// needs the completed turn, not token-by-token deltas; CLI drivers are the
// ones responsible for true incremental streaming to the event bus.
type anthropicStream struct {
	messages []driver.AgenticMessage
	pos      int
	cur      driver.AgenticMessage
}

func newAnthropicStream(resp *sdk.Message) *anthropicStream {
	var msgs []driver.AgenticMessage
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msgs = append(msgs, driver.AgenticMessage{Kind: driver.KindResult, Result: block.Text})
		case "thinking":
			msgs = append(msgs, driver.AgenticMessage{Kind: driver.KindThinking, Thinking: block.Thinking})
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			msgs = append(msgs, driver.AgenticMessage{
				Kind: driver.KindToolCall,
				ToolCall: &driver.ToolCall{
					ID:    block.ID,
					Name:  driver.CanonicalToolName(block.Name),
					Input: input,
				},
			})
		}
	}
	msgs = append(msgs, driver.AgenticMessage{
		Kind: driver.KindUsage,
		Usage: &driver.Usage{
			Model:        string(resp.Model),
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CacheReadTokens:   resp.Usage.CacheReadInputTokens,
			CacheCreateTokens: resp.Usage.CacheCreationInputTokens,
		},
	})
	return &anthropicStream{messages: msgs}
}

func (s *anthropicStream) Next(ctx context.Context) bool {
	if s.pos >= len(s.messages) {
		return false
	}
	s.cur = s.messages[s.pos]
	s.pos++
	return true
}

func (s *anthropicStream) Message() driver.AgenticMessage { return s.cur }
func (s *anthropicStream) Err() error                     { return nil }
func (s *anthropicStream) Close() error                   { return nil }

func classifyAnthropicError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return driver.NewModelProviderError("anthropic", "messages.new", 0,
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
	return driver.NewModelProviderError("anthropic", "messages.new", apiErr.StatusCode,
		kind, "", apiErr.Message, "", retryable, err)
}
