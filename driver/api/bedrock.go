package api

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/amelia-run/amelia/driver"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// driver needs, satisfied by *bedrockruntime.Client or a test fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockDriver drives a single agent turn against the AWS Bedrock Converse
// API, for profiles that route an agent role through Bedrock-hosted models.
type BedrockDriver struct {
	runtime RuntimeClient
	modelID string
}

// NewBedrockDriver builds a driver.Driver backed by runtime.
func NewBedrockDriver(runtime RuntimeClient, modelID string) *BedrockDriver {
	return &BedrockDriver{runtime: runtime, modelID: modelID}
}

// Run implements driver.Driver.
func (d *BedrockDriver) Run(ctx context.Context, turn driver.Turn) (driver.Stream, error) {
	modelID := turn.Model
	if modelID == "" {
		modelID = d.modelID
	}
	messages := make([]brtypes.Message, 0, len(turn.History))
	for _, h := range turn.History {
		switch h.Role {
		case "user":
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: h.Content}},
			})
		case "assistant":
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: h.Content}},
			})
		case "tool":
			for _, tr := range h.ToolResults {
				messages = append(messages, brtypes.Message{
					Role: brtypes.ConversationRoleUser,
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
						Value: brtypes.ToolResultBlock{
							ToolUseId: aws.String(tr.ToolCallID),
							Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: tr.Content}},
							Status:    toolResultStatus(tr.IsError),
						},
					}},
				})
			}
		}
	}

	out, err := d.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		System:   []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: turn.SystemPrompt}},
		Messages: messages,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	return newBedrockStream(out, modelID), nil
}

// CleanupSession is a no-op: the Converse API is stateless.
func (d *BedrockDriver) CleanupSession(_ context.Context, _ string) error {
	return nil
}

func toolResultStatus(isError bool) brtypes.ToolResultStatus {
	if isError {
		return brtypes.ToolResultStatusError
	}
	return brtypes.ToolResultStatusSuccess
}

type bedrockStream struct {
	messages []driver.AgenticMessage
	pos      int
	cur      driver.AgenticMessage
}

func newBedrockStream(out *bedrockruntime.ConverseOutput, modelID string) *bedrockStream {
	var msgs []driver.AgenticMessage
	if member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range member.Value.Content {
			switch b := block.(type) {
			case *brtypes.ContentBlockMemberText:
				msgs = append(msgs, driver.AgenticMessage{Kind: driver.KindResult, Result: b.Value})
			case *brtypes.ContentBlockMemberReasoningContent:
				if rc, ok := b.Value.(*brtypes.ReasoningContentBlockMemberReasoningText); ok {
					msgs = append(msgs, driver.AgenticMessage{Kind: driver.KindThinking, Thinking: aws.ToString(rc.Value.Text)})
				}
			case *brtypes.ContentBlockMemberToolUse:
				input, _ := json.Marshal(b.Value.Input)
				msgs = append(msgs, driver.AgenticMessage{
					Kind: driver.KindToolCall,
					ToolCall: &driver.ToolCall{
						ID:    aws.ToString(b.Value.ToolUseId),
						Name:  driver.CanonicalToolName(aws.ToString(b.Value.Name)),
						Input: input,
					},
				})
			}
		}
	}
	usage := driver.Usage{Model: modelID}
	if out.Usage != nil {
		usage.InputTokens = int64(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int64(aws.ToInt32(out.Usage.OutputTokens))
	}
	msgs = append(msgs, driver.AgenticMessage{Kind: driver.KindUsage, Usage: &usage})
	return &bedrockStream{messages: msgs}
}

func (s *bedrockStream) Next(ctx context.Context) bool {
	if s.pos >= len(s.messages) {
		return false
	}
	s.cur = s.messages[s.pos]
	s.pos++
	return true
}

func (s *bedrockStream) Message() driver.AgenticMessage { return s.cur }
func (s *bedrockStream) Err() error                     { return nil }
func (s *bedrockStream) Close() error                   { return nil }

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if ae, ok := err.(smithy.APIError); ok {
		apiErr = ae
	}
	if apiErr == nil {
		return driver.NewModelProviderError("bedrock", "converse", 0,
			driver.ProviderErrorUnknown, "", err.Error(), "", true, err)
	}
	kind := driver.ProviderErrorUnknown
	retryable := false
	switch apiErr.ErrorCode() {
	case "AccessDeniedException", "UnrecognizedClientException":
		kind = driver.ProviderErrorAuth
	case "ValidationException":
		kind = driver.ProviderErrorInvalidRequest
	case "ThrottlingException":
		kind = driver.ProviderErrorRateLimited
		retryable = true
	case "ModelTimeoutException", "ServiceUnavailableException", "InternalServerException":
		kind = driver.ProviderErrorUnavailable
		retryable = true
	}
	return driver.NewModelProviderError("bedrock", "converse", 0, kind,
		apiErr.ErrorCode(), apiErr.ErrorMessage(), "", retryable, err)
}
