package api

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/amelia-run/amelia/driver"
)

type stubRuntimeClient struct {
	lastInput *bedrockruntime.ConverseInput
	out       *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubRuntimeClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.out, s.err
}

type fakeAPIError struct {
	code    string
	message string
}

func (e *fakeAPIError) Error() string        { return e.code + ": " + e.message }
func (e *fakeAPIError) ErrorCode() string    { return e.code }
func (e *fakeAPIError) ErrorMessage() string { return e.message }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}

func TestBedrockDriverRunTextResponse(t *testing.T) {
	stub := &stubRuntimeClient{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role:    brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello there"}},
				},
			},
			Usage: &brtypes.TokenUsage{InputTokens: aws.Int32(15), OutputTokens: aws.Int32(6)},
		},
	}
	d := NewBedrockDriver(stub, "anthropic.claude-3-5-sonnet-20241022-v2:0")

	stream, err := d.Run(context.Background(), driver.Turn{
		SystemPrompt: "be terse",
		History:      []driver.HistoryMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	msgs := drainStream(t, stream)
	require.Len(t, msgs, 2)
	require.Equal(t, driver.KindResult, msgs[0].Kind)
	require.Equal(t, "hello there", msgs[0].Result)
	require.Equal(t, driver.KindUsage, msgs[1].Kind)
	require.Equal(t, int64(15), msgs[1].Usage.InputTokens)

	require.NotNil(t, stub.lastInput)
	require.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", *stub.lastInput.ModelId)
}

func TestBedrockDriverRunClassifiesProviderError(t *testing.T) {
	stub := &stubRuntimeClient{err: &fakeAPIError{code: "ThrottlingException", message: "too many requests"}}
	d := NewBedrockDriver(stub, "anthropic.claude-3-5-sonnet-20241022-v2:0")

	_, err := d.Run(context.Background(), driver.Turn{})
	require.Error(t, err)

	pe, ok := driver.AsModelProviderError(err)
	require.True(t, ok)
	require.Equal(t, driver.ProviderErrorRateLimited, pe.Kind)
	require.True(t, pe.Retryable())
}

func TestBedrockDriverRunWrapsNonAPIError(t *testing.T) {
	stub := &stubRuntimeClient{err: errors.New("network unreachable")}
	d := NewBedrockDriver(stub, "anthropic.claude-3-5-sonnet-20241022-v2:0")

	_, err := d.Run(context.Background(), driver.Turn{})
	pe, ok := driver.AsModelProviderError(err)
	require.True(t, ok)
	require.Equal(t, driver.ProviderErrorUnknown, pe.Kind)
	require.True(t, pe.Retryable())
}
