package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpipeline.dev/core/runtime/llm"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "world"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Model:      "claude-3.5-sonnet",
			Usage: sdk.Usage{
				InputTokens:  10,
				OutputTokens: 5,
			},
		},
	}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hello"},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Text)
	assert.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
	assert.Equal(t, 10, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be terse", stub.lastParams.System[0].Text)
}

func TestComplete_RateLimited(t *testing.T) {
	stub := &stubMessagesClient{err: llm.ErrRateLimited}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 64})
	require.NoError(t, err)

	req := llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	_, err = cl.Complete(context.Background(), req)
	assert.True(t, errors.Is(err, llm.ErrRateLimited))
}

func TestComplete_RequiresMessages(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-3.5-sonnet", MaxTokens: 64})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}

func TestComplete_DefaultsModelAndMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-haiku", MaxTokens: 32})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("claude-3.5-haiku"), stub.lastParams.Model)
	assert.Equal(t, int64(32), stub.lastParams.MaxTokens)
}

func TestComplete_ForwardsZeroTemperature(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{StopReason: sdk.StopReasonEndTurn}}
	cl, err := New(stub, Options{DefaultModel: "claude-3.5-haiku", MaxTokens: 32})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0,
	})
	require.NoError(t, err)

	var unset sdk.MessageNewParams
	assert.NotEqual(t, unset.Temperature, stub.lastParams.Temperature,
		"an explicit zero temperature must still be sent to the API, not silently omitted")
}
