package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

func TestNewAnthropicClient_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient(Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNewAnthropicClient_Defaults(t *testing.T) {
	client, err := NewAnthropicClient(Config{APIKey: "test-key"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.model)
	assert.Nil(t, client.limiter, "limiting is off by default")

	limited, err := NewAnthropicClient(Config{APIKey: "test-key", RequestsPerMinute: 30}, nil)
	require.NoError(t, err)
	require.NotNil(t, limited.limiter)
	assert.InDelta(t, 0.5, float64(limited.limiter.Limit()), 1e-9)
}

func TestScriptedClient_ReplaysInOrder(t *testing.T) {
	client := NewScriptedClient(
		core.LLMResponse{Content: "first"},
		core.LLMResponse{Content: "second"},
	)

	resp, err := client.Invoke(context.Background(), core.InvokeLLM{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = client.Invoke(context.Background(), core.InvokeLLM{Prompt: "b"})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Exhausted scripts repeat the final response.
	resp, err = client.Invoke(context.Background(), core.InvokeLLM{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	assert.Len(t, client.Calls(), 3)
}

func TestScriptedClient_EmptyScriptErrors(t *testing.T) {
	client := NewScriptedClient()
	_, err := client.Invoke(context.Background(), core.InvokeLLM{Prompt: "a"})
	assert.Error(t, err)
}
