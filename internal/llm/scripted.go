package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// ScriptedClient replays a fixed sequence of responses. It backs tests and
// dry runs; once the script is exhausted it keeps returning the last
// response.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []core.LLMResponse
	calls     []core.InvokeLLM
}

// NewScriptedClient builds a client that will answer with the given
// responses in order.
func NewScriptedClient(responses ...core.LLMResponse) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// Invoke returns the next scripted response.
func (c *ScriptedClient) Invoke(_ context.Context, req core.InvokeLLM) (core.LLMResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if len(c.responses) == 0 {
		return core.LLMResponse{}, errors.New("scripted client has no responses")
	}
	idx := len(c.calls) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

// Calls returns a copy of every request seen so far.
func (c *ScriptedClient) Calls() []core.InvokeLLM {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.InvokeLLM, len(c.calls))
	copy(out, c.calls)
	return out
}
