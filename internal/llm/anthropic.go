package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// DefaultModel is used when the config does not name one.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Config configures the Anthropic client.
type Config struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string `koanf:"api_key"`

	// Model is the model identifier to invoke.
	Model string `koanf:"model"`

	// RequestsPerMinute rate-limits invocations; zero disables limiting.
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// AnthropicClient invokes Claude through the official SDK.
type AnthropicClient struct {
	client  *anthropic.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAnthropicClient builds a client from config.
func NewAnthropicClient(cfg Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Invoke sends one prompt and maps the response blocks onto the core types.
func (c *AnthropicClient) Invoke(ctx context.Context, req core.InvokeLLM) (core.LLMResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return core.LLMResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(c.model),
		MaxTokens: anthropic.F(int64(req.MaxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		}),
	}
	if req.SystemPrompt != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(req.SystemPrompt),
		})
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.F(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("invoke model: %w", err)
	}
	if len(resp.Content) == 0 {
		return core.LLMResponse{}, errors.New("empty response from model")
	}

	out := core.LLMResponse{
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	for _, block := range resp.Content {
		switch b := block.AsUnion().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			input := map[string]any{}
			if err := json.Unmarshal([]byte(b.Input), &input); err != nil {
				c.logger.Warn("unparseable tool input, skipping",
					zap.String("tool", b.Name),
					zap.Error(err),
				)
				continue
			}
			out.ToolUses = append(out.ToolUses, core.ToolUse{Tool: b.Name, Input: input})
		}
	}

	c.logger.Debug("model invoked",
		zap.String("model", c.model),
		zap.Int("tokens", out.TokensUsed),
		zap.Int("tool_uses", len(out.ToolUses)),
	)
	return out, nil
}
