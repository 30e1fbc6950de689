// Package openaichat adapts any OpenAI-compatible chat-completion endpoint
// (OpenAI, OpenRouter, Azure-style gateways) to the provider port.
package openaichat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sashabaranov/go-openai"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
	"browser-bridge/internal/infrastructure/llm/prompts"
)

const defaultRequestTimeout = 120 * time.Second

var _ output.ProviderPort = (*Adapter)(nil)

type Adapter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	builder *prompts.Builder
	logger  output.LoggerPort
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Builder *prompts.Builder
	Logger  output.LoggerPort
}

func New(cfg Config) *Adapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	builder := cfg.Builder
	if builder == nil {
		builder = prompts.NewBuilder(prompts.DefaultBuilderConfig())
	}
	return &Adapter{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		builder: builder,
		logger:  cfg.Logger,
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) NextAction(ctx context.Context, req output.NextActionRequest) (*entity.Action, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    convertMessages(a.builder.Build(req)),
		Tools:       convertSchema(req.Schema),
		ToolChoice:  "required",
		Temperature: 0.0,
	})
	if err != nil {
		return nil, a.classify(callCtx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &entity.ProviderError{
			Provider: a.Name(),
			Kind:     entity.ProviderMalformed,
			Err:      errors.New("no choices in response"),
		}
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return nil, &entity.ProviderError{
			Provider: a.Name(),
			Kind:     entity.ProviderMalformed,
			Err:      fmt.Errorf("reply carries no tool call: %q", truncateForLog(msg.Content)),
		}
	}

	// One action per turn; extra calls are ignored, the model sees the
	// single executed result on the next step.
	call := msg.ToolCalls[0]
	if a.logger != nil && len(msg.ToolCalls) > 1 {
		a.logger.Warn("Model returned multiple tool calls, using the first", "count", len(msg.ToolCalls))
	}

	action, err := prompts.ParseAction(call.Function.Name, call.Function.Arguments, req.Schema)
	if err != nil {
		var unsupported *entity.UnsupportedActionError
		if errors.As(err, &unsupported) {
			return nil, err
		}
		return nil, &entity.ProviderError{Provider: a.Name(), Kind: entity.ProviderMalformed, Err: err}
	}
	return action, nil
}

func (a *Adapter) classify(ctx context.Context, err error) error {
	kind := entity.ProviderUnreachable
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = entity.ProviderTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = entity.ProviderTimeout
	}
	return &entity.ProviderError{Provider: a.Name(), Kind: kind, Err: err}
}

func convertMessages(messages []prompts.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		result = append(result, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return result
}

func convertSchema(schema entity.ActionSchema) []openai.Tool {
	result := make([]openai.Tool, 0, len(schema))
	for _, def := range schema {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(def.Name),
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return result
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
