// Package ollamachat adapts a local Ollama inference server to the
// provider port through langchaingo's ollama client.
package ollamachat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
	"browser-bridge/internal/infrastructure/llm/prompts"
)

const defaultRequestTimeout = 180 * time.Second

var _ output.ProviderPort = (*Adapter)(nil)

type Adapter struct {
	model   llms.Model
	timeout time.Duration
	builder *prompts.Builder
	logger  output.LoggerPort
}

type Config struct {
	ServerURL string
	Model     string
	Timeout   time.Duration
	Builder   *prompts.Builder
	Logger    output.LoggerPort
}

func New(cfg Config) (*Adapter, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	builder := cfg.Builder
	if builder == nil {
		builder = prompts.NewBuilder(prompts.DefaultBuilderConfig())
	}
	return &Adapter{model: model, timeout: timeout, builder: builder, logger: cfg.Logger}, nil
}

func (a *Adapter) Name() string { return "ollama" }

func (a *Adapter) NextAction(ctx context.Context, req output.NextActionRequest) (*entity.Action, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.model.GenerateContent(callCtx,
		convertMessages(a.builder.Build(req)),
		llms.WithTools(convertSchema(req.Schema)),
		llms.WithTemperature(0.0),
	)
	if err != nil {
		kind := entity.ProviderUnreachable
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = entity.ProviderTimeout
		}
		return nil, &entity.ProviderError{Provider: a.Name(), Kind: kind, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &entity.ProviderError{
			Provider: a.Name(),
			Kind:     entity.ProviderMalformed,
			Err:      errors.New("no choices in response"),
		}
	}

	choice := resp.Choices[0]
	if len(choice.ToolCalls) == 0 {
		return nil, &entity.ProviderError{
			Provider: a.Name(),
			Kind:     entity.ProviderMalformed,
			Err:      fmt.Errorf("reply carries no tool call: %q", truncateForLog(choice.Content)),
		}
	}

	call := choice.ToolCalls[0]
	if call.FunctionCall == nil {
		return nil, &entity.ProviderError{
			Provider: a.Name(),
			Kind:     entity.ProviderMalformed,
			Err:      errors.New("tool call without function payload"),
		}
	}

	action, err := prompts.ParseAction(call.FunctionCall.Name, call.FunctionCall.Arguments, req.Schema)
	if err != nil {
		var unsupported *entity.UnsupportedActionError
		if errors.As(err, &unsupported) {
			return nil, err
		}
		return nil, &entity.ProviderError{Provider: a.Name(), Kind: entity.ProviderMalformed, Err: err}
	}
	return action, nil
}

func convertMessages(messages []prompts.Message) []llms.MessageContent {
	result := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		if msg.Role == prompts.RoleSystem {
			role = llms.ChatMessageTypeSystem
		}
		result = append(result, llms.TextParts(role, msg.Content))
	}
	return result
}

func convertSchema(schema entity.ActionSchema) []llms.Tool {
	result := make([]llms.Tool, 0, len(schema))
	for _, def := range schema {
		result = append(result, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
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
