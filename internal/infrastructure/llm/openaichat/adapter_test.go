package openaichat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
	"browser-bridge/internal/infrastructure/llm/prompts"
)

func TestConvertMessages(t *testing.T) {
	messages := []prompts.Message{
		{Role: prompts.RoleSystem, Content: "you are an agent"},
		{Role: prompts.RoleUser, Content: "Task: open example.com"},
	}

	result := convertMessages(messages)

	assert.Len(t, result, 2)
	assert.Equal(t, "system", result[0].Role)
	assert.Equal(t, "you are an agent", result[0].Content)
	assert.Equal(t, "user", result[1].Role)
}

func TestConvertSchema(t *testing.T) {
	result := convertSchema(entity.DefaultSchema())

	require.Len(t, result, len(entity.DefaultSchema()))
	assert.Equal(t, openai.ToolTypeFunction, result[0].Type)
	assert.Equal(t, "navigate", result[0].Function.Name)
	assert.NotEmpty(t, result[0].Function.Description)
	assert.NotNil(t, result[0].Function.Parameters)
}

func fakeCompletionServer(t *testing.T, message openai.ChatCompletionMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: message}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAdapter(baseURL string) *Adapter {
	return New(Config{
		APIKey:  "test-key",
		Model:   "gpt-4o",
		BaseURL: baseURL + "/v1",
		Timeout: 5 * time.Second,
	})
}

func TestNextAction_ParsesToolCall(t *testing.T) {
	server := fakeCompletionServer(t, openai.ChatCompletionMessage{
		Role: "assistant",
		ToolCalls: []openai.ToolCall{{
			ID:   "call_1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "navigate",
				Arguments: `{"url":"https://example.com"}`,
			},
		}},
	})
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	action, err := adapter.NextAction(context.Background(), output.NextActionRequest{
		Instruction: "open example.com",
		Schema:      entity.DefaultSchema(),
	})

	require.NoError(t, err)
	assert.Equal(t, entity.ActionNavigate, action.Name)
	assert.Equal(t, "https://example.com", action.Args.URL)
}

func TestNextAction_FreeTextReplyIsMalformed(t *testing.T) {
	server := fakeCompletionServer(t, openai.ChatCompletionMessage{
		Role:    "assistant",
		Content: "I will now navigate to the page.",
	})
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.NextAction(context.Background(), output.NextActionRequest{
		Instruction: "open example.com",
		Schema:      entity.DefaultSchema(),
	})

	var provErr *entity.ProviderError
	require.True(t, errors.As(err, &provErr), "got %v", err)
	assert.Equal(t, entity.ProviderMalformed, provErr.Kind)
}

func TestNextAction_UnknownToolNamePassesThrough(t *testing.T) {
	server := fakeCompletionServer(t, openai.ChatCompletionMessage{
		Role: "assistant",
		ToolCalls: []openai.ToolCall{{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "hover",
				Arguments: `{}`,
			},
		}},
	})
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.NextAction(context.Background(), output.NextActionRequest{
		Instruction: "hover over it",
		Schema:      entity.DefaultSchema(),
	})

	var unsupported *entity.UnsupportedActionError
	require.True(t, errors.As(err, &unsupported), "got %v", err)
	assert.Equal(t, "hover", unsupported.Name)
}

func TestNextAction_UnreachableEndpoint(t *testing.T) {
	adapter := New(Config{
		APIKey:  "test-key",
		Model:   "gpt-4o",
		BaseURL: "http://127.0.0.1:1/v1",
		Timeout: time.Second,
	})

	_, err := adapter.NextAction(context.Background(), output.NextActionRequest{
		Instruction: "x",
		Schema:      entity.DefaultSchema(),
	})

	var provErr *entity.ProviderError
	require.True(t, errors.As(err, &provErr), "got %v", err)
	assert.True(t, provErr.Retryable())
}
