// Package prompts renders the agent transcript into provider-neutral chat
// messages under a token budget, and parses model tool calls back into
// schema actions.
package prompts

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const SystemPrompt = `You are an autonomous browser agent. You control a real web browser through a fixed set of actions exposed as tools.

Rules:
- Call exactly one tool per reply. Never reply with free text.
- Inspect the current page state before interacting with elements; selectors must come from the element inventory or extracted content.
- When the task is complete, call the "finish" tool with the final result.
- If an action failed, read the error and try a different approach instead of repeating it.`

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is a provider-neutral chat message; each adapter converts it to
// its own wire format.
type Message struct {
	Role    Role
	Content string
}

type BuilderConfig struct {
	// TokenBudget bounds the rendered prompt. Oldest steps are digested
	// first; the instruction and the current observation are never
	// dropped.
	TokenBudget int
	// KeepRecent is how many trailing steps stay verbatim before budget
	// pressure applies.
	KeepRecent int
	// MaxObservationChars caps the visible-text portion of an observation.
	MaxObservationChars int
	// MaxElements caps the element inventory shown per observation.
	MaxElements int
}

func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		TokenBudget:         24000,
		KeepRecent:          8,
		MaxObservationChars: 4000,
		MaxElements:         40,
	}
}

// Builder renders NextAction requests into messages.
type Builder struct {
	cfg     BuilderConfig
	counter func(string) int
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.TokenBudget <= 0 {
		cfg = DefaultBuilderConfig()
	}
	return &Builder{cfg: cfg, counter: CountTokens}
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts with the cl100k_base encoding, falling back to a
// rune-based heuristic when the encoding is unavailable (e.g. offline).
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	estimate := len([]rune(text)) / 4
	if estimate == 0 && text != "" {
		estimate = 1
	}
	return estimate
}
