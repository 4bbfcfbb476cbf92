// Package llm talks to chat-completion providers with tool calling and
// builds the advisor's system prompt.
package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/tools"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation in provider-neutral form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name, on tool messages
}

// ToolCall is a model request to run a tool. Arguments is a JSON object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is a single completion call.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []tools.Spec
	Temperature float32
	// UserID is only used to tag log lines.
	UserID int64
}

// ChatResponse holds the assistant's reply. When ToolCalls is non-empty
// the model wants those run before it answers.
type ChatResponse struct {
	Message      Message
	FinishReason string
	TotalTokens  int
}

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Model() string
}

// New creates the provider selected by cfg.Provider. The returned closer
// releases client resources and is never nil.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, io.Closer, error) {
	switch cfg.Provider {
	case config.LLMOpenAI:
		p, err := NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return p, nopCloser{}, nil
	case config.LLMGemini, "":
		p, err := NewGemini(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown llm provider %q", core.ErrInvalidConfig, cfg.Provider)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func preview(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
