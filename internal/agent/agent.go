// Package agent runs the advisor's reasoning loop: the model is called with
// the tool specs, requested tools are executed, and their results are fed
// back until the model answers in text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/llm"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/metrics"
	"github.com/fasalrakshak/fasalrakshak/internal/tools"
)

// DefaultMaxToolRounds bounds model calls per reply.
const DefaultMaxToolRounds = 5

// ErrNoAnswer is returned when the model ends a turn without any text.
var ErrNoAnswer = errors.New("model returned no answer")

// ToolExecutor lists and runs the tools a user may call.
type ToolExecutor interface {
	Specs(userID int64) []tools.Spec
	Execute(ctx context.Context, userID int64, name, args string) string
}

// Config tunes an Agent.
type Config struct {
	Temperature   float32
	MaxToolRounds int
}

// Agent answers farmer questions using a chat provider and tools.
type Agent struct {
	provider llm.Provider
	tools    ToolExecutor
	prompts  *llm.PromptGenerator
	cfg      Config
}

// New creates an Agent. A nil prompts uses the default persona.
func New(provider llm.Provider, executor ToolExecutor, prompts *llm.PromptGenerator, cfg Config) *Agent {
	if prompts == nil {
		prompts = llm.NewPromptGenerator(nil)
	}
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Agent{provider: provider, tools: executor, prompts: prompts, cfg: cfg}
}

// Persona returns the persona the agent speaks as.
func (a *Agent) Persona() *llm.Persona { return a.prompts.Persona() }

// Ask answers a single question without conversation history.
func (a *Agent) Ask(ctx context.Context, input string) (string, error) {
	reply, _, err := a.Reply(ctx, 0, nil, input)
	return reply, err
}

// Reply answers input in the context of history. It returns the answer and
// history extended with the user turn, every tool exchange and the answer.
// history itself is never modified.
//
// The model gets the tool specs on every round but the last, which is
// called without tools so that it has to answer.
func (a *Agent) Reply(ctx context.Context, userID int64, history []llm.Message, input string) (string, []llm.Message, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil, core.ErrEmptyInput
	}

	msgs := make([]llm.Message, len(history), len(history)+1)
	copy(msgs, history)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})

	system := a.prompts.SystemPrompt()

	for round := 0; round < a.cfg.MaxToolRounds; round++ {
		last := round == a.cfg.MaxToolRounds-1

		var specs []tools.Spec
		if !last && a.tools != nil {
			specs = a.tools.Specs(userID)
		}

		logger.LLMDebug("User[%d]: Initiating LLM call (Round %d). History length: %d", userID, round+1, len(msgs))
		resp, err := a.provider.Chat(ctx, llm.ChatRequest{
			System:      system,
			Messages:    msgs,
			Tools:       specs,
			Temperature: a.cfg.Temperature,
			UserID:      userID,
		})
		if err != nil {
			logger.LLMError("User[%d]: Error from LLM (Round %d): %v", userID, round+1, err)
			metrics.AgentReplies.WithLabelValues(metrics.OutcomeError).Inc()
			return "", nil, fmt.Errorf("LLM error on round %d: %w", round+1, err)
		}

		reply := resp.Message
		reply.Role = llm.RoleAssistant

		if len(reply.ToolCalls) == 0 || last {
			if len(reply.ToolCalls) > 0 {
				logger.LLMWarn("User[%d]: Model still requested %d tools after %d rounds, ignoring them.", userID, len(reply.ToolCalls), round+1)
				reply.ToolCalls = nil
			}
			metrics.AgentRounds.Observe(float64(round + 1))
			if strings.TrimSpace(reply.Content) == "" {
				metrics.AgentReplies.WithLabelValues(metrics.OutcomeError).Inc()
				return "", nil, ErrNoAnswer
			}
			metrics.AgentReplies.WithLabelValues(metrics.OutcomeOK).Inc()
			return reply.Content, append(msgs, reply), nil
		}

		logger.LLMInfo("User[%d]: LLM requested %d tool calls (Round %d).", userID, len(reply.ToolCalls), round+1)
		msgs = append(msgs, reply)

		for i, call := range reply.ToolCalls {
			logger.ToolInfo("User[%d]: Executing tool call %d/%d: %s (Round %d)", userID, i+1, len(reply.ToolCalls), call.Name, round+1)
			result := a.execute(ctx, userID, call)
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	// MaxToolRounds >= 1 and the last round always returns.
	return "", nil, ErrNoAnswer
}

func (a *Agent) execute(ctx context.Context, userID int64, call llm.ToolCall) string {
	if a.tools == nil {
		return fmt.Sprintf("Error: unknown tool %q.", call.Name)
	}
	return a.tools.Execute(ctx, userID, call.Name, call.Arguments)
}
