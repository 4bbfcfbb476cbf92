package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/tools"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// OpenAI is a Provider for OpenAI-compatible chat completion APIs,
// OpenRouter by default.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the provider. An empty baseURL means OpenRouter.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: llm.api_key (OPENROUTER_API_KEY) is required for the openai provider", core.ErrMissingCredential)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = config.DefaultOpenRouterURL
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAI) Model() string { return o.model }

// Chat sends the conversation with req.System prepended as the system message.
func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	creq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    toOpenAIMessages(req.System, req.Messages),
		Temperature: req.Temperature,
		Tools:       toOpenAITools(req.Tools),
	}

	logger.LLMInfo("UserID[%d]: Sending request to LLM '%s' with %d messages and %d tools.",
		req.UserID, o.model, len(creq.Messages), len(creq.Tools))

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		logger.LLMError("UserID[%d]: LLM request failed: %v", req.UserID, err)
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		logger.LLMError("UserID[%d]: LLM returned no choices.", req.UserID)
		return nil, fmt.Errorf("%w: %s returned no choices", core.ErrProviderUnavailable, o.model)
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		TotalTokens:  resp.Usage.TotalTokens,
	}

	if out.TotalTokens > 0 {
		logger.LLMInfo("UserID[%d]: LLM Usage - Prompt: %d, Completion: %d, Total: %d tokens. Finish Reason: %s",
			req.UserID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens, choice.FinishReason)
	}
	logger.LLMDebug("UserID[%d]: LLM response: %q (ToolCalls: %d)", req.UserID, preview(out.Message.Content), len(out.Message.ToolCalls))
	return out, nil
}

func toOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case RoleAssistant:
			cm.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case RoleTool:
			cm.Role = openai.ChatMessageRoleTool
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.Name
		default:
			cm.Role = openai.ChatMessageRoleUser
		}
		out = append(out, cm)
	}
	return out
}

func toOpenAITools(specs []tools.Spec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(specs))
	for i, s := range specs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						s.Param.Name: {
							Type:        jsonschema.String,
							Description: s.Param.Description,
						},
					},
					Required: []string{s.Param.Name},
				},
			},
		}
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	msg := Message{Role: RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}

// classifyOpenAIError maps rejected keys to ErrMissingCredential and
// transport failures, rate limits and server errors to ErrProviderUnavailable.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", core.ErrMissingCredential, err)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("llm request rejected: %w", err)
	}
	return fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
}
