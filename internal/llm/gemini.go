package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/tools"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// Gemini is a Provider backed by the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the provider. Close releases the client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: llm.api_key (GOOGLE_API_KEY) is required for the gemini provider", core.ErrMissingCredential)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Close() error { return g.client.Close() }

// Chat replays req.Messages as chat history and sends the trailing user
// turn. Gemini has no tool call IDs, so they are generated here and tool
// results are matched back by name.
func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != geminiRoleUser {
		return nil, fmt.Errorf("%w: conversation must end with a user or tool message", core.ErrEmptyInput)
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(req.Temperature)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if decls := toGeminiFunctions(req.Tools); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]

	logger.LLMInfo("UserID[%d]: Sending request to LLM '%s' with %d messages and %d tools.",
		req.UserID, g.model, len(req.Messages), len(req.Tools))

	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		logger.LLMError("UserID[%d]: LLM request failed: %v", req.UserID, err)
		return nil, classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		logger.LLMError("UserID[%d]: Gemini returned no candidates.", req.UserID)
		return nil, fmt.Errorf("%w: %s returned no candidates", core.ErrProviderUnavailable, g.model)
	}

	cand := resp.Candidates[0]
	out := &ChatResponse{
		Message:      fromGeminiContent(cand.Content),
		FinishReason: cand.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
		logger.LLMInfo("UserID[%d]: LLM Usage - Prompt: %d, Completion: %d, Total: %d tokens. Finish Reason: %s",
			req.UserID, resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount,
			resp.UsageMetadata.TotalTokenCount, out.FinishReason)
	}
	logger.LLMDebug("UserID[%d]: LLM response: %q (ToolCalls: %d)", req.UserID, preview(out.Message.Content), len(out.Message.ToolCalls))
	return out, nil
}

// toGeminiContents converts messages, merging consecutive turns of the same
// Gemini role.
func toGeminiContents(msgs []Message) ([]*genai.Content, error) {
	var out []*genai.Content
	add := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			var parts []genai.Part
			if m.Content != "" {
				parts = append(parts, genai.Text(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("tool call %s has invalid arguments: %w", tc.Name, err)
					}
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			add(geminiRoleModel, parts...)
		case RoleTool:
			add(geminiRoleUser, genai.FunctionResponse{
				Name:     m.Name,
				Response: map[string]any{"result": m.Content},
			})
		default:
			if m.Content != "" {
				add(geminiRoleUser, genai.Text(m.Content))
			}
		}
	}
	return out, nil
}

func toGeminiFunctions(specs []tools.Spec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		out = append(out, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					s.Param.Name: {
						Type:        genai.TypeString,
						Description: s.Param.Description,
					},
				},
				Required: []string{s.Param.Name},
			},
		})
	}
	return out
}

func fromGeminiContent(c *genai.Content) Message {
	msg := Message{Role: RoleAssistant}
	for _, part := range c.Parts {
		switch p := part.(type) {
		case genai.Text:
			msg.Content += string(p)
		case genai.FunctionCall:
			args, err := json.Marshal(p.Args)
			if err != nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        "call_" + uuid.NewString(),
				Name:      p.Name,
				Arguments: string(args),
			})
		}
	}
	return msg
}

// classifyGeminiError keeps safety blocks and cancellation as they are and
// reports everything else as the provider being unavailable.
func classifyGeminiError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
}
