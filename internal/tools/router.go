package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/metrics"
)

// Runner is a single-argument text tool.
type Runner interface {
	Run(ctx context.Context, input string) string
}

// Router routes and executes tool calls.
type Router struct {
	policy PolicyService
	tools  map[string]Runner
	params map[string]string
}

// NewRouter creates a Router over the weather and advice tools. A nil
// policy allows every call.
func NewRouter(policy PolicyService, weather, advice Runner) *Router {
	return &Router{
		policy: policy,
		tools: map[string]Runner{
			WeatherToolName: weather,
			AdviceToolName:  advice,
		},
		params: map[string]string{
			WeatherToolName: weatherSpec.Param.Name,
			AdviceToolName:  adviceSpec.Param.Name,
		},
	}
}

// Specs returns the specs userID may call.
func (r *Router) Specs(userID int64) []Spec {
	return SpecsFor(r.policy, userID)
}

// Execute runs the named tool with the model-supplied arguments and returns
// its text. Unknown tools, denied calls and unusable arguments are reported
// as text too.
func (r *Router) Execute(ctx context.Context, userID int64, name, args string) string {
	tool, ok := r.tools[name]
	if !ok || tool == nil {
		logger.ToolWarn("User[%d]: unknown tool %q", userID, name)
		metrics.ToolCalls.WithLabelValues("unknown", metrics.OutcomeError).Inc()
		return fmt.Sprintf("Error: unknown tool %q.", name)
	}

	if r.policy != nil && !r.policy.IsToolAllowed(userID, name) {
		logger.ToolWarn("User[%d]: not allowed to use tool %s", userID, name)
		metrics.ToolCalls.WithLabelValues(name, metrics.OutcomeDenied).Inc()
		return fmt.Sprintf("Error: you are not allowed to use %s.", name)
	}

	input, err := decodeArgument(args, r.params[name])
	if err != nil {
		logger.ToolWarn("User[%d]: bad arguments for %s: %v", userID, name, err)
		metrics.ToolCalls.WithLabelValues(name, metrics.OutcomeError).Inc()
		return fmt.Sprintf("Error: could not read the arguments for %s: %v", name, err)
	}

	logger.ToolDebug("User[%d]: executing %s(%q)", userID, name, input)
	result := tool.Run(ctx, input)

	outcome := metrics.OutcomeOK
	if strings.HasPrefix(result, "Error:") || strings.HasPrefix(result, "An error occurred") {
		outcome = metrics.OutcomeError
	}
	metrics.ToolCalls.WithLabelValues(name, outcome).Inc()

	logger.ToolDebug("User[%d]: %s returned %q", userID, name, clip(result, 100))
	return result
}

// clip shortens s to n runes for logging.
func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

// decodeArgument accepts {"<param>": "..."}, the generic single-input keys
// some agent frameworks send, a JSON string, or plain text.
func decodeArgument(args, param string) (string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", nil
	}

	switch args[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(args), &obj); err != nil {
			return "", err
		}
		for _, key := range []string{param, "input", "__arg1"} {
			if v, ok := obj[key]; ok {
				s, ok := v.(string)
				if !ok {
					return "", fmt.Errorf("%s must be a string", key)
				}
				return s, nil
			}
		}
		if len(obj) == 1 {
			for _, v := range obj {
				if s, ok := v.(string); ok {
					return s, nil
				}
			}
		}
		return "", fmt.Errorf("missing %q", param)
	case '"':
		var s string
		if err := json.Unmarshal([]byte(args), &s); err != nil {
			return "", err
		}
		return s, nil
	default:
		return args, nil
	}
}
