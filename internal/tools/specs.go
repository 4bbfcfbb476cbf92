// Package tools implements the two capabilities the advisor's reasoning
// loop can call, and the router that dispatches model tool calls to them.
// Every tool returns text; failures are reported in the text, never as
// errors.
package tools

import "github.com/fasalrakshak/fasalrakshak/internal/auth"

const (
	WeatherToolName = auth.ToolWeather
	AdviceToolName  = auth.ToolAdvice
)

// Param is one string argument of a tool.
type Param struct {
	Name        string
	Description string
}

// Spec describes a tool independently of any LLM provider's schema format.
// All tools take exactly one required string parameter.
type Spec struct {
	Name        string
	Description string
	Param       Param
}

var weatherSpec = Spec{
	Name:        WeatherToolName,
	Description: "Use this tool to get the current weather for a specific city. Input should be a city name.",
	Param: Param{
		Name:        "city",
		Description: "Name of the city, for example Jodhpur.",
	},
}

var adviceSpec = Spec{
	Name:        AdviceToolName,
	Description: "Use this tool to get advice on farming practices, crop management, drought, pests, etc., based on expert documents.",
	Param: Param{
		Name:        "query",
		Description: "The farmer's question, in their own words.",
	},
}

// Specs returns the specs of every tool.
func Specs() []Spec {
	return []Spec{weatherSpec, adviceSpec}
}

// PolicyService decides whether a user may call a tool.
type PolicyService interface {
	IsToolAllowed(userID int64, toolName string) bool
}

// SpecsFor returns the specs userID may call. A nil policy allows all.
func SpecsFor(policy PolicyService, userID int64) []Spec {
	if policy == nil {
		return Specs()
	}
	var out []Spec
	for _, s := range Specs() {
		if policy.IsToolAllowed(userID, s.Name) {
			out = append(out, s)
		}
	}
	return out
}
