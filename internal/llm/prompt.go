package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

// Persona is the advisor's character, loaded from JSON.
type Persona struct {
	Name        string    `json:"name"`
	Region      string    `json:"region"`
	Description string    `json:"description"`
	Rules       []string  `json:"rules"`
	Style       []string  `json:"style"`
	Topics      []string  `json:"topics"`
	Examples    []Example `json:"examples"`
	Greeting    string    `json:"greeting"`
	ErrorReply  string    `json:"error_reply"`
	// Creator and Contact are only mentioned in the prompt when set.
	Creator  string `json:"creator"`
	Contact  string `json:"contact"`
	TimeZone string `json:"time_zone"`
}

// Example is a sample exchange shown to the model.
type Example struct {
	User  string `json:"user"`
	Reply string `json:"reply"`
}

// DefaultPersona returns the built-in Fasal Rakshak persona.
func DefaultPersona() *Persona {
	return &Persona{
		Name:        "Fasal Rakshak",
		Region:      "Jodhpur, Rajasthan",
		Description: "You are conversational and empathetic.",
		Style: []string{
			"simple words a farmer uses",
			"short practical steps",
		},
		Topics: []string{
			"crop management",
			"drought and irrigation",
			"pests and plant diseases",
			"current weather",
		},
		Greeting:   "Namaste! I am Fasal Rakshak. How can I help you with your farm today?",
		ErrorReply: "I'm sorry, I encountered an error. Please try again.",
		TimeZone:   "Asia/Kolkata",
	}
}

// LoadPersona reads a persona file. An empty path returns DefaultPersona.
// Fields missing from the file keep their default values.
func LoadPersona(path string) (*Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse persona JSON: %w", err)
	}
	return p, nil
}

// PromptGenerator builds system prompts from a Persona.
type PromptGenerator struct {
	persona *Persona
	now     func() time.Time
}

// NewPromptGenerator creates a prompt generator. A nil persona uses the default.
func NewPromptGenerator(persona *Persona) *PromptGenerator {
	if persona == nil {
		persona = DefaultPersona()
	}
	return &PromptGenerator{persona: persona, now: time.Now}
}

func (pg *PromptGenerator) Persona() *Persona { return pg.persona }

// SystemPrompt creates the system prompt. The language-matching rule is
// always first.
func (pg *PromptGenerator) SystemPrompt() string {
	p := pg.persona
	var b strings.Builder

	fmt.Fprintf(&b, "You are a helpful AI farm advisor named '%s'.", p.Name)
	if p.Region != "" {
		fmt.Fprintf(&b, " Your goal is to help farmers in the %s region.", p.Region)
	}
	if p.Description != "" {
		b.WriteString(" " + p.Description)
	}
	b.WriteString("\n\n")

	rules := []string{
		"Language Matching: You MUST detect the user's language and answer in that exact same language. " +
			"If the user asks in English, answer in English. If they ask in Hindi, answer in Hindi. " +
			"If they ask in Hinglish (a mix of Hindi and English), answer in Hinglish. Do not switch languages.",
	}
	if p.Creator != "" {
		rules = append(rules, fmt.Sprintf("Creator Identity: If the user asks who made you or who is your creator, you MUST answer: \"I was created by %s.\"", p.Creator))
	}
	if p.Contact != "" {
		rules = append(rules, fmt.Sprintf("Contact Information: If the user asks for contact information, you MUST answer: \"You can reach my creator at %s.\"", p.Contact))
	}
	rules = append(rules, p.Rules...)

	b.WriteString("VERY IMPORTANT RULES:\n")
	for i, r := range rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	b.WriteString("\n")

	b.WriteString("Use the WeatherForecast tool for current weather in a city and the AgriculturalKnowledgeBase tool " +
		"for farming practices, crop management, drought and pests. Base farming advice on what the knowledge base returns. " +
		"If a tool reports an error or finds nothing, say so plainly.\n\n")

	if len(p.Style) > 0 {
		b.WriteString("Your communication style: ")
		b.WriteString(strings.Join(p.Style, ", "))
		b.WriteString("\n\n")
	}

	if len(p.Topics) > 0 {
		b.WriteString("Topics you're knowledgeable about: ")
		b.WriteString(strings.Join(p.Topics, ", "))
		b.WriteString("\n\n")
	}

	if len(p.Examples) > 0 {
		b.WriteString("Here are examples of how you respond:\n\n")
		for _, ex := range p.Examples {
			fmt.Fprintf(&b, "User: %s\nYou: %s\n\n", ex.User, ex.Reply)
		}
	}

	now := pg.now()
	if p.TimeZone != "" {
		if tz, err := time.LoadLocation(p.TimeZone); err == nil {
			now = now.In(tz)
		} else {
			now = now.UTC()
		}
	}
	fmt.Fprintf(&b, "The current local time is %s.", now.Format("2006-01-02 15:04 MST"))

	return b.String()
}
