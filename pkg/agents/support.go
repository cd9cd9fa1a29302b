package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// SupportAgent writes user-facing guidance replies. When the router has
// chained a data lookup in front, the forwarded "Data context:" section is
// folded into the reply.
type SupportAgent struct {
	url string
}

// NewSupportAgent creates the support specialist.
func NewSupportAgent(url string) *SupportAgent {
	return &SupportAgent{url: url}
}

func (s *SupportAgent) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "Support Agent",
		Description:        "Provides troubleshooting help and customer-friendly guidance.",
		Version:            "1.0.0",
		URL:                s.url,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Provider:           &a2a.AgentProvider{Organization: "deskmesh"},
		Skills: []a2a.AgentSkill{
			{
				ID:          "support-general",
				Name:        "General Support",
				Description: "Handles everyday support inquiries and troubleshooting questions.",
				Tags:        []string{"support", "triage", "helpdesk"},
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
				Examples: []string{
					"Help me reset my password",
					"I need to troubleshoot an issue",
					"Review my recent activity",
				},
			},
		},
	}
}

func (s *SupportAgent) Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error) {
	text := a2a.ExtractText(message)
	contextText, request := splitSupportPrompt(text)
	lower := strings.ToLower(text)

	opening := "Hi there, thanks for reaching out."
	if contextText != "" {
		opening = "Hi there, I reviewed the latest notes on your account."
	}

	var contextLine string
	switch {
	case strings.Contains(lower, "login"):
		contextLine = "It looks like you're having trouble signing in."
	case strings.Contains(lower, "ticket"), strings.Contains(lower, "issue"), strings.Contains(lower, "problem"):
		contextLine = "I can see you're dealing with an issue that needs attention."
	case contextText != "":
		contextLine = "I've read through the account history you mentioned."
	}

	lines := []string{
		opening,
		contextLine,
		"",
		fmt.Sprintf("Here's what I recommend based on %s:", request),
	}

	steps := supportSuggestions(lower)
	for _, step := range steps[:3] {
		lines = append(lines, "- "+step)
	}
	lines = append(lines, "If you'd like me to take action now, just reply to this message and I'll handle it.")

	var nonEmpty []string
	for _, line := range lines {
		if line != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}

	reply := a2a.NewAgentMessage(strings.Join(nonEmpty, "\n"))
	return &reply, nil
}

// splitSupportPrompt separates the forwarded data context from the actual
// customer request.
func splitSupportPrompt(text string) (contextText, request string) {
	if idx := strings.Index(text, "Data context:"); idx >= 0 {
		lead := strings.TrimSpace(text[:idx])
		contextText = strings.TrimSpace(text[idx+len("Data context:"):])
		if lead == "" {
			lead = "your request"
		}
		return contextText, lead
	}

	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		cleaned = "your request"
	}
	return "", cleaned
}

// supportSuggestions returns practical next steps keyed off the request.
// The last entry is always the urgency line.
func supportSuggestions(lower string) []string {
	var out []string
	switch {
	case strings.Contains(lower, "login"), strings.Contains(lower, "password"):
		out = append(out,
			"Try resetting your password and confirm you can sign in from a trusted browser.",
			"If it still fails, share the exact error message so we can diagnose quickly.")
	case strings.Contains(lower, "ticket"), strings.Contains(lower, "issue"), strings.Contains(lower, "problem"):
		out = append(out,
			"I can open a support ticket and notify you as soon as there's progress.",
			"Screenshots or timestamps would help us troubleshoot faster.")
	case strings.Contains(lower, "history"), strings.Contains(lower, "follow"), strings.Contains(lower, "activity"):
		out = append(out,
			"I've reviewed your recent activity and will keep an eye on any new updates.",
			"If something changes on your side, let me know and we can adjust next steps.")
	default:
		out = append(out,
			"Tell me any specific details you'd like us to verify or double-check.",
			"We can also set up a short follow-up if you need more help.")
	}

	out = append(out, "If this is urgent, reply here and I'll jump on it immediately.")
	return out
}
