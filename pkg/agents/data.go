// Package agents holds the specialist handlers served behind the transport:
// the data agent (tool-backed record access), the support agent (guidance
// replies), and the billing agent.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/deskmesh/deskmesh/pkg/a2a"
	"github.com/deskmesh/deskmesh/pkg/mcp"
)

var (
	idPattern    = regexp.MustCompile(`(?i)\bid\s*#?\s*(\d+)`)
	digitPattern = regexp.MustCompile(`\b(\d+)\b`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// customerRecord mirrors the customer payload returned by the tool server.
type customerRecord struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type interactionRecord struct {
	Channel   string `json:"channel"`
	Notes     string `json:"notes"`
	CreatedAt string `json:"created_at"`
}

type ticketRecord struct {
	ID       int64  `json:"id"`
	Issue    string `json:"issue"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// DataAgent turns natural-language record requests into tool invocations.
type DataAgent struct {
	tools mcp.Invoker
	url   string
}

// NewDataAgent creates the data specialist over the given tool gateway.
func NewDataAgent(tools mcp.Invoker, url string) *DataAgent {
	return &DataAgent{tools: tools, url: url}
}

func (d *DataAgent) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "Data Agent",
		Description:        "Looks up and updates customer records through the tool server.",
		Version:            "1.0.0",
		URL:                d.url,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		Provider:           &a2a.AgentProvider{Organization: "deskmesh"},
		Skills: []a2a.AgentSkill{
			{
				ID:          "customer-data",
				Name:        "Customer Data",
				Description: "Reads and writes customer records, tickets, and interaction history.",
				Tags:        []string{"data", "crm"},
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
				Examples: []string{
					"Get customer information for ID 5",
					"Update my email to new@example.com",
					"Show the interaction history for customer 2",
				},
			},
		},
	}
}

// Handle maps the request text to a tool call and renders the result.
// Intent checks run in a fixed order so mixed phrasings stay deterministic.
func (d *DataAgent) Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error) {
	text := a2a.ExtractText(message)
	lower := strings.ToLower(text)
	customerID := ExtractCustomerID(text)

	var (
		reply string
		err   error
	)
	switch {
	case isUpdateIntent(lower):
		reply, err = d.updateCustomer(ctx, customerID, text, lower)
	case strings.Contains(lower, "ticket") && (strings.Contains(lower, "create") || strings.Contains(lower, "open")):
		reply, err = d.createTicket(ctx, customerID, text)
	case strings.Contains(lower, "history") || strings.Contains(lower, "interaction") || strings.Contains(lower, "activity"):
		reply, err = d.history(ctx, customerID)
	case strings.Contains(lower, "list") || strings.Contains(lower, "all customers"):
		reply, err = d.listCustomers(ctx, lower)
	default:
		reply, err = d.getCustomer(ctx, customerID)
	}
	if err != nil {
		return nil, err
	}

	msg := a2a.NewAgentMessage(reply)
	return &msg, nil
}

func isUpdateIntent(lower string) bool {
	for _, marker := range []string{"update", "change", "modify"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ExtractCustomerID pulls a customer ID out of the text, preferring an
// explicit "ID n" form, then any number. Requests without an ID fall back
// to the calling customer's default record. The router uses the same
// extraction when it rewrites a request for a specific specialist.
func ExtractCustomerID(text string) int64 {
	if m := idPattern.FindStringSubmatch(text); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id
		}
	}
	// Strip email addresses first so "a@b2.com" digits are not mistaken
	// for an ID.
	stripped := emailPattern.ReplaceAllString(text, "")
	if m := digitPattern.FindStringSubmatch(stripped); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id
		}
	}
	return 1
}

func (d *DataAgent) getCustomer(ctx context.Context, id int64) (string, error) {
	raw, err := d.tools.Invoke(ctx, mcp.ToolGetCustomer, map[string]any{"customer_id": id})
	if err != nil {
		return "", err
	}

	var c customerRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("failed to decode customer: %w", err)
	}
	return fmt.Sprintf("Customer record %d: %s <%s>, status %s.", c.ID, c.Name, c.Email, c.Status), nil
}

func (d *DataAgent) listCustomers(ctx context.Context, lower string) (string, error) {
	args := map[string]any{}
	for _, status := range []string{"active", "delinquent", "vip"} {
		if strings.Contains(lower, status) {
			args["status"] = status
			break
		}
	}

	raw, err := d.tools.Invoke(ctx, mcp.ToolListCustomers, args)
	if err != nil {
		return "", err
	}

	var customers []customerRecord
	if err := json.Unmarshal(raw, &customers); err != nil {
		return "", fmt.Errorf("failed to decode customers: %w", err)
	}
	if len(customers) == 0 {
		return "No customers matched that request.", nil
	}

	lines := make([]string, 0, len(customers)+1)
	lines = append(lines, fmt.Sprintf("Found %d customer(s):", len(customers)))
	for _, c := range customers {
		lines = append(lines, fmt.Sprintf("- %d: %s <%s>, status %s", c.ID, c.Name, c.Email, c.Status))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *DataAgent) updateCustomer(ctx context.Context, id int64, text, lower string) (string, error) {
	changes := map[string]any{}
	if email := emailPattern.FindString(text); email != "" && strings.Contains(lower, "email") {
		changes["email"] = email
	}
	for _, status := range []string{"active", "delinquent", "vip"} {
		if strings.Contains(lower, "status") && strings.Contains(lower, status) {
			changes["status"] = status
			break
		}
	}

	if len(changes) == 0 {
		return "", &a2a.TaskError{
			Code:    a2a.ErrCodeInvalidArguments,
			Message: "could not determine which customer fields to update",
		}
	}

	raw, err := d.tools.Invoke(ctx, mcp.ToolUpdateCustomer, map[string]any{
		"customer_id": id,
		"data":        changes,
	})
	if err != nil {
		return "", err
	}

	var c customerRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("failed to decode customer: %w", err)
	}
	return fmt.Sprintf("Updated customer %d: %s <%s>, status %s.", c.ID, c.Name, c.Email, c.Status), nil
}

func (d *DataAgent) createTicket(ctx context.Context, id int64, text string) (string, error) {
	raw, err := d.tools.Invoke(ctx, mcp.ToolCreateTicket, map[string]any{
		"customer_id": id,
		"issue":       text,
		"priority":    "normal",
	})
	if err != nil {
		return "", err
	}

	var t ticketRecord
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", fmt.Errorf("failed to decode ticket: %w", err)
	}
	return fmt.Sprintf("Opened ticket %d (%s priority, %s) for customer %d.", t.ID, t.Priority, t.Status, id), nil
}

func (d *DataAgent) history(ctx context.Context, id int64) (string, error) {
	raw, err := d.tools.Invoke(ctx, mcp.ToolGetCustomerHistory, map[string]any{"customer_id": id})
	if err != nil {
		return "", err
	}

	var history []interactionRecord
	if err := json.Unmarshal(raw, &history); err != nil {
		return "", fmt.Errorf("failed to decode history: %w", err)
	}
	if len(history) == 0 {
		return fmt.Sprintf("Customer %d has no recorded interactions.", id), nil
	}

	lines := make([]string, 0, len(history)+1)
	lines = append(lines, fmt.Sprintf("Interaction history for customer %d (newest first):", id))
	for _, h := range history {
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", h.Channel, h.Notes, h.CreatedAt))
	}
	return strings.Join(lines, "\n"), nil
}
