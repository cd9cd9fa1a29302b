package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmesh/deskmesh/pkg/a2a"
	"github.com/deskmesh/deskmesh/pkg/agents"
	"github.com/deskmesh/deskmesh/pkg/mcp"
)

// recordingInvoker implements mcp.Invoker and captures which tools the data
// agent selects for each plan step.
type recordingInvoker struct {
	tools []string
}

func (r *recordingInvoker) Invoke(_ context.Context, name string, args map[string]any) (json.RawMessage, error) {
	r.tools = append(r.tools, name)
	switch name {
	case mcp.ToolUpdateCustomer:
		return json.Marshal(map[string]any{"id": 1, "name": "Ana Customer", "email": "a@b.com", "status": "active"})
	case mcp.ToolGetCustomerHistory:
		return json.Marshal([]map[string]any{{"channel": "email", "notes": "Welcome email sent", "created_at": "2026-08-01"}})
	default:
		return json.Marshal(map[string]any{"id": 1})
	}
}

// Each multi-intent plan step must land on a distinct tool when fed to the
// real data agent: one update, one history read, never the update twice.
func TestBuildPlan_MultiIntentStepsAgainstDataAgent(t *testing.T) {
	text := "Update my email to a@b.com and show my ticket history"
	plan := BuildPlan(Classify(DefaultRules(), text), text)
	require.Len(t, plan.Steps, 2)

	invoker := &recordingInvoker{}
	agent := agents.NewDataAgent(invoker, "http://data.test")

	for _, step := range plan.Steps {
		_, err := agent.Handle(context.Background(), a2a.Task{ID: "t1"}, a2a.NewUserMessage(step.Text))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{mcp.ToolUpdateCustomer, mcp.ToolGetCustomerHistory}, invoker.tools)
}
