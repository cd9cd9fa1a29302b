// Package mcp provides the tool gateway used by the data agent: a typed
// catalog of the customer tools, local argument validation, and an HTTP
// client that invokes tools on the tool server with retry semantics that
// depend on whether the tool mutates state.
package mcp

import (
	"fmt"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// Tool names exposed by the tool server.
const (
	ToolGetCustomer        = "get_customer"
	ToolListCustomers      = "list_customers"
	ToolUpdateCustomer     = "update_customer"
	ToolCreateTicket       = "create_ticket"
	ToolGetCustomerHistory = "get_customer_history"
)

// ArgSpec describes one tool argument for local validation.
type ArgSpec struct {
	Name     string
	Type     string // "integer", "string", "object"
	Required bool
}

// ToolSpec describes a tool's calling convention.
type ToolSpec struct {
	Name        string
	Description string
	Args        []ArgSpec

	// Mutating tools are invoked at most once. Read-only tools may be
	// retried on transient transport failures.
	Mutating bool
}

// Catalog is the fixed set of tools the gateway knows how to call,
// mirroring the definitions the tool server publishes on /tools/list.
var Catalog = map[string]ToolSpec{
	ToolGetCustomer: {
		Name:        ToolGetCustomer,
		Description: "Retrieve a single customer using its ID.",
		Args: []ArgSpec{
			{Name: "customer_id", Type: "integer", Required: true},
		},
	},
	ToolListCustomers: {
		Name:        ToolListCustomers,
		Description: "Return a list of customers, optionally filtered by status.",
		Args: []ArgSpec{
			{Name: "status", Type: "string"},
			{Name: "limit", Type: "integer"},
		},
	},
	ToolUpdateCustomer: {
		Name:        ToolUpdateCustomer,
		Description: "Modify customer fields such as name, email, or status.",
		Args: []ArgSpec{
			{Name: "customer_id", Type: "integer", Required: true},
			{Name: "data", Type: "object", Required: true},
		},
		Mutating: true,
	},
	ToolCreateTicket: {
		Name:        ToolCreateTicket,
		Description: "Open a new support ticket for a customer.",
		Args: []ArgSpec{
			{Name: "customer_id", Type: "integer", Required: true},
			{Name: "issue", Type: "string", Required: true},
			{Name: "priority", Type: "string", Required: true},
		},
		Mutating: true,
	},
	ToolGetCustomerHistory: {
		Name:        ToolGetCustomerHistory,
		Description: "Retrieve the interaction history for a customer.",
		Args: []ArgSpec{
			{Name: "customer_id", Type: "integer", Required: true},
		},
	},
}

// ValidateArgs checks tool arguments against the catalog before any network
// call is made. A failure here never reaches the tool server.
func ValidateArgs(name string, args map[string]any) error {
	spec, ok := Catalog[name]
	if !ok {
		return &ToolError{
			Tool:    name,
			Code:    a2a.ErrCodeNotFound,
			Message: fmt.Sprintf("unknown tool: %s", name),
		}
	}

	for _, arg := range spec.Args {
		val, present := args[arg.Name]
		if !present {
			if arg.Required {
				return &ToolError{
					Tool:    name,
					Code:    a2a.ErrCodeInvalidArguments,
					Message: fmt.Sprintf("missing required argument %q", arg.Name),
				}
			}
			continue
		}
		if !typeMatches(arg.Type, val) {
			return &ToolError{
				Tool:    name,
				Code:    a2a.ErrCodeInvalidArguments,
				Message: fmt.Sprintf("argument %q must be of type %s", arg.Name, arg.Type),
			}
		}
	}

	for key := range args {
		if !spec.hasArg(key) {
			return &ToolError{
				Tool:    name,
				Code:    a2a.ErrCodeInvalidArguments,
				Message: fmt.Sprintf("unexpected argument %q", key),
			}
		}
	}

	return nil
}

func (s ToolSpec) hasArg(name string) bool {
	for _, arg := range s.Args {
		if arg.Name == name {
			return true
		}
	}
	return false
}

func typeMatches(declared string, val any) bool {
	switch declared {
	case "integer":
		switch v := val.(type) {
		case int, int32, int64:
			return true
		case float64:
			// JSON decoding yields float64 for all numbers.
			return v == float64(int64(v))
		default:
			return false
		}
	case "string":
		_, ok := val.(string)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return false
	}
}

// ToolError reports a failed tool invocation with the gateway's
// classification of the failure.
type ToolError struct {
	Tool    string
	Code    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s: %s [%s]: %v", e.Tool, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("tool %s: %s [%s]", e.Tool, e.Message, e.Code)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
