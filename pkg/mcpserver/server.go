package mcpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deskmesh/deskmesh/pkg/mcp"
)

// toolDef is one entry of the /tools/list response.
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Server exposes the customer store as named tools over HTTP and streams
// audit events to SSE subscribers.
type Server struct {
	store  *Store
	events chan map[string]any
	log    *slog.Logger
}

// NewServer builds a tool server around the given store.
func NewServer(store *Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:  store,
		events: make(chan map[string]any, 256),
		log:    log,
	}
}

// Handler returns the HTTP routing for the tool server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/tools/list", s.handleListTools)
	r.Post("/tools/call", s.handleCallTool)
	r.Get("/events/stream", s.handleEventStream)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := make([]toolDef, 0, len(mcp.Catalog))
	for _, name := range []string{
		mcp.ToolGetCustomer,
		mcp.ToolListCustomers,
		mcp.ToolUpdateCustomer,
		mcp.ToolCreateTicket,
		mcp.ToolGetCustomerHistory,
	} {
		spec := mcp.Catalog[name]
		tools = append(tools, toolDef{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schemaFor(spec),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func schemaFor(spec mcp.ToolSpec) map[string]any {
	properties := map[string]any{}
	required := []string{}
	for _, arg := range spec.Args {
		properties[arg.Name] = map[string]any{"type": arg.Type}
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type toolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	s.log.Debug("tool call", "tool", req.Name)

	switch req.Name {
	case mcp.ToolGetCustomer:
		id, ok := intArg(args, "customer_id")
		if !ok {
			writeError(w, http.StatusBadRequest, "customer_id is required")
			return
		}
		customer, err := s.store.GetCustomer(ctx, id)
		if err == ErrCustomerNotFound {
			writeError(w, http.StatusNotFound, "Customer does not exist")
			return
		}
		if err != nil {
			s.internalError(w, req.Name, err)
			return
		}
		s.publish(map[string]any{"type": "audit", "tool": req.Name, "customer_id": customer.ID})
		writeJSON(w, http.StatusOK, map[string]any{"result": customer})

	case mcp.ToolListCustomers:
		status, _ := args["status"].(string)
		limit := 20
		if l, ok := intArg(args, "limit"); ok {
			limit = int(l)
		}
		customers, err := s.store.ListCustomers(ctx, status, limit)
		if err != nil {
			s.internalError(w, req.Name, err)
			return
		}
		s.publish(map[string]any{"type": "audit", "tool": req.Name, "count": len(customers)})
		writeJSON(w, http.StatusOK, map[string]any{"result": customers})

	case mcp.ToolUpdateCustomer:
		id, ok := intArg(args, "customer_id")
		if !ok {
			writeError(w, http.StatusBadRequest, "customer_id is required")
			return
		}
		patch, _ := args["data"].(map[string]any)
		updated, err := s.store.UpdateCustomer(ctx, id, patch)
		if err == ErrCustomerNotFound {
			writeError(w, http.StatusNotFound, "Customer not found for update")
			return
		}
		if err != nil {
			s.internalError(w, req.Name, err)
			return
		}
		s.publish(map[string]any{"type": "update", "tool": req.Name, "customer_id": updated.ID})
		writeJSON(w, http.StatusOK, map[string]any{"result": updated})

	case mcp.ToolCreateTicket:
		id, ok := intArg(args, "customer_id")
		if !ok {
			writeError(w, http.StatusBadRequest, "customer_id is required")
			return
		}
		issue, _ := args["issue"].(string)
		priority, _ := args["priority"].(string)
		if issue == "" || priority == "" {
			writeError(w, http.StatusBadRequest, "issue and priority are required")
			return
		}
		ticket, err := s.store.CreateTicket(ctx, id, issue, priority)
		if err != nil {
			s.internalError(w, req.Name, err)
			return
		}
		s.publish(map[string]any{"type": "ticket", "tool": req.Name, "ticket_id": ticket.ID})
		writeJSON(w, http.StatusOK, map[string]any{"result": ticket})

	case mcp.ToolGetCustomerHistory:
		id, ok := intArg(args, "customer_id")
		if !ok {
			writeError(w, http.StatusBadRequest, "customer_id is required")
			return
		}
		history, err := s.store.History(ctx, id)
		if err != nil {
			s.internalError(w, req.Name, err)
			return
		}
		s.publish(map[string]any{"type": "history", "tool": req.Name, "count": len(history)})
		writeJSON(w, http.StatusOK, map[string]any{"result": history})

	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown tool: %s", req.Name))
	}
}

// handleEventStream pushes queued audit events to the client as SSE.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-s.events:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// publish queues an event for SSE delivery, dropping it when no consumer
// keeps up. Tool calls never block on the audit stream.
func (s *Server) publish(event map[string]any) {
	event["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	select {
	case s.events <- event:
	default:
		s.log.Debug("event queue full, dropping", "type", event["type"])
	}
}

func (s *Server) internalError(w http.ResponseWriter, tool string, err error) {
	s.log.Error("tool execution failed", "tool", tool, "error", err)
	writeError(w, http.StatusInternalServerError, "tool execution failed")
}

func intArg(args map[string]any, name string) (int64, bool) {
	switch v := args[name].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
