package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deskmesh/deskmesh/pkg/a2a"
	"github.com/deskmesh/deskmesh/pkg/taskstore"
)

// Server hosts one agent behind the JSON-RPC protocol.
type Server struct {
	handler  Handler
	registry *taskstore.Registry
	log      *slog.Logger

	httpServer *http.Server
}

// NewServer wires a handler and its task registry into an HTTP server.
func NewServer(handler Handler, registry *taskstore.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		handler:  handler,
		registry: registry,
		log:      log.With("agent", handler.Card().Name),
	}
}

// Routes returns the HTTP routing for the agent.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware(s.log))
	r.Use(corsMiddleware)

	r.Post("/", s.handleRPC)
	r.Post("/rpc", s.handleRPC)

	r.Get("/.well-known/agent-card.json", s.handleAgentCard)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/metrics", MetricsHandler().ServeHTTP)

	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("agent listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.handler.Card())
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	agent := s.handler.Card().Name

	var req a2a.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observeRPC(agent, "unknown", "parse_error", start)
		s.writeError(w, nil, a2a.CodeParseError, "failed to parse request body")
		return
	}

	if req.ProtocolVersion != a2a.ProtocolVersion {
		observeRPC(agent, req.Method, "invalid_request", start)
		s.writeError(w, req.ID, a2a.CodeInvalidRequest,
			fmt.Sprintf("unsupported protocol version %q", req.ProtocolVersion))
		return
	}

	// Each handler reports how the request actually ended, so an error
	// response never counts as "ok".
	var outcome string
	switch req.Method {
	case a2a.MethodMessageSend:
		outcome = s.handleMessageSend(w, r, &req)
	case a2a.MethodMessageSendStream:
		outcome = s.handleMessageSendStream(w, r, &req)
	case a2a.MethodTaskGet:
		outcome = s.handleTaskGet(w, &req)
	case a2a.MethodTaskCancel:
		outcome = s.handleTaskCancel(w, &req)
	default:
		observeRPC(agent, req.Method, "method_not_found", start)
		s.writeError(w, req.ID, a2a.CodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
		return
	}

	observeRPC(agent, req.Method, outcome, start)
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request, req *a2a.Request) string {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "invalid message/send params")
		return "invalid_params"
	}
	if len(params.Message.Parts) == 0 {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "message must contain at least one part")
		return "invalid_params"
	}

	task := s.registry.Create(params.Message)
	final := s.execute(r.Context(), task, params.Message)
	s.writeResult(w, req.ID, final)
	return "ok"
}

func (s *Server) handleMessageSendStream(w http.ResponseWriter, r *http.Request, req *a2a.Request) string {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "invalid message/send_stream params")
		return "invalid_params"
	}
	if len(params.Message.Parts) == 0 {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "message must contain at least one part")
		return "invalid_params"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, req.ID, a2a.CodeInternalError, "streaming unsupported")
		return "internal_error"
	}

	task := s.registry.Create(params.Message)

	events, unsubscribe, err := s.registry.Subscribe(task.ID)
	if err != nil {
		s.writeError(w, req.ID, a2a.CodeInternalError, "failed to subscribe to task")
		return "internal_error"
	}
	defer unsubscribe()

	// The producer keeps running even when the subscriber goes away early,
	// so its lifetime must not follow the request.
	go s.execute(context.WithoutCancel(r.Context()), task, params.Message)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return "ok"
		case snap, open := <-events:
			if !open {
				return "ok"
			}
			data, err := json.Marshal(a2a.Response{ID: req.ID, Result: snap})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: task\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleTaskGet(w http.ResponseWriter, req *a2a.Request) string {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "invalid task/get params")
		return "invalid_params"
	}

	task, err := s.registry.Get(params.ID)
	if err != nil {
		s.writeError(w, req.ID, a2a.CodeTaskNotFound, fmt.Sprintf("task %s not found", params.ID))
		return "task_not_found"
	}
	s.writeResult(w, req.ID, task)
	return "ok"
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, req *a2a.Request) string {
	var params a2a.TaskCancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		s.writeError(w, req.ID, a2a.CodeInvalidParams, "invalid task/cancel params")
		return "invalid_params"
	}

	task, err := s.registry.RequestCancel(params.ID, params.Reason)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			s.writeError(w, req.ID, a2a.CodeTaskNotFound, fmt.Sprintf("task %s not found", params.ID))
			return "task_not_found"
		}
		s.writeError(w, req.ID, a2a.CodeInternalError, "failed to cancel task")
		return "internal_error"
	}
	s.writeResult(w, req.ID, task)
	return "ok"
}

// execute runs the handler inside the task lifecycle and returns the
// terminal snapshot.
func (s *Server) execute(ctx context.Context, task a2a.Task, message a2a.Message) a2a.Task {
	agent := s.handler.Card().Name

	working, err := s.registry.Transition(task.ID, a2a.TaskStateWorking)
	if err != nil {
		// Canceled between creation and pickup.
		snap, getErr := s.registry.Get(task.ID)
		if getErr != nil {
			return task
		}
		return snap
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	_ = s.registry.BindCancel(task.ID, cancel)

	reply, handleErr := s.handler.Handle(handlerCtx, working, message)

	var final a2a.Task
	if handleErr != nil {
		final, err = s.registry.Fail(task.ID, toTaskError(handleErr))
	} else {
		final, err = s.registry.Complete(task.ID, *reply)
	}
	if err != nil {
		// The task reached a terminal state first, usually by cancellation.
		snap, getErr := s.registry.Get(task.ID)
		if getErr != nil {
			return task
		}
		final = snap
	}

	observeTask(agent, string(final.Status.State))
	s.log.Info("task finished",
		"task_id", final.ID,
		"state", final.Status.State)
	return final
}

// toTaskError normalizes handler failures to protocol task errors.
func toTaskError(err error) *a2a.TaskError {
	var taskErr *a2a.TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}
	return &a2a.TaskError{
		Code:    a2a.ErrCodeInternal,
		Message: err.Error(),
	}
}

func (s *Server) writeResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a2a.Response{ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a2a.Response{
		ID:    id,
		Error: &a2a.RPCError{Code: code, Message: message},
	})
}
