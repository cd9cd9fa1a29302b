package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// Invoker is the surface agents depend on to call tools.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// GatewayClient calls tools on the tool server over HTTP. Arguments are
// validated locally against the catalog before anything goes on the wire.
// Read-only tools are retried on transient failures with exponential
// backoff; mutating tools are sent at most once.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	retryer *retryer
	audit   AuditSink
	log     *slog.Logger
}

// GatewayOption configures a GatewayClient.
type GatewayOption func(*GatewayClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GatewayClient) { g.client = c }
}

// WithRetryConfig overrides the read-only retry tuning.
func WithRetryConfig(cfg RetryConfig) GatewayOption {
	return func(g *GatewayClient) { g.retryer = newRetryer(cfg, g.log) }
}

// WithAuditSink installs an audit sink for invocation events.
func WithAuditSink(sink AuditSink) GatewayOption {
	return func(g *GatewayClient) { g.audit = sink }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) GatewayOption {
	return func(g *GatewayClient) { g.log = log }
}

// NewGatewayClient creates a gateway client for the given tool server URL.
func NewGatewayClient(baseURL string, opts ...GatewayOption) *GatewayClient {
	g := &GatewayClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		audit:   NopSink{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retryer == nil {
		g.retryer = newRetryer(DefaultRetryConfig(), g.log)
	}
	return g
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callResponse struct {
	Result json.RawMessage `json:"result"`
}

// Invoke validates and executes one tool call, returning the raw result
// payload. Every invocation, successful or not, emits an audit event.
func (g *GatewayClient) Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if err := ValidateArgs(name, args); err != nil {
		g.emit(name, args, err)
		return nil, err
	}

	spec := Catalog[name]

	var result json.RawMessage
	call := func() error {
		var err error
		result, err = g.post(ctx, name, args)
		return err
	}

	var err error
	if spec.Mutating {
		// At most once. A mutating call that failed in flight may or may
		// not have taken effect, so it is never replayed.
		err = call()
	} else {
		err = g.retryer.do(ctx, name, call)
	}

	g.emit(name, args, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *GatewayClient) post(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(callRequest{Name: name, Arguments: args})
	if err != nil {
		return nil, &ToolError{Tool: name, Code: a2a.ErrCodeInternal, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, &ToolError{Tool: name, Code: a2a.ErrCodeInternal, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &ToolError{Tool: name, Code: a2a.ErrCodeTimeout, Message: "tool call timed out", Err: err}
		}
		return nil, &ToolError{Tool: name, Code: a2a.ErrCodeUnreachable, Message: "tool server unreachable", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ToolError{Tool: name, Code: a2a.ErrCodeUnreachable, Message: "failed to read response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ToolError{Tool: name, Code: a2a.ErrCodeNotFound, Message: errorDetail(data)}
	case resp.StatusCode >= 400:
		return nil, &ToolError{
			Tool:    name,
			Code:    a2a.ErrCodeRemoteError,
			Message: fmt.Sprintf("tool server returned %d: %s", resp.StatusCode, errorDetail(data)),
		}
	}

	var parsed callResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &ToolError{Tool: name, Code: a2a.ErrCodeRemoteError, Message: "malformed tool response", Err: err}
	}
	return parsed.Result, nil
}

// ListTools fetches the tool definitions the server publishes.
func (g *GatewayClient) ListTools(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/tools/list", nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (g *GatewayClient) emit(name string, args map[string]any, err error) {
	event := AuditEvent{
		Tool:      name,
		Outcome:   "ok",
		Args:      summarizeArgs(args),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		event.Outcome = a2a.ErrCodeInternal
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			event.Outcome = toolErr.Code
		}
		event.Summary = err.Error()
	}
	g.audit.Emit(event)
}

// summarizeArgs renders the arguments as sorted "key=value" pairs so that
// audit consumers see what was requested without replaying the call.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(pairs, ", ")
}

func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(body)
}
