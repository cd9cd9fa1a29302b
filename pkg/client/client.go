// Package client implements the agent-to-agent HTTP client: JSON-RPC calls
// against other agents with failures classified by how they failed, so the
// router can tell an unreachable specialist from one that answered with an
// error.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// InvocationError reports a failed agent call with its classification.
type InvocationError struct {
	Endpoint string
	Code     string
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call to %s failed [%s]: %s: %v", e.Endpoint, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("call to %s failed [%s]: %s", e.Endpoint, e.Code, e.Message)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Code extracts the failure classification from an error, defaulting to
// RemoteError for errors this package did not produce.
func Code(err error) string {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Code
	}
	return a2a.ErrCodeRemoteError
}

// rpcResponse mirrors a2a.Response with the result kept raw for decoding
// into the caller's type.
type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *a2a.RPCError   `json:"error"`
}

// Config tunes the client.
type Config struct {
	// Timeout bounds each call end to end. Zero means 60s.
	Timeout time.Duration
}

// Client talks JSON-RPC to other agents.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// New creates an agent client.
func New(cfg *Config) *Client {
	timeout := 60 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Discover fetches an agent's card from its well-known location.
func (c *Client) Discover(ctx context.Context, agentURL string) (*a2a.AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(agentURL, "/")+"/.well-known/agent-card.json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(agentURL, "failed to fetch agent card", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  fmt.Sprintf("agent card request returned %s: %s", resp.Status, string(body)),
		}
	}

	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  "failed to decode agent card",
			Err:      err,
		}
	}
	return &card, nil
}

// SendMessage delivers a message to an agent and waits for the resulting
// terminal task. A task that ended in failure is returned alongside a
// RemoteFailed error so callers can inspect the failure detail.
func (c *Client) SendMessage(ctx context.Context, agentURL string, message a2a.Message) (*a2a.Task, error) {
	params, err := json.Marshal(a2a.MessageSendParams{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	resp, err := c.call(ctx, agentURL, a2a.MethodMessageSend, params)
	if err != nil {
		return nil, err
	}

	var task a2a.Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  "failed to decode task",
			Err:      err,
		}
	}

	if task.Status.State == a2a.TaskStateFailed || task.Status.State == a2a.TaskStateCanceled {
		detail := string(task.Status.State)
		if task.Error != nil {
			detail = task.Error.Message
		}
		return &task, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteFailed,
			Message:  fmt.Sprintf("remote task ended %s: %s", task.Status.State, detail),
		}
	}
	return &task, nil
}

// SendText is a convenience wrapper around SendMessage for plain text.
func (c *Client) SendText(ctx context.Context, agentURL, text string) (*a2a.Task, error) {
	return c.SendMessage(ctx, agentURL, a2a.NewUserMessage(text))
}

// GetTask fetches the current snapshot of a task.
func (c *Client) GetTask(ctx context.Context, agentURL, taskID string) (*a2a.Task, error) {
	params, err := json.Marshal(a2a.TaskQueryParams{ID: taskID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	resp, err := c.call(ctx, agentURL, a2a.MethodTaskGet, params)
	if err != nil {
		return nil, err
	}

	var task a2a.Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  "failed to decode task",
			Err:      err,
		}
	}
	return &task, nil
}

// CancelTask requests cancellation of a task.
func (c *Client) CancelTask(ctx context.Context, agentURL, taskID, reason string) (*a2a.Task, error) {
	params, err := json.Marshal(a2a.TaskCancelParams{ID: taskID, Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	resp, err := c.call(ctx, agentURL, a2a.MethodTaskCancel, params)
	if err != nil {
		return nil, err
	}

	var task a2a.Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  "failed to decode task",
			Err:      err,
		}
	}
	return &task, nil
}

// SendMessageStream delivers a message and streams task snapshots until the
// task reaches a terminal state. The returned channel closes when the
// stream ends.
func (c *Client) SendMessageStream(ctx context.Context, agentURL string, message a2a.Message) (<-chan a2a.Task, error) {
	params, err := json.Marshal(a2a.MessageSendParams{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	body, err := json.Marshal(a2a.Request{
		ProtocolVersion: a2a.ProtocolVersion,
		ID:              newRequestID(),
		Method:          a2a.MethodMessageSendStream,
		Params:          params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// The client-level timeout would sever long-lived streams.
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(agentURL, "failed to open stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  fmt.Sprintf("stream request returned %s: %s", resp.Status, string(data)),
		}
	}

	events := make(chan a2a.Task, 10)
	go c.readStream(resp, events)
	return events, nil
}

func (c *Client) readStream(resp *http.Response, events chan<- a2a.Task) {
	defer close(events)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var envelope rpcResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope); err != nil {
			continue
		}
		if envelope.Error != nil {
			return
		}

		var task a2a.Task
		if err := json.Unmarshal(envelope.Result, &task); err != nil {
			continue
		}
		events <- task

		if task.Status.State.IsTerminal() {
			return
		}
	}
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, agentURL, method string, params json.RawMessage) (*rpcResponse, error) {
	body, err := json.Marshal(a2a.Request{
		ProtocolVersion: a2a.ProtocolVersion,
		ID:              newRequestID(),
		Method:          method,
		Params:          params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(agentURL, fmt.Sprintf("%s call failed", method), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeUnreachable,
			Message:  "failed to read response",
			Err:      err,
		}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  fmt.Sprintf("malformed response (HTTP %d)", resp.StatusCode),
			Err:      err,
		}
	}
	if envelope.Error != nil {
		return nil, &InvocationError{
			Endpoint: agentURL,
			Code:     a2a.ErrCodeRemoteError,
			Message:  envelope.Error.Message,
			Err:      envelope.Error,
		}
	}
	return &envelope, nil
}

// classifyTransport maps a transport-level failure to Timeout or
// Unreachable.
func (c *Client) classifyTransport(endpoint, message string, err error) *InvocationError {
	code := a2a.ErrCodeUnreachable

	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = a2a.ErrCodeTimeout
	case errors.As(err, &urlErr) && urlErr.Timeout():
		code = a2a.ErrCodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		code = a2a.ErrCodeTimeout
	}

	return &InvocationError{
		Endpoint: endpoint,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

func newRequestID() string {
	return uuid.NewString()
}
