package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmesh/deskmesh/pkg/a2a"
	"github.com/deskmesh/deskmesh/pkg/taskstore"
)

// echoHandler replies with a fixed transformation of the incoming text, or
// fails with the configured error.
type echoHandler struct {
	err error
}

func (h *echoHandler) Card() a2a.AgentCard {
	return a2a.AgentCard{
		Name:        "Echo Agent",
		Description: "Repeats what it hears.",
		Version:     "1.0.0",
	}
}

func (h *echoHandler) Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error) {
	if h.err != nil {
		return nil, h.err
	}
	reply := a2a.NewAgentMessage("echo: " + a2a.ExtractText(message))
	return &reply, nil
}

type rpcEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *a2a.RPCError   `json:"error"`
}

func newRPCServer(t *testing.T, handler Handler) (*httptest.Server, *taskstore.Registry) {
	t.Helper()
	registry := taskstore.New(nil)
	server := httptest.NewServer(NewServer(handler, registry, nil).Routes())
	t.Cleanup(server.Close)
	return server, registry
}

func postRPC(t *testing.T, url string, body []byte) rpcEnvelope {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope rpcEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func sendRequest(t *testing.T, url, method string, params any) rpcEnvelope {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(a2a.Request{
		ProtocolVersion: a2a.ProtocolVersion,
		ID:              "req-1",
		Method:          method,
		Params:          raw,
	})
	require.NoError(t, err)
	return postRPC(t, url, body)
}

func TestServer_MessageSend(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	envelope := sendRequest(t, server.URL, a2a.MethodMessageSend, a2a.MessageSendParams{
		Message: a2a.NewUserMessage("hello"),
	})
	require.Nil(t, envelope.Error)
	assert.JSONEq(t, `"req-1"`, string(envelope.ID))

	var task a2a.Task
	require.NoError(t, json.Unmarshal(envelope.Result, &task))
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	require.NotNil(t, task.Result)
	assert.Equal(t, "echo: hello", a2a.ExtractText(*task.Result))
	assert.Len(t, task.History, 2)
}

func TestServer_MessageSendHandlerFailure(t *testing.T) {
	handler := &echoHandler{err: &a2a.TaskError{Code: a2a.ErrCodeTimeout, Message: "too slow"}}
	server, _ := newRPCServer(t, handler)

	envelope := sendRequest(t, server.URL, a2a.MethodMessageSend, a2a.MessageSendParams{
		Message: a2a.NewUserMessage("hello"),
	})
	require.Nil(t, envelope.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(envelope.Result, &task))
	assert.Equal(t, a2a.TaskStateFailed, task.Status.State)
	require.NotNil(t, task.Error)
	assert.Equal(t, a2a.ErrCodeTimeout, task.Error.Code)
}

func TestServer_MessageSendUnclassifiedFailure(t *testing.T) {
	handler := &echoHandler{err: errors.New("boom")}
	server, _ := newRPCServer(t, handler)

	envelope := sendRequest(t, server.URL, a2a.MethodMessageSend, a2a.MessageSendParams{
		Message: a2a.NewUserMessage("hello"),
	})
	require.Nil(t, envelope.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(envelope.Result, &task))
	require.NotNil(t, task.Error)
	assert.Equal(t, a2a.ErrCodeInternal, task.Error.Code)
}

func TestServer_MessageSendEmptyParts(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	envelope := sendRequest(t, server.URL, a2a.MethodMessageSend, a2a.MessageSendParams{
		Message: a2a.Message{ID: "m1", Role: a2a.RoleUser},
	})
	require.NotNil(t, envelope.Error)
	assert.Equal(t, a2a.CodeInvalidParams, envelope.Error.Code)
}

func TestServer_TaskGet(t *testing.T) {
	server, registry := newRPCServer(t, &echoHandler{})

	created := registry.Create(a2a.NewUserMessage("pending"))
	envelope := sendRequest(t, server.URL, a2a.MethodTaskGet, a2a.TaskQueryParams{ID: created.ID})
	require.Nil(t, envelope.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(envelope.Result, &task))
	assert.Equal(t, created.ID, task.ID)
	assert.Equal(t, a2a.TaskStateSubmitted, task.Status.State)
}

func TestServer_TaskGetUnknown(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	envelope := sendRequest(t, server.URL, a2a.MethodTaskGet, a2a.TaskQueryParams{ID: "missing"})
	require.NotNil(t, envelope.Error)
	assert.Equal(t, a2a.CodeTaskNotFound, envelope.Error.Code)
}

func TestServer_TaskCancel(t *testing.T) {
	server, registry := newRPCServer(t, &echoHandler{})

	created := registry.Create(a2a.NewUserMessage("pending"))
	envelope := sendRequest(t, server.URL, a2a.MethodTaskCancel, a2a.TaskCancelParams{
		ID:     created.ID,
		Reason: "changed my mind",
	})
	require.Nil(t, envelope.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(envelope.Result, &task))
	assert.Equal(t, a2a.TaskStateCanceled, task.Status.State)
	assert.Equal(t, "changed my mind", task.Status.Reason)
}

func TestServer_TaskCancelUnknown(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	envelope := sendRequest(t, server.URL, a2a.MethodTaskCancel, a2a.TaskCancelParams{ID: "missing"})
	require.NotNil(t, envelope.Error)
	assert.Equal(t, a2a.CodeTaskNotFound, envelope.Error.Code)
}

func TestServer_RPCOutcomeMetrics(t *testing.T) {
	server, registry := newRPCServer(t, &echoHandler{})

	counter := func(outcome string) float64 {
		return testutil.ToFloat64(rpcRequestsTotal.WithLabelValues("Echo Agent", a2a.MethodTaskGet, outcome))
	}
	okBefore := counter("ok")
	notFoundBefore := counter("task_not_found")

	envelope := sendRequest(t, server.URL, a2a.MethodTaskGet, a2a.TaskQueryParams{ID: "missing"})
	require.NotNil(t, envelope.Error)

	assert.Equal(t, notFoundBefore+1, counter("task_not_found"))
	assert.Equal(t, okBefore, counter("ok"))

	created := registry.Create(a2a.NewUserMessage("pending"))
	envelope = sendRequest(t, server.URL, a2a.MethodTaskGet, a2a.TaskQueryParams{ID: created.ID})
	require.Nil(t, envelope.Error)

	assert.Equal(t, okBefore+1, counter("ok"))
}

func TestServer_UnknownMethod(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	envelope := sendRequest(t, server.URL, "task/purge", map[string]any{})
	require.NotNil(t, envelope.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, envelope.Error.Code)
	assert.JSONEq(t, `"req-1"`, string(envelope.ID))
}

func TestServer_ParseError(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	envelope := postRPC(t, server.URL, []byte("{not json"))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, a2a.CodeParseError, envelope.Error.Code)
}

func TestServer_ProtocolVersionMismatch(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	body, err := json.Marshal(map[string]any{
		"protocolVersion": "2.0",
		"id":              "req-1",
		"method":          a2a.MethodTaskGet,
		"params":          map[string]string{"id": "x"},
	})
	require.NoError(t, err)

	envelope := postRPC(t, server.URL, body)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, a2a.CodeInvalidRequest, envelope.Error.Code)
}

func TestServer_AgentCard(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	resp, err := http.Get(server.URL + "/.well-known/agent-card.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card a2a.AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "Echo Agent", card.Name)
}

func TestServer_Health(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MessageSendStream(t *testing.T) {
	server, _ := newRPCServer(t, &echoHandler{})

	raw, err := json.Marshal(a2a.MessageSendParams{Message: a2a.NewUserMessage("stream me")})
	require.NoError(t, err)
	body, err := json.Marshal(a2a.Request{
		ProtocolVersion: a2a.ProtocolVersion,
		ID:              "req-1",
		Method:          a2a.MethodMessageSendStream,
		Params:          raw,
	})
	require.NoError(t, err)

	resp, err := http.Post(server.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var states []a2a.TaskState
	var last a2a.Task
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var envelope struct {
			Result a2a.Task `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope))
		states = append(states, envelope.Result.Status.State)
		last = envelope.Result
	}

	require.NotEmpty(t, states)
	assert.Equal(t, a2a.TaskStateCompleted, states[len(states)-1])
	require.NotNil(t, last.Result)
	assert.Equal(t, "echo: stream me", a2a.ExtractText(*last.Result))
}
