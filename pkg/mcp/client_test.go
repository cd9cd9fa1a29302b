package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0.1,
	}
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantCode string
	}{
		{
			name: "valid",
			tool: ToolGetCustomer,
			args: map[string]any{"customer_id": 5},
		},
		{
			name: "json numbers accepted as integers",
			tool: ToolGetCustomer,
			args: map[string]any{"customer_id": float64(5)},
		},
		{
			name:     "fractional number rejected as integer",
			tool:     ToolGetCustomer,
			args:     map[string]any{"customer_id": 5.5},
			wantCode: "InvalidArguments",
		},
		{
			name:     "missing required argument",
			tool:     ToolCreateTicket,
			args:     map[string]any{"customer_id": 1, "issue": "login"},
			wantCode: "InvalidArguments",
		},
		{
			name:     "wrong type",
			tool:     ToolGetCustomer,
			args:     map[string]any{"customer_id": "five"},
			wantCode: "InvalidArguments",
		},
		{
			name:     "unexpected argument",
			tool:     ToolGetCustomer,
			args:     map[string]any{"customer_id": 5, "verbose": true},
			wantCode: "InvalidArguments",
		},
		{
			name: "optional argument may be absent",
			tool: ToolListCustomers,
			args: map[string]any{},
		},
		{
			name:     "unknown tool",
			tool:     "delete_everything",
			args:     map[string]any{},
			wantCode: "NotFound",
		},
		{
			name: "object argument",
			tool: ToolUpdateCustomer,
			args: map[string]any{"customer_id": 1, "data": map[string]any{"email": "a@b.com"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(tt.tool, tt.args)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, tt.wantCode, toolErr.Code)
		})
	}
}

func TestGatewayClient_ReadOnlyRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"id": 5, "name": "Ana Customer"},
		})
	}))
	defer server.Close()

	gw := NewGatewayClient(server.URL, WithRetryConfig(fastRetry()))
	result, err := gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": 5})
	require.NoError(t, err)
	assert.Contains(t, string(result), "Ana Customer")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGatewayClient_ReadOnlyRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 2
	gw := NewGatewayClient(server.URL, WithRetryConfig(cfg))

	_, err := gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": 5})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RemoteError", toolErr.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGatewayClient_MutatingNeverRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gw := NewGatewayClient(server.URL, WithRetryConfig(fastRetry()))
	_, err := gw.Invoke(context.Background(), ToolUpdateCustomer, map[string]any{
		"customer_id": 1,
		"data":        map[string]any{"email": "a@b.com"},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatewayClient_ValidationNeverHitsServer(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	gw := NewGatewayClient(server.URL)
	_, err := gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": "five"})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "InvalidArguments", toolErr.Code)
	assert.Equal(t, int32(0), calls.Load())
}

func TestGatewayClient_NotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Customer does not exist"})
	}))
	defer server.Close()

	gw := NewGatewayClient(server.URL, WithRetryConfig(fastRetry()))
	_, err := gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": 999})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "NotFound", toolErr.Code)
	assert.Equal(t, "Customer does not exist", toolErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatewayClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 1
	gw := NewGatewayClient(server.URL, WithRetryConfig(cfg))

	_, err := gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": 1})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "Unreachable", toolErr.Code)
}

func TestGatewayClient_AuditEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"id": 1}})
	}))
	defer server.Close()

	sink := NewChannelSink(8, nil)
	gw := NewGatewayClient(server.URL, WithAuditSink(sink))

	_, err := gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": 1})
	require.NoError(t, err)
	_, err = gw.Invoke(context.Background(), ToolGetCustomer, map[string]any{"customer_id": "x"})
	require.Error(t, err)

	ok := <-sink.Events()
	assert.Equal(t, ToolGetCustomer, ok.Tool)
	assert.Equal(t, "ok", ok.Outcome)
	assert.Equal(t, "customer_id=1", ok.Args)
	assert.Empty(t, ok.Summary)
	assert.False(t, ok.Timestamp.IsZero())

	failed := <-sink.Events()
	assert.Equal(t, "InvalidArguments", failed.Outcome)
	assert.Equal(t, "customer_id=x", failed.Args)
	assert.Contains(t, failed.Summary, "customer_id")
}

func TestSummarizeArgs(t *testing.T) {
	assert.Empty(t, summarizeArgs(nil))
	assert.Equal(t, "customer_id=2, status=vip",
		summarizeArgs(map[string]any{"status": "vip", "customer_id": 2}))
}

func TestGatewayClient_ListTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tools/list", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": []map[string]string{{"name": "get_customer", "description": "Fetch one customer"}},
		})
	}))
	defer server.Close()

	gw := NewGatewayClient(server.URL)
	raw, err := gw.ListTools(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "get_customer")
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1, nil)
	sink.Emit(AuditEvent{Tool: "first"})
	sink.Emit(AuditEvent{Tool: "dropped"})

	event := <-sink.Events()
	assert.Equal(t, "first", event.Tool)

	select {
	case extra := <-sink.Events():
		t.Fatalf("unexpected buffered event: %s", extra.Tool)
	default:
	}
}

func TestRetryer_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRetryer(fastRetry(), nil)
	err := r.do(ctx, "op", func() error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("dial tcp: connection refused")))
	assert.True(t, isRetryable(&ToolError{Code: "RemoteError", Message: "tool server returned 503"}))
	assert.False(t, isRetryable(&ToolError{Code: "InvalidArguments", Message: "bad args"}))
	assert.False(t, isRetryable(&ToolError{Code: "NotFound", Message: "missing"}))
	assert.False(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(errors.New("some permanent failure")))
}
