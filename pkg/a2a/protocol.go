// Package a2a implements the agent-to-agent protocol shared by every
// deskmesh agent process: the Message/Task data model, the task state
// machine, the RPC envelope, and the agent card used for discovery.
package a2a

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is echoed in every RPC request envelope.
const ProtocolVersion = "1.0"

// RPC method names exposed by every agent.
const (
	MethodMessageSend       = "message/send"
	MethodMessageSendStream = "message/send_stream"
	MethodTaskGet           = "task/get"
	MethodTaskCancel        = "task/cancel"
)

// ============================================================================
// MESSAGE - One turn of conversation content
// ============================================================================

// Role indicates whether a message is authored by the user or an agent.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single conversation turn exchanged between agents or between
// a client and an agent. Messages are immutable once constructed.
type Message struct {
	ID    string `json:"messageId"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// PartKind discriminates the content part union.
type PartKind string

const (
	PartKindText PartKind = "text"
)

// Part is a tagged content variant inside a message. Only the "text" kind is
// interpreted by this core; any other kind is carried opaquely and survives
// a decode/encode round-trip byte-for-byte.
type Part struct {
	Kind PartKind
	Text string

	// raw holds the original encoding of unrecognized part kinds.
	raw json.RawMessage
}

// NewTextPart returns a text content part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// IsOpaque reports whether this part is an unrecognized kind carried as-is.
func (p Part) IsOpaque() bool {
	return p.raw != nil
}

// Raw returns the original encoding of an opaque part, or nil for
// recognized kinds.
func (p Part) Raw() json.RawMessage {
	return p.raw
}

type textPartWire struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text"`
}

// MarshalJSON encodes text parts in wire form and replays opaque parts
// verbatim.
func (p Part) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	return json.Marshal(textPartWire{Kind: p.Kind, Text: p.Text})
}

// UnmarshalJSON decodes a part, preserving unknown kinds opaquely.
func (p *Part) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind PartKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	if head.Kind == PartKindText {
		var wire textPartWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return err
		}
		p.Kind = wire.Kind
		p.Text = wire.Text
		p.raw = nil
		return nil
	}

	p.Kind = head.Kind
	p.Text = ""
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// ============================================================================
// TASK - Unit of orchestrated work
// ============================================================================

// TaskState is a node in the task lifecycle state machine.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
)

// IsTerminal reports whether no further transitions may leave this state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// TaskStatus wraps a task's current state.
type TaskStatus struct {
	State  TaskState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// TaskError is a structured error carried by a failed task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface so handlers can return a TaskError
// directly and have its code surface on the task.
func (e *TaskError) Error() string {
	if e.Details != "" {
		return e.Code + ": " + e.Message + " (" + e.Details + ")"
	}
	return e.Code + ": " + e.Message
}

// Task error codes. Local validation and remote-call outcomes are kept
// distinct so the orchestrator can apply different degradation policies.
const (
	ErrCodeInvalidArguments     = "InvalidArguments"
	ErrCodeNotFound             = "NotFound"
	ErrCodeInvalidTransition    = "InvalidTransition"
	ErrCodeTimeout              = "Timeout"
	ErrCodeUnreachable          = "Unreachable"
	ErrCodeRemoteError          = "RemoteError"
	ErrCodeRemoteFailed         = "RemoteFailed"
	ErrCodeAllSpecialistsFailed = "AllSpecialistsFailed"
	ErrCodeInternal             = "InternalError"
)

// Task is the unit of orchestrated work. A Task is owned by exactly the
// agent process that created it; remote parties only ever see serialized
// snapshots.
type Task struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Input     Message    `json:"input"`
	History   []Message  `json:"history,omitempty"`
	Result    *Message   `json:"result,omitempty"`
	Error     *TaskError `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ============================================================================
// RPC ENVELOPE
// ============================================================================

// Request is the wire envelope for one RPC call. ID correlates request and
// response and is echoed verbatim.
type Request struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ID              any             `json:"id"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Response is the wire envelope for one RPC response. Exactly one of Result
// and Error is set.
type Response struct {
	ID     any       `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// RPCError is the structured error half of a response envelope.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// JSON-RPC style error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeTaskNotFound is the protocol-specific code for an unknown task ID.
	CodeTaskNotFound = -32001
)

// MessageSendParams is the params shape for message/send and
// message/send_stream.
type MessageSendParams struct {
	Message Message `json:"message"`
}

// TaskQueryParams is the params shape for task/get.
type TaskQueryParams struct {
	ID string `json:"id"`
}

// TaskCancelParams is the params shape for task/cancel.
type TaskCancelParams struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// ============================================================================
// AGENT CARD - Discovery & capability advertisement
// ============================================================================

// AgentCard is the static descriptor every agent serves for discovery. It is
// fetched once by orchestrating clients and is not on the runtime hot path.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	Skills             []AgentSkill      `json:"skills"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	Provider           *AgentProvider    `json:"provider,omitempty"`
	DocumentationURL   string            `json:"documentationUrl,omitempty"`
	PreferredTransport string            `json:"preferredTransport,omitempty"`
}

// AgentCapabilities describes protocol features the agent supports.
type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentProvider identifies the organization hosting the agent.
type AgentProvider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// AgentSkill describes one functional capability offered by an agent.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}
