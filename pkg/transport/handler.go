// Package transport serves the agent-to-agent JSON-RPC protocol over HTTP:
// request dispatch, the task lifecycle around handler execution, SSE
// streaming of task snapshots, and the agent card endpoint.
package transport

import (
	"context"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// Handler is the behavior behind one agent. The transport owns task
// lifecycle; the handler only turns the incoming message into a reply.
type Handler interface {
	// Card describes the agent for discovery.
	Card() a2a.AgentCard

	// Handle processes a message in the context of its task. The task is a
	// snapshot; mutations go through the registry, not the copy. Returning
	// a *a2a.TaskError fails the task with that code; any other error
	// fails it as an internal error.
	Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error)
}

// HandlerFunc adapts a function to Handler with a fixed card.
type HandlerFunc struct {
	AgentCard a2a.AgentCard
	Fn        func(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error)
}

func (h HandlerFunc) Card() a2a.AgentCard {
	return h.AgentCard
}

func (h HandlerFunc) Handle(ctx context.Context, task a2a.Task, message a2a.Message) (*a2a.Message, error) {
	return h.Fn(ctx, task, message)
}
