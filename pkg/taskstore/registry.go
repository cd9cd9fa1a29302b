// Package taskstore provides the per-agent in-memory task registry: task
// creation, state-machine enforcement, cancellation, and snapshot
// subscriptions for streaming delivery.
//
// Each agent process owns exactly one Registry instance, passed into its RPC
// handler construction. Tasks are retained for the process lifetime;
// TTL-based eviction is left to production deployments.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

// ErrNotFound is returned when a task ID is unknown to this registry.
var ErrNotFound = errors.New("task not found")

// TransitionError reports a task state-machine violation. It indicates a
// protocol bug and is surfaced, never swallowed.
type TransitionError struct {
	TaskID string
	From   a2a.TaskState
	To     a2a.TaskState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// IsInvalidTransition reports whether err is a state-machine violation.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// validNext enumerates the reachable states from each non-terminal state.
var validNext = map[a2a.TaskState][]a2a.TaskState{
	a2a.TaskStateSubmitted: {a2a.TaskStateWorking, a2a.TaskStateCompleted, a2a.TaskStateFailed, a2a.TaskStateCanceled},
	a2a.TaskStateWorking:   {a2a.TaskStateCompleted, a2a.TaskStateFailed, a2a.TaskStateCanceled},
}

func canTransition(from, to a2a.TaskState) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// subscriberBuffer bounds each snapshot channel. The publisher never blocks:
// when a subscriber lags, the oldest buffered snapshot is dropped so the
// newest (and in particular the terminal) snapshot always gets through.
const subscriberBuffer = 16

type entry struct {
	mu     sync.Mutex
	task   a2a.Task
	cancel context.CancelFunc
	subs   map[int]chan a2a.Task
	nextID int
}

// Registry is a per-process mapping from task ID to Task. All read-modify-
// write sequences on a single task are serialized on that task's entry;
// operations on different task IDs do not block each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Create registers a new task in the submitted state and returns a snapshot.
func (r *Registry) Create(input a2a.Message) a2a.Task {
	now := time.Now()
	task := a2a.Task{
		ID:        uuid.NewString(),
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted},
		Input:     input,
		History:   []a2a.Message{input},
		CreatedAt: now,
		UpdatedAt: now,
	}

	e := &entry{
		task: task,
		subs: make(map[int]chan a2a.Task),
	}

	r.mu.Lock()
	r.entries[task.ID] = e
	r.mu.Unlock()

	r.log.Debug("task created", "taskID", task.ID)
	return snapshot(&task)
}

// BindCancel associates a cancel function with a task so that a later
// task/cancel request can interrupt the running handler.
func (r *Registry) BindCancel(id string, cancel context.CancelFunc) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("bind cancel: %w", ErrNotFound)
	}

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	return nil
}

// Get returns a snapshot of the task, or ErrNotFound.
func (r *Registry) Get(id string) (a2a.Task, error) {
	e, ok := r.lookup(id)
	if !ok {
		return a2a.Task{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(&e.task), nil
}

// Transition moves a task to a new non-payload state (typically working).
// Returns a TransitionError if the target is unreachable from the current
// state.
func (r *Registry) Transition(id string, state a2a.TaskState) (a2a.Task, error) {
	return r.apply(id, state, func(t *a2a.Task) {})
}

// Complete moves a task to completed, recording the result message and
// appending it to the history.
func (r *Registry) Complete(id string, result a2a.Message) (a2a.Task, error) {
	return r.apply(id, a2a.TaskStateCompleted, func(t *a2a.Task) {
		t.Result = &result
		t.History = append(t.History, result)
	})
}

// Fail moves a task to failed, recording the structured error.
func (r *Registry) Fail(id string, taskErr *a2a.TaskError) (a2a.Task, error) {
	return r.apply(id, a2a.TaskStateFailed, func(t *a2a.Task) {
		t.Error = taskErr
	})
}

// AppendHistory appends a message to the task history without changing
// state. Used for intermediate context accrued during processing.
func (r *Registry) AppendHistory(id string, msg a2a.Message) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	e.task.History = append(e.task.History, msg)
	e.task.UpdatedAt = time.Now()
	snap := snapshot(&e.task)
	e.publishLocked(snap)
	e.mu.Unlock()
	return nil
}

// RequestCancel requests cancellation of a task. Canceling a task that is
// already terminal is an idempotent no-op: the unchanged terminal snapshot
// is returned, never an error. A non-terminal task transitions to canceled
// and its bound cancel function, if any, is invoked.
func (r *Registry) RequestCancel(id, reason string) (a2a.Task, error) {
	e, ok := r.lookup(id)
	if !ok {
		return a2a.Task{}, ErrNotFound
	}

	e.mu.Lock()
	if e.task.Status.State.IsTerminal() {
		snap := snapshot(&e.task)
		e.mu.Unlock()
		return snap, nil
	}

	e.task.Status = a2a.TaskStatus{State: a2a.TaskStateCanceled, Reason: reason}
	e.task.UpdatedAt = time.Now()
	cancel := e.cancel
	snap := snapshot(&e.task)
	e.publishLocked(snap)
	e.closeSubsLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	r.log.Debug("task canceled", "taskID", id, "reason", reason)
	return snap, nil
}

// Subscribe returns a channel of task snapshots published on every mutation
// of the task, and an unsubscribe function. The channel is closed after the
// terminal snapshot is delivered, or when the subscriber departs early.
// Subscribing to an already-terminal task yields the terminal snapshot and
// an immediately closed channel.
func (r *Registry) Subscribe(id string) (<-chan a2a.Task, func(), error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan a2a.Task, subscriberBuffer)

	e.mu.Lock()
	if e.task.Status.State.IsTerminal() {
		ch <- snapshot(&e.task)
		close(ch)
		e.mu.Unlock()
		return ch, func() {}, nil
	}

	subID := e.nextID
	e.nextID++
	e.subs[subID] = ch
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		if sub, still := e.subs[subID]; still {
			delete(e.subs, subID)
			close(sub)
		}
		e.mu.Unlock()
	}

	return ch, unsubscribe, nil
}

// apply performs a validated state transition plus a payload mutation under
// the task's entry lock.
func (r *Registry) apply(id string, state a2a.TaskState, mutate func(*a2a.Task)) (a2a.Task, error) {
	e, ok := r.lookup(id)
	if !ok {
		return a2a.Task{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.task.Status.State
	if !canTransition(from, state) {
		return snapshot(&e.task), &TransitionError{TaskID: id, From: from, To: state}
	}

	e.task.Status = a2a.TaskStatus{State: state}
	mutate(&e.task)
	e.task.UpdatedAt = time.Now()

	snap := snapshot(&e.task)
	e.publishLocked(snap)
	if state.IsTerminal() {
		e.closeSubsLocked()
	}
	return snap, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	return e, ok
}

// publishLocked delivers a snapshot to every subscriber without blocking.
// Caller holds e.mu.
func (e *entry) publishLocked(snap a2a.Task) {
	for _, ch := range e.subs {
		for {
			select {
			case ch <- snap:
			default:
				// Buffer full: drop the oldest snapshot to make room so
				// the newest one is never lost.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// closeSubsLocked closes and removes all subscriber channels. Caller holds
// e.mu.
func (e *entry) closeSubsLocked() {
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}

// snapshot returns a copy of the task safe to hand outside the lock.
func snapshot(t *a2a.Task) a2a.Task {
	out := *t
	if t.History != nil {
		out.History = append([]a2a.Message(nil), t.History...)
	}
	if t.Result != nil {
		res := *t.Result
		out.Result = &res
	}
	if t.Error != nil {
		terr := *t.Error
		out.Error = &terr
	}
	return out
}
