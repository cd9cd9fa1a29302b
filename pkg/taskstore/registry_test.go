package taskstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmesh/deskmesh/pkg/a2a"
)

func newTestRegistry() *Registry {
	return New(nil)
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg := newTestRegistry()
	input := a2a.NewUserMessage("hello")

	task := reg.Create(input)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, a2a.TaskStateSubmitted, task.Status.State)
	require.Len(t, task.History, 1)
	assert.Equal(t, "hello", a2a.ExtractText(task.History[0]))

	got, err := reg.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Lifecycle(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	working, err := reg.Transition(task.ID, a2a.TaskStateWorking)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, working.Status.State)

	done, err := reg.Complete(task.ID, a2a.NewAgentMessage("done"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, done.Status.State)
	require.NotNil(t, done.Result)
	assert.Equal(t, "done", a2a.ExtractText(*done.Result))
	assert.Len(t, done.History, 2)
}

func TestRegistry_Fail(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	_, err := reg.Transition(task.ID, a2a.TaskStateWorking)
	require.NoError(t, err)

	failed, err := reg.Fail(task.ID, &a2a.TaskError{Code: a2a.ErrCodeTimeout, Message: "deadline exceeded"})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateFailed, failed.Status.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, a2a.ErrCodeTimeout, failed.Error.Code)
}

func TestRegistry_TerminalAbsorbs(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	_, err := reg.RequestCancel(task.ID, "user requested")
	require.NoError(t, err)

	_, err = reg.Complete(task.ID, a2a.NewAgentMessage("too late"))
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))

	got, err := reg.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, got.Status.State)
	assert.Nil(t, got.Result)
}

func TestRegistry_CancelIdempotent(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	done, err := reg.Complete(task.ID, a2a.NewAgentMessage("done"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, done.Status.State)

	snap, err := reg.RequestCancel(task.ID, "too late")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, snap.Status.State)
}

func TestRegistry_CancelInvokesBoundFunc(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, reg.BindCancel(task.ID, cancel))

	snap, err := reg.RequestCancel(task.ID, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, snap.Status.State)
	assert.Equal(t, "shutdown", snap.Status.Reason)

	select {
	case <-ctx.Done():
	default:
		t.Fatal("bound cancel func was not invoked")
	}
}

func TestRegistry_SubscribeDeliversSnapshots(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	ch, unsubscribe, err := reg.Subscribe(task.ID)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = reg.Transition(task.ID, a2a.TaskStateWorking)
	require.NoError(t, err)
	_, err = reg.Complete(task.ID, a2a.NewAgentMessage("done"))
	require.NoError(t, err)

	var states []a2a.TaskState
	for snap := range ch {
		states = append(states, snap.Status.State)
	}
	assert.Equal(t, []a2a.TaskState{a2a.TaskStateWorking, a2a.TaskStateCompleted}, states)
}

func TestRegistry_SubscribeTerminalTask(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	_, err := reg.Complete(task.ID, a2a.NewAgentMessage("done"))
	require.NoError(t, err)

	ch, unsubscribe, err := reg.Subscribe(task.ID)
	require.NoError(t, err)
	defer unsubscribe()

	snap, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateCompleted, snap.Status.State)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestRegistry_SubscribeUnknown(t *testing.T) {
	reg := newTestRegistry()

	_, _, err := reg.Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ConcurrentTransitions(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	_, err := reg.Transition(task.ID, a2a.TaskStateWorking)
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = reg.Complete(task.ID, a2a.NewAgentMessage("done"))
			} else {
				_, err = reg.Fail(task.ID, &a2a.TaskError{Code: a2a.ErrCodeInternal, Message: "boom"})
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.True(t, IsInvalidTransition(err))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	got, err := reg.Get(task.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.State.IsTerminal())
}

func TestRegistry_AppendHistory(t *testing.T) {
	reg := newTestRegistry()
	task := reg.Create(a2a.NewUserMessage("work"))

	require.NoError(t, reg.AppendHistory(task.ID, a2a.NewAgentMessage("interim")))

	got, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, "interim", a2a.ExtractText(got.History[1]))
}
