package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s/%s did not finish", task.Key(), task.Kind())
	}
}

func TestDispatcher_Success(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	task := d.Go("r1", "send_state", func(ctx context.Context) error { return nil })
	waitDone(t, task)

	assert.Equal(t, StateSucceeded, task.State())
	assert.Equal(t, 1, task.Attempts())
	assert.NoError(t, task.Err())

	require.NoError(t, d.Wait(context.Background()))
	_, ok := d.Task("r1", "send_state")
	assert.False(t, ok, "succeeded tasks are not retained")
}

func TestDispatcher_FailureIsInspectable(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	task := d.Go("r1", "request_state", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	waitDone(t, task)
	require.NoError(t, d.Wait(context.Background()))

	got, ok := d.Task("r1", "request_state")
	require.True(t, ok)
	assert.Same(t, task, got)
	assert.Equal(t, StateFailed, got.State())

	failed := d.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "r1", failed[0].Key)
	assert.Equal(t, "request_state", failed[0].Kind)
	assert.Equal(t, "connection refused", failed[0].Error)
}

func TestDispatcher_Timeout(t *testing.T) {
	d := New(20*time.Millisecond, nil, nil, nil)

	task := d.Go("r1", "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	waitDone(t, task)
	assert.ErrorIs(t, task.Err(), context.DeadlineExceeded)
}

func TestDispatcher_Retry(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	var calls atomic.Int32
	fn := func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}

	first := d.Go("s1", "commence_response", fn)
	waitDone(t, first)
	require.Equal(t, StateFailed, first.State())

	second, err := d.Retry("s1", "commence_response")
	require.NoError(t, err)
	waitDone(t, second)
	require.NoError(t, d.Wait(context.Background()))

	assert.Equal(t, StateSucceeded, second.State())
	assert.Equal(t, 2, second.Attempts())
	assert.Empty(t, d.Failed())

	_, err = d.Retry("s1", "commence_response")
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestDispatcher_RetryRequiresFailed(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	release := make(chan struct{})
	task := d.Go("r1", "k", func(ctx context.Context) error {
		<-release
		return nil
	})

	_, err := d.Retry("r1", "k")
	assert.ErrorIs(t, err, ErrNotFailed)

	close(release)
	waitDone(t, task)
}

func TestDispatcher_Panic(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	task := d.Go("r1", "k", func(ctx context.Context) error { panic("boom") })
	waitDone(t, task)
	require.Error(t, task.Err())
	assert.Contains(t, task.Err().Error(), "boom")
}

func TestDispatcher_Stop(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	var ran atomic.Bool
	running := d.Go("r1", "k", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
		return nil
	})

	require.NoError(t, d.Stop(context.Background()))
	assert.True(t, ran.Load())
	assert.Equal(t, StateSucceeded, running.State())

	late := d.Go("r2", "k", func(ctx context.Context) error { return nil })
	waitDone(t, late)
	assert.ErrorIs(t, late.Err(), ErrClosed)
}

func TestDispatcher_Tasks(t *testing.T) {
	d := New(time.Second, nil, nil, nil)

	for _, key := range []string{"b", "a"} {
		waitDone(t, d.Go(key, "k", func(ctx context.Context) error { return errors.New("x") }))
	}

	infos := d.Tasks()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Key)
	assert.Equal(t, "failed", infos[0].State)
}
