// Package outbox runs detached forwarding tasks.
//
// An inbound handler persists its record, hands the follow-up message to
// the Dispatcher and returns. Each task runs under a bounded timeout with
// one trace span per attempt. Failed tasks stay registered under their
// request id and kind until retried, so stalled forwards can be inspected.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/tracing/otel"
)

// DefaultTimeout bounds a task attempt when no timeout is configured.
const DefaultTimeout = 30 * time.Second

var (
	// ErrClosed is returned for tasks submitted after Stop.
	ErrClosed = errors.New("outbox closed")

	// ErrNoTask is returned when retrying an unknown task.
	ErrNoTask = errors.New("no such task")

	// ErrNotFailed is returned when retrying a task that has not failed.
	ErrNotFailed = errors.New("task has not failed")
)

// TaskFunc is the work of one task attempt.
type TaskFunc func(ctx context.Context) error

// State is the phase of a task.
type State int32

// Task states.
const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Info is a snapshot of a task.
type Info struct {
	Key      string    `json:"key"`
	Kind     string    `json:"kind"`
	State    string    `json:"state"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	Updated  time.Time `json:"updated"`
}

// Task is the handle of one submitted task.
type Task struct {
	key  string
	kind string
	fn   TaskFunc
	done chan struct{}

	mu       sync.Mutex
	state    State
	attempts int
	err      error
	updated  time.Time
}

func newTask(key, kind string, fn TaskFunc, attempts int) *Task {
	return &Task{
		key:      key,
		kind:     kind,
		fn:       fn,
		done:     make(chan struct{}),
		attempts: attempts,
		updated:  time.Now(),
	}
}

// Key returns the request or session id the task forwards for.
func (t *Task) Key() string { return t.key }

// Kind returns the task kind.
func (t *Task) Kind() string { return t.kind }

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error of the last attempt.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Attempts returns the number of attempts started.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Info returns a snapshot of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{
		Key:      t.key,
		Kind:     t.kind,
		State:    t.state.String(),
		Attempts: t.attempts,
		Updated:  t.updated,
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

func (t *Task) begin() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateRunning
	t.attempts++
	t.updated = time.Now()
	return t.attempts
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.state = StateSucceeded
	if err != nil {
		t.state = StateFailed
	}
	t.updated = time.Now()
	t.mu.Unlock()
	close(t.done)
}

// Dispatcher runs and tracks tasks.
type Dispatcher struct {
	timeout time.Duration
	logger  *logging.Logger
	metrics metrics.Metrics
	tracer  *otel.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*Task
	inFlight int
	closed   bool
}

// New returns a Dispatcher whose task attempts are bounded by timeout.
func New(timeout time.Duration, logger *logging.Logger, m metrics.Metrics, tracer *otel.Tracer) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if tracer == nil {
		tracer = otel.NewNopTracer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		timeout: timeout,
		logger:  logger.WithComponent("outbox"),
		metrics: m,
		tracer:  tracer,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}
}

func taskID(key, kind string) string {
	return key + "/" + kind
}

// Go starts fn as a detached task. The newest task for a key and kind
// replaces the registered handle of any earlier one.
func (d *Dispatcher) Go(key, kind string, fn TaskFunc) *Task {
	return d.start(newTask(key, kind, fn, 0))
}

func (d *Dispatcher) start(t *Task) *Task {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		t.begin()
		t.finish(ErrClosed)
		d.metrics.IncForwardTasks(t.kind, "rejected")
		return t
	}
	d.tasks[taskID(t.key, t.kind)] = t
	d.inFlight++
	d.metrics.SetForwardTasksInFlight(d.inFlight)
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(t)
	return t
}

func (d *Dispatcher) run(t *Task) {
	defer d.wg.Done()

	attempt := t.begin()
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	ctx, span := d.tracer.StartTask(ctx, t.kind, t.key, attempt)

	start := time.Now()
	err := call(ctx, t.fn)
	elapsed := time.Since(start)
	cancel()
	otel.End(span, err)

	t.finish(err)

	result := "succeeded"
	if err != nil {
		result = "failed"
		d.logger.Warn("forwarding task failed",
			logging.RequestID(t.key),
			"kind", t.kind,
			logging.Attempt(attempt),
			logging.Duration(elapsed),
			logging.Error(err),
		)
	} else {
		d.logger.Debug("forwarding task succeeded",
			logging.RequestID(t.key),
			"kind", t.kind,
			logging.Duration(elapsed),
		)
	}
	d.metrics.IncForwardTasks(t.kind, result)
	d.metrics.ObserveForwardDuration(t.kind, elapsed)

	d.mu.Lock()
	d.inFlight--
	d.metrics.SetForwardTasksInFlight(d.inFlight)
	// Succeeded tasks are not kept; failed ones stay until retried.
	if err == nil && d.tasks[taskID(t.key, t.kind)] == t {
		delete(d.tasks, taskID(t.key, t.kind))
	}
	d.mu.Unlock()
}

// call runs fn, turning a panic into an error.
func call(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Task returns the registered task for key and kind.
func (d *Dispatcher) Task(key, kind string) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[taskID(key, kind)]
	return t, ok
}

// Tasks returns snapshots of all registered tasks ordered by key and kind.
func (d *Dispatcher) Tasks() []Info {
	d.mu.Lock()
	tasks := make([]*Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		tasks = append(tasks, t)
	}
	d.mu.Unlock()

	infos := make([]Info, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key != infos[j].Key {
			return infos[i].Key < infos[j].Key
		}
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// Failed returns snapshots of failed tasks.
func (d *Dispatcher) Failed() []Info {
	var failed []Info
	for _, info := range d.Tasks() {
		if info.State == StateFailed.String() {
			failed = append(failed, info)
		}
	}
	return failed
}

// Retry runs a failed task again and returns the new handle.
func (d *Dispatcher) Retry(key, kind string) (*Task, error) {
	t, ok := d.Task(key, kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTask, taskID(key, kind))
	}
	if t.State() != StateFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFailed, taskID(key, kind), t.State())
	}
	return d.start(newTask(key, kind, t.fn, t.Attempts())), nil
}

// Wait blocks until no task is running or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks and waits for running ones. If ctx ends first the
// remaining tasks are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	err := d.Wait(ctx)
	d.cancel()
	return err
}
