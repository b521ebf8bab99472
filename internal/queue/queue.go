package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for ids that were never issued or whose result was already read.
	ErrNotFound = errors.New("queue result not found")
	// ErrTaskPanicked wraps a panic recovered from a task.
	ErrTaskPanicked = errors.New("queued task panicked")
)

// Op tags the kind of queued operation.
type Op uint8

const (
	OpUsernamePassword Op = iota + 1
	OpMFACode
	OpCookieRedeem
	OpNullTest
)

func (o Op) String() string {
	switch o {
	case OpUsernamePassword:
		return "username_password"
	case OpMFACode:
		return "mfa_code"
	case OpCookieRedeem:
		return "cookie_redeem"
	case OpNullTest:
		return "null_test"
	default:
		return "unknown"
	}
}

// Task is a queued unit of work.
type Task[R any] func(ctx context.Context) (R, error)

// Ticket identifies an enqueued item.
type Ticket struct {
	ID         uint64
	RequestID  string
	Op         Op
	EnqueuedAt time.Time
}

// Outcome is the stored result of an executed item.
type Outcome[R any] struct {
	Ticket
	Value      R
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// State is the lifecycle position of a correlation id.
type State uint8

const (
	StateNotFound State = iota
	StateQueued
	StateProcessing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	default:
		return "not_found"
	}
}

// Status is the answer to Poll. Ahead is only set for queued items; Outcome
// only for done items.
type Status[R any] struct {
	State   State
	Ahead   int
	Outcome *Outcome[R]
}

// Options configures a queue.
type Options[R any] struct {
	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
	// Observe is called after every execution, queued or inline.
	Observe func(Outcome[R])
}

type item[R any] struct {
	Ticket
	task Task[R]
	done chan struct{}
}

// Queue is a single-consumer FIFO of tasks producing R.
type Queue[R any] struct {
	mu      sync.Mutex
	exec    sync.Mutex
	nextID  uint64
	items   []*item[R]
	running map[uint64]*item[R]
	results map[uint64]*Outcome[R]
	signals map[uint64]chan struct{}

	now     func() time.Time
	observe func(Outcome[R])
}

// New creates an empty queue.
func New[R any](opts Options[R]) *Queue[R] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue[R]{
		running: make(map[uint64]*item[R]),
		results: make(map[uint64]*Outcome[R]),
		signals: make(map[uint64]chan struct{}),
		now:     now,
		observe: opts.Observe,
	}
}

// Enqueue appends a task and returns its ticket without executing it.
func (q *Queue[R]) Enqueue(op Op, task Task[R]) Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	it := &item[R]{
		Ticket: Ticket{
			ID:         q.nextID,
			RequestID:  uuid.NewString(),
			Op:         op,
			EnqueuedAt: q.now(),
		},
		task: task,
		done: make(chan struct{}),
	}
	q.items = append(q.items, it)
	q.signals[it.ID] = it.done
	return it.Ticket
}

// Len returns the number of items waiting to execute.
func (q *Queue[R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ProcessNext executes the oldest queued item and stores its outcome. It
// reports false when the queue was empty.
func (q *Queue[R]) ProcessNext(ctx context.Context) bool {
	q.exec.Lock()
	defer q.exec.Unlock()

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.running[it.ID] = it
	q.mu.Unlock()

	out := q.execute(ctx, it.Ticket, it.task)

	q.mu.Lock()
	delete(q.running, it.ID)
	q.results[it.ID] = &out
	q.mu.Unlock()
	close(it.done)

	if q.observe != nil {
		q.observe(out)
	}
	return true
}

// Do executes a task inline, serialized with queued items, and returns the
// outcome directly. The outcome carries no correlation id.
func (q *Queue[R]) Do(ctx context.Context, op Op, task Task[R]) Outcome[R] {
	q.exec.Lock()
	defer q.exec.Unlock()

	out := q.execute(ctx, Ticket{RequestID: uuid.NewString(), Op: op, EnqueuedAt: q.now()}, task)
	if q.observe != nil {
		q.observe(out)
	}
	return out
}

func (q *Queue[R]) execute(ctx context.Context, t Ticket, task Task[R]) (out Outcome[R]) {
	out.Ticket = t
	out.StartedAt = q.now()
	defer func() {
		if r := recover(); r != nil {
			var zero R
			out.Value = zero
			out.Err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
		out.FinishedAt = q.now()
	}()
	out.Value, out.Err = task(ctx)
	return out
}

// Poll reports the state of id. A done result is returned once and removed.
func (q *Queue[R]) Poll(id uint64) Status[R] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if out, ok := q.results[id]; ok {
		q.consume(id)
		return Status[R]{State: StateDone, Outcome: out}
	}
	if _, ok := q.running[id]; ok {
		return Status[R]{State: StateProcessing}
	}
	for i, it := range q.items {
		if it.ID == id {
			return Status[R]{State: StateQueued, Ahead: i}
		}
	}
	return Status[R]{State: StateNotFound}
}

func (q *Queue[R]) consume(id uint64) {
	delete(q.results, id)
	delete(q.signals, id)
}

// Wait blocks until id has an outcome or ctx ends, then consumes the outcome.
// Cancelling ctx does not cancel the queued item.
func (q *Queue[R]) Wait(ctx context.Context, id uint64) (Outcome[R], error) {
	q.mu.Lock()
	done, ok := q.signals[id]
	q.mu.Unlock()
	if !ok {
		return Outcome[R]{}, ErrNotFound
	}

	select {
	case <-done:
	case <-ctx.Done():
		return Outcome[R]{}, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	out, ok := q.results[id]
	if !ok {
		return Outcome[R]{}, ErrNotFound
	}
	q.consume(id)
	return *out, nil
}

// Run processes one item per tick until ctx ends or ticks is closed.
func (q *Queue[R]) Run(ctx context.Context, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			q.ProcessNext(ctx)
		}
	}
}
