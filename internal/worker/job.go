package worker

import (
	"context"
	"fmt"
	"sync/atomic"
)

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

// Job is what travels from the dispatcher to a worker channel.
type Job struct {
	Type JobType
	Key  string
	task *task
}

const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	ctx   context.Context
	fn    func(context.Context) error
	done  chan error
	state atomic.Int32
}

func newTask(ctx context.Context, fn func(context.Context) error) *task {
	return &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
}

// claim moves a queued task to running; it fails once the caller gave up.
func (t *task) claim() bool { return t.state.CompareAndSwap(taskQueued, taskRunning) }

// abandon marks a task the submitter no longer waits for, unless it started.
func (t *task) abandon() bool { return t.state.CompareAndSwap(taskQueued, taskAbandoned) }

func (t *task) abandoned() bool { return t.state.Load() == taskAbandoned }

// fail completes a task that never ran.
func (t *task) fail(err error) {
	if t.abandon() {
		t.done <- err
	}
}

func (t *task) execute() {
	if !t.claim() {
		return
	}
	t.done <- t.safeRun()
}

func (t *task) safeRun() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return t.fn(t.ctx)
}
