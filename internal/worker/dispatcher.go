// Package worker runs conversions on a bounded pool of workers. Pending jobs
// are queued per client key and dispatched round robin so one busy client
// cannot starve the others.
package worker

import (
	"container/list"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher busy")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

const (
	defaultQueueSize = 64
	anonymousKey     = "anonymous"
)

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher
	logger   *zap.Logger

	pending  atomic.Int64
	limit    int64
	submitMu sync.RWMutex
	closed   bool
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each client key
	ready     *list.List           // round robin queue storing keys
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.MinWorkers < 0 {
		cfg.MinWorkers = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		JobQueue:  make(chan Job, cfg.QueueSize),
		logger:    logger,
		limit:     int64(cfg.QueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit runs fn on a worker and waits for its result. It fails fast with
// ErrDispatcherBusy when the queue is full. If ctx ends before a worker
// picks the job up, the job is dropped and ctx.Err() is returned; once
// started, fn receives ctx and Submit waits for it to return.
func (d *Dispatcher) Submit(ctx context.Context, key string, fn func(context.Context) error) error {
	if key == "" {
		key = anonymousKey
	}
	job := Job{Type: Run, Key: key, task: newTask(ctx, fn)}

	d.submitMu.RLock()
	if d.closed {
		d.submitMu.RUnlock()
		return ErrDispatcherClosed
	}
	if d.pending.Add(1) > d.limit {
		d.pending.Add(-1)
		d.submitMu.RUnlock()
		return ErrDispatcherBusy
	}
	// pending never exceeds the channel capacity, so this does not block
	d.JobQueue <- job
	d.submitMu.RUnlock()

	select {
	case err := <-job.task.done:
		return err
	case <-ctx.Done():
		if job.task.abandon() {
			return ctx.Err()
		}
		return <-job.task.done
	}
}

// Pending is the number of jobs waiting for a worker.
func (d *Dispatcher) Pending() int { return int(d.pending.Load()) }

// Workers is the number of live workers.
func (d *Dispatcher) Workers() int { return d.pool.size() }

// Close stops accepting jobs, fails the queued ones and stops the workers
// after their current job.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.submitMu.Lock()
		d.closed = true
		d.submitMu.Unlock()
		close(d.quit)
		d.pool.close()
		<-d.stopped
	})
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.quit:
			d.drain()
			return
		default:
		}
		if !d.hasQueued() {
			select {
			case job := <-d.JobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		// take a worker first so that jobs arriving meanwhile join the
		// round robin before the next pick
		workerChan := d.pool.acquire()
		if workerChan == nil {
			d.drain()
			return
		}
		d.collect()
		if !d.dispatchTo(workerChan) {
			d.pool.Release(workerChan)
		}
	}
}

// collect moves every job already submitted into its key queue.
func (d *Dispatcher) collect() {
	for {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) hasQueued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// popLocked takes the next job of the front key and moves the key to the back.
func (d *Dispatcher) popLocked() (Job, bool) {
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// dispatchTo hands the next live job to workerChan. It reports false when
// nothing was sent.
func (d *Dispatcher) dispatchTo(workerChan chan Job) bool {
	for {
		d.mu.Lock()
		job, ok := d.popLocked()
		d.mu.Unlock()
		if !ok {
			return false
		}
		d.pending.Add(-1)
		if job.task.abandoned() {
			continue
		}
		d.logger.Debug("dispatch job",
			zap.String("key", job.Key),
			zap.Int("worker", d.pool.workerID(workerChan)),
		)
		select {
		case workerChan <- job:
		case <-d.pool.done:
			job.task.fail(ErrDispatcherClosed)
		}
		return true
	}
}

// drain fails every job that never reached a worker.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.JobQueue:
			d.pending.Add(-1)
			job.task.fail(ErrDispatcherClosed)
		default:
			d.mu.Lock()
			for {
				job, ok := d.popLocked()
				if !ok {
					break
				}
				d.pending.Add(-1)
				job.task.fail(ErrDispatcherClosed)
			}
			d.mu.Unlock()
			return
		}
	}
}
