// Package workerpool implements the fixed-size THREAD_N set of goroutines
// that consume the task queue, acquire a scoped database handle for the
// duration of one task, and invoke the connection's protocol step.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/drk-ng/eventd/internal/dbpool"
	"github.com/drk-ng/eventd/internal/taskqueue"
)

// Task is what the dispatcher hands a worker. IOStep performs the I/O
// syscall for discipline R (nil in discipline P, where I/O already
// happened inline); Process runs unless IOStep failed. The worker always
// calls OnImprov when the task ends; on I/O failure it calls OnIOError
// first and skips Process, matching the improv/timer_flag publication
// contract the dispatcher relies on.
type Task struct {
	IOStep    func() bool // discipline R only; nil means "already done"
	Process   func(db *dbpool.Handle)
	OnImprov  func()
	OnIOError func()
}

// Pool runs THREAD_N workers pulling (Connection, Op) pairs mapped to
// Tasks by the dispatcher through the supplied TaskFactory.
type Pool struct {
	queue   *taskqueue.Queue
	db      *dbpool.Pool
	log     *zap.Logger
	toTask  func(taskqueue.Item) Task
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a worker pool. toTask maps a raw queue item to the closures
// a worker should run; it is supplied by the dispatcher so this package
// stays independent of the connection-table / protocol types.
func New(queue *taskqueue.Queue, db *dbpool.Pool, log *zap.Logger, toTask func(taskqueue.Item) Task) *Pool {
	return &Pool{
		queue:  queue,
		db:     db,
		log:    log,
		toTask: toTask,
		stop:   make(chan struct{}),
	}
}

// Start launches the n worker goroutines.
func (p *Pool) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		item, ok := p.queue.Take(p.stop)
		if !ok {
			return
		}
		p.execute(item)
	}
}

func (p *Pool) execute(item taskqueue.Item) {
	task := p.toTask(item)

	var handle *dbpool.Handle
	if p.db != nil {
		h, err := p.db.Acquire(context.Background())
		if err != nil {
			p.log.Error("worker: failed to acquire db handle", zap.Error(err))
		} else {
			handle = h
			defer handle.Release()
		}
	}

	if task.IOStep != nil {
		if !task.IOStep() {
			if task.OnIOError != nil {
				task.OnIOError()
			}
			if task.OnImprov != nil {
				task.OnImprov()
			}
			return
		}
	}

	if task.Process != nil {
		task.Process(handle)
	}

	if task.OnImprov != nil {
		task.OnImprov()
	}
}

// Stop signals all workers to exit and waits for them to return. A worker
// finishes the task it is running; items still in the queue may be left
// unprocessed.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}
