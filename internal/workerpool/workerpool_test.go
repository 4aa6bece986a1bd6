package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/drk-ng/eventd/internal/dbpool"
	"github.com/drk-ng/eventd/internal/taskqueue"
)

func TestWorkerProcessesAndSignalsImprov(t *testing.T) {
	q := taskqueue.New(4)
	var processed int32
	var improved int32

	toTask := func(item taskqueue.Item) Task {
		return Task{
			Process: func(db *dbpool.Handle) {
				atomic.AddInt32(&processed, 1)
			},
			OnImprov: func() {
				atomic.AddInt32(&improved, 1)
			},
		}
	}

	p := New(q, nil, zap.NewNop(), toTask)
	p.Start(1)
	defer p.Stop()

	q.Submit(taskqueue.Item{Conn: "c1", Op: taskqueue.OpRead})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&improved) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("expected Process called once, got %d", processed)
	}
	if atomic.LoadInt32(&improved) != 1 {
		t.Fatalf("expected OnImprov called once, got %d", improved)
	}
}

func TestWorkerIOFailureSkipsProcessAndSetsTimerFlag(t *testing.T) {
	q := taskqueue.New(4)
	var processCalled, ioErrCalled, improvCalled int32

	toTask := func(item taskqueue.Item) Task {
		return Task{
			IOStep: func() bool { return false },
			Process: func(db *dbpool.Handle) {
				atomic.AddInt32(&processCalled, 1)
			},
			OnIOError: func() { atomic.AddInt32(&ioErrCalled, 1) },
			OnImprov:  func() { atomic.AddInt32(&improvCalled, 1) },
		}
	}

	p := New(q, nil, zap.NewNop(), toTask)
	p.Start(1)
	defer p.Stop()

	q.Submit(taskqueue.Item{Conn: "c1", Op: taskqueue.OpWrite})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&improvCalled) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&processCalled) != 0 {
		t.Fatalf("Process must not run after IOStep failure")
	}
	if atomic.LoadInt32(&ioErrCalled) != 1 {
		t.Fatalf("expected OnIOError called once")
	}
}

func TestStopDrainsThenExits(t *testing.T) {
	q := taskqueue.New(4)
	var wg sync.WaitGroup
	wg.Add(3)
	toTask := func(item taskqueue.Item) Task {
		return Task{OnImprov: func() { wg.Done() }}
	}
	p := New(q, nil, zap.NewNop(), toTask)
	p.Start(2)
	for i := 0; i < 3; i++ {
		q.Submit(taskqueue.Item{Conn: i})
	}
	wg.Wait()
	p.Stop()
}
