package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const queueSize = 1024

var ErrQueueClosed = errors.New("admission queue closed")

type task struct {
	fn  func() error
	res chan error
}

// Queue executes submitted tasks one at a time in the submission order.
type Queue struct {
	tasks chan task
	done  chan struct{}
	once  sync.Once
}

func NewQueue() *Queue {
	return &Queue{tasks: make(chan task, queueSize), done: make(chan struct{})}
}

func (q *Queue) Run() { go q.loop() }

func (q *Queue) Stop() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *Queue) String() string { return "admission queue" }

func (q *Queue) loop() {
	for {
		select {
		case t := <-q.tasks:
			queueDepth.Dec()
			t.res <- run(t.fn)
		case <-q.done:
			return
		}
	}
}

// Do enqueues the task and blocks until it has been executed.
// The task error (or panic) is returned only to this caller.
func (q *Queue) Do(fn func() error) error {
	start := time.Now()
	defer func() { queueLatency.Observe(time.Since(start).Seconds()) }()

	t := task{fn: fn, res: make(chan error, 1)}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	queueDepth.Inc()
	select {
	case q.tasks <- t:
	case <-q.done:
		queueDepth.Dec()
		return ErrQueueClosed
	}
	select {
	case err := <-t.res:
		return err
	case <-q.done:
		return ErrQueueClosed
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("admission task panic: %v", r)
		}
	}()
	return fn()
}
