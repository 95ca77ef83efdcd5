package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// writeTask is one unit of work submitted to the WriteQueue.
type writeTask struct {
	fn   func(ctx context.Context) error
	done chan error
}

// WriteQueue is the single-consumer FIFO executor for every HotStore
// mutation and every Archive append. Tasks run strictly serially: the
// next task starts only once the previous one has returned, success or
// failure. Submitted tasks always run; there is no cancellation once a
// task has been accepted onto the channel.
type WriteQueue struct {
	tasks chan writeTask
	delay time.Duration

	totalWrites  atomic.Int64
	queueMax     atomic.Int64
	currentQueue atomic.Int64

	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewWriteQueue starts the consumer goroutine. delay optionally pads
// every task with a fixed sleep after it runs, used to load-shape tests.
func NewWriteQueue(delay time.Duration) *WriteQueue {
	q := &WriteQueue{
		tasks:  make(chan writeTask, 4096),
		delay:  delay,
		doneCh: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *WriteQueue) run() {
	defer close(q.doneCh)
	for t := range q.tasks {
		q.currentQueue.Add(-1)
		err := t.fn(context.Background())
		q.totalWrites.Add(1)
		if q.delay > 0 {
			time.Sleep(q.delay)
		}
		t.done <- err
		close(t.done)
	}
}

// Enqueue submits fn and blocks until it has run, returning its error.
// This gives callers a synchronous call shape while guaranteeing every
// mutation still passes through the serial queue.
func (q *WriteQueue) Enqueue(ctx context.Context, fn func(ctx context.Context) error) error {
	t := writeTask{fn: fn, done: make(chan error, 1)}
	cur := q.currentQueue.Add(1)
	for {
		prevMax := q.queueMax.Load()
		if cur <= prevMax || q.queueMax.CompareAndSwap(prevMax, cur) {
			break
		}
	}
	select {
	case q.tasks <- t:
	case <-ctx.Done():
		q.currentQueue.Add(-1)
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the counters tracked per §4.D.
func (q *WriteQueue) Stats() WriteQueueStat {
	return WriteQueueStat{
		TotalWrites:  q.totalWrites.Load(),
		QueueMax:     q.queueMax.Load(),
		CurrentQueue: q.currentQueue.Load(),
	}
}

// Drain closes the queue to new submissions and blocks until every
// already-submitted task has run.
func (q *WriteQueue) Drain() {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	<-q.doneCh
	log.Debug().Msg("write queue drained")
}
