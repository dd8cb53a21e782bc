package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TimerQueue runs dispatch jobs on in-process timers. It backs tests and
// single-node deployments; jobs do not survive a process restart, which the
// overdue-pending poller compensates for.
type TimerQueue struct {
	handler Handler
	log     *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	stop   chan struct{}
	closed bool
}

func NewTimerQueue(handler Handler, log *slog.Logger) *TimerQueue {
	if log == nil {
		log = slog.Default()
	}
	return &TimerQueue{handler: handler, log: log, stop: make(chan struct{})}
}

func (q *TimerQueue) Submit(ctx context.Context, job DispatchJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return context.Canceled
	}
	q.wg.Add(1)
	timer := time.NewTimer(delay)
	go func() {
		defer q.wg.Done()
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-timer.C:
		}
		if err := q.handler(context.WithoutCancel(ctx), job); err != nil {
			q.log.Error("dispatch job failed", "callrequest_id", job.CallRequestID, "err", err)
		}
	}()
	return nil
}

// Close stops accepting jobs, abandons pending timers and waits for
// in-flight handlers.
func (q *TimerQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()
	q.wg.Wait()
}
