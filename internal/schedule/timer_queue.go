package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].FireAt.Equal(h[j].FireAt) {
		return h[i].Type < h[j].Type
	}
	return h[i].FireAt.Before(h[j].FireAt)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// TimerQueue is an in-process Scheduler and Runner backed by a min-heap on fire
// time. Pending tasks are lost on restart; the SLA worker re-arms tracked
// sessions at boot.
type TimerQueue struct {
	mu     sync.Mutex
	tasks  taskHeap
	keys   map[string]struct{}
	wake   chan struct{}
	now    func() time.Time
	logger *zap.Logger
}

// NewTimerQueue returns an empty queue.
func NewTimerQueue(logger *zap.Logger) *TimerQueue {
	return &TimerQueue{
		keys:   make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: logger,
	}
}

func (q *TimerQueue) Schedule(_ context.Context, tasks ...Task) error {
	q.mu.Lock()
	for _, t := range tasks {
		key := t.Key()
		if _, dup := q.keys[key]; dup {
			continue
		}
		q.keys[key] = struct{}{}
		heap.Push(&q.tasks, t)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of pending tasks.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Pending returns a copy of the pending tasks in fire order.
func (q *TimerQueue) Pending() []Task {
	q.mu.Lock()
	cp := append(taskHeap(nil), q.tasks...)
	q.mu.Unlock()

	out := make([]Task, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(Task))
	}
	return out
}

// FireDue runs every task due at now, in fire order, and returns how many ran.
func (q *TimerQueue) FireDue(ctx context.Context, now time.Time, handler Handler) int {
	fired := 0
	for {
		task, ok := q.popDue(now)
		if !ok {
			return fired
		}
		fired++
		if err := handler(ctx, task); err != nil {
			q.logger.Warn("scheduled task failed",
				zap.String("type", string(task.Type)),
				zap.String("session_id", task.SessionID),
				zap.Error(err))
		}
	}
}

// Run fires tasks as they come due until ctx is done.
func (q *TimerQueue) Run(ctx context.Context, handler Handler) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.FireDue(ctx, q.now(), handler)

		wait := time.Hour
		q.mu.Lock()
		if q.tasks.Len() > 0 {
			wait = q.tasks[0].FireAt.Sub(q.now())
		}
		q.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-timer.C:
		}
	}
}

func (q *TimerQueue) popDue(now time.Time) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 || q.tasks[0].FireAt.After(now) {
		return Task{}, false
	}
	t := heap.Pop(&q.tasks).(Task)
	delete(q.keys, t.Key())
	return t, true
}
