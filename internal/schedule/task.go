// Package schedule runs one-shot SLA tasks at a calendar time. Tasks are
// advisory: handlers re-read persisted state and drop superseded tasks, so
// nothing is ever cancelled.
package schedule

import (
	"context"
	"fmt"
	"time"
)

// TaskType names a deferred SLA transition.
type TaskType string

const (
	TaskSessionDanger  TaskType = "sla:session_danger"
	TaskSessionTooLate TaskType = "sla:session_too_late"
	TaskMessageDanger  TaskType = "sla:message_danger"
	TaskMessageTooLate TaskType = "sla:message_too_late"
)

// TaskTypes lists every type a runner must route.
var TaskTypes = []TaskType{TaskSessionDanger, TaskSessionTooLate, TaskMessageDanger, TaskMessageTooLate}

// Task is a one-shot trigger. Deadline is the value the task was armed against
// and is compared with persisted state when the task fires.
type Task struct {
	Type      TaskType  `json:"type"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	Deadline  time.Time `json:"deadline"`
	FireAt    time.Time `json:"fire_at"`
}

// Key identifies the task for de-duplication.
func (t Task) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d", t.Type, t.SessionID, t.MessageID, t.Deadline.UnixMilli())
}

// Handler applies a fired task.
type Handler func(ctx context.Context, task Task) error

// Scheduler accepts tasks for later execution.
type Scheduler interface {
	Schedule(ctx context.Context, tasks ...Task) error
}

// Runner delivers due tasks to a handler until ctx is done.
type Runner interface {
	Run(ctx context.Context, handler Handler) error
}
