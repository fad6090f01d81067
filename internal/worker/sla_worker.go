package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/schedule"
	"github.com/spec-kit/chatdesk/internal/service"
)

// SLAWorker re-arms persisted deadlines and then delivers due SLA tasks.
type SLAWorker struct {
	sla    *service.SLAService
	runner schedule.Runner
	logger *zap.Logger
}

// NewSLAWorker builds the worker.
func NewSLAWorker(sla *service.SLAService, runner schedule.Runner, logger *zap.Logger) *SLAWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAWorker{sla: sla, runner: runner, logger: logger}
}

// Run blocks until ctx is cancelled. A failed re-arm is logged and the runner
// still starts, so new deadlines keep being tracked.
func (w *SLAWorker) Run(ctx context.Context) error {
	n, err := w.sla.Rearm(ctx)
	if err != nil {
		w.logger.Error("sla rearm failed", zap.Error(err))
	} else {
		w.logger.Info("sla deadlines rearmed", zap.Int("sessions", n))
	}
	return w.runner.Run(ctx, w.sla.HandleTask)
}
