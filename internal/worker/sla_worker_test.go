package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository/memory"
	"github.com/spec-kit/chatdesk/internal/schedule"
	"github.com/spec-kit/chatdesk/internal/service"
)

func TestSLAWorkerRearmsBeforeRunning(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	deadline := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, store.Repos().Sessions.Create(ctx, &domain.Session{
		ID:               "sess-1",
		ConversationID:   "conv-1",
		OwnerStaffID:     "agent-1",
		OwnerTeamID:      "support",
		Kind:             domain.SessionKindNormal,
		Status:           domain.SessionStatusOnTime,
		ResponseDeadline: &deadline,
	}))

	queue := schedule.NewTimerQueue(zap.NewNop())
	sla := service.NewSLAService(service.SLADependencies{
		Store:     store,
		Scheduler: queue,
		Config:    config.SLAConfig{DefaultResponseMinutes: 15, DefaultDangerFraction: 0.8},
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewSLAWorker(sla, queue, nil).Run(runCtx) }()

	require.Eventually(t, func() bool { return queue.Len() == 2 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
