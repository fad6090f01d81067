package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqScheduler enqueues tasks in Redis through asynq so they survive restarts
// and are shared by every instance.
type AsynqScheduler struct {
	client *asynq.Client
	queue  string
}

// NewAsynqScheduler builds a scheduler on the given Redis connection.
func NewAsynqScheduler(opt asynq.RedisConnOpt, queue string) *AsynqScheduler {
	return &AsynqScheduler{client: asynq.NewClient(opt), queue: queue}
}

func (s *AsynqScheduler) Schedule(ctx context.Context, tasks ...Task) error {
	for _, t := range tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		_, err = s.client.EnqueueContext(ctx, asynq.NewTask(string(t.Type), payload),
			asynq.ProcessAt(t.FireAt),
			asynq.Queue(s.queue),
			asynq.MaxRetry(5),
			asynq.TaskID(t.Key()),
		)
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("enqueue %s: %w", t.Type, err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}

// AsynqRunner consumes scheduled tasks from Redis.
type AsynqRunner struct {
	server *asynq.Server
	logger *zap.Logger
}

// NewAsynqRunner builds a runner processing queue with the given concurrency.
func NewAsynqRunner(opt asynq.RedisConnOpt, queue string, concurrency int, logger *zap.Logger) *AsynqRunner {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("scheduled task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	return &AsynqRunner{server: srv, logger: logger}
}

func (r *AsynqRunner) Run(ctx context.Context, handler Handler) error {
	mux := asynq.NewServeMux()
	for _, tt := range TaskTypes {
		mux.HandleFunc(string(tt), func(ctx context.Context, at *asynq.Task) error {
			task, err := decodeTask(at.Payload())
			if err != nil {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return handler(ctx, task)
		})
	}
	if err := r.server.Start(mux); err != nil {
		return err
	}
	r.logger.Info("asynq runner started")
	<-ctx.Done()
	r.server.Shutdown()
	return nil
}

func decodeTask(payload []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.SessionID == "" {
		return Task{}, errors.New("decode task: missing session id")
	}
	return t, nil
}
