package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/chatdesk/internal/api/http"
	"github.com/spec-kit/chatdesk/internal/api/http/handlers"
	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/dedupe"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/locker"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/persistence"
	"github.com/spec-kit/chatdesk/internal/realtime"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/repository/memory"
	"github.com/spec-kit/chatdesk/internal/schedule"
	"github.com/spec-kit/chatdesk/internal/service"
	"github.com/spec-kit/chatdesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewPostgresStore(pool)
	} else {
		logger.Warn("using in-memory store; state is lost on restart")
		store = memory.New()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		lk    locker.Locker
		guard dedupe.Guard
	)
	if redis.Available(ctx) {
		lk = locker.NewRedisLocker(redis.Client, "chatdesk:lock:", cfg.Redis.LockTTL)
		guard = dedupe.NewRedisGuard(redis.Client, "chatdesk:seen:", cfg.Redis.DedupeTTL)
	} else {
		lk = locker.NewKeyedMutex()
		guard = dedupe.NewCache(cfg.Redis.DedupeTTL, 100_000)
		redis = nil
	}

	var (
		scheduler schedule.Scheduler
		runner    schedule.Runner
	)
	switch cfg.Scheduler.Backend {
	case "asynq":
		opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		as := schedule.NewAsynqScheduler(opt, cfg.Scheduler.Queue)
		defer as.Close() //nolint:errcheck
		scheduler = as
		runner = schedule.NewAsynqRunner(opt, cfg.Scheduler.Queue, cfg.Scheduler.Concurrency, logger)
	default:
		queue := schedule.NewTimerQueue(logger)
		scheduler, runner = queue, queue
	}

	logSender := channel.NewLogSender(logger)
	var (
		sender channel.Sender       = logSender
		sink   channel.FeedbackSink = logSender
	)
	if cfg.RabbitMQ.URL != "" {
		pub, err := channel.NewAMQPPublisher(channel.AMQPConfig{
			URL:         cfg.RabbitMQ.URL,
			Exchange:    cfg.RabbitMQ.OutboundExchange,
			OutboundKey: cfg.RabbitMQ.OutboundKey,
			FeedbackKey: cfg.RabbitMQ.FeedbackKey,
		}, logger)
		if err != nil {
			logger.Fatal("failed to connect rabbitmq", zap.Error(err))
		}
		defer pub.Close() //nolint:errcheck
		sender, sink = pub, pub
	}

	var lookup channel.ReferenceLookup = channel.DisabledLookup{}
	if cfg.Reference.BaseURL != "" {
		lookup = channel.NewHTTPReferenceLookup(cfg.Reference.BaseURL, time.Duration(cfg.Reference.TimeoutSeconds)*time.Second)
	}

	script, err := service.LoadBotScript(cfg.Bot.ScriptPath)
	if err != nil {
		logger.Fatal("failed to load bot script", zap.Error(err))
	}

	if err := bootstrap(ctx, cfg, store.Repos(), logger); err != nil {
		logger.Fatal("failed to bootstrap accounts", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	maxAttempts := cfg.Routing.CreateMaxAttempts

	authService := service.NewAuthService(*cfg, service.AuthDependencies{StaffRepo: store.Repos().Staff, Logger: logger})
	staffService := service.NewStaffService(*cfg, service.OrgDependencies{
		TeamRepo:  store.Repos().Teams,
		StaffRepo: store.Repos().Staff,
		Logger:    logger,
	})
	sla := service.NewSLAService(service.SLADependencies{
		Store:        store,
		Scheduler:    scheduler,
		Sender:       sender,
		FeedbackSink: sink,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       logger,
		Config:       cfg.SLA,
		BotIdle:      cfg.Bot.IdleTimeout,
		ReminderText: script.Texts.Reminder,
		MaxAttempts:  maxAttempts,
	})
	assignment := service.NewAssignmentService(service.AssignmentDependencies{
		Store:       store,
		SLA:         sla,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		MaxAttempts: maxAttempts,
	})
	registry := service.NewRegistry(service.RegistryDependencies{
		Store:      store,
		Locker:     lk,
		Assignment: assignment,
		Routing:    cfg.Routing,
		Bot:        cfg.Bot,
		Metrics:    metrics,
		Logger:     logger,
	})
	chat := service.NewChatService(service.ChatDependencies{
		Store:       store,
		Registry:    registry,
		SLA:         sla,
		Sender:      sender,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		Outbound:    cfg.Outbound,
		Bot:         cfg.Bot,
		MaxAttempts: maxAttempts,
	})
	var bot *service.BotService
	if cfg.Bot.StaffID != "" {
		bot = service.NewBotService(service.BotDependencies{
			Store:        store,
			Registry:     registry,
			Assignment:   assignment,
			SLA:          sla,
			Sender:       sender,
			Lookup:       lookup,
			FeedbackSink: sink,
			Dispatcher:   dispatcher,
			Metrics:      metrics,
			Logger:       logger,
			Script:       script,
			Config:       cfg.Bot,
			MaxAttempts:  maxAttempts,
		})
	}
	intake := service.NewIntakeService(service.IntakeDependencies{
		Guard:   guard,
		Chat:    chat,
		Bot:     bot,
		Metrics: metrics,
		Logger:  logger,
	})
	history := service.NewHistoryService(store)

	hub := realtime.NewHub(authService.TokenManager(), logger)
	notifications := service.NewNotificationService(dispatcher, hub, logger, cfg.Notification)
	worker.StartNotificationWorker(dispatcher, notifications, bot)

	slaWorker := worker.NewSLAWorker(sla, runner, logger)
	go func() {
		if err := slaWorker.Run(ctx); err != nil {
			logger.Error("sla worker stopped", zap.Error(err))
		}
	}()

	realtimeServer := &http.Server{Addr: cfg.Realtime.Addr, Handler: hub.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("realtime listen", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Staff:          handlers.NewStaffHandler(authService, staffService),
		Conversations:  handlers.NewConversationsHandler(chat, assignment, history),
		Webhook:        handlers.NewWebhookHandler(intake, cfg.Webhook.Secret),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), store.Repos().Staff),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = app.ShutdownWithContext(shutdownCtx)
	hub.Close()
	_ = realtimeServer.Shutdown(shutdownCtx)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
