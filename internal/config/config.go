package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	SLA          SLAConfig
	Routing      RoutingConfig
	Bot          BotConfig
	Scheduler    SchedulerConfig
	RabbitMQ     RabbitMQConfig
	Realtime     RealtimeConfig
	Reference    ReferenceConfig
	Outbound     OutboundConfig
	Webhook      WebhookConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	LockTTL   time.Duration
	DedupeTTL time.Duration
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format  string
	Service string
	Env     string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	BootstrapAdminEmail   string
	BootstrapAdminPass    string
}

// NotificationConfig holds notification endpoints.
type NotificationConfig struct {
	// WebhookURL receives assignment and archive events as JSON. Empty disables it.
	WebhookURL     string
	WebhookTimeout time.Duration
}

// SLAConfig tunes response deadline tracking.
type SLAConfig struct {
	AutoArchive            bool
	Timezone               string
	DefaultResponseMinutes int
	DefaultDangerFraction  float64
}

// Location resolves the configured timezone, falling back to UTC.
func (s SLAConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RoutingConfig controls where new conversations land.
type RoutingConfig struct {
	DefaultTeamID     string
	CreateMaxAttempts int
}

// BotConfig configures the scripted intake bot.
type BotConfig struct {
	Enabled     bool
	StaffID     string
	TeamID      string
	ScriptPath  string
	IdleTimeout time.Duration
}

// SchedulerConfig selects the deferred task backend.
type SchedulerConfig struct {
	Backend     string
	Queue       string
	Concurrency int
}

// RabbitMQConfig holds the outbound broker settings.
type RabbitMQConfig struct {
	URL              string
	OutboundExchange string
	OutboundKey      string
	FeedbackKey      string
}

// RealtimeConfig configures the agent websocket endpoint.
type RealtimeConfig struct {
	Addr string
}

// ReferenceConfig points at the reference lookup service.
type ReferenceConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// OutboundConfig constrains agent replies.
type OutboundConfig struct {
	WindowHours int
}

// Window returns the provider messaging window, zero when disabled.
func (o OutboundConfig) Window() time.Duration {
	if o.WindowHours <= 0 {
		return 0
	}
	return time.Duration(o.WindowHours) * time.Hour
}

// WebhookConfig secures the inbound webhook.
type WebhookConfig struct {
	Secret string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	dangerFraction, err := strconv.ParseFloat(getEnv("SLA_DEFAULT_DANGER_FRACTION", "0.8"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_DEFAULT_DANGER_FRACTION: %w", err)
	}
	if dangerFraction <= 0 || dangerFraction >= 1 {
		return nil, fmt.Errorf("SLA_DEFAULT_DANGER_FRACTION must be within (0,1), got %v", dangerFraction)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "chatdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			LockTTL:   getEnvAsDuration("REDIS_LOCK_TTL", 10*time.Second),
			DedupeTTL: getEnvAsDuration("REDIS_DEDUPE_TTL", 24*time.Hour),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapAdminEmail:   os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPass:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		Notification: NotificationConfig{
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			WebhookTimeout: getEnvAsDuration("NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second),
		},
		SLA: SLAConfig{
			AutoArchive:            getEnvAsBool("SLA_AUTO_ARCHIVE", true),
			Timezone:               getEnv("SLA_TIMEZONE", "UTC"),
			DefaultResponseMinutes: getEnvAsInt("SLA_DEFAULT_RESPONSE_MINUTES", 15),
			DefaultDangerFraction:  dangerFraction,
		},
		Routing: RoutingConfig{
			DefaultTeamID:     os.Getenv("ROUTING_DEFAULT_TEAM_ID"),
			CreateMaxAttempts: getEnvAsInt("ROUTING_CREATE_MAX_ATTEMPTS", 3),
		},
		Bot: BotConfig{
			Enabled:     getEnvAsBool("BOT_ENABLED", false),
			StaffID:     os.Getenv("BOT_STAFF_ID"),
			TeamID:      os.Getenv("BOT_TEAM_ID"),
			ScriptPath:  os.Getenv("BOT_SCRIPT_PATH"),
			IdleTimeout: getEnvAsDuration("BOT_IDLE_TIMEOUT", 30*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Backend:     getEnv("SCHEDULER_BACKEND", "memory"),
			Queue:       getEnv("SCHEDULER_QUEUE", "sla"),
			Concurrency: getEnvAsInt("SCHEDULER_CONCURRENCY", 10),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              os.Getenv("RABBITMQ_URL"),
			OutboundExchange: getEnv("RABBITMQ_OUTBOUND_EXCHANGE", "chat.outbound"),
			OutboundKey:      getEnv("RABBITMQ_OUTBOUND_KEY", "chat.outbound.v1"),
			FeedbackKey:      getEnv("RABBITMQ_FEEDBACK_KEY", "chat.feedback.v1"),
		},
		Realtime: RealtimeConfig{
			Addr: getEnv("REALTIME_ADDR", ":8081"),
		},
		Reference: ReferenceConfig{
			BaseURL:        os.Getenv("REFERENCE_BASE_URL"),
			TimeoutSeconds: getEnvAsInt("REFERENCE_TIMEOUT_SECONDS", 5),
		},
		Outbound: OutboundConfig{
			WindowHours: getEnvAsInt("OUTBOUND_WINDOW_HOURS", 24),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
	}

	if cfg.Routing.CreateMaxAttempts <= 0 {
		cfg.Routing.CreateMaxAttempts = 3
	}
	if cfg.Bot.Enabled && (cfg.Bot.StaffID == "" || cfg.Bot.TeamID == "") {
		return nil, fmt.Errorf("BOT_STAFF_ID and BOT_TEAM_ID are required when BOT_ENABLED is set")
	}
	switch cfg.Scheduler.Backend {
	case "memory", "asynq":
	default:
		return nil, fmt.Errorf("unsupported SCHEDULER_BACKEND %q", cfg.Scheduler.Backend)
	}
	if cfg.Scheduler.Backend == "asynq" && !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("SCHEDULER_BACKEND=asynq requires REDIS_ADDR")
	}
	cfg.Logger.Service = cfg.App.Name
	cfg.Logger.Env = cfg.App.Env

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
