package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/api/http/handlers"
	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/dedupe"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/persistence"
	"github.com/spec-kit/chatdesk/internal/repository/memory"
	"github.com/spec-kit/chatdesk/internal/schedule"
	"github.com/spec-kit/chatdesk/internal/service"
)

const testSecret = "hook-secret"

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	store := memory.New()
	repos := store.Repos()

	require.NoError(t, repos.Teams.Create(ctx, &domain.Team{ID: "support", Name: "Support", IsActive: true}))
	for _, m := range []struct {
		id, email string
		role      domain.StaffRole
		teams     []string
	}{
		{"agent-alice", "alice@example.com", domain.StaffRoleAgent, []string{"support"}},
		{"admin-ada", "ada@example.com", domain.StaffRoleAdmin, nil},
	} {
		hash, err := auth.HashPassword("correct-horse", 4)
		require.NoError(t, err)
		require.NoError(t, repos.Staff.Create(ctx, &domain.StaffMember{
			ID: m.id, Name: m.id, Email: m.email, PasswordHash: hash,
			Role: m.role, TeamIDs: m.teams, Presence: domain.PresenceOnline, Active: true,
		}))
	}

	cfg := config.Config{
		Auth:    config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 5, BcryptCost: 4},
		SLA:     config.SLAConfig{DefaultResponseMinutes: 15, DefaultDangerFraction: 0.8},
		Routing: config.RoutingConfig{DefaultTeamID: "support", CreateMaxAttempts: 3},
	}
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()
	sender := channel.NewLogSender(logger)

	authService := service.NewAuthService(cfg, service.AuthDependencies{StaffRepo: repos.Staff})
	staffService := service.NewStaffService(cfg, service.OrgDependencies{TeamRepo: repos.Teams, StaffRepo: repos.Staff})
	sla := service.NewSLAService(service.SLADependencies{
		Store:     store,
		Scheduler: schedule.NewTimerQueue(logger),
		Sender:    sender,
		Config:    cfg.SLA,
	})
	assign := service.NewAssignmentService(service.AssignmentDependencies{Store: store, SLA: sla, Dispatcher: dispatcher})
	registry := service.NewRegistry(service.RegistryDependencies{Store: store, Assignment: assign, Routing: cfg.Routing})
	chat := service.NewChatService(service.ChatDependencies{
		Store:      store,
		Registry:   registry,
		SLA:        sla,
		Sender:     sender,
		Dispatcher: dispatcher,
	})
	intake := service.NewIntakeService(service.IntakeDependencies{Guard: dedupe.NewCache(time.Hour, 100), Chat: chat, Metrics: metrics})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("chatdesk", "test", &persistence.Postgres{}, nil),
		Staff:          handlers.NewStaffHandler(authService, staffService),
		Conversations:  handlers.NewConversationsHandler(chat, assign, service.NewHistoryService(store)),
		Webhook:        handlers.NewWebhookHandler(intake, testSecret),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), repos.Staff),
		Metrics:        metrics,
	})
	return app
}

func do(t *testing.T, app *fiber.App, method, path, token string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func login(t *testing.T, app *fiber.App, email string) string {
	t.Helper()
	status, env := do(t, app, "POST", "/auth/staff/login", "", map[string]string{"email": email, "password": "correct-horse"}, nil)
	require.Equal(t, fiber.StatusOK, status)
	var data struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Auth.Token)
	return data.Auth.Token
}

func TestWebhookRequiresSecretAndDeduplicates(t *testing.T) {
	app := newTestApp(t)
	payload := map[string]string{"contact_identity": "+15550001", "provider_message_id": "wamid-1", "body": "hello"}

	status, env := do(t, app, "POST", "/webhooks/inbound", "", payload, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	headers := map[string]string{handlers.WebhookSecretHeader: testSecret}
	status, env = do(t, app, "POST", "/webhooks/inbound", "", payload, headers)
	require.Equal(t, fiber.StatusOK, status)
	var first struct {
		Duplicate      bool   `json:"duplicate"`
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.ConversationID)

	status, env = do(t, app, "POST", "/webhooks/inbound", "", payload, headers)
	require.Equal(t, fiber.StatusOK, status)
	var replay struct {
		Duplicate bool `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.True(t, replay.Duplicate)

	status, _ = do(t, app, "POST", "/webhooks/inbound", "", map[string]string{"body": "no ids"}, headers)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestAgentConversationFlow(t *testing.T) {
	app := newTestApp(t)
	headers := map[string]string{handlers.WebhookSecretHeader: testSecret}
	_, env := do(t, app, "POST", "/webhooks/inbound", "", map[string]string{
		"contact_identity": "+15550001", "provider_message_id": "wamid-1", "body": "hello",
	}, headers)
	var ack struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ack))

	status, _ := do(t, app, "GET", "/conversations", "", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	token := login(t, app, "alice@example.com")
	status, env = do(t, app, "GET", "/conversations", token, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	var open []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &open))
	require.Len(t, open, 1)
	assert.Equal(t, ack.ConversationID, open[0].ID)

	status, env = do(t, app, "POST", "/conversations/"+ack.ConversationID+"/messages", token, map[string]string{"body": "hi there"}, nil)
	require.Equal(t, fiber.StatusCreated, status)
	var msg struct {
		Status string `json:"status"`
		Body   string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "SENT", msg.Status)
	assert.Equal(t, "hi there", msg.Body)

	status, env = do(t, app, "GET", "/conversations/"+ack.ConversationID+"/messages", token, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	var msgs []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	assert.Len(t, msgs, 2)

	status, env = do(t, app, "GET", "/conversations/"+ack.ConversationID+"/history", token, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	var timeline []struct {
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &timeline))
	require.NotEmpty(t, timeline)
	assert.Equal(t, "RECEIVE", timeline[0].Action)

	status, env = do(t, app, "POST", "/conversations/"+ack.ConversationID+"/archive", token, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	var archived struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &archived))
	assert.Equal(t, "ARCHIVED", archived.Status)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	app := newTestApp(t)
	agent := login(t, app, "alice@example.com")
	status, env := do(t, app, "GET", "/admin/teams", agent, nil, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	admin := login(t, app, "ada@example.com")
	status, env = do(t, app, "POST", "/admin/teams", admin, map[string]any{
		"name": "Sales",
		"calendar": map[string]any{
			"response_time":   map[string]int{"minutes": 30},
			"danger_fraction": 0.5,
		},
	}, nil)
	require.Equal(t, fiber.StatusCreated, status, "%s", env.Data)

	status, env = do(t, app, "GET", "/admin/teams", admin, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	var teams []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &teams))
	assert.Len(t, teams, 2)
}

func TestPresenceAndLoginFailures(t *testing.T) {
	app := newTestApp(t)
	status, _ := do(t, app, "POST", "/auth/staff/login", "", map[string]string{"email": "alice@example.com", "password": "wrong"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	token := login(t, app, "alice@example.com")
	status, env := do(t, app, "PUT", "/staff/me/presence", token, map[string]string{"presence": "away"}, nil)
	require.Equal(t, fiber.StatusOK, status)
	var me struct {
		Presence string `json:"presence"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "AWAY", me.Presence)

	status, _ = do(t, app, "PUT", "/staff/me/presence", token, map[string]string{"presence": "sleeping"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	status, _ := do(t, app, "GET", "/health/ready", "", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = do(t, app, "GET", "/metrics", "", nil, nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestErrorsCarryRequestIDAndEnvelope(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("GET", "/conversations", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
}

func TestLiveReportsService(t *testing.T) {
	app := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/health/live", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"service":"chatdesk"`)
}

func TestStaffChangesOwnPassword(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app, "alice@example.com")

	status, env := do(t, app, "PUT", "/staff/me/password", token, map[string]string{"current_password": "wrong-horse", "new_password": "battery-staple"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	require.NotNil(t, env.Error)

	status, env = do(t, app, "PUT", "/staff/me/password", token, map[string]string{"current_password": "correct-horse", "new_password": "short"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, _ = do(t, app, "PUT", "/staff/me/password", token, map[string]string{"current_password": "correct-horse", "new_password": "battery-staple"}, nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = do(t, app, "POST", "/auth/staff/login", "", map[string]string{"email": "alice@example.com", "password": "correct-horse"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = do(t, app, "POST", "/auth/staff/login", "", map[string]string{"email": "alice@example.com", "password": "battery-staple"}, nil)
	assert.Equal(t, fiber.StatusOK, status)
}
