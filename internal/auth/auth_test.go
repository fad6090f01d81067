package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository/memory"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	staff := &domain.StaffMember{ID: "a1", Role: domain.StaffRoleAgent}
	token, expires, err := tm.Issue(staff)
	require.NoError(t, err)
	assert.False(t, expires.IsZero())

	claims, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.Subject)
	assert.Equal(t, domain.StaffRoleAgent, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = NewTokenManager("other", 5).ParseStaffID(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	issued := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return issued }
	token, _, err := tm.Issue(&domain.StaffMember{ID: "a1", Role: domain.StaffRoleAgent})
	require.NoError(t, err)

	tm.now = func() time.Time { return issued.Add(6 * time.Minute) }
	_, err = tm.ParseStaffID(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordPolicy(t *testing.T) {
	_, err := HashPassword("short", 4)
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("hunter2hunter2", 4)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "hunter2hunter2"))
	assert.ErrorIs(t, ComparePassword(hash, "hunter3hunter3"), ErrPasswordMismatch)
	assert.ErrorIs(t, ComparePassword("", "anything"), ErrPasswordMismatch)
}

func newAuthApp(t *testing.T) (*fiber.App, *TokenManager, *memory.Store) {
	t.Helper()
	store := memory.New()
	tokens := NewTokenManager("secret", 5)
	mw := NewAuthMiddleware(tokens, store.Repos().Staff)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	app.Get("/agents", mw.Handle, RequireHumanStaff(), func(c *fiber.Ctx) error {
		staff, err := StaffFromContext(c)
		if err != nil {
			return err
		}
		return c.SendString(staff.ID)
	})
	app.Get("/admins", mw.Handle, RequireStaffRole(domain.StaffRoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app, tokens, store
}

func get(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestMiddlewareAuthorizesAgainstStoredRole(t *testing.T) {
	app, tokens, store := newAuthApp(t)
	ctx := context.Background()
	agent := &domain.StaffMember{ID: "a1", Email: "a1@example.com", Role: domain.StaffRoleAgent, Presence: domain.PresenceOnline, Active: true}
	require.NoError(t, store.Repos().Staff.Create(ctx, agent))

	token, _, err := tokens.Issue(agent)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/agents", ""))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/agents", "not-a-token"))
	assert.Equal(t, fiber.StatusOK, get(t, app, "/agents", token))
	assert.Equal(t, fiber.StatusForbidden, get(t, app, "/admins", token))

	stored, err := store.Repos().Staff.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	stored.Role = domain.StaffRoleAdmin
	require.NoError(t, store.Repos().Staff.Update(ctx, stored))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/admins", token), "old role in token")

	fresh, _, err := tokens.Issue(stored)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, get(t, app, "/admins", fresh))

	stored, err = store.Repos().Staff.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	stored.Active = false
	require.NoError(t, store.Repos().Staff.Update(ctx, stored))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/admins", fresh))
}
