package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/chatdesk/internal/api/http/handlers"
	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Staff          *handlers.StaffHandler
	Conversations  *handlers.ConversationsHandler
	Webhook        *handlers.WebhookHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	app.Post("/webhooks/inbound", cfg.Webhook.Inbound)

	authGroup := app.Group("/auth")
	authGroup.Post("/staff/login", cfg.Staff.Login)

	staff := app.Group("/staff", cfg.AuthMiddleware.Handle, auth.RequireHumanStaff())
	staff.Get("/me", cfg.Staff.Me)
	staff.Put("/me/presence", cfg.Staff.UpdatePresence)
	staff.Put("/me/password", cfg.Staff.ChangePassword)

	convs := app.Group("/conversations", cfg.AuthMiddleware.Handle, auth.RequireHumanStaff())
	convs.Get("/", cfg.Conversations.ListOpen)
	convs.Get("/:id", cfg.Conversations.Get)
	convs.Get("/:id/messages", cfg.Conversations.ListMessages)
	convs.Post("/:id/messages", cfg.Conversations.Reply)
	convs.Post("/:id/messages/:messageId/resend", cfg.Conversations.Resend)
	convs.Post("/:id/archive", cfg.Conversations.Archive)
	convs.Post("/:id/take", cfg.Conversations.Take)
	convs.Post("/:id/transfer/user", cfg.Conversations.TransferToUser)
	convs.Post("/:id/transfer/team", cfg.Conversations.TransferToTeam)
	convs.Get("/:id/history", cfg.Conversations.History)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireStaffRole(domain.StaffRoleAdmin))
	admin.Post("/teams", cfg.Staff.CreateTeam)
	admin.Get("/teams", cfg.Staff.ListTeams)
	admin.Put("/teams/:id/calendar", cfg.Staff.UpdateTeamCalendar)
	admin.Post("/staff", cfg.Staff.CreateStaff)
	admin.Get("/staff", cfg.Staff.ListStaff)
}
