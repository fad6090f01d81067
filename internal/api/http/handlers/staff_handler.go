package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chatdesk/internal/api/dto"
	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/service"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// StaffHandler exposes staff, team and login endpoints.
type StaffHandler struct {
	authService *service.AuthService
	orgService  *service.StaffService
}

// NewStaffHandler constructs handler.
func NewStaffHandler(authService *service.AuthService, orgService *service.StaffService) *StaffHandler {
	return &StaffHandler{authService: authService, orgService: orgService}
}

// Login handles POST /auth/staff/login.
func (h *StaffHandler) Login(c *fiber.Ctx) error {
	var req dto.StaffLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	staff, token, exp, err := h.authService.LoginStaff(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"staff": staffResponse(staff),
			"auth":  dto.AuthResponse{Token: token, ExpiresAt: exp},
		},
	})
}

// Me handles GET /staff/me.
func (h *StaffHandler) Me(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": staffResponse(staff)})
}

// ChangePassword handles PUT /staff/me/password.
func (h *StaffHandler) ChangePassword(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PasswordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.authService.ChangePassword(c.UserContext(), staff, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password_changed"}})
}

// UpdatePresence handles PUT /staff/me/presence.
func (h *StaffHandler) UpdatePresence(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PresenceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	updated, err := h.orgService.UpdatePresence(c.UserContext(), staff, domain.Presence(strings.ToUpper(string(req.Presence))))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": staffResponse(updated)})
}

// CreateTeam handles POST /admin/teams.
func (h *StaffHandler) CreateTeam(c *fiber.Ctx) error {
	admin, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.TeamRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Name == "" {
		return apperrors.NewValidationError("name required", nil)
	}
	team, err := h.orgService.CreateTeam(c.UserContext(), admin, req.Name, req.Description, req.Calendar)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": teamResponse(team)})
}

// ListTeams handles GET /admin/teams.
func (h *StaffHandler) ListTeams(c *fiber.Ctx) error {
	admin, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	teams, err := h.orgService.ListTeams(c.UserContext(), admin)
	if err != nil {
		return err
	}
	resp := make([]dto.TeamResponse, 0, len(teams))
	for i := range teams {
		resp = append(resp, teamResponse(&teams[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// UpdateTeamCalendar handles PUT /admin/teams/:id/calendar.
func (h *StaffHandler) UpdateTeamCalendar(c *fiber.Ctx) error {
	admin, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CalendarRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	team, err := h.orgService.UpdateTeamCalendar(c.UserContext(), admin, c.Params("id"), req.Calendar)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": teamResponse(team)})
}

// CreateStaff handles POST /admin/staff.
func (h *StaffHandler) CreateStaff(c *fiber.Ctx) error {
	admin, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.StaffCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Name == "" || req.Email == "" {
		return apperrors.NewValidationError("name and email required", nil)
	}
	staff, err := h.orgService.CreateStaffMember(c.UserContext(), admin, req.Name, req.Email, req.Password, req.Role, req.TeamIDs)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": staffResponse(staff)})
}

// ListStaff handles GET /admin/staff.
func (h *StaffHandler) ListStaff(c *fiber.Ctx) error {
	admin, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	list, err := h.orgService.ListStaffMembers(c.UserContext(), admin, parseStaffListFilters(c))
	if err != nil {
		return err
	}
	resp := make([]dto.StaffResponse, 0, len(list))
	for i := range list {
		resp = append(resp, staffResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

func parseStaffListFilters(c *fiber.Ctx) service.StaffListFilters {
	var filters service.StaffListFilters
	if roleStr := c.Query("role"); roleStr != "" {
		role := domain.StaffRole(strings.ToUpper(roleStr))
		filters.Role = &role
	}
	if teamID := c.Query("team_id"); teamID != "" {
		filters.TeamID = &teamID
	}
	if active := c.Query("active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filters.Active = &val
		}
	}
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)
	filters.Offset = (page - 1) * pageSize
	filters.Limit = pageSize
	return filters
}

func parseIntQuery(c *fiber.Ctx, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultVal
}

func teamResponse(team *domain.Team) dto.TeamResponse {
	return dto.TeamResponse{
		ID:          team.ID,
		Name:        team.Name,
		Description: team.Description,
		IsActive:    team.IsActive,
		Calendar:    team.Calendar,
	}
}

func staffResponse(staff *domain.StaffMember) dto.StaffResponse {
	teamIDs := staff.TeamIDs
	if teamIDs == nil {
		teamIDs = []string{}
	}
	return dto.StaffResponse{
		ID:       staff.ID,
		Name:     staff.Name,
		Email:    staff.Email,
		Role:     staff.Role,
		TeamIDs:  teamIDs,
		Presence: staff.Presence,
		Active:   staff.Active,
	}
}
