package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// StaffService manages teams, staff accounts and agent presence.
type StaffService struct {
	teams      repository.TeamRepository
	staff      repository.StaffRepository
	bcryptCost int
	logger     *zap.Logger
}

// StaffListFilters define listing parameters.
type StaffListFilters struct {
	Role   *domain.StaffRole
	TeamID *string
	Active *bool
	Limit  int
	Offset int
}

// OrgDependencies encapsulates repositories required for org management.
type OrgDependencies struct {
	TeamRepo  repository.TeamRepository
	StaffRepo repository.StaffRepository
	Logger    *zap.Logger
}

// NewStaffService constructs the service.
func NewStaffService(cfg config.Config, deps OrgDependencies) *StaffService {
	return &StaffService{
		teams:      deps.TeamRepo,
		staff:      deps.StaffRepo,
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     loggerOrNop(deps.Logger),
	}
}

func requireAdmin(actor *domain.StaffMember) error {
	if !actor.IsAdmin() {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

// UpdatePresence sets the caller's advertised availability.
func (s *StaffService) UpdatePresence(ctx context.Context, actor *domain.StaffMember, presence domain.Presence) (*domain.StaffMember, error) {
	if err := requireHuman(actor); err != nil {
		return nil, err
	}
	if !presence.Valid() {
		return nil, apperrors.NewValidationError("unknown presence", map[string]any{"presence": presence})
	}
	staff, err := s.staff.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, translate(err)
	}
	staff.Presence = presence
	if err := s.staff.Update(ctx, staff); err != nil {
		return nil, translate(err)
	}
	s.logger.Info("presence updated", zap.String("staff_id", staff.ID), zap.String("presence", string(presence)))
	return staff, nil
}

// CreateTeam adds a team with its service-hours calendar.
func (s *StaffService) CreateTeam(ctx context.Context, actor *domain.StaffMember, name, description string, calendar domain.ServiceHoursCalendar) (*domain.Team, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.NewValidationError("team name is required", nil)
	}
	if err := validateCalendar(calendar); err != nil {
		return nil, err
	}
	team := &domain.Team{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		IsActive:    true,
		Calendar:    calendar,
	}
	if err := s.teams.Create(ctx, team); err != nil {
		return nil, translate(err)
	}
	return team, nil
}

// ListTeams lists all teams.
func (s *StaffService) ListTeams(ctx context.Context, actor *domain.StaffMember) ([]domain.Team, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	teams, err := s.teams.List(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return teams, nil
}

// UpdateTeamCalendar replaces a team's service hours and SLA budget. Deadlines
// already armed keep their value.
func (s *StaffService) UpdateTeamCalendar(ctx context.Context, actor *domain.StaffMember, teamID string, calendar domain.ServiceHoursCalendar) (*domain.Team, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateCalendar(calendar); err != nil {
		return nil, err
	}
	team, err := s.teams.GetByID(ctx, teamID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("team", map[string]any{"team_id": teamID})
	}
	if err != nil {
		return nil, translate(err)
	}
	team.Calendar = calendar
	if err := s.teams.Update(ctx, team); err != nil {
		return nil, translate(err)
	}
	return team, nil
}

func validateCalendar(c domain.ServiceHoursCalendar) error {
	for _, w := range c.Windows {
		if w.Weekday < 0 || w.Weekday > 6 || w.From < 0 || w.To >= 24*60 || w.From > w.To {
			return apperrors.NewValidationError("invalid service-hours window", map[string]any{
				"weekday": int(w.Weekday), "from": w.From, "to": w.To,
			})
		}
	}
	if c.ResponseTime.Hours < 0 || c.ResponseTime.Minutes < 0 {
		return apperrors.NewValidationError("response time must not be negative", nil)
	}
	if c.DangerFraction < 0 || c.DangerFraction >= 1 {
		return apperrors.NewValidationError("danger fraction must be in [0,1)", map[string]any{"danger_fraction": c.DangerFraction})
	}
	return nil
}

// CreateStaffMember adds a new staff account.
func (s *StaffService) CreateStaffMember(ctx context.Context, actor *domain.StaffMember, name, email, password string, role domain.StaffRole, teamIDs []string) (*domain.StaffMember, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	switch role {
	case domain.StaffRoleAgent, domain.StaffRoleTeamLead, domain.StaffRoleAdmin, domain.StaffRoleBot:
	default:
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	if email == "" {
		return nil, apperrors.NewValidationError("email is required", nil)
	}
	if role != domain.StaffRoleBot || password != "" {
		if err := auth.ValidatePassword(password); err != nil {
			return nil, apperrors.NewValidationError("password must have at least 8 characters", map[string]any{"min_length": auth.MinPasswordLength})
		}
	}
	for _, id := range teamIDs {
		team, err := s.teams.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("team", map[string]any{"team_id": id})
		}
		if err != nil {
			return nil, translate(err)
		}
		if !team.IsActive {
			return nil, apperrors.NewConflict("team inactive", map[string]any{"team_id": id})
		}
	}

	var hash string
	if password != "" {
		var err error
		if hash, err = auth.HashPassword(password, s.bcryptCost); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}
	staff := &domain.StaffMember{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		TeamIDs:      teamIDs,
		Presence:     domain.PresenceOffline,
		Active:       true,
	}
	if err := s.staff.Create(ctx, staff); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("staff email already exists", map[string]any{"email": email})
		}
		return nil, translate(err)
	}
	return staff, nil
}

// ListStaffMembers lists staff with filters.
func (s *StaffService) ListStaffMembers(ctx context.Context, actor *domain.StaffMember, filters StaffListFilters) ([]domain.StaffMember, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	list, err := s.staff.List(ctx, repository.StaffFilter{
		Role:   filters.Role,
		TeamID: filters.TeamID,
		Active: filters.Active,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}
