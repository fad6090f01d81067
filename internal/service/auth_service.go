package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// AuthService issues staff access tokens.
type AuthService struct {
	staff    repository.StaffRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	StaffRepo repository.StaffRepository
	Logger    *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		staff:    deps.StaffRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     loggerOrNop(deps.Logger),
	}
}

// LoginStaff authenticates a human staff member by email and password.
func (s *AuthService) LoginStaff(ctx context.Context, email, password string) (*domain.StaffMember, string, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("email and password are required", nil)
	}
	staff, err := s.staff.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewDependencyError("staff store", err)
	}
	if !staff.Active || staff.Role == domain.StaffRoleBot {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if err := auth.ComparePassword(staff.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}

	token, exp, err := s.tokenMgr.Issue(staff)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	s.logger.Info("staff logged in", zap.String("staff_id", staff.ID))
	return staff, token, exp, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, actor *domain.StaffMember, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return apperrors.NewValidationError("current and new password required", nil)
	}
	staff, err := s.staff.GetByID(ctx, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	if err != nil {
		return apperrors.NewDependencyError("staff store", err)
	}
	if err := auth.ComparePassword(staff.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return apperrors.NewValidationError("password must have at least 8 characters", map[string]any{"min_length": auth.MinPasswordLength})
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	staff.PasswordHash = hash
	if err := s.staff.Update(ctx, staff); err != nil {
		return translate(err)
	}
	s.logger.Info("staff password changed", zap.String("staff_id", staff.ID))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
