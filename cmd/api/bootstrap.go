package main

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
)

// bootstrap seeds the accounts a fresh store needs: the bot staff member and
// its team when the bot is enabled, and an initial admin when configured.
// Existing rows are left untouched.
func bootstrap(ctx context.Context, cfg *config.Config, repos repository.Repos, logger *zap.Logger) error {
	if cfg.Bot.Enabled {
		if _, err := repos.Teams.GetByID(ctx, cfg.Bot.TeamID); errors.Is(err, repository.ErrNotFound) {
			team := &domain.Team{ID: cfg.Bot.TeamID, Name: "Bot", IsActive: true}
			if err := repos.Teams.Create(ctx, team); err != nil && !errors.Is(err, repository.ErrDuplicate) {
				return err
			}
			logger.Info("bot team created", zap.String("team_id", team.ID))
		} else if err != nil {
			return err
		}
		if _, err := repos.Staff.GetByID(ctx, cfg.Bot.StaffID); errors.Is(err, repository.ErrNotFound) {
			bot := &domain.StaffMember{
				ID:       cfg.Bot.StaffID,
				Name:     "Bot",
				Email:    cfg.Bot.StaffID + "@bot.local",
				Role:     domain.StaffRoleBot,
				TeamIDs:  []string{cfg.Bot.TeamID},
				Presence: domain.PresenceOnline,
				Active:   true,
			}
			if err := repos.Staff.Create(ctx, bot); err != nil && !errors.Is(err, repository.ErrDuplicate) {
				return err
			}
			logger.Info("bot staff member created", zap.String("staff_id", bot.ID))
		} else if err != nil {
			return err
		}
	}

	email := strings.ToLower(strings.TrimSpace(cfg.Auth.BootstrapAdminEmail))
	if email == "" || cfg.Auth.BootstrapAdminPass == "" {
		return nil
	}
	if _, err := repos.Staff.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(cfg.Auth.BootstrapAdminPass, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	admin := &domain.StaffMember{
		ID:           uuid.NewString(),
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		Role:         domain.StaffRoleAdmin,
		Presence:     domain.PresenceOffline,
		Active:       true,
	}
	if err := repos.Staff.Create(ctx, admin); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	logger.Info("bootstrap admin created", zap.String("email", email))
	return nil
}
