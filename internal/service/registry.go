package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/locker"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/repository"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// Registry guarantees one conversation per contact and one current session per
// conversation under concurrent delivery.
type Registry struct {
	store    repository.Store
	locker   locker.Locker
	assign   *AssignmentService
	tx       txRunner
	routing  config.RoutingConfig
	bot      config.BotConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      Clock
	attempts int
}

// RegistryDependencies bundles collaborators.
type RegistryDependencies struct {
	Store      repository.Store
	Locker     locker.Locker
	Assignment *AssignmentService
	Routing    config.RoutingConfig
	Bot        config.BotConfig
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      Clock
}

// NewRegistry builds the registry.
func NewRegistry(deps RegistryDependencies) *Registry {
	now := clockOrDefault(deps.Clock)
	logger := loggerOrNop(deps.Logger)
	attempts := deps.Routing.CreateMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	lk := deps.Locker
	if lk == nil {
		lk = locker.NewKeyedMutex()
	}
	return &Registry{
		store:    deps.Store,
		locker:   lk,
		assign:   deps.Assignment,
		tx:       txRunner{store: deps.Store, attempts: attempts, metrics: deps.Metrics, logger: logger, now: now},
		routing:  deps.Routing,
		bot:      deps.Bot,
		metrics:  deps.Metrics,
		logger:   logger,
		now:      now,
		attempts: attempts,
	}
}

// GetOrCreateConversation finds or inserts the conversation for contact. The
// find-then-insert runs under a lock keyed by contact.
func (r *Registry) GetOrCreateConversation(ctx context.Context, contact string) (*domain.Conversation, bool, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, false, apperrors.NewValidationError("contact identity required", nil)
	}
	repos := r.store.Repos()
	conv, err := repos.Conversations.GetByContact(ctx, contact)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, translate(err)
	}

	unlock, err := r.locker.Lock(ctx, "conversation:"+contact)
	if err != nil {
		return nil, false, apperrors.NewDependencyError("locker", err)
	}
	defer unlock()

	conv, err = repos.Conversations.GetByContact(ctx, contact)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, translate(err)
	}
	conv = &domain.Conversation{
		ID:              uuid.NewString(),
		ContactIdentity: contact,
		Status:          domain.ConversationStatusArchived,
		CreatedAt:       r.now(),
	}
	if err := repos.Conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// another process without a shared lock won the insert
			existing, getErr := repos.Conversations.GetByContact(ctx, contact)
			if getErr != nil {
				return nil, false, translate(getErr)
			}
			return existing, false, nil
		}
		return nil, false, translate(err)
	}
	r.metrics.RecordConversationCreated()
	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("contact", contact))
	return conv, true, nil
}

// EnsureSession returns the current session of the conversation, creating one
// for the initial owner when there is none. Creation is retried on write
// conflicts; a caller that loses the race reads the winner's session.
func (r *Registry) EnsureSession(ctx context.Context, conversationID string) (*domain.Session, bool, error) {
	op := operation{Action: "ensure_session", ConversationID: conversationID}
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var created *domain.Session
		err := r.store.WithinTx(ctx, func(repos repository.Repos) error {
			conv, err := loadConversation(ctx, repos, conversationID)
			if err != nil {
				return err
			}
			if conv.HasOwner() {
				return errSessionExists
			}
			target, err := r.initialOwner(ctx, repos)
			if err != nil {
				return err
			}
			now := r.now()
			s, err := startSession(ctx, repos, conv, target, now)
			if err != nil {
				return err
			}
			if err := repos.Conversations.Update(ctx, conv); err != nil {
				return err
			}
			sessionID := s.ID
			if err := appendHistory(ctx, repos, domain.HistoryEntry{
				ConversationID: conv.ID,
				SessionID:      &sessionID,
				Action:         domain.HistoryActionReceive,
				Payload: map[string]any{
					"to_staff_id": target.StaffID,
					"to_team_id":  target.TeamID,
					"kind":        string(target.Kind),
				},
				CreatedAt: now,
			}); err != nil {
				return err
			}
			created = s
			return nil
		})
		switch {
		case err == nil:
			return created, true, nil
		case errors.Is(err, errSessionExists):
			s, err := r.current(ctx, conversationID)
			if err != nil {
				return nil, false, err
			}
			if s != nil {
				return s, false, nil
			}
			lastErr = repository.ErrConflict
		case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicate):
			lastErr = err
		default:
			r.tx.audit(ctx, op, err)
			return nil, false, translate(err)
		}
		r.metrics.RecordOwnershipRetry()
		r.logger.Debug("session creation conflict",
			zap.String("conversation_id", conversationID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	r.tx.audit(ctx, op, lastErr)
	return nil, false, apperrors.NewRetryable("could not assign conversation owner", lastErr, map[string]any{
		"conversation_id": conversationID,
	})
}

func (r *Registry) current(ctx context.Context, conversationID string) (*domain.Session, error) {
	repos := r.store.Repos()
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	s, err := currentSession(ctx, repos, conv)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

// initialOwner routes a new conversation to the bot when enabled, otherwise to
// the least loaded member of the routing team.
func (r *Registry) initialOwner(ctx context.Context, repos repository.Repos) (sessionTarget, error) {
	if r.bot.Enabled {
		return sessionTarget{StaffID: r.bot.StaffID, TeamID: r.bot.TeamID, Kind: domain.SessionKindBot}, nil
	}
	teamID, err := r.routingTeam(ctx, repos)
	if err != nil {
		return sessionTarget{}, err
	}
	staff, err := r.assign.SelectLeastLoaded(ctx, repos, teamID)
	if err != nil {
		return sessionTarget{}, err
	}
	return sessionTarget{StaffID: staff.ID, TeamID: teamID, Kind: domain.SessionKindNormal}, nil
}

// routingTeam returns the configured default team or the first active team.
func (r *Registry) routingTeam(ctx context.Context, repos repository.Repos) (string, error) {
	if r.routing.DefaultTeamID != "" {
		return r.routing.DefaultTeamID, nil
	}
	teams, err := repos.Teams.List(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range teams {
		if t.IsActive && t.ID != r.bot.TeamID {
			return t.ID, nil
		}
	}
	return "", apperrors.NewConflict("no team available for routing", nil)
}
