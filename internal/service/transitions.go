package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/schedule"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}

var (
	// errSessionExists aborts a creation transaction that lost to a concurrent caller.
	errSessionExists = errors.New("conversation already has a current session")
	// errStaleTask aborts a timer transaction whose trigger was superseded.
	errStaleTask = errors.New("stale task")
	// errBotBusy aborts when another delivery is already being processed by the bot.
	errBotBusy = errors.New("bot dialog busy")
)

func isControlFlow(err error) bool {
	return errors.Is(err, errSessionExists) ||
		errors.Is(err, errStaleTask) ||
		errors.Is(err, errBotBusy) ||
		errors.Is(err, context.Canceled)
}

// operation labels a transaction for the audit log.
type operation struct {
	Action         string
	ConversationID string
	ActorStaffID   *string
}

// txRunner runs units of work with bounded retries on write conflicts and
// records every aborted unit in the audit log.
type txRunner struct {
	store    repository.Store
	attempts int
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      Clock
}

func (r txRunner) run(ctx context.Context, op operation, fn func(repository.Repos) error) error {
	attempts := r.attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = r.store.WithinTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		r.metrics.RecordOwnershipRetry()
		r.logger.Debug("transaction conflict, retrying",
			zap.String("action", op.Action),
			zap.String("conversation_id", op.ConversationID),
			zap.Int("attempt", i+1))
	}
	if isControlFlow(err) {
		return err
	}
	r.audit(ctx, op, err)
	if errors.Is(err, repository.ErrConflict) {
		return apperrors.NewRetryable("concurrent update, please retry", err, map[string]any{
			"conversation_id": op.ConversationID,
			"action":          op.Action,
		})
	}
	return translate(err)
}

func (r txRunner) audit(ctx context.Context, op operation, cause error) {
	entry := &domain.AuditLog{
		ID:              uuid.NewString(),
		ActorStaffID:    op.ActorStaffID,
		AttemptedAction: op.Action,
		Error:           cause.Error(),
		Detail:          map[string]any{},
		CreatedAt:       r.now(),
	}
	if op.ConversationID != "" {
		id := op.ConversationID
		entry.ConversationID = &id
	}
	if de := apperrors.ToDomainError(cause); de.Code != apperrors.CodeInternal {
		entry.Detail["code"] = de.Code
	}
	if err := r.store.Repos().AuditLogs.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("audit log append failed", zap.String("action", op.Action), zap.Error(err))
	}
}

// translate maps repository sentinels onto DomainErrors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var de *apperrors.DomainError
	switch {
	case errors.As(err, &de):
		return de
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("record", nil)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflict("record already exists", nil)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewRetryable("concurrent update, please retry", err, nil)
	}
	return apperrors.NewInternalError(err)
}

func loadConversation(ctx context.Context, repos repository.Repos, id string) (*domain.Conversation, error) {
	conv, err := repos.Conversations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("conversation", map[string]any{"conversation_id": id})
	}
	return conv, err
}

func loadStaff(ctx context.Context, repos repository.Repos, id string) (*domain.StaffMember, error) {
	staff, err := repos.Staff.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("staff", map[string]any{"staff_id": id})
	}
	return staff, err
}

func loadTeam(ctx context.Context, repos repository.Repos, id string) (*domain.Team, error) {
	team, err := repos.Teams.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("team", map[string]any{"team_id": id})
	}
	return team, err
}

// currentSession returns the session conv points at, or nil when detached.
func currentSession(ctx context.Context, repos repository.Repos, conv *domain.Conversation) (*domain.Session, error) {
	if !conv.HasOwner() {
		return nil, nil
	}
	return repos.Sessions.GetByID(ctx, *conv.CurrentSessionID)
}

// sessionTarget is the owner of a session about to start.
type sessionTarget struct {
	StaffID string
	TeamID  string
	Kind    domain.SessionKind
}

// startSession creates a session for target and attaches it to conv. The caller
// persists conv.
func startSession(ctx context.Context, repos repository.Repos, conv *domain.Conversation, target sessionTarget, now time.Time) (*domain.Session, error) {
	s := &domain.Session{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		OwnerStaffID:   target.StaffID,
		OwnerTeamID:    target.TeamID,
		Kind:           target.Kind,
		Status:         domain.SessionStatusOpen,
		StartedAt:      now,
		BotDialogState: domain.BotDialogNone,
	}
	if err := repos.Sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	conv.Attach(s)
	if err := repos.Staff.AddOpenConversation(ctx, target.StaffID, conv.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// endSession finishes s and drops conv from the owner's open list.
func endSession(ctx context.Context, repos repository.Repos, conv *domain.Conversation, s *domain.Session, now time.Time) error {
	s.Finish(now)
	if err := repos.Sessions.Update(ctx, s); err != nil {
		return err
	}
	return repos.Staff.RemoveOpenConversation(ctx, s.OwnerStaffID, conv.ID)
}

func appendHistory(ctx context.Context, repos repository.Repos, entry domain.HistoryEntry) error {
	entry.ID = uuid.NewString()
	return repos.History.Append(ctx, &entry)
}

// handoff describes an ownership change from the current session to a new one.
type handoff struct {
	Action domain.HistoryAction
	Actor  *string
	To     sessionTarget
	// SLA arms the new human period when the contact is still waiting: the
	// previous period was under SLA, or Awaiting is set.
	SLA      *SLAService
	Awaiting bool
}

// reassign ends the current session, if any, starts a new one for h.To and
// records the change. It persists conv and returns the SLA tasks to schedule
// after commit.
func reassign(ctx context.Context, repos repository.Repos, conv *domain.Conversation, h handoff, now time.Time) (prev, next *domain.Session, tasks []schedule.Task, err error) {
	prev, err = currentSession(ctx, repos, conv)
	if err != nil {
		return nil, nil, nil, err
	}
	awaiting := h.Awaiting
	if prev != nil {
		awaiting = awaiting || prev.UnderSLA()
		if err := endSession(ctx, repos, conv, prev, now); err != nil {
			return nil, nil, nil, err
		}
	}
	next, err = startSession(ctx, repos, conv, h.To, now)
	if err != nil {
		return nil, nil, nil, err
	}
	if awaiting && h.SLA != nil && next.Kind == domain.SessionKindNormal {
		tasks = h.SLA.armSession(next, h.SLA.plan(ctx, repos, next.OwnerTeamID, now), now)
		if len(tasks) > 0 {
			if err := repos.Sessions.Update(ctx, next); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	if err := repos.Conversations.Update(ctx, conv); err != nil {
		return nil, nil, nil, err
	}
	payload := map[string]any{
		"to_staff_id": h.To.StaffID,
		"to_team_id":  h.To.TeamID,
		"kind":        string(h.To.Kind),
	}
	if prev != nil {
		payload["from_staff_id"] = prev.OwnerStaffID
		payload["from_team_id"] = prev.OwnerTeamID
	}
	sessionID := next.ID
	err = appendHistory(ctx, repos, domain.HistoryEntry{
		ConversationID: conv.ID,
		SessionID:      &sessionID,
		ActorStaffID:   h.Actor,
		Action:         h.Action,
		Payload:        payload,
		CreatedAt:      now,
	})
	return prev, next, tasks, err
}

// archiveSession ends s, detaches ownership and records the archive.
func archiveSession(ctx context.Context, repos repository.Repos, conv *domain.Conversation, s *domain.Session, actor *string, reason string, now time.Time) error {
	if err := endSession(ctx, repos, conv, s, now); err != nil {
		return err
	}
	conv.Detach()
	if err := repos.Conversations.Update(ctx, conv); err != nil {
		return err
	}
	sessionID := s.ID
	return appendHistory(ctx, repos, domain.HistoryEntry{
		ConversationID: conv.ID,
		SessionID:      &sessionID,
		ActorStaffID:   actor,
		Action:         domain.HistoryActionArchive,
		Payload: map[string]any{
			"reason":        reason,
			"from_staff_id": s.OwnerStaffID,
			"from_team_id":  s.OwnerTeamID,
		},
		CreatedAt: now,
	})
}

// ratedStaff returns the owner of the most recent human session before the
// feedback session, the member the feedback is about.
func ratedStaff(ctx context.Context, repos repository.Repos, conversationID string) *string {
	sessions, err := repos.Sessions.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].Kind == domain.SessionKindNormal {
			id := sessions[i].OwnerStaffID
			return &id
		}
	}
	return nil
}

// publisher emits committed transitions to the dispatcher.
type publisher struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        Clock
}

func (p publisher) publish(ctx context.Context, event events.Event) {
	if p.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = p.now()
	if err := p.dispatcher.Publish(ctx, event); err != nil {
		p.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err))
	}
}

// recipients returns the distinct non-empty ids, skipping the actor.
func recipients(actor *string, ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || (actor != nil && *actor == id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func staffActor(staff *domain.StaffMember) *string {
	if staff == nil {
		return nil
	}
	id := staff.ID
	return &id
}

func stringPreview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
