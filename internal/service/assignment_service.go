package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/schedule"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// AssignmentService handles conversation ownership changes and agent selection.
type AssignmentService struct {
	store  repository.Store
	sla    *SLAService
	tx     txRunner
	events publisher
	logger *zap.Logger
	now    Clock
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	Store       repository.Store
	// SLA re-arms the response deadline when an unanswered conversation
	// changes hands. Nil disables it.
	SLA         *SLAService
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	MaxAttempts int
	Clock       Clock
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	now := clockOrDefault(deps.Clock)
	logger := loggerOrNop(deps.Logger)
	return &AssignmentService{
		store:  deps.Store,
		sla:    deps.SLA,
		tx:     txRunner{store: deps.Store, attempts: deps.MaxAttempts, metrics: deps.Metrics, logger: logger, now: now},
		events: publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
		logger: logger,
		now:    now,
	}
}

// SelectLeastLoaded picks the eligible member of teamID by presence rank
// (online, service hours, offline, away), then fewest open conversations.
// Bots, inactive members and excluded ids are never selected.
func (s *AssignmentService) SelectLeastLoaded(ctx context.Context, repos repository.Repos, teamID string, exclude ...string) (*domain.StaffMember, error) {
	active := true
	members, err := repos.Staff.List(ctx, repository.StaffFilter{TeamID: &teamID, Active: &active, Limit: 1000})
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	candidates := make([]domain.StaffMember, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.Role == domain.StaffRoleBot || !m.Active {
			continue
		}
		if _, ok := skip[m.ID]; ok {
			continue
		}
		candidates = append(candidates, m)
		ids = append(ids, m.ID)
	}
	if len(candidates) == 0 {
		return nil, apperrors.NewConflict("no eligible staff in team", map[string]any{"team_id": teamID})
	}
	load, err := repos.Staff.CountOpenConversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Presence.Rank() != b.Presence.Rank() {
			return a.Presence.Rank() < b.Presence.Rank()
		}
		if load[a.ID] != load[b.ID] {
			return load[a.ID] < load[b.ID]
		}
		return a.ID < b.ID
	})
	chosen := candidates[0]
	return &chosen, nil
}

// ownershipChange is the committed result of a take or transfer.
type ownershipChange struct {
	conv   *domain.Conversation
	prev   *domain.Session
	next   *domain.Session
	action domain.HistoryAction
	tasks  []schedule.Task
}

// TakeOwnership moves the conversation to actor. Only members of the current team
// or admins may take an owned conversation; a detached one may be reopened by any
// human member.
func (s *AssignmentService) TakeOwnership(ctx context.Context, actor *domain.StaffMember, conversationID string) (*domain.Conversation, error) {
	if err := requireHuman(actor); err != nil {
		return nil, err
	}
	var change ownershipChange
	op := operation{Action: "take_ownership", ConversationID: conversationID, ActorStaffID: staffActor(actor)}
	err := s.tx.run(ctx, op, func(repos repository.Repos) error {
		conv, err := loadConversation(ctx, repos, conversationID)
		if err != nil {
			return err
		}
		teamID, err := takeTeam(actor, conv)
		if err != nil {
			return err
		}
		if conv.OwnedBy(actor.ID) {
			return apperrors.NewConflict("already the owner", map[string]any{"conversation_id": conversationID})
		}
		prev, next, tasks, err := reassign(ctx, repos, conv, handoff{
			Action: domain.HistoryActionTakeOwnership,
			Actor:  staffActor(actor),
			SLA:    s.sla,
			To:     sessionTarget{StaffID: actor.ID, TeamID: teamID, Kind: domain.SessionKindNormal},
		}, s.now())
		if err != nil {
			return err
		}
		change = ownershipChange{conv: conv, prev: prev, next: next, action: domain.HistoryActionTakeOwnership, tasks: tasks}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.sla != nil {
		s.sla.Schedule(ctx, change.tasks...)
	}
	s.announce(ctx, actor, change)
	return change.conv, nil
}

func takeTeam(actor *domain.StaffMember, conv *domain.Conversation) (string, error) {
	if conv.OwnerTeamID != nil {
		if actor.InTeam(*conv.OwnerTeamID) {
			return *conv.OwnerTeamID, nil
		}
		if !actor.IsAdmin() {
			return "", apperrors.NewForbidden("only members of the owning team or admins can take this conversation")
		}
		if len(actor.TeamIDs) == 0 {
			return *conv.OwnerTeamID, nil
		}
		return actor.TeamIDs[0], nil
	}
	if len(actor.TeamIDs) == 0 {
		return "", apperrors.NewValidationError("staff member belongs to no team", map[string]any{"staff_id": actor.ID})
	}
	return actor.TeamIDs[0], nil
}

// TransferToUser hands the conversation to another member of its current team.
func (s *AssignmentService) TransferToUser(ctx context.Context, actor *domain.StaffMember, conversationID, targetStaffID string) (*domain.Conversation, error) {
	if err := requireHuman(actor); err != nil {
		return nil, err
	}
	var change ownershipChange
	op := operation{Action: "transfer_to_user", ConversationID: conversationID, ActorStaffID: staffActor(actor)}
	err := s.tx.run(ctx, op, func(repos repository.Repos) error {
		conv, err := s.transferable(ctx, repos, actor, conversationID)
		if err != nil {
			return err
		}
		target, err := loadStaff(ctx, repos, targetStaffID)
		if err != nil {
			return err
		}
		if err := eligibleTarget(target, *conv.OwnerTeamID); err != nil {
			return err
		}
		if conv.OwnedBy(target.ID) {
			return apperrors.NewConflict("target already owns the conversation", map[string]any{"staff_id": target.ID})
		}
		prev, next, tasks, err := reassign(ctx, repos, conv, handoff{
			Action: domain.HistoryActionTransfer,
			Actor:  staffActor(actor),
			SLA:    s.sla,
			To:     sessionTarget{StaffID: target.ID, TeamID: *conv.OwnerTeamID, Kind: domain.SessionKindNormal},
		}, s.now())
		if err != nil {
			return err
		}
		change = ownershipChange{conv: conv, prev: prev, next: next, action: domain.HistoryActionTransfer, tasks: tasks}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.sla != nil {
		s.sla.Schedule(ctx, change.tasks...)
	}
	s.announce(ctx, actor, change)
	return change.conv, nil
}

// TransferToTeam hands the conversation to teamID, to targetStaffID when given or
// to the least loaded eligible member otherwise.
func (s *AssignmentService) TransferToTeam(ctx context.Context, actor *domain.StaffMember, conversationID, teamID string, targetStaffID *string) (*domain.Conversation, error) {
	if err := requireHuman(actor); err != nil {
		return nil, err
	}
	var change ownershipChange
	op := operation{Action: "transfer_to_team", ConversationID: conversationID, ActorStaffID: staffActor(actor)}
	err := s.tx.run(ctx, op, func(repos repository.Repos) error {
		conv, err := s.transferable(ctx, repos, actor, conversationID)
		if err != nil {
			return err
		}
		team, err := loadTeam(ctx, repos, teamID)
		if err != nil {
			return err
		}
		if !team.IsActive {
			return apperrors.NewConflict("team inactive", map[string]any{"team_id": teamID})
		}
		var target *domain.StaffMember
		if targetStaffID != nil && *targetStaffID != "" {
			if target, err = loadStaff(ctx, repos, *targetStaffID); err != nil {
				return err
			}
			if err := eligibleTarget(target, team.ID); err != nil {
				return err
			}
		} else if target, err = s.SelectLeastLoaded(ctx, repos, team.ID, *conv.OwnerStaffID); err != nil {
			return err
		}
		if conv.OwnedBy(target.ID) && *conv.OwnerTeamID == team.ID {
			return apperrors.NewConflict("target already owns the conversation", map[string]any{"staff_id": target.ID})
		}
		prev, next, tasks, err := reassign(ctx, repos, conv, handoff{
			Action: domain.HistoryActionTransfer,
			Actor:  staffActor(actor),
			SLA:    s.sla,
			To:     sessionTarget{StaffID: target.ID, TeamID: team.ID, Kind: domain.SessionKindNormal},
		}, s.now())
		if err != nil {
			return err
		}
		change = ownershipChange{conv: conv, prev: prev, next: next, action: domain.HistoryActionTransfer, tasks: tasks}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.sla != nil {
		s.sla.Schedule(ctx, change.tasks...)
	}
	s.announce(ctx, actor, change)
	return change.conv, nil
}

// transferable loads an owned conversation the actor may hand over.
func (s *AssignmentService) transferable(ctx context.Context, repos repository.Repos, actor *domain.StaffMember, conversationID string) (*domain.Conversation, error) {
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasOwner() {
		return nil, apperrors.NewConflict("conversation is archived", map[string]any{"conversation_id": conversationID})
	}
	if !conv.OwnedBy(actor.ID) && !actor.InTeam(*conv.OwnerTeamID) && !actor.IsAdmin() {
		return nil, apperrors.NewForbidden("not allowed to transfer this conversation")
	}
	return conv, nil
}

func eligibleTarget(target *domain.StaffMember, teamID string) error {
	if !target.Active || target.Role == domain.StaffRoleBot {
		return apperrors.NewConflict("target staff member cannot own conversations", map[string]any{"staff_id": target.ID})
	}
	if !target.InTeam(teamID) {
		return apperrors.NewValidationError("target staff member is not in the team", map[string]any{
			"staff_id": target.ID,
			"team_id":  teamID,
		})
	}
	return nil
}

func requireHuman(actor *domain.StaffMember) error {
	if actor == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	if actor.Role == domain.StaffRoleBot {
		return apperrors.NewForbidden("bot accounts cannot perform this action")
	}
	return nil
}

// announce notifies the new owner and the displaced owner, skipping the actor.
func (s *AssignmentService) announce(ctx context.Context, actor *domain.StaffMember, change ownershipChange) {
	payload := events.AssignmentPayload{
		Action:    change.action,
		Kind:      change.next.Kind,
		ToStaffID: change.next.OwnerStaffID,
		ToTeamID:  change.next.OwnerTeamID,
	}
	to := []string{change.next.OwnerStaffID}
	if change.prev != nil {
		from, team := change.prev.OwnerStaffID, change.prev.OwnerTeamID
		payload.FromStaffID = &from
		payload.FromTeamID = &team
		to = append(to, from)
	}
	s.logger.Info("conversation reassigned",
		zap.String("conversation_id", change.conv.ID),
		zap.String("action", string(change.action)),
		zap.String("to_staff_id", change.next.OwnerStaffID),
		zap.String("to_team_id", change.next.OwnerTeamID))
	s.events.publish(ctx, events.Event{
		Type:           events.EventConversationAssigned,
		ConversationID: change.conv.ID,
		SessionID:      change.next.ID,
		Actor:          events.Actor{StaffID: staffActor(actor)},
		Recipients:     recipients(staffActor(actor), to...),
		Payload:        payload,
	})
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
