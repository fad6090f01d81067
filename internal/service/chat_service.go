package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/schedule"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// ChatService owns the message flow of a conversation and its archive.
type ChatService struct {
	store    repository.Store
	registry *Registry
	sla      *SLAService
	out      outbound
	tx       txRunner
	events   publisher
	metrics  *observability.Metrics
	logger   *zap.Logger
	window   time.Duration
	bot      config.BotConfig
	now      Clock
	attempts int
}

// ChatDependencies bundles collaborators.
type ChatDependencies struct {
	Store       repository.Store
	Registry    *Registry
	SLA         *SLAService
	Sender      channel.Sender
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Outbound    config.OutboundConfig
	Bot         config.BotConfig
	MaxAttempts int
	Clock       Clock
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	now := clockOrDefault(deps.Clock)
	logger := loggerOrNop(deps.Logger)
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &ChatService{
		store:    deps.Store,
		registry: deps.Registry,
		sla:      deps.SLA,
		out:      outbound{sender: deps.Sender, metrics: deps.Metrics, logger: logger, now: now},
		tx:       txRunner{store: deps.Store, attempts: attempts, metrics: deps.Metrics, logger: logger, now: now},
		events:   publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
		metrics:  deps.Metrics,
		logger:   logger,
		window:   deps.Outbound.Window(),
		bot:      deps.Bot,
		now:      now,
		attempts: attempts,
	}
}

// InboundMessage is a normalized event from the channel provider.
type InboundMessage struct {
	ContactIdentity   string
	ProviderMessageID string
	Kind              domain.MessageKind
	Body              string
	ReplyToProviderID string
	SelectionID       string
	// ServerTimestamp is when the provider accepted the message. Zero means unknown.
	ServerTimestamp time.Time
}

// InboundResult describes what an inbound message did.
type InboundResult struct {
	Conversation        *domain.Conversation
	Session             *domain.Session
	Message             *domain.Message
	Duplicate           bool
	ConversationCreated bool
	SessionCreated      bool
}

// errSessionMoved signals that the session resolved before the transaction was
// replaced concurrently.
var errSessionMoved = errors.New("current session changed")

// ReceiveInbound records an inbound message: it ensures a conversation and a
// current session, stores the message, arms the SLA and marks the conversation
// open and unread. Replays of a recorded provider message id are no-ops.
func (s *ChatService) ReceiveInbound(ctx context.Context, in InboundMessage) (*InboundResult, error) {
	if strings.TrimSpace(in.ProviderMessageID) == "" {
		return nil, apperrors.NewValidationError("provider message id required", nil)
	}
	repos := s.store.Repos()
	exists, err := repos.Messages.ExistsByProviderID(ctx, in.ProviderMessageID)
	if err != nil {
		return nil, translate(err)
	}
	if exists {
		s.metrics.RecordDuplicateInbound()
		return &InboundResult{Duplicate: true}, nil
	}

	conv, convCreated, err := s.registry.GetOrCreateConversation(ctx, in.ContactIdentity)
	if err != nil {
		return nil, err
	}
	res := &InboundResult{ConversationCreated: convCreated}

	for attempt := 1; ; attempt++ {
		sess, created, err := s.registry.EnsureSession(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		res.SessionCreated = res.SessionCreated || created

		var tasks []schedule.Task
		err = s.store.WithinTx(ctx, func(repos repository.Repos) error {
			tasks = nil
			return s.recordInbound(ctx, repos, conv.ID, sess.ID, in, res, &tasks)
		})
		if err == nil {
			s.sla.Schedule(ctx, tasks...)
			break
		}
		if errors.Is(err, repository.ErrDuplicate) {
			s.metrics.RecordDuplicateInbound()
			return &InboundResult{Duplicate: true}, nil
		}
		retry := errors.Is(err, errSessionMoved) || errors.Is(err, repository.ErrConflict)
		if !retry || attempt >= s.attempts {
			op := operation{Action: "receive_inbound", ConversationID: conv.ID}
			s.tx.audit(ctx, op, err)
			if retry {
				return nil, apperrors.NewRetryable("could not record inbound message", err, map[string]any{"conversation_id": conv.ID})
			}
			return nil, translate(err)
		}
		s.metrics.RecordOwnershipRetry()
	}

	s.logger.Info("inbound message recorded",
		zap.String("conversation_id", res.Conversation.ID),
		zap.String("session_id", res.Session.ID),
		zap.String("message_id", res.Message.ID),
		zap.Bool("session_created", res.SessionCreated))

	owner := res.Session.OwnerStaffID
	if res.SessionCreated {
		s.events.publish(ctx, events.Event{
			Type:           events.EventConversationAssigned,
			ConversationID: res.Conversation.ID,
			SessionID:      res.Session.ID,
			Recipients:     recipients(nil, owner),
			Payload: events.AssignmentPayload{
				Action:    domain.HistoryActionReceive,
				Kind:      res.Session.Kind,
				ToStaffID: owner,
				ToTeamID:  res.Session.OwnerTeamID,
			},
		})
	}
	s.events.publish(ctx, events.Event{
		Type:           events.EventMessageReceived,
		ConversationID: res.Conversation.ID,
		SessionID:      res.Session.ID,
		Recipients:     recipients(nil, owner),
		Payload:        messagePayload(res.Message),
	})
	return res, nil
}

func (s *ChatService) recordInbound(ctx context.Context, repos repository.Repos, conversationID, sessionID string, in InboundMessage, res *InboundResult, tasks *[]schedule.Task) error {
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return err
	}
	if conv.CurrentSessionID == nil || *conv.CurrentSessionID != sessionID {
		return errSessionMoved
	}
	sess, err := repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	now := s.now()
	kind := in.Kind
	if kind == "" {
		kind = domain.MessageKindText
	}
	providerID := in.ProviderMessageID
	msg := &domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		SessionID:         sess.ID,
		ProviderMessageID: &providerID,
		Direction:         domain.MessageDirectionInbound,
		AuthorType:        domain.AuthorTypeContact,
		Kind:              kind,
		Body:              in.Body,
		ReplyToProviderID: optional(in.ReplyToProviderID),
		SelectionID:       optional(in.SelectionID),
		Status:            domain.MessageStatusReceived,
		CreatedAt:         now,
	}
	if sess.Kind == domain.SessionKindNormal {
		plan := s.sla.plan(ctx, repos, sess.OwnerTeamID, now)
		*tasks = append(*tasks, s.sla.messageTasks(sess, msg, plan, now)...)
		*tasks = append(*tasks, s.sla.armSession(sess, plan, now)...)
		sess.Performance.All++
		sess.Performance.OnTime++
	}
	if err := repos.Messages.Create(ctx, msg); err != nil {
		return err
	}
	msgID := msg.ID
	sess.LastInboundMessageID = &msgID
	if err := repos.Sessions.Update(ctx, sess); err != nil {
		return err
	}
	conv.LastMessageID = &msgID
	conv.HasUnread = true
	if sent := inboundSentAt(in.ServerTimestamp, now); conv.LastInboundAt == nil || sent.After(*conv.LastInboundAt) {
		conv.LastInboundAt = &sent
	}
	conv.Status = domain.ConversationStatusOpen
	if err := repos.Conversations.Update(ctx, conv); err != nil {
		return err
	}
	res.Conversation, res.Session, res.Message = conv, sess, msg
	return nil
}

// SendOutboundReply sends body to the contact on behalf of the owner. A
// successful send answers the pending deadline; a failed send is kept PENDING
// for manual resend.
func (s *ChatService) SendOutboundReply(ctx context.Context, actor *domain.StaffMember, conversationID, body string) (*domain.Message, error) {
	if err := requireHuman(actor); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body required", nil)
	}
	conv, err := loadConversation(ctx, s.store.Repos(), conversationID)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.canReply(actor, conv); err != nil {
		return nil, err
	}

	msg := s.out.deliver(ctx, conv, *conv.CurrentSessionID, author{Type: domain.AuthorTypeStaff, ID: staffActor(actor)}, channel.MessageIntent{
		Kind: domain.MessageKindText,
		Text: body,
	})
	if err := s.recordOutbound(ctx, actor, conversationID, msg, true); err != nil {
		return nil, err
	}
	s.published(ctx, actor, conv, msg)
	return msg, nil
}

// Resend retries a PENDING outbound message.
func (s *ChatService) Resend(ctx context.Context, actor *domain.StaffMember, conversationID, messageID string) (*domain.Message, error) {
	if err := requireHuman(actor); err != nil {
		return nil, err
	}
	repos := s.store.Repos()
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	msg, err := repos.Messages.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && msg.ConversationID != conv.ID) {
		return nil, apperrors.NewNotFound("message", map[string]any{"message_id": messageID})
	}
	if err != nil {
		return nil, translate(err)
	}
	if msg.Direction != domain.MessageDirectionOutbound || msg.Status != domain.MessageStatusPending {
		return nil, apperrors.NewConflict("only pending outbound messages can be resent", map[string]any{"message_id": messageID})
	}
	if err := s.canReply(actor, conv); err != nil {
		return nil, err
	}
	if !s.out.send(ctx, conv.ContactIdentity, msg) {
		if err := repos.Messages.Update(ctx, msg); err != nil {
			return nil, translate(err)
		}
		return msg, apperrors.NewDependencyError("channel", errors.New("resend failed"))
	}
	if err := s.recordOutbound(ctx, actor, conversationID, msg, false); err != nil {
		return nil, err
	}
	s.published(ctx, actor, conv, msg)
	return msg, nil
}

// inboundSentAt is the provider's send time, clamped to now. The messaging
// window runs from it.
func inboundSentAt(server, now time.Time) time.Time {
	if server.IsZero() || server.After(now) {
		return now
	}
	return server
}

// canReply enforces ownership and the provider messaging window.
func (s *ChatService) canReply(actor *domain.StaffMember, conv *domain.Conversation) error {
	if !conv.HasOwner() {
		return apperrors.NewConflict("conversation is archived", map[string]any{"conversation_id": conv.ID})
	}
	if !conv.OwnedBy(actor.ID) && !actor.IsAdmin() {
		return apperrors.NewForbidden("only the owner can reply")
	}
	if s.window > 0 {
		if conv.LastInboundAt == nil || s.now().Sub(*conv.LastInboundAt) > s.window {
			return apperrors.NewValidationError("messaging window closed", map[string]any{"conversation_id": conv.ID})
		}
	}
	return nil
}

// recordOutbound persists msg and, when it was sent, answers the current
// session: deadline cleared, status open, unread cleared.
func (s *ChatService) recordOutbound(ctx context.Context, actor *domain.StaffMember, conversationID string, msg *domain.Message, create bool) error {
	op := operation{Action: "send_outbound", ConversationID: conversationID, ActorStaffID: staffActor(actor)}
	return s.tx.run(ctx, op, func(repos repository.Repos) error {
		var err error
		if create {
			err = repos.Messages.Create(ctx, msg)
		} else {
			err = repos.Messages.Update(ctx, msg)
		}
		if err != nil {
			return err
		}
		conv, err := loadConversation(ctx, repos, conversationID)
		if err != nil {
			return err
		}
		msgID := msg.ID
		conv.LastMessageID = &msgID
		if msg.Status == domain.MessageStatusSent {
			conv.HasUnread = false
			sess, err := currentSession(ctx, repos, conv)
			if err != nil {
				return err
			}
			if sess != nil && sess.ID == msg.SessionID {
				now := s.now()
				sess.ClearDeadline()
				sess.LastAgentReplyAt = &now
				sess.LastOutboundMessageID = &msgID
				if err := repos.Sessions.Update(ctx, sess); err != nil {
					return err
				}
			}
		}
		return repos.Conversations.Update(ctx, conv)
	})
}

func (s *ChatService) published(ctx context.Context, actor *domain.StaffMember, conv *domain.Conversation, msg *domain.Message) {
	s.events.publish(ctx, events.Event{
		Type:           events.EventMessageSent,
		ConversationID: conv.ID,
		SessionID:      msg.SessionID,
		Actor:          events.Actor{StaffID: staffActor(actor)},
		Recipients:     recipients(staffActor(actor), derefString(conv.OwnerStaffID)),
		Payload:        messagePayload(msg),
	})
}

// Archive ends the current session and detaches the conversation. Only the owner
// or an admin may archive. With withFeedback the conversation moves to a
// feedback session owned by the bot account instead of detaching.
func (s *ChatService) Archive(ctx context.Context, actor *domain.StaffMember, conversationID string, withFeedback bool) (*domain.Conversation, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	if withFeedback && s.bot.StaffID == "" {
		return nil, apperrors.NewValidationError("feedback collection is not configured", nil)
	}
	var (
		conv     *domain.Conversation
		prev     *domain.Session
		feedback *domain.Session
	)
	op := operation{Action: "archive", ConversationID: conversationID, ActorStaffID: staffActor(actor)}
	err := s.tx.run(ctx, op, func(repos repository.Repos) error {
		feedback = nil
		c, err := loadConversation(ctx, repos, conversationID)
		if err != nil {
			return err
		}
		if c.IsArchived() || !c.HasOwner() {
			return apperrors.NewConflict("conversation already archived", map[string]any{"conversation_id": conversationID})
		}
		if !c.OwnedBy(actor.ID) && !actor.IsAdmin() {
			return apperrors.NewForbidden("only the owner or an admin can archive")
		}
		cur, err := currentSession(ctx, repos, c)
		if err != nil {
			return err
		}
		now := s.now()
		if err := archiveSession(ctx, repos, c, cur, staffActor(actor), "manual", now); err != nil {
			return err
		}
		if withFeedback {
			target := sessionTarget{StaffID: s.bot.StaffID, TeamID: s.bot.TeamID, Kind: domain.SessionKindFeedback}
			if feedback, err = startSession(ctx, repos, c, target, now); err != nil {
				return err
			}
			if err := repos.Conversations.Update(ctx, c); err != nil {
				return err
			}
		}
		conv, prev = c, cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation archived",
		zap.String("conversation_id", conv.ID),
		zap.String("actor_staff_id", actor.ID),
		zap.Bool("with_feedback", withFeedback))
	from := prev.OwnerStaffID
	s.events.publish(ctx, events.Event{
		Type:           events.EventConversationArchived,
		ConversationID: conv.ID,
		SessionID:      prev.ID,
		Actor:          events.Actor{StaffID: staffActor(actor)},
		Recipients:     recipients(staffActor(actor), from),
		Payload:        events.ArchivePayload{Reason: "manual", FromStaffID: &from, WithFeedback: withFeedback},
	})
	if feedback != nil {
		s.events.publish(ctx, events.Event{
			Type:           events.EventFeedbackRequested,
			ConversationID: conv.ID,
			SessionID:      feedback.ID,
			Actor:          events.Actor{StaffID: staffActor(actor)},
		})
	}
	return conv, nil
}

// GetConversation returns a conversation with its current session.
func (s *ChatService) GetConversation(ctx context.Context, actor *domain.StaffMember, conversationID string) (*domain.Conversation, *domain.Session, error) {
	repos := s.store.Repos()
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return nil, nil, translate(err)
	}
	if err := canView(actor, conv); err != nil {
		return nil, nil, err
	}
	sess, err := currentSession(ctx, repos, conv)
	if err != nil {
		return nil, nil, translate(err)
	}
	return conv, sess, nil
}

// ListMessages returns the latest messages of a conversation, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, actor *domain.StaffMember, conversationID string, limit int) ([]domain.Message, error) {
	repos := s.store.Repos()
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	if err := canView(actor, conv); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := repos.Messages.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, translate(err)
	}
	return msgs, nil
}

// ListOpen returns the conversations actor currently owns.
func (s *ChatService) ListOpen(ctx context.Context, actor *domain.StaffMember) ([]domain.Conversation, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	repos := s.store.Repos()
	ids, err := repos.Staff.ListOpenConversations(ctx, actor.ID)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]domain.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := repos.Conversations.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, *conv)
	}
	return out, nil
}

// canView allows admins, the owner and members of the owning team. Detached
// conversations are visible to every staff member.
func canView(actor *domain.StaffMember, conv *domain.Conversation) error {
	if actor == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	if actor.IsAdmin() || !conv.HasOwner() || conv.OwnedBy(actor.ID) || actor.InTeam(*conv.OwnerTeamID) {
		return nil
	}
	return apperrors.NewForbidden("access denied")
}

func messagePayload(msg *domain.Message) events.MessagePayload {
	return events.MessagePayload{
		MessageID:   msg.ID,
		Direction:   msg.Direction,
		AuthorType:  msg.AuthorType,
		Status:      msg.Status,
		BodyPreview: stringPreview(msg.Body, 120),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
