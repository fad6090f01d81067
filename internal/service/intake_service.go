package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/dedupe"
	"github.com/spec-kit/chatdesk/internal/observability"
)

// IntakeService is the entry point for provider webhooks. It drops replays
// before they reach the store and hands bot-owned messages to the bot.
type IntakeService struct {
	guard   dedupe.Guard
	chat    *ChatService
	bot     *BotService
	metrics *observability.Metrics
	logger  *zap.Logger
}

// IntakeDependencies bundles collaborators.
type IntakeDependencies struct {
	Guard   dedupe.Guard
	Chat    *ChatService
	Bot     *BotService
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewIntakeService builds the service.
func NewIntakeService(deps IntakeDependencies) *IntakeService {
	return &IntakeService{
		guard:   deps.Guard,
		chat:    deps.Chat,
		bot:     deps.Bot,
		metrics: deps.Metrics,
		logger:  loggerOrNop(deps.Logger),
	}
}

// Handle records one inbound delivery. The guard is consulted first and
// marked only after the store accepted the message; a failed guard lookup
// falls through to the store, which rejects replays on the provider message id.
func (s *IntakeService) Handle(ctx context.Context, in InboundMessage) (*InboundResult, error) {
	key := "inbound:" + in.ProviderMessageID
	guarded := s.guard != nil && in.ProviderMessageID != ""
	if guarded {
		seen, err := s.guard.Seen(ctx, key)
		if err != nil {
			s.logger.Warn("dedupe guard unavailable", zap.String("provider_message_id", in.ProviderMessageID), zap.Error(err))
		} else if seen {
			s.metrics.RecordDuplicateInbound()
			s.logger.Debug("duplicate delivery dropped", zap.String("provider_message_id", in.ProviderMessageID))
			return &InboundResult{Duplicate: true}, nil
		}
	}

	res, err := s.chat.ReceiveInbound(ctx, in)
	if err != nil {
		return nil, err
	}
	if guarded {
		if err := s.guard.Mark(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("dedupe guard mark failed", zap.String("provider_message_id", in.ProviderMessageID), zap.Error(err))
		}
	}
	if s.bot != nil && !res.Duplicate && res.Session != nil && res.Session.IsAutomated() {
		if err := s.bot.HandleInbound(ctx, res); err != nil {
			s.logger.Error("bot failed to answer",
				zap.String("conversation_id", res.Conversation.ID),
				zap.String("session_id", res.Session.ID),
				zap.Error(err))
		}
	}
	return res, nil
}
