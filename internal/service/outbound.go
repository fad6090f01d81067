package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/observability"
)

// outbound hands message intents to the channel sender and builds the message
// record. Failed sends yield a PENDING record for manual resend; the caller
// persists the record.
type outbound struct {
	sender  channel.Sender
	metrics *observability.Metrics
	logger  *zap.Logger
	now     Clock
}

type author struct {
	Type domain.MessageAuthorType
	ID   *string
}

func (o outbound) deliver(ctx context.Context, conv *domain.Conversation, sessionID string, by author, intent channel.MessageIntent) *domain.Message {
	now := o.now()
	kind := intent.Kind
	if kind == "" {
		kind = domain.MessageKindText
	}
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SessionID:      sessionID,
		Direction:      domain.MessageDirectionOutbound,
		AuthorType:     by.Type,
		AuthorID:       by.ID,
		Kind:           kind,
		Body:           intent.Text,
		Options:        intent.Options,
		Status:         domain.MessageStatusSent,
		CreatedAt:      now,
	}
	o.send(ctx, conv.ContactIdentity, msg)
	return msg
}

// send transmits msg and updates its status and provider id in place.
func (o outbound) send(ctx context.Context, contact string, msg *domain.Message) bool {
	intent := channel.MessageIntent{Kind: msg.Kind, Text: msg.Body, Options: msg.Options}
	providerID, err := o.sender.Send(ctx, contact, intent)
	if err != nil {
		msg.Status = domain.MessageStatusPending
		o.metrics.RecordOutboundFailure()
		o.logger.Warn("outbound send failed, message kept pending",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return false
	}
	msg.Status = domain.MessageStatusSent
	if providerID != "" {
		msg.ProviderMessageID = &providerID
	}
	return true
}
