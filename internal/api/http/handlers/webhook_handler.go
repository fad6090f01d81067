package handlers

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chatdesk/internal/api/dto"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/service"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// WebhookSecretHeader carries the shared secret of the channel provider.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookHandler accepts normalized inbound deliveries.
type WebhookHandler struct {
	intake *service.IntakeService
	secret string
}

// NewWebhookHandler constructs handler. An empty secret disables the check.
func NewWebhookHandler(intake *service.IntakeService, secret string) *WebhookHandler {
	return &WebhookHandler{intake: intake, secret: secret}
}

// Inbound handles POST /webhooks/inbound.
func (h *WebhookHandler) Inbound(c *fiber.Ctx) error {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(c.Get(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		return apperrors.NewUnauthorized("invalid webhook secret")
	}
	var req dto.InboundWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req.ContactIdentity = strings.TrimSpace(req.ContactIdentity)
	if req.ContactIdentity == "" || req.ProviderMessageID == "" {
		return apperrors.NewValidationError("contact_identity and provider_message_id required", nil)
	}

	in := service.InboundMessage{
		ContactIdentity:   req.ContactIdentity,
		ProviderMessageID: req.ProviderMessageID,
		Kind:              req.Kind,
		Body:              req.Body,
		ReplyToProviderID: req.ReplyToProviderID,
		SelectionID:       req.SelectionID,
	}
	if in.Kind == "" {
		in.Kind = domain.MessageKindText
	}
	if req.Timestamp != nil {
		in.ServerTimestamp = *req.Timestamp
	}

	res, err := h.intake.Handle(c.UserContext(), in)
	if err != nil {
		return err
	}
	resp := dto.InboundWebhookResponse{Duplicate: res.Duplicate}
	if res.Conversation != nil {
		resp.ConversationID = res.Conversation.ID
	}
	if res.Session != nil {
		resp.SessionID = res.Session.ID
	}
	if res.Message != nil {
		resp.MessageID = res.Message.ID
	}
	return c.JSON(fiber.Map{"data": resp})
}
