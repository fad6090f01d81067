package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chatdesk/internal/api/dto"
	"github.com/spec-kit/chatdesk/internal/auth"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/service"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

// ConversationsHandler manages the agent-facing conversation endpoints.
type ConversationsHandler struct {
	chat    *service.ChatService
	assign  *service.AssignmentService
	history *service.HistoryService
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(chat *service.ChatService, assign *service.AssignmentService, history *service.HistoryService) *ConversationsHandler {
	return &ConversationsHandler{chat: chat, assign: assign, history: history}
}

// ListOpen GET /conversations.
func (h *ConversationsHandler) ListOpen(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	convs, err := h.chat.ListOpen(c.UserContext(), staff)
	if err != nil {
		return err
	}
	items := make([]dto.ConversationSummary, 0, len(convs))
	for i := range convs {
		items = append(items, conversationSummary(&convs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /conversations/:id.
func (h *ConversationsHandler) Get(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	conv, sess, err := h.chat.GetConversation(c.UserContext(), staff, c.Params("id"))
	if err != nil {
		return err
	}
	resp := dto.ConversationDetailResponse{ConversationSummary: conversationSummary(conv)}
	if sess != nil {
		resp.Session = &dto.SessionResponse{
			ID:               sess.ID,
			Kind:             sess.Kind,
			Status:           sess.Status,
			OwnerStaffID:     sess.OwnerStaffID,
			OwnerTeamID:      sess.OwnerTeamID,
			StartedAt:        sess.StartedAt,
			ResponseDeadline: sess.ResponseDeadline,
			Performance:      sess.Performance,
		}
	}
	return c.JSON(fiber.Map{"data": resp})
}

// ListMessages GET /conversations/:id/messages.
func (h *ConversationsHandler) ListMessages(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	msgs, err := h.chat.ListMessages(c.UserContext(), staff, c.Params("id"), parseIntQuery(c, "limit", 100))
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, messageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Reply POST /conversations/:id/messages.
func (h *ConversationsHandler) Reply(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Body) == "" {
		return apperrors.NewValidationError("body required", nil)
	}
	msg, err := h.chat.SendOutboundReply(c.UserContext(), staff, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if msg.Status == domain.MessageStatusPending {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": messageResponse(msg)})
}

// Resend POST /conversations/:id/messages/:messageId/resend.
func (h *ConversationsHandler) Resend(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	msg, err := h.chat.Resend(c.UserContext(), staff, c.Params("id"), c.Params("messageId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": messageResponse(msg)})
}

// Archive POST /conversations/:id/archive.
func (h *ConversationsHandler) Archive(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ArchiveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	conv, err := h.chat.Archive(c.UserContext(), staff, c.Params("id"), req.WithFeedback)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": conversationSummary(conv)})
}

// Take POST /conversations/:id/take.
func (h *ConversationsHandler) Take(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	conv, err := h.assign.TakeOwnership(c.UserContext(), staff, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": conversationSummary(conv)})
}

// TransferToUser POST /conversations/:id/transfer/user.
func (h *ConversationsHandler) TransferToUser(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.TransferUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.StaffID == "" {
		return apperrors.NewValidationError("staff_id required", nil)
	}
	conv, err := h.assign.TransferToUser(c.UserContext(), staff, c.Params("id"), req.StaffID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": conversationSummary(conv)})
}

// TransferToTeam POST /conversations/:id/transfer/team.
func (h *ConversationsHandler) TransferToTeam(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	var req dto.TransferTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TeamID == "" {
		return apperrors.NewValidationError("team_id required", nil)
	}
	if req.StaffID != nil && *req.StaffID == "" {
		req.StaffID = nil
	}
	conv, err := h.assign.TransferToTeam(c.UserContext(), staff, c.Params("id"), req.TeamID, req.StaffID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": conversationSummary(conv)})
}

// History GET /conversations/:id/history.
func (h *ConversationsHandler) History(c *fiber.Ctx) error {
	staff, err := auth.StaffFromContext(c)
	if err != nil {
		return err
	}
	entries, err := h.history.Timeline(c.UserContext(), staff, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.TimelineEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, timelineResponse(e))
	}
	return c.JSON(fiber.Map{"data": items})
}

func conversationSummary(conv *domain.Conversation) dto.ConversationSummary {
	return dto.ConversationSummary{
		ID:               conv.ID,
		ContactIdentity:  conv.ContactIdentity,
		Status:           conv.Status,
		OwnerStaffID:     conv.OwnerStaffID,
		OwnerTeamID:      conv.OwnerTeamID,
		CurrentSessionID: conv.CurrentSessionID,
		HasUnread:        conv.HasUnread,
		LastInboundAt:    conv.LastInboundAt,
		UpdatedAt:        conv.UpdatedAt,
	}
}

func messageResponse(msg *domain.Message) dto.MessageResponse {
	return dto.MessageResponse{
		ID:                msg.ID,
		SessionID:         msg.SessionID,
		ProviderMessageID: msg.ProviderMessageID,
		Direction:         msg.Direction,
		AuthorType:        msg.AuthorType,
		AuthorID:          msg.AuthorID,
		Kind:              msg.Kind,
		Body:              msg.Body,
		Options:           msg.Options,
		Status:            msg.Status,
		ResponseDeadline:  msg.ResponseDeadline,
		CreatedAt:         msg.CreatedAt,
	}
}

func timelineResponse(e service.TimelineEntry) dto.TimelineEntryResponse {
	return dto.TimelineEntryResponse{
		ID:           e.ID,
		Action:       e.Action,
		ActorStaffID: e.ActorStaffID,
		SessionID:    e.SessionID,
		Payload:      e.Payload,
		Repeats:      e.Repeats,
		CreatedAt:    e.CreatedAt,
	}
}
