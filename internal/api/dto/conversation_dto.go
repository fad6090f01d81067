package dto

import (
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// InboundWebhookRequest is the normalized provider delivery.
type InboundWebhookRequest struct {
	ContactIdentity   string             `json:"contact_identity"`
	ProviderMessageID string             `json:"provider_message_id"`
	Kind              domain.MessageKind `json:"kind"`
	Body              string             `json:"body"`
	ReplyToProviderID string             `json:"reply_to_provider_id"`
	SelectionID       string             `json:"selection_id"`
	Timestamp         *time.Time         `json:"timestamp"`
}

// InboundWebhookResponse acknowledges a delivery.
type InboundWebhookResponse struct {
	Duplicate      bool   `json:"duplicate"`
	ConversationID string `json:"conversation_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// ReplyRequest payload for agent replies.
type ReplyRequest struct {
	Body string `json:"body"`
}

// ArchiveRequest payload.
type ArchiveRequest struct {
	WithFeedback bool `json:"with_feedback"`
}

// TransferUserRequest payload.
type TransferUserRequest struct {
	StaffID string `json:"staff_id"`
}

// TransferTeamRequest payload. StaffID is optional; the least loaded member is
// picked when it is empty.
type TransferTeamRequest struct {
	TeamID  string  `json:"team_id"`
	StaffID *string `json:"staff_id"`
}

// ConversationSummary response.
type ConversationSummary struct {
	ID               string                    `json:"id"`
	ContactIdentity  string                    `json:"contact_identity"`
	Status           domain.ConversationStatus `json:"status"`
	OwnerStaffID     *string                   `json:"owner_staff_id"`
	OwnerTeamID      *string                   `json:"owner_team_id"`
	CurrentSessionID *string                   `json:"current_session_id"`
	HasUnread        bool                      `json:"has_unread"`
	LastInboundAt    *time.Time                `json:"last_inbound_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// SessionResponse describes the current ownership period.
type SessionResponse struct {
	ID               string                     `json:"id"`
	Kind             domain.SessionKind         `json:"kind"`
	Status           domain.SessionStatus       `json:"status"`
	OwnerStaffID     string                     `json:"owner_staff_id"`
	OwnerTeamID      string                     `json:"owner_team_id"`
	StartedAt        time.Time                  `json:"started_at"`
	ResponseDeadline *time.Time                 `json:"response_deadline"`
	Performance      domain.PerformanceCounters `json:"performance"`
}

// ConversationDetailResponse bundles a conversation with its current session.
type ConversationDetailResponse struct {
	ConversationSummary
	Session *SessionResponse `json:"session"`
}

// MessageResponse represents one message of the thread.
type MessageResponse struct {
	ID                string                   `json:"id"`
	SessionID         string                   `json:"session_id"`
	ProviderMessageID *string                  `json:"provider_message_id"`
	Direction         domain.MessageDirection  `json:"direction"`
	AuthorType        domain.MessageAuthorType `json:"author_type"`
	AuthorID          *string                  `json:"author_id"`
	Kind              domain.MessageKind       `json:"kind"`
	Body              string                   `json:"body"`
	Options           []domain.MenuOption      `json:"options,omitempty"`
	Status            domain.MessageStatus     `json:"status"`
	ResponseDeadline  *time.Time               `json:"response_deadline,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
}

// TimelineEntryResponse is a collapsed history entry.
type TimelineEntryResponse struct {
	ID           string               `json:"id"`
	Action       domain.HistoryAction `json:"action"`
	ActorStaffID *string              `json:"actor_staff_id"`
	SessionID    *string              `json:"session_id"`
	Payload      map[string]any       `json:"payload,omitempty"`
	Repeats      int                  `json:"repeats"`
	CreatedAt    time.Time            `json:"created_at"`
}
