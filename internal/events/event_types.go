package events

import (
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventMessageReceived      EventType = "message_received"
	EventMessageSent          EventType = "message_sent"
	EventConversationAssigned EventType = "conversation_assigned"
	EventConversationArchived EventType = "conversation_archived"
	EventSessionStatusChanged EventType = "session_status_changed"
	EventFeedbackRequested    EventType = "feedback_requested"
)

// Actor identifies the staff member behind an event, nil for contact or system.
type Actor struct {
	StaffID *string `json:"staff_id,omitempty"`
}

// Event represents a domain event emitted after a committed transition.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Actor          Actor     `json:"actor"`
	Recipients     []string  `json:"-"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload"`
}

// MessagePayload describes a stored message.
type MessagePayload struct {
	MessageID   string                   `json:"message_id"`
	Direction   domain.MessageDirection  `json:"direction"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	Status      domain.MessageStatus     `json:"status"`
	BodyPreview string                   `json:"body_preview"`
}

// AssignmentPayload describes an ownership change.
type AssignmentPayload struct {
	Action      domain.HistoryAction `json:"action"`
	Kind        domain.SessionKind   `json:"kind"`
	FromStaffID *string              `json:"from_staff_id,omitempty"`
	FromTeamID  *string              `json:"from_team_id,omitempty"`
	ToStaffID   string               `json:"to_staff_id"`
	ToTeamID    string               `json:"to_team_id"`
}

// ArchivePayload describes an archive.
type ArchivePayload struct {
	Reason       string  `json:"reason"`
	FromStaffID  *string `json:"from_staff_id,omitempty"`
	WithFeedback bool    `json:"with_feedback"`
}

// SessionStatusPayload describes an SLA status change.
type SessionStatusPayload struct {
	OldStatus domain.SessionStatus `json:"old_status"`
	NewStatus domain.SessionStatus `json:"new_status"`
	Deadline  *time.Time           `json:"deadline,omitempty"`
}
