// Package channel holds the collaborators at the edge of the chat core: the
// outbound sender, the feedback sink and the reference lookup.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// ErrLookupDisabled is returned when no reference service is configured.
var ErrLookupDisabled = errors.New("reference lookup not configured")

// MessageIntent is what the core wants sent to a contact.
type MessageIntent struct {
	Kind    domain.MessageKind  `json:"kind"`
	Text    string              `json:"text"`
	Options []domain.MenuOption `json:"options,omitempty"`
}

// Sender delivers a message to a contact and returns the id the provider will
// quote when the contact replies to it.
type Sender interface {
	Send(ctx context.Context, contactIdentity string, intent MessageIntent) (string, error)
}

// FeedbackSubmission is a completed feedback survey.
type FeedbackSubmission struct {
	ConversationID  string                  `json:"conversation_id"`
	SessionID       string                  `json:"session_id"`
	ContactIdentity string                  `json:"contact_identity"`
	RatedStaffID    *string                 `json:"rated_staff_id,omitempty"`
	Answers         []domain.FeedbackAnswer `json:"answers"`
	Complete        bool                    `json:"complete"`
	SubmittedAt     time.Time               `json:"submitted_at"`
}

// FeedbackSink receives collected feedback.
type FeedbackSink interface {
	SubmitFeedback(ctx context.Context, submission FeedbackSubmission) error
}

// ReferenceResult is the outcome of a reference lookup.
type ReferenceResult struct {
	Valid bool           `json:"valid"`
	Data  map[string]any `json:"data,omitempty"`
}

// ReferenceLookup validates a reference number supplied by a contact.
type ReferenceLookup interface {
	ValidateReference(ctx context.Context, identity, referenceNo string) (ReferenceResult, error)
}
