package domain

import "time"

// SessionKind distinguishes human, bot and feedback ownership periods.
type SessionKind string

const (
	SessionKindNormal   SessionKind = "NORMAL"
	SessionKindBot      SessionKind = "BOT"
	SessionKindFeedback SessionKind = "FEEDBACK"
)

// SessionStatus tracks SLA progress of an ownership period.
type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "OPEN"
	SessionStatusOnTime   SessionStatus = "ON_TIME"
	SessionStatusDanger   SessionStatus = "DANGER"
	SessionStatusTooLate  SessionStatus = "TOO_LATE"
	SessionStatusFinished SessionStatus = "FINISHED"
)

// BotDialogState guards the scripted dialog against duplicate processing.
type BotDialogState string

const (
	BotDialogNone       BotDialogState = "NONE"
	BotDialogWelcome    BotDialogState = "WELCOME"
	BotDialogNormal     BotDialogState = "NORMAL"
	BotDialogProceeding BotDialogState = "PROCEEDING"
	BotDialogError      BotDialogState = "ERROR"
)

// BotPromptKind identifies what a bot prompt is waiting for.
type BotPromptKind string

const (
	BotPromptMenu      BotPromptKind = "MENU"
	BotPromptReference BotPromptKind = "REFERENCE"
	BotPromptFeedback  BotPromptKind = "FEEDBACK"
)

// BotPrompt is the last prompt the bot sent and the replies it accepts.
type BotPrompt struct {
	Kind              BotPromptKind `json:"kind"`
	NodeID            string        `json:"node_id"`
	ProviderMessageID string        `json:"provider_message_id"`
	ValidReplyIDs     []string      `json:"valid_reply_ids,omitempty"`
	SentAt            time.Time     `json:"sent_at"`
}

// Accepts reports whether a reply to providerMessageID with selectionID answers this prompt.
func (p *BotPrompt) Accepts(providerMessageID, selectionID string) bool {
	if p == nil || p.ProviderMessageID == "" || p.ProviderMessageID != providerMessageID {
		return false
	}
	for _, id := range p.ValidReplyIDs {
		if id == selectionID {
			return true
		}
	}
	return false
}

// PerformanceCounters counts inbound messages by how fast they were answered.
type PerformanceCounters struct {
	All     int `json:"all"`
	OnTime  int `json:"on_time"`
	Danger  int `json:"danger"`
	TooLate int `json:"too_late"`
}

// FeedbackAnswer is one rating collected by the feedback dialog.
type FeedbackAnswer struct {
	QuestionID string    `json:"question_id"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Session is an ownership period of a conversation.
type Session struct {
	ID                    string
	ConversationID        string
	OwnerStaffID          string
	OwnerTeamID           string
	Kind                  SessionKind
	Status                SessionStatus
	StartedAt             time.Time
	EndedAt               *time.Time
	ResponseDeadline      *time.Time
	BotDeadline           *time.Time
	BotDialogState        BotDialogState
	ReferenceRequired     bool
	ReferenceValue        *string
	Performance           PerformanceCounters
	FeedbackAnswers       []FeedbackAnswer
	PendingReminder       bool
	Prompt                *BotPrompt
	LastAgentReplyAt      *time.Time
	LastInboundMessageID  *string
	LastOutboundMessageID *string
	Version               int64
	UpdatedAt             time.Time
}

// IsFinished reports whether the period has ended.
func (s *Session) IsFinished() bool {
	return s.Status == SessionStatusFinished
}

// UnderSLA reports whether a deadline is currently being tracked.
func (s *Session) UnderSLA() bool {
	switch s.Status {
	case SessionStatusOnTime, SessionStatusDanger, SessionStatusTooLate:
		return true
	}
	return false
}

// IsAutomated reports whether the bot drives this period.
func (s *Session) IsAutomated() bool {
	return s.Kind == SessionKindBot || s.Kind == SessionKindFeedback
}

// TrackedDeadline returns the deadline the SLA timers are keyed on.
func (s *Session) TrackedDeadline() *time.Time {
	if s.IsAutomated() {
		return s.BotDeadline
	}
	return s.ResponseDeadline
}

// ClearDeadline marks the period answered.
func (s *Session) ClearDeadline() {
	if s.IsFinished() {
		return
	}
	s.ResponseDeadline = nil
	s.BotDeadline = nil
	s.PendingReminder = false
	s.Status = SessionStatusOpen
}

// Finish ends the period at now.
func (s *Session) Finish(now time.Time) {
	s.Status = SessionStatusFinished
	s.EndedAt = &now
	s.ResponseDeadline = nil
	s.BotDeadline = nil
	s.PendingReminder = false
	s.ReferenceRequired = false
	s.Prompt = nil
}
