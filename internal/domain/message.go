package domain

import "time"

// MessageDirection marks inbound vs outbound traffic.
type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "INBOUND"
	MessageDirectionOutbound MessageDirection = "OUTBOUND"
)

// MessageAuthorType identifies who wrote the message.
type MessageAuthorType string

const (
	AuthorTypeContact MessageAuthorType = "CONTACT"
	AuthorTypeStaff   MessageAuthorType = "STAFF"
	AuthorTypeBot     MessageAuthorType = "BOT"
	AuthorTypeSystem  MessageAuthorType = "SYSTEM"
)

// MessageKind is the normalized channel message kind.
type MessageKind string

const (
	MessageKindText        MessageKind = "TEXT"
	MessageKindInteractive MessageKind = "INTERACTIVE"
	MessageKindMenu        MessageKind = "MENU"
	MessageKindMedia       MessageKind = "MEDIA"
)

// MessageStatus tracks delivery of a message.
type MessageStatus string

const (
	MessageStatusReceived MessageStatus = "RECEIVED"
	MessageStatusSent     MessageStatus = "SENT"
	MessageStatusPending  MessageStatus = "PENDING"
)

// Message is a single chat message in a conversation.
type Message struct {
	ID                string
	ConversationID    string
	SessionID         string
	ProviderMessageID *string
	Direction         MessageDirection
	AuthorType        MessageAuthorType
	AuthorID          *string
	Kind              MessageKind
	Body              string
	Options           []MenuOption
	ReplyToProviderID *string
	SelectionID       *string
	Status            MessageStatus
	ResponseDeadline  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MenuOption is a selectable entry of an interactive message.
type MenuOption struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}
