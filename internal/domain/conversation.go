package domain

import (
	"errors"
	"time"
)

// ConversationStatus is the archive state of a conversation.
type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "OPEN"
	ConversationStatusArchived ConversationStatus = "ARCHIVED"
)

// ErrOwnershipMismatch is returned when owner, team and current session are not set together.
var ErrOwnershipMismatch = errors.New("conversation owner, team and session must be set together")

// Conversation is the single thread kept per external contact.
type Conversation struct {
	ID               string
	ContactIdentity  string
	Status           ConversationStatus
	OwnerStaffID     *string
	OwnerTeamID      *string
	CurrentSessionID *string
	LastMessageID    *string
	HasUnread        bool
	LastInboundAt    *time.Time
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks the ownership triple invariant.
func (c *Conversation) Validate() error {
	set := 0
	for _, v := range []*string{c.OwnerStaffID, c.OwnerTeamID, c.CurrentSessionID} {
		if v != nil {
			set++
		}
	}
	if set != 0 && set != 3 {
		return ErrOwnershipMismatch
	}
	return nil
}

// HasOwner reports whether a current session is attached.
func (c *Conversation) HasOwner() bool {
	return c.CurrentSessionID != nil
}

// IsArchived reports whether the conversation is archived.
func (c *Conversation) IsArchived() bool {
	return c.Status == ConversationStatusArchived
}

// Attach makes s the current session and copies its ownership.
func (c *Conversation) Attach(s *Session) {
	staffID, teamID, sessionID := s.OwnerStaffID, s.OwnerTeamID, s.ID
	c.OwnerStaffID = &staffID
	c.OwnerTeamID = &teamID
	c.CurrentSessionID = &sessionID
	c.Status = ConversationStatusOpen
}

// Detach clears ownership and archives the conversation.
func (c *Conversation) Detach() {
	c.OwnerStaffID = nil
	c.OwnerTeamID = nil
	c.CurrentSessionID = nil
	c.Status = ConversationStatusArchived
}

// OwnedBy reports whether staffID owns the conversation.
func (c *Conversation) OwnedBy(staffID string) bool {
	return c.OwnerStaffID != nil && *c.OwnerStaffID == staffID
}
