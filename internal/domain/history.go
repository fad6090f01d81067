package domain

import "time"

// HistoryAction enumerates ownership and status transitions.
type HistoryAction string

const (
	HistoryActionStart         HistoryAction = "START"
	HistoryActionReceive       HistoryAction = "RECEIVE"
	HistoryActionArchive       HistoryAction = "ARCHIVE"
	HistoryActionTransfer      HistoryAction = "TRANSFER"
	HistoryActionTakeOwnership HistoryAction = "TAKE_OWNERSHIP"
)

// HistoryEntry is an immutable conversation audit entry.
type HistoryEntry struct {
	ID             string
	ConversationID string
	SessionID      *string
	ActorStaffID   *string
	Action         HistoryAction
	Payload        map[string]any
	CreatedAt      time.Time
}

// AuditLog records an aborted operation for later investigation.
type AuditLog struct {
	ID              string
	ConversationID  *string
	ActorStaffID    *string
	AttemptedAction string
	Error           string
	Detail          map[string]any
	CreatedAt       time.Time
}
