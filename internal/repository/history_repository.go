package repository

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// HistoryRepository stores the append-only conversation timeline.
type HistoryRepository interface {
	Append(ctx context.Context, entry *domain.HistoryEntry) error
	ListByConversation(ctx context.Context, conversationID string) ([]domain.HistoryEntry, error)
}

type historyRepository struct {
	db Querier
}

// NewHistoryRepository builds repository.
func NewHistoryRepository(db Querier) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	stamp(&entry.CreatedAt)
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}
	const query = `
        INSERT INTO conversation_history (id, conversation_id, session_id, actor_staff_id, action, payload, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.ConversationID,
		entry.SessionID,
		entry.ActorStaffID,
		entry.Action,
		entry.Payload,
		entry.CreatedAt,
	)
	return mapError(err)
}

func (r *historyRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.HistoryEntry, error) {
	const query = `
        SELECT id, conversation_id, session_id, actor_staff_id, action, payload, created_at
        FROM conversation_history WHERE conversation_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ConversationID,
			&entry.SessionID,
			&entry.ActorStaffID,
			&entry.Action,
			&entry.Payload,
			&entry.CreatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		result = append(result, entry)
	}
	return result, mapError(rows.Err())
}

// AuditLogRepository stores records of aborted operations.
type AuditLogRepository interface {
	Append(ctx context.Context, log *domain.AuditLog) error
	List(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

type auditLogRepository struct {
	db Querier
}

// NewAuditLogRepository builds repository.
func NewAuditLogRepository(db Querier) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Append(ctx context.Context, log *domain.AuditLog) error {
	stamp(&log.CreatedAt)
	if log.Detail == nil {
		log.Detail = map[string]any{}
	}
	const query = `
        INSERT INTO audit_logs (id, conversation_id, actor_staff_id, attempted_action, error, detail, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, query,
		log.ID,
		log.ConversationID,
		log.ActorStaffID,
		log.AttemptedAction,
		log.Error,
		log.Detail,
		log.CreatedAt,
	)
	return mapError(err)
}

func (r *auditLogRepository) List(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
        SELECT id, conversation_id, actor_staff_id, attempted_action, error, detail, created_at
        FROM audit_logs ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.AuditLog
	for rows.Next() {
		var log domain.AuditLog
		if err := rows.Scan(
			&log.ID,
			&log.ConversationID,
			&log.ActorStaffID,
			&log.AttemptedAction,
			&log.Error,
			&log.Detail,
			&log.CreatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		result = append(result, log)
	}
	return result, mapError(rows.Err())
}
