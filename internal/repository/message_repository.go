package repository

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// MessageRepository persists chat messages. Provider message ids are unique.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	Update(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ExistsByProviderID(ctx context.Context, providerMessageID string) (bool, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

type messageRepository struct {
	db Querier
}

// NewMessageRepository instantiates the repository.
func NewMessageRepository(db Querier) MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, conversation_id, session_id, provider_message_id, direction, author_type, author_id,
        kind, body, options, reply_to_provider_id, selection_id, status, response_deadline, created_at, updated_at`

func (r *messageRepository) Create(ctx context.Context, m *domain.Message) error {
	stamp(&m.CreatedAt)
	m.UpdatedAt = m.CreatedAt
	if m.Options == nil {
		m.Options = []domain.MenuOption{}
	}
	const query = `
        INSERT INTO messages (id, conversation_id, session_id, provider_message_id, direction, author_type, author_id,
            kind, body, options, reply_to_provider_id, selection_id, status, response_deadline, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.db.Exec(ctx, query,
		m.ID,
		m.ConversationID,
		m.SessionID,
		m.ProviderMessageID,
		m.Direction,
		m.AuthorType,
		m.AuthorID,
		m.Kind,
		m.Body,
		m.Options,
		m.ReplyToProviderID,
		m.SelectionID,
		m.Status,
		m.ResponseDeadline,
		m.CreatedAt,
		m.UpdatedAt,
	)
	return mapError(err)
}

func (r *messageRepository) Update(ctx context.Context, m *domain.Message) error {
	const query = `
        UPDATE messages SET provider_message_id=$1, status=$2, response_deadline=$3, updated_at=NOW()
        WHERE id=$4
        RETURNING updated_at`
	return mapError(r.db.QueryRow(ctx, query, m.ProviderMessageID, m.Status, m.ResponseDeadline, m.ID).Scan(&m.UpdatedAt))
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	var m domain.Message
	if err := scanMessage(r.db.QueryRow(ctx, query, id), &m); err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

func (r *messageRepository) ExistsByProviderID(ctx context.Context, providerMessageID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM messages WHERE provider_message_id=$1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, providerMessageID).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT * FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2
        ) recent ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, mapError(err)
		}
		result = append(result, m)
	}
	return result, mapError(rows.Err())
}

func scanMessage(row rowScanner, m *domain.Message) error {
	return row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SessionID,
		&m.ProviderMessageID,
		&m.Direction,
		&m.AuthorType,
		&m.AuthorID,
		&m.Kind,
		&m.Body,
		&m.Options,
		&m.ReplyToProviderID,
		&m.SelectionID,
		&m.Status,
		&m.ResponseDeadline,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
}
