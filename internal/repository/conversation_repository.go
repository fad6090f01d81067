package repository

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// ConversationRepository persists conversations with optimistic versioning.
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	// Update writes conv if its Version still matches the stored row, then bumps it.
	Update(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	GetByContact(ctx context.Context, contactIdentity string) (*domain.Conversation, error)
}

type conversationRepository struct {
	db Querier
}

// NewConversationRepository instantiates the repository.
func NewConversationRepository(db Querier) ConversationRepository {
	return &conversationRepository{db: db}
}

const conversationColumns = `id, contact_identity, status, owner_staff_id, owner_team_id, current_session_id,
        last_message_id, has_unread, last_inbound_at, version, created_at, updated_at`

func (r *conversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	stamp(&conv.CreatedAt)
	conv.UpdatedAt = conv.CreatedAt
	conv.Version = 1

	const query = `
        INSERT INTO conversations (id, contact_identity, status, owner_staff_id, owner_team_id, current_session_id,
            last_message_id, has_unread, last_inbound_at, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.db.Exec(ctx, query,
		conv.ID,
		conv.ContactIdentity,
		conv.Status,
		conv.OwnerStaffID,
		conv.OwnerTeamID,
		conv.CurrentSessionID,
		conv.LastMessageID,
		conv.HasUnread,
		conv.LastInboundAt,
		conv.Version,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	return mapError(err)
}

func (r *conversationRepository) Update(ctx context.Context, conv *domain.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	const query = `
        UPDATE conversations
        SET status=$1, owner_staff_id=$2, owner_team_id=$3, current_session_id=$4, last_message_id=$5,
            has_unread=$6, last_inbound_at=$7, version=version+1, updated_at=NOW()
        WHERE id=$8 AND version=$9
        RETURNING version, updated_at`
	err := r.db.QueryRow(ctx, query,
		conv.Status,
		conv.OwnerStaffID,
		conv.OwnerTeamID,
		conv.CurrentSessionID,
		conv.LastMessageID,
		conv.HasUnread,
		conv.LastInboundAt,
		conv.ID,
		conv.Version,
	).Scan(&conv.Version, &conv.UpdatedAt)
	return versionedError(err)
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	return r.scanOne(ctx, query, id)
}

func (r *conversationRepository) GetByContact(ctx context.Context, contactIdentity string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE contact_identity=$1`
	return r.scanOne(ctx, query, contactIdentity)
}

func (r *conversationRepository) scanOne(ctx context.Context, query string, arg any) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&conv.ID,
		&conv.ContactIdentity,
		&conv.Status,
		&conv.OwnerStaffID,
		&conv.OwnerTeamID,
		&conv.CurrentSessionID,
		&conv.LastMessageID,
		&conv.HasUnread,
		&conv.LastInboundAt,
		&conv.Version,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	return &conv, nil
}
