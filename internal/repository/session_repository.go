package repository

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// SessionRepository persists ownership periods with optimistic versioning.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	Update(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Session, error)
	// ListTracked returns unfinished sessions that carry a deadline.
	ListTracked(ctx context.Context) ([]domain.Session, error)
}

type sessionRepository struct {
	db Querier
}

// NewSessionRepository instantiates the repository.
func NewSessionRepository(db Querier) SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, conversation_id, owner_staff_id, owner_team_id, kind, status, started_at, ended_at,
        response_deadline, bot_deadline, bot_dialog_state, reference_required, reference_value, performance,
        feedback_answers, pending_reminder, prompt, last_agent_reply_at, last_inbound_message_id,
        last_outbound_message_id, version, updated_at`

func (r *sessionRepository) Create(ctx context.Context, s *domain.Session) error {
	stamp(&s.StartedAt)
	s.UpdatedAt = s.StartedAt
	s.Version = 1
	if s.FeedbackAnswers == nil {
		s.FeedbackAnswers = []domain.FeedbackAnswer{}
	}

	const query = `
        INSERT INTO sessions (id, conversation_id, owner_staff_id, owner_team_id, kind, status, started_at, ended_at,
            response_deadline, bot_deadline, bot_dialog_state, reference_required, reference_value, performance,
            feedback_answers, pending_reminder, prompt, last_agent_reply_at, last_inbound_message_id,
            last_outbound_message_id, version, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`
	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.ConversationID,
		s.OwnerStaffID,
		s.OwnerTeamID,
		s.Kind,
		s.Status,
		s.StartedAt,
		s.EndedAt,
		s.ResponseDeadline,
		s.BotDeadline,
		s.BotDialogState,
		s.ReferenceRequired,
		s.ReferenceValue,
		s.Performance,
		s.FeedbackAnswers,
		s.PendingReminder,
		s.Prompt,
		s.LastAgentReplyAt,
		s.LastInboundMessageID,
		s.LastOutboundMessageID,
		s.Version,
		s.UpdatedAt,
	)
	return mapError(err)
}

func (r *sessionRepository) Update(ctx context.Context, s *domain.Session) error {
	if s.FeedbackAnswers == nil {
		s.FeedbackAnswers = []domain.FeedbackAnswer{}
	}
	const query = `
        UPDATE sessions
        SET owner_staff_id=$1, owner_team_id=$2, status=$3, ended_at=$4, response_deadline=$5, bot_deadline=$6,
            bot_dialog_state=$7, reference_required=$8, reference_value=$9, performance=$10, feedback_answers=$11,
            pending_reminder=$12, prompt=$13, last_agent_reply_at=$14, last_inbound_message_id=$15,
            last_outbound_message_id=$16, version=version+1, updated_at=NOW()
        WHERE id=$17 AND version=$18
        RETURNING version, updated_at`
	err := r.db.QueryRow(ctx, query,
		s.OwnerStaffID,
		s.OwnerTeamID,
		s.Status,
		s.EndedAt,
		s.ResponseDeadline,
		s.BotDeadline,
		s.BotDialogState,
		s.ReferenceRequired,
		s.ReferenceValue,
		s.Performance,
		s.FeedbackAnswers,
		s.PendingReminder,
		s.Prompt,
		s.LastAgentReplyAt,
		s.LastInboundMessageID,
		s.LastOutboundMessageID,
		s.ID,
		s.Version,
	).Scan(&s.Version, &s.UpdatedAt)
	return versionedError(err)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id=$1`
	var s domain.Session
	if err := scanSession(r.db.QueryRow(ctx, query, id), &s); err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (r *sessionRepository) ListByConversation(ctx context.Context, conversationID string) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE conversation_id=$1 ORDER BY started_at ASC`
	return r.list(ctx, query, conversationID)
}

func (r *sessionRepository) ListTracked(ctx context.Context) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
        WHERE status <> 'FINISHED' AND (response_deadline IS NOT NULL OR bot_deadline IS NOT NULL)`
	return r.list(ctx, query)
}

func (r *sessionRepository) list(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, mapError(err)
		}
		result = append(result, s)
	}
	return result, mapError(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, s *domain.Session) error {
	return row.Scan(
		&s.ID,
		&s.ConversationID,
		&s.OwnerStaffID,
		&s.OwnerTeamID,
		&s.Kind,
		&s.Status,
		&s.StartedAt,
		&s.EndedAt,
		&s.ResponseDeadline,
		&s.BotDeadline,
		&s.BotDialogState,
		&s.ReferenceRequired,
		&s.ReferenceValue,
		&s.Performance,
		&s.FeedbackAnswers,
		&s.PendingReminder,
		&s.Prompt,
		&s.LastAgentReplyAt,
		&s.LastInboundMessageID,
		&s.LastOutboundMessageID,
		&s.Version,
		&s.UpdatedAt,
	)
}
