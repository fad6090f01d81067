package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// StaffRepository handles persistence for staff members and their open conversations.
type StaffRepository interface {
	Create(ctx context.Context, staff *domain.StaffMember) error
	Update(ctx context.Context, staff *domain.StaffMember) error
	GetByID(ctx context.Context, id string) (*domain.StaffMember, error)
	GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error)
	List(ctx context.Context, filter StaffFilter) ([]domain.StaffMember, error)

	AddOpenConversation(ctx context.Context, staffID, conversationID string) error
	RemoveOpenConversation(ctx context.Context, staffID, conversationID string) error
	ListOpenConversations(ctx context.Context, staffID string) ([]string, error)
	// CountOpenConversations returns the open conversation count per staff id.
	// Members without open conversations are absent from the map.
	CountOpenConversations(ctx context.Context, staffIDs []string) (map[string]int, error)
}

// StaffFilter defines query params for staff listing.
type StaffFilter struct {
	Role   *domain.StaffRole
	TeamID *string
	Active *bool
	Limit  int
	Offset int
}

type staffRepository struct {
	db Querier
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(db Querier) StaffRepository {
	return &staffRepository{db: db}
}

const staffColumns = `id, name, email, password_hash, role, team_ids, presence, active_flag, created_at, updated_at`

func (r *staffRepository) Create(ctx context.Context, staff *domain.StaffMember) error {
	stamp(&staff.CreatedAt)
	staff.UpdatedAt = staff.CreatedAt
	if staff.TeamIDs == nil {
		staff.TeamIDs = []string{}
	}
	const query = `
        INSERT INTO staff_members (id, name, email, password_hash, role, team_ids, presence, active_flag, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := r.db.Exec(ctx, query,
		staff.ID,
		staff.Name,
		staff.Email,
		staff.PasswordHash,
		staff.Role,
		staff.TeamIDs,
		staff.Presence,
		staff.Active,
		staff.CreatedAt,
		staff.UpdatedAt,
	)
	return mapError(err)
}

func (r *staffRepository) Update(ctx context.Context, staff *domain.StaffMember) error {
	if staff.TeamIDs == nil {
		staff.TeamIDs = []string{}
	}
	const query = `
        UPDATE staff_members
        SET name=$1, email=$2, password_hash=$3, role=$4, team_ids=$5, presence=$6, active_flag=$7, updated_at=NOW()
        WHERE id=$8
        RETURNING updated_at`

	return mapError(r.db.QueryRow(ctx, query,
		staff.Name,
		staff.Email,
		staff.PasswordHash,
		staff.Role,
		staff.TeamIDs,
		staff.Presence,
		staff.Active,
		staff.ID,
	).Scan(&staff.UpdatedAt))
}

func (r *staffRepository) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE id=$1`
	var staff domain.StaffMember
	if err := scanStaff(r.db.QueryRow(ctx, query, id), &staff); err != nil {
		return nil, mapError(err)
	}
	return &staff, nil
}

func (r *staffRepository) GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE email=$1`
	var staff domain.StaffMember
	if err := scanStaff(r.db.QueryRow(ctx, query, email), &staff); err != nil {
		return nil, mapError(err)
	}
	return &staff, nil
}

func (r *staffRepository) List(ctx context.Context, filter StaffFilter) ([]domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members`
	args := []any{}
	clauses := []string{}

	if filter.Role != nil {
		args = append(args, *filter.Role)
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if filter.TeamID != nil {
		args = append(args, *filter.TeamID)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(team_ids)", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active_flag=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY created_at ASC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.StaffMember
	for rows.Next() {
		var staff domain.StaffMember
		if err := scanStaff(rows, &staff); err != nil {
			return nil, mapError(err)
		}
		result = append(result, staff)
	}
	return result, mapError(rows.Err())
}

func (r *staffRepository) AddOpenConversation(ctx context.Context, staffID, conversationID string) error {
	const query = `
        INSERT INTO staff_open_conversations (staff_id, conversation_id)
        VALUES ($1,$2) ON CONFLICT DO NOTHING`
	_, err := r.db.Exec(ctx, query, staffID, conversationID)
	return mapError(err)
}

func (r *staffRepository) RemoveOpenConversation(ctx context.Context, staffID, conversationID string) error {
	const query = `DELETE FROM staff_open_conversations WHERE staff_id=$1 AND conversation_id=$2`
	_, err := r.db.Exec(ctx, query, staffID, conversationID)
	return mapError(err)
}

func (r *staffRepository) ListOpenConversations(ctx context.Context, staffID string) ([]string, error) {
	const query = `
        SELECT conversation_id FROM staff_open_conversations
        WHERE staff_id=$1 ORDER BY added_at ASC`
	rows, err := r.db.Query(ctx, query, staffID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err())
}

func (r *staffRepository) CountOpenConversations(ctx context.Context, staffIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(staffIDs))
	if len(staffIDs) == 0 {
		return counts, nil
	}
	const query = `
        SELECT staff_id, COUNT(*) FROM staff_open_conversations
        WHERE staff_id = ANY($1) GROUP BY staff_id`
	rows, err := r.db.Query(ctx, query, staffIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, mapError(err)
		}
		counts[id] = n
	}
	return counts, mapError(rows.Err())
}

func scanStaff(row rowScanner, staff *domain.StaffMember) error {
	return row.Scan(
		&staff.ID,
		&staff.Name,
		&staff.Email,
		&staff.PasswordHash,
		&staff.Role,
		&staff.TeamIDs,
		&staff.Presence,
		&staff.Active,
		&staff.CreatedAt,
		&staff.UpdatedAt,
	)
}
