package repository

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// TeamRepository manages teams and their service-hours calendars.
type TeamRepository interface {
	Create(ctx context.Context, team *domain.Team) error
	Update(ctx context.Context, team *domain.Team) error
	GetByID(ctx context.Context, id string) (*domain.Team, error)
	List(ctx context.Context) ([]domain.Team, error)
}

type teamRepository struct {
	db Querier
}

// NewTeamRepository builds repository.
func NewTeamRepository(db Querier) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) Create(ctx context.Context, team *domain.Team) error {
	stamp(&team.CreatedAt)
	team.UpdatedAt = team.CreatedAt
	const query = `
        INSERT INTO teams (id, name, description, is_active, calendar, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, query,
		team.ID,
		team.Name,
		team.Description,
		team.IsActive,
		team.Calendar,
		team.CreatedAt,
		team.UpdatedAt,
	)
	return mapError(err)
}

func (r *teamRepository) Update(ctx context.Context, team *domain.Team) error {
	const query = `
        UPDATE teams SET name=$1, description=$2, is_active=$3, calendar=$4, updated_at=NOW()
        WHERE id=$5
        RETURNING updated_at`
	return mapError(r.db.QueryRow(ctx, query,
		team.Name,
		team.Description,
		team.IsActive,
		team.Calendar,
		team.ID,
	).Scan(&team.UpdatedAt))
}

func (r *teamRepository) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	const query = `
        SELECT id, name, description, is_active, calendar, created_at, updated_at
        FROM teams WHERE id=$1`
	var team domain.Team
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&team.ID,
		&team.Name,
		&team.Description,
		&team.IsActive,
		&team.Calendar,
		&team.CreatedAt,
		&team.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	return &team, nil
}

func (r *teamRepository) List(ctx context.Context) ([]domain.Team, error) {
	const query = `
        SELECT id, name, description, is_active, calendar, created_at, updated_at
        FROM teams ORDER BY name ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.Team
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(
			&team.ID,
			&team.Name,
			&team.Description,
			&team.IsActive,
			&team.Calendar,
			&team.CreatedAt,
			&team.UpdatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		result = append(result, team)
	}
	return result, mapError(rows.Err())
}
