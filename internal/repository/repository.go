package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when an optimistic write lost against a concurrent one.
	ErrConflict = errors.New("repository: write conflict")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("repository: duplicate key")
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repos bundles every repository bound to one connection or transaction.
type Repos struct {
	Conversations ConversationRepository
	Sessions      SessionRepository
	Messages      MessageRepository
	History       HistoryRepository
	Staff         StaffRepository
	Teams         TeamRepository
	AuditLogs     AuditLogRepository
}

// Store hands out repositories and runs atomic units of work.
type Store interface {
	Repos() Repos
	// WithinTx runs fn in one transaction. Any error from fn rolls back every write
	// made through the Repos it received.
	WithinTx(ctx context.Context, fn func(Repos) error) error
}

// NewRepos binds all repositories to db.
func NewRepos(db Querier) Repos {
	return Repos{
		Conversations: NewConversationRepository(db),
		Sessions:      NewSessionRepository(db),
		Messages:      NewMessageRepository(db),
		History:       NewHistoryRepository(db),
		Staff:         NewStaffRepository(db),
		Teams:         NewTeamRepository(db),
		AuditLogs:     NewAuditLogRepository(db),
	}
}

// PostgresStore is the pgx backed Store.
type PostgresStore struct {
	pool  *pgxpool.Pool
	repos Repos
}

// NewPostgresStore builds a store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, repos: NewRepos(pool)}
}

func (s *PostgresStore) Repos() Repos {
	return s.repos
}

// WithinTx runs fn in a REPEATABLE READ transaction so concurrent writers of the
// same rows fail with a serialization error instead of overwriting each other.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(NewRepos(tx)); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates pgx errors to repository sentinels and passes others through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

// versionedError maps a missing row on a version-guarded UPDATE to ErrConflict.
func versionedError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return mapError(err)
}
