package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505", ConstraintName: "messages_provider_message_id_key"}), ErrDuplicate)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "40001"}), ErrConflict)
	assert.ErrorIs(t, mapError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"})), ErrConflict)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
}

func TestVersionedError(t *testing.T) {
	assert.ErrorIs(t, versionedError(pgx.ErrNoRows), ErrConflict)
	assert.NoError(t, versionedError(nil))
}
