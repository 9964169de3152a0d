package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced by the adapter. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a session, team or row lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSubmission is returned when a second decision arrives for
	// the same (session, team, phase). The uniqueness index is the authority;
	// this is its translation.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrUnavailable marks transient datastore failures the caller may retry.
	ErrUnavailable = errors.New("datastore unavailable")
)

// uniqueViolation is the Postgres error code for a unique index conflict.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
