package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrVersionConflict means the form changed since the caller read it.
	ErrVersionConflict = errors.New("form version conflict")
	// ErrInvalidField means a payload carried a field the level cannot store.
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidReference means a payload pointed at a row that does not exist,
	// such as an unknown question type.
	ErrInvalidReference = errors.New("invalid reference")
)

// translateError folds the Postgres error classes callers act on into the
// package sentinels.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23503":
		return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
	default:
		return err
	}
}
