package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE codes the route boundary distinguishes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var (
	// ErrUniqueViolation marks an insert or update that broke a unique constraint
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrForeignKeyViolation marks a write referencing a missing row
	ErrForeignKeyViolation = errors.New("foreign key violation")
)

// Classify maps store errors onto the sentinels above. Errors it does not
// recognise are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, detail(pgErr))
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, detail(pgErr))
		}
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", ErrForeignKeyViolation, err)
	}
	return err
}

func detail(pgErr *pgconn.PgError) string {
	if pgErr.Detail != "" {
		return pgErr.Detail
	}
	return pgErr.Message
}
