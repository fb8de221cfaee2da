package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", Detail: "Key (identifier)=(978-1) already exists."}
	foreign := &pgconn.PgError{Code: "23503", Detail: "Key (book_id)=(9) is not present in table \"book\"."}
	other := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	plain := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		is   error
	}{
		{"unique violation", unique, ErrUniqueViolation},
		{"wrapped unique violation", fmt.Errorf("insert: %w", unique), ErrUniqueViolation},
		{"foreign key violation", foreign, ErrForeignKeyViolation},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, ErrUniqueViolation},
		{"gorm foreign key", gorm.ErrForeignKeyViolated, ErrForeignKeyViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tt.err), tt.is)
		})
	}

	assert.Contains(t, Classify(unique).Error(), "already exists")
	assert.Same(t, other, Classify(other))
	assert.Equal(t, plain, Classify(plain))
	assert.Nil(t, Classify(nil))
}
