// Package databasetest opens a Postgres connection for integration tests.
// Tests skip unless TEST_DATABASE_DSN is set.
package databasetest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bookshelf-service/pkg/database"
)

// Open connects to TEST_DATABASE_DSN or skips the test
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping test: TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Schemas returns shared/template schema names unique to this test and
// drops every schema created under that prefix when the test ends,
// tenant schemas included.
func Schemas(t *testing.T, db *gorm.DB) database.Schemas {
	t.Helper()

	suffix := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	schemas := database.Schemas{
		Shared:   "test_shared_" + suffix,
		Template: "test_tenant_" + suffix,
	}

	t.Cleanup(func() {
		for _, s := range []string{schemas.Shared, schemas.Template} {
			db.Exec("DROP SCHEMA IF EXISTS " + pq.QuoteIdentifier(s) + " CASCADE")
		}
	})
	return schemas
}

// DropSchemaOnCleanup drops a tenant schema created during the test
func DropSchemaOnCleanup(t *testing.T, db *gorm.DB, schema string) {
	t.Helper()
	t.Cleanup(func() {
		db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schema)))
	})
}
