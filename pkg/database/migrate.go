package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TableModel binds a gorm model to the table it is migrated into
type TableModel struct {
	Table string
	Model interface{}
}

// MigrationPlan lists what lives in the shared schema and what lives in
// the tenant template. TemplateSQL statements run after the template tables
// exist; %[1]s expands to the quoted template schema and %[2]s to its name
// as a string literal. They must be idempotent.
type MigrationPlan struct {
	Shared      []TableModel
	Template    []TableModel
	TemplateSQL []string
	// TenantRegistry is the shared table holding a schema_name column per tenant
	TenantRegistry string
}

// Migrate brings the shared schema and the template up to date, installs
// clone_schema and re-clones the template into every registered tenant so
// new tables reach existing tenants.
func Migrate(ctx context.Context, db *gorm.DB, schemas Schemas, plan MigrationPlan, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	db = db.WithContext(ctx)

	for _, schema := range []string{schemas.Shared, schemas.Template} {
		if err := ValidateSchemaName(schema); err != nil {
			return err
		}
		if err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)).Error; err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}

	if err := autoMigrate(db, schemas.Shared, plan.Shared); err != nil {
		return err
	}
	log.Info("Shared schema migrated", zap.String("schema", schemas.Shared))

	if err := autoMigrate(db, schemas.Template, plan.Template); err != nil {
		return err
	}
	for _, stmt := range plan.TemplateSQL {
		sql := fmt.Sprintf(stmt, pq.QuoteIdentifier(schemas.Template), pq.QuoteLiteral(schemas.Template))
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("template statement: %w", err)
		}
	}
	log.Info("Tenant template migrated", zap.String("schema", schemas.Template))

	if err := db.Exec(fmt.Sprintf(cloneSchemaFunction, pq.QuoteIdentifier(schemas.Shared))).Error; err != nil {
		return fmt.Errorf("install clone_schema: %w", err)
	}

	if plan.TenantRegistry == "" {
		return nil
	}

	var tenantSchemas []string
	err := db.Raw("SELECT schema_name FROM " + QuoteTable(schemas.Shared, plan.TenantRegistry) +
		" WHERE schema_name IS NOT NULL ORDER BY id").Scan(&tenantSchemas).Error
	if err != nil {
		return fmt.Errorf("list tenant schemas: %w", err)
	}

	provisioner := NewProvisioner(db, schemas, log, nil)
	for i, schema := range tenantSchemas {
		log.Info("Migrating tenant schema",
			zap.String("schema", schema),
			zap.Int("position", i+1),
			zap.Int("total", len(tenantSchemas)))
		if err := provisioner.Provision(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func autoMigrate(db *gorm.DB, schema string, models []TableModel) error {
	for _, m := range models {
		if err := db.Table(schema + "." + m.Table).AutoMigrate(m.Model); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", schema, m.Table, err)
		}
	}
	return nil
}
