package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cloneSchemaFunction copies every table definition (no rows) of a source
// schema into a target schema. Serial columns get a sequence local to the
// target and foreign keys are re-pointed at the target's tables. Objects
// that already exist are skipped, so a repeated call is a no-op.
const cloneSchemaFunction = `
CREATE OR REPLACE FUNCTION %[1]s.clone_schema(source_schema text, target_schema text)
RETURNS void
LANGUAGE plpgsql
SET search_path = ''
AS $$
DECLARE
    tbl record;
    col record;
    fk record;
    seq_name text;
BEGIN
    FOR tbl IN
        SELECT t.table_name::text AS table_name
        FROM information_schema.tables t
        WHERE t.table_schema = source_schema AND t.table_type = 'BASE TABLE'
        ORDER BY t.table_name
    LOOP
        EXECUTE format('CREATE TABLE IF NOT EXISTS %%I.%%I (LIKE %%I.%%I INCLUDING ALL)',
            target_schema, tbl.table_name, source_schema, tbl.table_name);

        FOR col IN
            SELECT c.column_name::text AS column_name
            FROM information_schema.columns c
            WHERE c.table_schema = target_schema
              AND c.table_name = tbl.table_name
              AND c.column_default LIKE 'nextval(%%'
              AND position(target_schema || '.' IN c.column_default) = 0
        LOOP
            seq_name := tbl.table_name || '_' || col.column_name || '_seq';
            EXECUTE format('CREATE SEQUENCE IF NOT EXISTS %%I.%%I', target_schema, seq_name);
            EXECUTE format('ALTER SEQUENCE %%I.%%I OWNED BY %%I.%%I.%%I',
                target_schema, seq_name, target_schema, tbl.table_name, col.column_name);
            EXECUTE format('ALTER TABLE %%I.%%I ALTER COLUMN %%I SET DEFAULT nextval(%%L::regclass)',
                target_schema, tbl.table_name, col.column_name,
                quote_ident(target_schema) || '.' || quote_ident(seq_name));
        END LOOP;
    END LOOP;

    FOR fk IN
        SELECT con.conname::text AS conname, cl.relname::text AS table_name,
               pg_get_constraintdef(con.oid) AS def
        FROM pg_catalog.pg_constraint con
        JOIN pg_catalog.pg_class cl ON cl.oid = con.conrelid
        JOIN pg_catalog.pg_namespace ns ON ns.oid = cl.relnamespace
        WHERE ns.nspname = source_schema AND con.contype = 'f'
    LOOP
        IF NOT EXISTS (
            SELECT 1
            FROM pg_catalog.pg_constraint con2
            JOIN pg_catalog.pg_class cl2 ON cl2.oid = con2.conrelid
            JOIN pg_catalog.pg_namespace ns2 ON ns2.oid = cl2.relnamespace
            WHERE ns2.nspname = target_schema
              AND cl2.relname = fk.table_name
              AND con2.conname = fk.conname
        ) THEN
            EXECUTE format('ALTER TABLE %%I.%%I ADD CONSTRAINT %%I %%s',
                target_schema, fk.table_name, fk.conname,
                replace(fk.def,
                    'REFERENCES ' || quote_ident(source_schema) || '.',
                    'REFERENCES ' || quote_ident(target_schema) || '.'));
        END IF;
    END LOOP;
END;
$$;
`

// ProvisionMetrics receives provisioning outcomes. The prometheus package
// implements it; nil disables reporting.
type ProvisionMetrics interface {
	ObserveProvision(outcome string, d time.Duration)
}

// Provisioner creates tenant schemas from the template schema
type Provisioner struct {
	db      *gorm.DB
	schemas Schemas
	log     *zap.Logger
	metrics ProvisionMetrics
}

// NewProvisioner creates a provisioner. metrics may be nil.
func NewProvisioner(db *gorm.DB, schemas Schemas, log *zap.Logger, metrics ProvisionMetrics) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{db: db, schemas: schemas, log: log, metrics: metrics}
}

// Provision creates schemaName when missing and clones the template's
// tables into it. It is safe to call again after a partial failure.
func (p *Provisioner) Provision(ctx context.Context, schemaName string) (err error) {
	start := time.Now()
	defer func() {
		if p.metrics == nil {
			return
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		p.metrics.ObserveProvision(outcome, time.Since(start))
	}()

	if _, err := p.schemas.Resolve(Tenant(schemaName)); err != nil {
		return err
	}

	db := p.db.WithContext(ctx)

	exists, err := p.SchemaExists(ctx, schemaName)
	if err != nil {
		return err
	}
	if !exists {
		p.log.Info("Creating tenant schema", zap.String("schema", schemaName))
		if err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schemaName)).Error; err != nil {
			return fmt.Errorf("create schema %s: %w", schemaName, err)
		}
	}

	fn := pq.QuoteIdentifier(p.schemas.Shared) + ".clone_schema"
	if err := db.Exec("SELECT "+fn+"(?, ?)", p.schemas.Template, schemaName).Error; err != nil {
		return fmt.Errorf("clone %s into %s: %w", p.schemas.Template, schemaName, err)
	}

	p.log.Info("Tenant schema provisioned", zap.String("schema", schemaName), zap.Bool("created", !exists))
	return nil
}

// SchemaExists reports whether a schema with this name is present
func (p *Provisioner) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	var exists bool
	err := p.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = ?)", schemaName).
		Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("check schema %s: %w", schemaName, err)
	}
	return exists, nil
}

// Tables lists the base tables of a schema, sorted by name
func (p *Provisioner) Tables(ctx context.Context, schemaName string) ([]string, error) {
	var tables []string
	err := p.db.WithContext(ctx).
		Raw(`SELECT table_name FROM information_schema.tables
			WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`, schemaName).
		Scan(&tables).Error
	return tables, err
}
