package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrMaintenance is returned by Open while the maintenance flag is set
var ErrMaintenance = errors.New("service unavailable: maintenance in progress")

// MaintenanceFlag is consulted once per session open
type MaintenanceFlag interface {
	Enabled(ctx context.Context) bool
}

// Router opens transactions whose table references resolve to the schema
// named by a SchemaContext.
type Router struct {
	db          *gorm.DB
	schemas     Schemas
	maintenance MaintenanceFlag
}

// NewRouter creates a session router over the shared pool. maintenance may be nil.
func NewRouter(db *gorm.DB, schemas Schemas, maintenance MaintenanceFlag) *Router {
	return &Router{db: db, schemas: schemas, maintenance: maintenance}
}

// Schemas returns the configured fixed schema names
func (r *Router) Schemas() Schemas { return r.schemas }

// DB returns the underlying pool
func (r *Router) DB() *gorm.DB { return r.db }

// Session is one transaction bound to one physical schema
type Session struct {
	tx     *gorm.DB
	schema string
	sc     SchemaContext
	done   bool
}

// Open checks the maintenance flag, resolves the context and begins a
// transaction. The caller must call Close exactly once.
func (r *Router) Open(ctx context.Context, sc SchemaContext) (*Session, error) {
	if r.maintenance != nil && r.maintenance.Enabled(ctx) {
		return nil, ErrMaintenance
	}

	schema, err := r.schemas.Resolve(sc)
	if err != nil {
		return nil, err
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &Session{tx: tx, schema: schema, sc: sc}, nil
}

// WithSession runs fn inside a session: commit on success, rollback on
// error or panic. The connection goes back to the pool on every path.
func (r *Router) WithSession(ctx context.Context, sc SchemaContext, fn func(s *Session) error) (err error) {
	s, err := r.Open(ctx, sc)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = s.Close(fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	return s.Close(fn(s))
}

// Close commits when err is nil and rolls back otherwise. It returns err,
// or the commit error when the commit fails. Calling Close twice is a no-op.
func (s *Session) Close(err error) error {
	if s.done {
		return err
	}
	s.done = true

	if err != nil {
		if rbErr := s.tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if cErr := s.tx.Commit().Error; cErr != nil {
		return fmt.Errorf("commit: %w", cErr)
	}
	return nil
}

// Table starts a query against table in the session's schema
func (s *Session) Table(name string) *gorm.DB {
	return s.tx.Table(s.schema + "." + name)
}

// Qualify returns the quoted, schema-qualified table name for raw SQL
func (s *Session) Qualify(name string) string {
	return QuoteTable(s.schema, name)
}

// Raw runs a raw statement inside the session's transaction
func (s *Session) Raw(sql string, values ...interface{}) *gorm.DB {
	return s.tx.Raw(sql, values...)
}

// Exec runs a statement without result rows inside the transaction
func (s *Session) Exec(sql string, values ...interface{}) *gorm.DB {
	return s.tx.Exec(sql, values...)
}

// Schema returns the physical schema name
func (s *Session) Schema() string { return s.schema }

// Context returns the schema context the session was opened for
func (s *Session) Context() SchemaContext { return s.sc }
