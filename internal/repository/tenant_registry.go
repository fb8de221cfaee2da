package repository

import (
	"context"
	"errors"
	"fmt"

	"bookshelf-service/internal/model"
	"bookshelf-service/pkg/database"
)

// ErrTenantNotFound is returned by SchemaFor for unknown identifiers
var ErrTenantNotFound = errors.New("tenant not found")

// registryPageSize is the page size List walks the tenant table with
const registryPageSize = 100

// TenantStore is the part of the tenant repository the registry uses
type TenantStore interface {
	ReadByID(ctx context.Context, sc database.SchemaContext, id int64) (*model.Tenant, error)
	ReadByUniqueField(ctx context.Context, sc database.SchemaContext, value string) (*model.Tenant, error)
	ReadAll(ctx context.Context, sc database.SchemaContext, offset, limit int) ([]model.Tenant, error)
	CreateOne(ctx context.Context, sc database.SchemaContext, p model.Payload) (*model.Tenant, error)
	Upsert(ctx context.Context, sc database.SchemaContext, p model.Payload) (*model.Tenant, error)
	DeleteByID(ctx context.Context, sc database.SchemaContext, id int64) ([]int64, error)
}

// TenantRegistry maps tenant identifiers to schema names
type TenantRegistry struct {
	tenants TenantStore
}

func NewTenantRegistry(tenants TenantStore) *TenantRegistry {
	return &TenantRegistry{tenants: tenants}
}

// Register returns the tenant for identifier, creating it with a fresh
// schema name when absent. Registering twice yields the same schema name.
func (r *TenantRegistry) Register(ctx context.Context, identifier string) (*model.Tenant, error) {
	// an upsert keeps the stored schema_name on conflict, so concurrent
	// registrations of one identifier agree on the schema
	t, err := r.tenants.Upsert(ctx, database.Shared(), model.TenantCreate{Identifier: identifier})
	if err != nil {
		return nil, fmt.Errorf("register tenant %q: %w", identifier, err)
	}
	return t, nil
}

// Create adds a tenant bound to schemaName. An existing identifier fails
// with database.ErrUniqueViolation instead of being reused.
func (r *TenantRegistry) Create(ctx context.Context, identifier, schemaName string) (*model.Tenant, error) {
	if err := database.ValidateSchemaName(schemaName); err != nil {
		return nil, err
	}
	t, err := r.tenants.CreateOne(ctx, database.Shared(), model.TenantRecord{Identifier: identifier, SchemaName: schemaName})
	if err != nil {
		return nil, fmt.Errorf("create tenant %q: %w", identifier, err)
	}
	return t, nil
}

// Remove deletes the tenant row. The schema itself is left in place.
func (r *TenantRegistry) Remove(ctx context.Context, id int64) error {
	_, err := r.tenants.DeleteByID(ctx, database.Shared(), id)
	return err
}

// SchemaFor returns the schema name registered for identifier
func (r *TenantRegistry) SchemaFor(ctx context.Context, identifier string) (string, error) {
	t, err := r.tenants.ReadByUniqueField(ctx, database.Shared(), identifier)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", ErrTenantNotFound
	}
	return t.SchemaName, nil
}

// SchemasFor returns the schema names of the tenants with these ids
func (r *TenantRegistry) SchemasFor(ctx context.Context, ids []int64) ([]string, error) {
	schemas := make([]string, 0, len(ids))
	for _, id := range ids {
		t, err := r.tenants.ReadByID(ctx, database.Shared(), id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			schemas = append(schemas, t.SchemaName)
		}
	}
	return schemas, nil
}

// List returns every registered tenant ordered by id
func (r *TenantRegistry) List(ctx context.Context) ([]model.Tenant, error) {
	var all []model.Tenant
	for {
		// the store may clamp the page below registryPageSize
		page, err := r.tenants.ReadAll(ctx, database.Shared(), len(all), registryPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}
