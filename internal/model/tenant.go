package model

import (
	"bookshelf-service/pkg/database"

	"gorm.io/datatypes"
)

// Tenant owns exactly one database schema. SchemaName is assigned on
// insert and never changes.
type Tenant struct {
	ID         int64          `json:"id" gorm:"primaryKey"`
	Identifier string         `json:"identifier" gorm:"type:varchar(255);not null;uniqueIndex:uq_tenant_identifier"`
	SchemaName string         `json:"schema_name" gorm:"type:varchar(63);not null;uniqueIndex:uq_tenant_schema_name"`
	Settings   datatypes.JSON `json:"settings,omitempty" gorm:"type:jsonb"`
	Timestamps
}

type TenantCreate struct {
	Identifier string         `json:"identifier" validate:"required,max=255"`
	Settings   datatypes.JSON `json:"settings,omitempty"`
}

// Columns generates a fresh schema name. On upsert conflicts the stored
// name wins because schema_name is insert-only.
func (p TenantCreate) Columns(bool) map[string]any {
	cols := map[string]any{
		"identifier":  p.Identifier,
		"schema_name": database.NewTenantSchemaName(),
	}
	if len(p.Settings) > 0 {
		cols["settings"] = p.Settings
	}
	return cols
}

// TenantRecord creates a tenant under a schema name chosen by the caller
type TenantRecord struct {
	Identifier string
	SchemaName string
}

func (p TenantRecord) Columns(bool) map[string]any {
	return map[string]any{
		"identifier":  p.Identifier,
		"schema_name": p.SchemaName,
	}
}

type TenantUpdate struct {
	Identifier *string        `json:"identifier" validate:"omitempty,min=1,max=255"`
	Settings   datatypes.JSON `json:"settings,omitempty"`
}

func (p TenantUpdate) Columns(applyNone bool) map[string]any {
	cols := map[string]any{}
	setIf(cols, "identifier", p.Identifier, false)
	if len(p.Settings) > 0 {
		cols["settings"] = p.Settings
	} else if applyNone {
		cols["settings"] = nil
	}
	return cols
}

func (t Tenant) GetID() int64 { return t.ID }
