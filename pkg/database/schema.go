package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TenantSchemaPrefix prefixes every generated tenant schema name
const TenantSchemaPrefix = "tenant_"

var (
	// ErrInvalidSchemaName is returned before any SQL is issued for a schema
	// name that is not a plain lower-case identifier.
	ErrInvalidSchemaName = errors.New("invalid schema name")

	// ErrReservedSchema is returned when a tenant context names the shared
	// or template schema.
	ErrReservedSchema = errors.New("schema is reserved")

	schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// Scope tags which schema family an entity lives in
type Scope int

const (
	ScopeShared Scope = iota
	ScopeTenant
)

func (s Scope) String() string {
	if s == ScopeTenant {
		return "tenant"
	}
	return "shared"
}

// SchemaContext is the routing key for a query: the shared schema, or one
// specific tenant schema.
type SchemaContext struct {
	scope  Scope
	schema string
}

// Shared returns the context for shared-scope entities (Tenant, Login)
func Shared() SchemaContext {
	return SchemaContext{scope: ScopeShared}
}

// Tenant returns the context for the given tenant schema
func Tenant(schemaName string) SchemaContext {
	return SchemaContext{scope: ScopeTenant, schema: schemaName}
}

func (sc SchemaContext) Scope() Scope { return sc.scope }

// SchemaName is the tenant schema, empty for the shared context
func (sc SchemaContext) SchemaName() string { return sc.schema }

func (sc SchemaContext) String() string {
	if sc.scope == ScopeShared {
		return "shared"
	}
	return "tenant:" + sc.schema
}

// Schemas holds the configured physical names of the fixed schemas
type Schemas struct {
	Shared   string
	Template string
}

// Resolve returns the physical schema a context routes to
func (s Schemas) Resolve(sc SchemaContext) (string, error) {
	if sc.scope == ScopeShared {
		return s.Shared, nil
	}
	if err := ValidateSchemaName(sc.schema); err != nil {
		return "", err
	}
	if sc.schema == s.Shared || sc.schema == s.Template {
		return "", fmt.Errorf("%w: %s", ErrReservedSchema, sc.schema)
	}
	return sc.schema, nil
}

// ValidateSchemaName rejects anything that is not a plain identifier
func ValidateSchemaName(name string) error {
	if !schemaNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSchemaName, name)
	}
	return nil
}

// NewTenantSchemaName generates a name of the form tenant_889a0da2_e5c7_461d_b1b2_b6f6828eea34
func NewTenantSchemaName() string {
	return TenantSchemaPrefix + strings.ReplaceAll(uuid.NewString(), "-", "_")
}

// QuoteTable returns "schema"."table" for use in raw SQL
func QuoteTable(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
