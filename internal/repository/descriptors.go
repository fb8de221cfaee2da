package repository

import (
	"bookshelf-service/internal/model"
	"bookshelf-service/pkg/database"
)

var (
	BookDescriptor = Descriptor{
		Name:           "Book",
		Table:          model.TableBook,
		Scope:          database.ScopeTenant,
		Columns:        []string{"identifier", "name", "author", "release_year"},
		Unique:         []string{"identifier"},
		LookupField:    "identifier",
		ConflictTarget: []string{"identifier"},
	}

	CriticDescriptor = Descriptor{
		Name:           "Critic",
		Table:          model.TableCritic,
		Scope:          database.ScopeTenant,
		Columns:        []string{"username", "name", "bio"},
		Unique:         []string{"username"},
		LookupField:    "username",
		ConflictTarget: []string{"username"},
	}

	ReviewDescriptor = Descriptor{
		Name:           "Review",
		Table:          model.TableReview,
		Scope:          database.ScopeTenant,
		Columns:        []string{"title", "critic_id", "book_id", "rating", "body"},
		ConflictTarget: []string{"critic_id", "book_id"},
	}

	TenantDescriptor = Descriptor{
		Name:           "Tenant",
		Table:          model.TableTenant,
		Scope:          database.ScopeShared,
		Columns:        []string{"identifier", "schema_name", "settings"},
		Unique:         []string{"identifier", "schema_name"},
		LookupField:    "identifier",
		ConflictTarget: []string{"identifier"},
		InsertOnly:     []string{"schema_name"},
	}

	LoginDescriptor = Descriptor{
		Name:           "Login",
		Table:          model.TableLogin,
		Scope:          database.ScopeShared,
		Columns:        []string{"identifier", "hashed_password", "verification_token", "verified", "tenant_schema_name"},
		Unique:         []string{"identifier", "verification_token"},
		LookupField:    "identifier",
		ConflictTarget: []string{"identifier"},
		InsertOnly:     []string{"verification_token", "tenant_schema_name"},
	}
)

// Repositories holds one repository per entity
type Repositories struct {
	Books   *Repository[model.Book]
	Critics *Repository[model.Critic]
	Reviews *Repository[model.Review]
	Tenants *Repository[model.Tenant]
	Logins  *Repository[model.Login]
}

// NewRepositories binds every entity to router. metrics may be nil.
func NewRepositories(router *database.Router, limits Limits, metrics DBMetrics) *Repositories {
	return &Repositories{
		Books:   New[model.Book](BookDescriptor, router, limits, metrics),
		Critics: New[model.Critic](CriticDescriptor, router, limits, metrics),
		Reviews: New[model.Review](ReviewDescriptor, router, limits, metrics),
		Tenants: New[model.Tenant](TenantDescriptor, router, limits, metrics),
		Logins:  New[model.Login](LoginDescriptor, router, limits, metrics),
	}
}
