package model

import "bookshelf-service/pkg/database"

// Table names
const (
	TableTenant = "tenant"
	TableLogin  = "login"
	TableBook   = "book"
	TableCritic = "critic"
	TableReview = "review"
)

// reviewForeignKeys adds review's references to critic and book inside
// whichever schema the statement runs against.
var reviewForeignKeys = []string{
	`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'fk_review_critic' AND connamespace = %[2]s::regnamespace) THEN
		ALTER TABLE %[1]s.review ADD CONSTRAINT fk_review_critic FOREIGN KEY (critic_id) REFERENCES %[1]s.critic (id);
	END IF;
END $$`,
	`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'fk_review_book' AND connamespace = %[2]s::regnamespace) THEN
		ALTER TABLE %[1]s.review ADD CONSTRAINT fk_review_book FOREIGN KEY (book_id) REFERENCES %[1]s.book (id);
	END IF;
END $$`,
}

// Migrations is the schema layout: Tenant and Login in the shared schema,
// Book, Critic and Review in the tenant template.
func Migrations() database.MigrationPlan {
	return database.MigrationPlan{
		Shared: []database.TableModel{
			{Table: TableTenant, Model: &Tenant{}},
			{Table: TableLogin, Model: &Login{}},
		},
		Template: []database.TableModel{
			{Table: TableBook, Model: &Book{}},
			{Table: TableCritic, Model: &Critic{}},
			{Table: TableReview, Model: &Review{}},
		},
		TemplateSQL:    reviewForeignKeys,
		TenantRegistry: TableTenant,
	}
}
