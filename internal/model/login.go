package model

import "github.com/google/uuid"

// Login is a credential bound to one tenant
type Login struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	Identifier        string    `json:"identifier" gorm:"type:varchar(255);not null;uniqueIndex:uq_login_identifier"`
	HashedPassword    string    `json:"-" gorm:"not null"`
	VerificationToken uuid.UUID `json:"-" gorm:"type:uuid;not null;uniqueIndex:uq_login_verification_token"`
	Verified          bool      `json:"verified" gorm:"not null;default:false"`
	TenantSchemaName  *string   `json:"tenant_schema_name" gorm:"type:varchar(63)"`
	Timestamps
}

// LoginCreate is the signup body
type LoginCreate struct {
	Identifier string `json:"identifier" validate:"required,email,max=255"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRecord is what the auth service writes for a new login
type LoginRecord struct {
	Identifier        string
	HashedPassword    string
	VerificationToken uuid.UUID
	TenantSchemaName  string
}

func (p LoginRecord) Columns(bool) map[string]any {
	return map[string]any{
		"identifier":         p.Identifier,
		"hashed_password":    p.HashedPassword,
		"verification_token": p.VerificationToken,
		"verified":           false,
		"tenant_schema_name": p.TenantSchemaName,
	}
}

// LoginVerified flips the verified flag
type LoginVerified struct{}

func (LoginVerified) Columns(bool) map[string]any {
	return map[string]any{"verified": true}
}

func (l Login) GetID() int64 { return l.ID }
