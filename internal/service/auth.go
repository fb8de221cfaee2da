package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bookshelf-service/internal/model"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/jwtutil"
)

var (
	ErrInvalidCredentials = errors.New("incorrect identifier or password")
	ErrLoginExists        = errors.New("identifier is not available")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("could not validate credentials")
	ErrLoginNotFound      = errors.New("login does not exist")
	ErrNotVerified        = errors.New("login not verified, check the verification link first")
	ErrNoTenant           = errors.New("login has no tenant")
	ErrVerificationToken  = errors.New("incorrect verification token")
	ErrTenantExists       = errors.New("a tenant with this identifier already exists")
	ErrNotAdmin           = errors.New("administrator access required")
)

// LoginStore is the part of the login repository the auth service uses
type LoginStore interface {
	ReadByUniqueField(ctx context.Context, sc database.SchemaContext, value string) (*model.Login, error)
	CreateOne(ctx context.Context, sc database.SchemaContext, p model.Payload) (*model.Login, error)
	UpdateByID(ctx context.Context, sc database.SchemaContext, id int64, p model.Payload, applyNone bool) (*model.Login, error)
	DeleteByID(ctx context.Context, sc database.SchemaContext, id int64) ([]int64, error)
}

// TenantRegistrar creates and removes tenant rows
type TenantRegistrar interface {
	Create(ctx context.Context, identifier, schemaName string) (*model.Tenant, error)
	Remove(ctx context.Context, id int64) error
}

// SchemaProvisioner creates a tenant schema from the template
type SchemaProvisioner interface {
	Provision(ctx context.Context, schemaName string) error
}

// AuthMetrics counts auth failures by type
type AuthMetrics interface {
	RecordAuthError(errType string)
}

// Token is the get_access_token response
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthService issues and resolves bearer tokens for logins
type AuthService struct {
	logins      LoginStore
	tenants     TenantRegistrar
	provisioner SchemaProvisioner
	jwt         *jwtutil.JWTUtil
	metrics     AuthMetrics
	log         *zap.Logger
	cost        int
}

// NewAuthService wires the auth service. metrics and log may be nil.
func NewAuthService(logins LoginStore, tenants TenantRegistrar, provisioner SchemaProvisioner, jwt *jwtutil.JWTUtil, metrics AuthMetrics, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		logins:      logins,
		tenants:     tenants,
		provisioner: provisioner,
		jwt:         jwt,
		metrics:     metrics,
		log:         log,
		cost:        bcrypt.DefaultCost,
	}
}

func (s *AuthService) recordError(errType string) {
	if s.metrics != nil {
		s.metrics.RecordAuthError(errType)
	}
}

// Signup creates an unverified login together with a new tenant of the
// same identifier and provisions the tenant schema. Every signup gets its
// own tenant. The login row is written first so a duplicate identifier
// fails before anything else exists; later failures remove what was
// written so the signup can be retried.
func (s *AuthService) Signup(ctx context.Context, identifier, password string) (*model.Login, error) {
	existing, err := s.logins.ReadByUniqueField(ctx, database.Shared(), identifier)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.recordError("identifier_exists")
		return nil, ErrLoginExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.recordError("password_hash_failed")
		return nil, fmt.Errorf("hash password: %w", err)
	}

	schema := database.NewTenantSchemaName()
	login, err := s.logins.CreateOne(ctx, database.Shared(), model.LoginRecord{
		Identifier:        identifier,
		HashedPassword:    string(hashed),
		VerificationToken: uuid.New(),
		TenantSchemaName:  schema,
	})
	if errors.Is(err, database.ErrUniqueViolation) {
		s.recordError("identifier_exists")
		return nil, ErrLoginExists
	}
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.Create(ctx, identifier, schema)
	if err != nil {
		s.rollbackSignup(ctx, login, nil)
		if errors.Is(err, database.ErrUniqueViolation) {
			s.recordError("tenant_exists")
			return nil, ErrTenantExists
		}
		return nil, err
	}

	if err := s.provisioner.Provision(ctx, schema); err != nil {
		s.log.Error("Failed to provision tenant schema",
			zap.String("tenant", tenant.Identifier),
			zap.String("schema", schema),
			zap.Error(err))
		s.rollbackSignup(ctx, login, tenant)
		return nil, fmt.Errorf("provision tenant %q: %w", tenant.Identifier, err)
	}

	s.log.Info("Login created",
		zap.String("identifier", identifier),
		zap.String("schema", schema))
	return login, nil
}

// rollbackSignup removes the rows of a failed signup. tenant may be nil.
func (s *AuthService) rollbackSignup(ctx context.Context, login *model.Login, tenant *model.Tenant) {
	if tenant != nil {
		if err := s.tenants.Remove(ctx, tenant.ID); err != nil {
			s.log.Error("Failed to remove tenant of failed signup", zap.Int64("tenant_id", tenant.ID), zap.Error(err))
		}
	}
	if _, err := s.logins.DeleteByID(ctx, database.Shared(), login.ID); err != nil {
		s.log.Error("Failed to remove login of failed signup", zap.String("identifier", login.Identifier), zap.Error(err))
	}
}

// IssueToken checks the password and returns a bearer token. Unknown
// identifiers and wrong passwords fail the same way.
func (s *AuthService) IssueToken(ctx context.Context, identifier, password string) (*Token, error) {
	login, err := s.logins.ReadByUniqueField(ctx, database.Shared(), identifier)
	if err != nil {
		return nil, err
	}
	if login == nil {
		s.recordError("login_not_found")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(login.HashedPassword), []byte(password)); err != nil {
		s.recordError("invalid_password")
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(login.Identifier)
	if err != nil {
		s.recordError("token_generation_failed")
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Token{AccessToken: token, TokenType: "bearer"}, nil
}

// Resolve validates the token and returns its login, verified or not
func (s *AuthService) Resolve(ctx context.Context, token string) (*model.Login, error) {
	claims, err := s.jwt.ValidateToken(token)
	switch {
	case errors.Is(err, jwtutil.ErrTokenExpired):
		s.recordError("token_expired")
		return nil, ErrTokenExpired
	case err != nil:
		s.recordError("invalid_token")
		return nil, ErrInvalidToken
	}

	login, err := s.logins.ReadByUniqueField(ctx, database.Shared(), claims.Subject)
	if err != nil {
		return nil, err
	}
	if login == nil {
		s.recordError("login_not_found")
		return nil, ErrLoginNotFound
	}
	return login, nil
}

// RequireVerified rejects logins that have not confirmed their token
func (s *AuthService) RequireVerified(login *model.Login) error {
	if !login.Verified {
		s.recordError("not_verified")
		return ErrNotVerified
	}
	return nil
}

// Verify marks the login verified when token matches its verification token
func (s *AuthService) Verify(ctx context.Context, login *model.Login, token string) (*model.Login, error) {
	parsed, err := uuid.Parse(token)
	if err != nil || parsed != login.VerificationToken {
		s.recordError("verification_mismatch")
		return nil, ErrVerificationToken
	}
	if login.Verified {
		return login, nil
	}
	return s.logins.UpdateByID(ctx, database.Shared(), login.ID, model.LoginVerified{}, false)
}

// TenantContext returns the schema context of the login's tenant
func TenantContext(login *model.Login) (database.SchemaContext, error) {
	if login.TenantSchemaName == nil || *login.TenantSchemaName == "" {
		return database.SchemaContext{}, ErrNoTenant
	}
	return database.Tenant(*login.TenantSchemaName), nil
}
