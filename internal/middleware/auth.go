package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bookshelf-service/internal/handler"
	"bookshelf-service/internal/model"
	"bookshelf-service/internal/service"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/jwtutil"
	"bookshelf-service/pkg/logger"
)

// Authenticator resolves bearer tokens to logins
type Authenticator interface {
	Resolve(ctx context.Context, token string) (*model.Login, error)
	RequireVerified(login *model.Login) error
}

// BearerAuth resolves the Authorization header to a login and stores it on
// the context. Unverified logins pass.
func BearerAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			token, ok := bearerToken(c)
			if !ok {
				log.Debug("Missing or malformed Authorization header")
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
			}

			login, err := auth.Resolve(c.Request().Context(), token)
			if err != nil {
				log.Info("Rejected bearer token", zap.Error(err))
				return handler.RespondError(c, err)
			}

			handler.SetLogin(c, login)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, bool) {
	parts := strings.SplitN(c.Request().Header.Get(echo.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// RequireVerified rejects logins that have not been verified. It must run
// after BearerAuth.
func RequireVerified(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			login := handler.CurrentLogin(c)
			if login == nil {
				return handler.RespondError(c, service.ErrInvalidToken)
			}
			if err := auth.RequireVerified(login); err != nil {
				return handler.RespondError(c, err)
			}
			return next(c)
		}
	}
}

// TenantScope routes a request to the schema of the caller's tenant
func TenantScope(c echo.Context) (database.SchemaContext, error) {
	login := handler.CurrentLogin(c)
	if login == nil {
		return database.SchemaContext{}, errors.New("tenant scope used without BearerAuth")
	}
	return service.TenantContext(login)
}

const claimsKey = "claims"

// Claims returns the token claims BearerClaims accepted, or nil
func Claims(c echo.Context) *jwtutil.LoginClaims {
	claims, _ := c.Get(claimsKey).(*jwtutil.LoginClaims)
	return claims
}

// TokenValidator checks a bearer token without touching the database
type TokenValidator interface {
	ValidateToken(token string) (*jwtutil.LoginClaims, error)
}

// BearerClaims accepts any validly signed, unexpired token. It guards
// routes that must keep working while sessions are refused.
func BearerClaims(v TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c)
			if !ok {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
			}
			claims, err := v.ValidateToken(token)
			switch {
			case errors.Is(err, jwtutil.ErrTokenExpired):
				return handler.RespondError(c, service.ErrTokenExpired)
			case err != nil:
				return handler.RespondError(c, service.ErrInvalidToken)
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// RequireAdmin lets through tokens whose subject is one of admins. It must
// run after BearerClaims. An empty list admits nobody.
func RequireAdmin(admins []string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(admins))
	for _, a := range admins {
		allowed[a] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := Claims(c)
			if claims == nil || !allowed[claims.Subject] {
				subject := ""
				if claims != nil {
					subject = claims.Subject
				}
				logger.FromContext(c).Warn("Rejected admin request", zap.String("subject", subject))
				return handler.RespondError(c, service.ErrNotAdmin)
			}
			return next(c)
		}
	}
}
