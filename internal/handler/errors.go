package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bookshelf-service/internal/service"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/logger"
)

var (
	// ErrNotFound is the 404 for a missing id
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest marks a body or query parameter the handler cannot use
	ErrInvalidRequest = errors.New("invalid request")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// StatusFor maps a service or store error onto an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrMaintenance):
		return http.StatusServiceUnavailable
	case errors.Is(err, database.ErrUniqueViolation),
		errors.Is(err, service.ErrLoginExists),
		errors.Is(err, service.ErrTenantExists):
		return http.StatusConflict
	case errors.Is(err, database.ErrForeignKeyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrLoginNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrNotVerified),
		errors.Is(err, service.ErrNoTenant),
		errors.Is(err, service.ErrNotAdmin),
		errors.Is(err, database.ErrInvalidSchemaName),
		errors.Is(err, database.ErrReservedSchema):
		return http.StatusForbidden
	case errors.Is(err, service.ErrVerificationToken):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError writes err as {"error": ...}. Unclassified errors are
// logged and reported as 500 without their text.
func RespondError(c echo.Context, err error) error {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(c).Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}
	if status == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}
	return c.JSON(status, echo.Map{"error": msg})
}
