package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Home greets
func Home(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "Hello boils and ghouls"})
}

// HealthCheck handles the health check endpoint
func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": "bookshelf-service",
	})
}
