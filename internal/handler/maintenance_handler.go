package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bookshelf-service/pkg/logger"
	"bookshelf-service/pkg/maintenance"
)

// MaintenanceHandler reads and toggles the maintenance flag. It never opens
// a database session, so it works while the flag is on.
type MaintenanceHandler struct {
	flag maintenance.Flag
}

func NewMaintenanceHandler(flag maintenance.Flag) *MaintenanceHandler {
	return &MaintenanceHandler{flag: flag}
}

type maintenanceState struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *MaintenanceHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"enabled": h.flag.Enabled(c.Request().Context())})
}

func (h *MaintenanceHandler) Set(c echo.Context) error {
	var req maintenanceState
	if err := bindOne(c, &req); err != nil {
		return RespondError(c, err)
	}
	if err := h.flag.Set(c.Request().Context(), *req.Enabled); err != nil {
		return RespondError(c, err)
	}
	logger.FromContext(c).Warn("Maintenance mode changed", zap.Bool("enabled", *req.Enabled))
	return c.JSON(http.StatusOK, echo.Map{"enabled": *req.Enabled})
}
