package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	custommiddleware "tradeguard/internal/middleware"
)

// RouterConfig holds all dependencies for routing
type RouterConfig struct {
	GuardHandler *GuardHandler
	Logger       *zap.Logger
}

// SetupRoutes configures all HTTP routes
func SetupRoutes(e *echo.Echo, config *RouterConfig) {
	e.Use(middleware.RequestID())
	e.Use(custommiddleware.ZapLogger(config.Logger, "/health"))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.Secure())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	api := e.Group("/api")
	{
		api.POST("/bootstrap", config.GuardHandler.Bootstrap)
		api.POST("/settings", config.GuardHandler.UpdateSettings)
		api.POST("/record", config.GuardHandler.Record)
		api.GET("/events", config.GuardHandler.Events)
	}
}

// NewServer builds an echo instance with the guard routes mounted
func NewServer(handler *GuardHandler, log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	SetupRoutes(e, &RouterConfig{GuardHandler: handler, Logger: log})
	return e
}
