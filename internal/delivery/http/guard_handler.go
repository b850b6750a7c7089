package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tradeguard/internal/delivery/http/dto"
	"tradeguard/internal/domain"
)

const requestTimeout = 5 * time.Second

// GuardHandler serves the guard API
type GuardHandler struct {
	guard domain.GuardService
	log   *zap.Logger
}

// NewGuardHandler creates a new GuardHandler
func NewGuardHandler(guard domain.GuardService, log *zap.Logger) *GuardHandler {
	return &GuardHandler{guard: guard, log: log}
}

func (h *GuardHandler) fail(c echo.Context, err error) error {
	if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrTradingOff) {
		h.log.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
	}
	return writeError(c, err)
}

// Bootstrap ensures the user and returns the current snapshot
// POST /api/bootstrap
func (h *GuardHandler) Bootstrap(c echo.Context) error {
	var req dto.BootstrapRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	snap, err := h.guard.Bootstrap(ctx, string(req.TgUserID))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// UpdateSettings stores clamped settings
// POST /api/settings
func (h *GuardHandler) UpdateSettings(c echo.Context) error {
	var req dto.SettingsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	snap, err := h.guard.UpdateSettings(ctx, string(req.TgUserID), req.Patch())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Record counts one trade outcome
// POST /api/record
func (h *GuardHandler) Record(c echo.Context) error {
	var req dto.RecordRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	snap, err := h.guard.Record(ctx, string(req.TgUserID), domain.Outcome(req.Outcome))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Events lists recent events, newest first
// GET /api/events?tgUserId=...&limit=...
func (h *GuardHandler) Events(c echo.Context) error {
	limit := domain.MaxListedEvents
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	events, err := h.guard.Events(ctx, c.QueryParam("tgUserId"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, dto.EventsResponse{Events: events})
}
