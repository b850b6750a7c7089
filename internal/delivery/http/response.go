package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tradeguard/internal/delivery/http/dto"
	"tradeguard/internal/domain"
)

// ErrorBody is the shape of every non-2xx response
type ErrorBody struct {
	Error string `json:"error"`
}

// ErrorResponse sends {error: message}
func ErrorResponse(c echo.Context, statusCode int, message string) error {
	return c.JSON(statusCode, ErrorBody{Error: message})
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c echo.Context, message string) error {
	return ErrorResponse(c, http.StatusBadRequest, message)
}

// InternalServerErrorResponse sends a 500 without leaking the cause
func InternalServerErrorResponse(c echo.Context) error {
	return ErrorResponse(c, http.StatusInternalServerError, "internal error")
}

// TradingOffResponse sends the 403 rejection with the current state
func TradingOffResponse(c echo.Context, state domain.UserState) error {
	return c.JSON(http.StatusForbidden, dto.TradingOffResponse{Error: "TRADING_OFF", State: state})
}

// writeError maps a usecase error onto the HTTP contract
func writeError(c echo.Context, err error) error {
	var valErr *domain.ValidationError
	var offErr *domain.TradingOffError
	switch {
	case errors.As(err, &valErr):
		return BadRequestResponse(c, valErr.Message)
	case errors.As(err, &offErr):
		return TradingOffResponse(c, offErr.State)
	default:
		return InternalServerErrorResponse(c)
	}
}
