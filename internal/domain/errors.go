package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed user identifier or outcome
	ErrValidation = errors.New("validation error")

	// ErrTradingOff is matched by every *TradingOffError
	ErrTradingOff = errors.New("trading off")

	// ErrPersistence wraps storage failures
	ErrPersistence = errors.New("persistence error")

	// ErrUserNotFound is returned by repositories for unknown users
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError carries a client-facing message and matches ErrValidation
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) hold
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TradingOffError rejects a recording attempt while a stop is in force
type TradingOffError struct {
	State UserState
}

func (e *TradingOffError) Error() string {
	return fmt.Sprintf("trading off until %d: %s", e.State.TradingOffUntil, e.State.OffReason)
}

// Is makes errors.Is(err, ErrTradingOff) hold
func (e *TradingOffError) Is(target error) bool {
	return target == ErrTradingOff
}
