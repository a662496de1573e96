// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrTradingPaused    = errors.New("trading is paused")
	ErrKillSwitchActive = errors.New("kill switch is active")
	ErrPositionNotFound = errors.New("position not found")
	ErrSettingsNotFound = errors.New("risk settings not found")
)

// VenueError represents an error returned by the venue client.
type VenueError struct {
	Code      string
	Message   string
	Transient bool
	Err       error
}

func (e *VenueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("venue error [%s]: %s", e.Code, e.Message)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewTransientVenueError creates a retryable venue error (timeout,
// rate limit, temporary rejection).
func NewTransientVenueError(code, message string, err error) *VenueError {
	return &VenueError{Code: code, Message: message, Transient: true, Err: err}
}

// NewVenueRejection creates a fatal venue error; the order is never
// retried.
func NewVenueRejection(code, message string) *VenueError {
	return &VenueError{Code: code, Message: message, Transient: false}
}

// IsTransient reports whether err is a retryable venue failure.
func IsTransient(err error) bool {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Transient
	}
	return false
}

// IsRejection reports whether err is a hard venue rejection.
func IsRejection(err error) bool {
	var ve *VenueError
	if errors.As(err, &ve) {
		return !ve.Transient
	}
	return false
}

// ExecutionError represents a failure of a full execution sequence.
type ExecutionError struct {
	OrderID  string
	Symbol   string
	Attempts int
	Reason   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution error [%s] %s after %d attempts: %s: %v",
			e.OrderID, e.Symbol, e.Attempts, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution error [%s] %s after %d attempts: %s",
		e.OrderID, e.Symbol, e.Attempts, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(orderID, symbol string, attempts int, reason string, err error) *ExecutionError {
	return &ExecutionError{
		OrderID:  orderID,
		Symbol:   symbol,
		Attempts: attempts,
		Reason:   reason,
		Err:      err,
	}
}

// DataInconsistencyError marks state the engine cannot reconcile, e.g. a
// position referencing an untradable symbol. Positions carrying one are
// parked for manual review, never silently dropped.
type DataInconsistencyError struct {
	Entity  string
	ID      string
	Message string
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("data inconsistency [%s %s]: %s", e.Entity, e.ID, e.Message)
}

// NewDataInconsistencyError creates a new DataInconsistencyError.
func NewDataInconsistencyError(entity, id, message string) *DataInconsistencyError {
	return &DataInconsistencyError{Entity: entity, ID: id, Message: message}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}
