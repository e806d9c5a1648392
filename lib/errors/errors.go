// Package errors provides structured error types for the mcpool gateway.
// All errors are designed to be safe to return to administrative clients
// without exposing internal implementation details.
//
// This package provides:
//   - Sentinel errors for common error conditions
//   - Error codes for admin API response categorization
//   - Error wrapping with context preservation
//   - Safe error messages that don't leak sensitive information
package errors

import (
	"errors"
	"fmt"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Error codes for categorizing errors. These align with JSON-RPC 2.0 error codes
// where applicable, with custom codes in the -32000 to -32099 range.
const (
	// Standard JSON-RPC 2.0 error codes
	CodeParseError     = -32700 // Invalid JSON
	CodeInvalidRequest = -32600 // Invalid request object
	CodeMethodNotFound = -32601 // Method not found
	CodeInvalidParams  = -32602 // Invalid method parameters
	CodeInternal       = -32603 // Internal error

	// Application-specific error codes (-32000 to -32099)
	CodeNotFound       = -32003 // Resource not found
	CodeRateLimited    = -32004 // Rate limit exceeded
	CodeTimeout        = -32005 // Operation timeout
	CodeUnavailable    = -32007 // Service unavailable
	CodeValidation     = -32008 // Validation failed
	CodeConnection     = -32009 // Connection error
	CodeState          = -32010 // Invalid state
	CodePoolDraining   = -32011 // Pool is draining
	CodePoolDisabled   = -32012 // Pooling is disabled for the target
	CodeFactoryFailure = -32013 // Backend session creation/teardown failed
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound indicates a backend target or pool was not found.
	ErrNotFound = errors.New("not found")

	// ErrAcquireTimeout indicates no session became available within the
	// configured acquire timeout. The caller may retry.
	ErrAcquireTimeout = errors.New("session acquisition timed out")

	// ErrPoolDraining indicates the pool is not accepting new work.
	// Not retryable against the same pool.
	ErrPoolDraining = errors.New("pool is draining")

	// ErrPoolDisabled indicates pooling is disabled for the target.
	ErrPoolDisabled = errors.New("pooling is disabled")

	// ErrPoolClosed indicates the pool has been removed or shut down.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrConfigValidation indicates a rejected pool configuration.
	// No state change is applied when this is returned.
	ErrConfigValidation = errors.New("configuration validation failed")

	// ErrFactory indicates backend session creation or teardown failed.
	ErrFactory = errors.New("session factory error")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates an invalid session state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrRateLimited indicates a rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrCircuitOpen indicates the session-creation circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Pool errors with component prefixes, wrapping the shared sentinels.
var (
	// ErrResizeOutOfRange indicates a resize request outside [min_size, max_size].
	ErrResizeOutOfRange = fmt.Errorf("resize: size out of range: %w", ErrConfigValidation)

	// ErrUnknownStrategy indicates an unrecognized strategy name.
	ErrUnknownStrategy = fmt.Errorf("strategy: unknown: %w", ErrInvalidInput)

	// ErrUnknownSession indicates a release referenced a session the pool
	// does not own.
	ErrUnknownSession = fmt.Errorf("pool: unknown session: %w", ErrInvalidInput)
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and response generation.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// New creates a new structured error with the given code and message.
// The message should be safe to return to clients.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapInternal wraps an internal error with a generic message.
// Use this when the original error contains sensitive information.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// It automatically assigns an appropriate error code based on the error type.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	code := codeFromError(err)
	return &Error{
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

// codeFromError maps sentinel errors to error codes.
func codeFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAcquireTimeout):
		return CodeTimeout
	case errors.Is(err, ErrPoolDraining):
		return CodePoolDraining
	case errors.Is(err, ErrPoolDisabled):
		return CodePoolDisabled
	case errors.Is(err, ErrConfigValidation):
		return CodeValidation
	case errors.Is(err, ErrFactory):
		return CodeFactoryFailure
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrCircuitOpen):
		return CodeUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidParams
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrPoolClosed):
		return CodeState
	default:
		return CodeInternal
	}
}

// IsNotFound returns true if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAcquireTimeout returns true if the error indicates an acquisition timeout.
func IsAcquireTimeout(err error) bool {
	return errors.Is(err, ErrAcquireTimeout)
}

// IsPoolDraining returns true if the error indicates the pool is draining.
func IsPoolDraining(err error) bool {
	return errors.Is(err, ErrPoolDraining)
}

// IsConfigValidation returns true if the error indicates a rejected configuration.
func IsConfigValidation(err error) bool {
	return errors.Is(err, ErrConfigValidation)
}

// IsFactory returns true if the error indicates a session factory failure.
func IsFactory(err error) bool {
	return errors.Is(err, ErrFactory)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
