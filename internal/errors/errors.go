package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	// ErrCodeConfiguration marks missing credentials or identifiers for a
	// required source. Fatal at client construction, before any fetch.
	ErrCodeConfiguration ErrCode = "CONFIGURATION"
	// ErrCodeUpstreamItem marks a failure on one sub-resource (one repo's
	// deployments, one PR's commits). Recovered locally by the fetcher.
	ErrCodeUpstreamItem ErrCode = "UPSTREAM_ITEM"
	// ErrCodeUpstreamBatch marks an entire source fetch failing outright.
	// Propagates to the pipeline, which fails the period.
	ErrCodeUpstreamBatch ErrCode = "UPSTREAM_BATCH"
	// ErrCodePersistence marks a failure writing raw events or a snapshot
	ErrCodePersistence ErrCode = "PERSISTENCE"

	ErrCodeNotFound   ErrCode = "NOT_FOUND"
	ErrCodeBadRequest ErrCode = "BAD_REQUEST"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates an error for missing source configuration
func NewConfigurationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfiguration,
		Message: message,
	}
}

// NewUpstreamItemError creates an error for one failed sub-resource
func NewUpstreamItemError(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstreamItem,
		Message: fmt.Sprintf("failed to process %s", resource),
		Err:     err,
	}
}

// NewUpstreamBatchError creates an error for a whole source fetch failing
func NewUpstreamBatchError(source string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstreamBatch,
		Message: fmt.Sprintf("%s fetch failed", source),
		Err:     err,
	}
}

// NewPersistenceError creates an error for a failed database write
func NewPersistenceError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodePersistence,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsPersistence checks if the error is a persistence error
func IsPersistence(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
