// Package services provides the campaign lifecycle operations sitting
// between the HTTP layer and the flow engine.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCampaignNameRequired = errors.New("campaign name is required")
	ErrNodesRequired       = errors.New("campaign must have at least one node")
	ErrInvalidGraph        = errors.New("invalid campaign graph")
	ErrNoContacts          = errors.New("contact list is empty")
	ErrContactEmailMissing = errors.New("contact row is missing an email")

	// Business logic conflicts (409 Conflict).
	ErrCampaignNotReady       = errors.New("campaign is not in ready status")
	ErrCampaignAlreadyStarted = errors.New("campaign was already started")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrCampaignNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrNoContacts) ||
		errors.Is(err, ErrContactEmailMissing)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCampaignNotReady) ||
		errors.Is(err, ErrCampaignAlreadyStarted)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
