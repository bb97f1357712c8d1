// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrCampaignNotFound indicates a campaign was not found by the given identifier.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrCampaignAlreadyExists indicates a campaign with the same identifier already exists.
	ErrCampaignAlreadyExists = errors.New("campaign already exists")

	// ErrLeadNotFound indicates a lead was not found by the given identifier.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrTimerNotFound indicates a timer was not found by the given identifier.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrEventNotFound indicates a waiting event was not found.
	ErrEventNotFound = errors.New("waiting event not found")

	// ErrVersionConflict indicates an optimistic lead save lost a concurrent
	// update race. Transient: reload and retry.
	ErrVersionConflict = errors.New("lead version conflict")
)

// LeadError wraps lead storage errors with operation context.
type LeadError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save")
	LeadID string
	Err    error
}

func (e *LeadError) Error() string {
	return fmt.Sprintf("%s operation failed for lead %s: %v", e.Op, e.LeadID, e.Err)
}

func (e *LeadError) Unwrap() error {
	return e.Err
}

func (e *LeadError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewLeadError creates a new lead error with context.
func NewLeadError(op, leadID string, err error) *LeadError {
	return &LeadError{Op: op, LeadID: leadID, Err: err}
}

// CampaignError wraps campaign storage errors with operation context.
type CampaignError struct {
	Op         string
	CampaignID string
	Err        error
}

func (e *CampaignError) Error() string {
	return fmt.Sprintf("%s operation failed for campaign %s: %v", e.Op, e.CampaignID, e.Err)
}

func (e *CampaignError) Unwrap() error {
	return e.Err
}

func (e *CampaignError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewCampaignError creates a new campaign error with context.
func NewCampaignError(op, campaignID string, err error) *CampaignError {
	return &CampaignError{Op: op, CampaignID: campaignID, Err: err}
}

// IsCampaignNotFound checks if an error indicates a campaign was not found.
func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

// IsCampaignAlreadyExists checks if an error indicates a duplicate campaign.
func IsCampaignAlreadyExists(err error) bool {
	return errors.Is(err, ErrCampaignAlreadyExists)
}

// IsLeadNotFound checks if an error indicates a lead was not found.
func IsLeadNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound)
}

// IsVersionConflict checks if an error indicates an optimistic save conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
