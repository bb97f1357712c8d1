package models

import (
	"errors"
	"fmt"
	"time"
)

// DurationUnit is the user-facing unit for wait and timeout configuration.
type DurationUnit string

const (
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
)

// ErrInvalidDuration is returned for a missing, non-positive or unknown
// duration configuration.
var ErrInvalidDuration = errors.New("invalid duration configuration")

// ParseDuration converts a user-configured (amount, unit) pair into a
// time.Duration.
func ParseDuration(amount int, unit DurationUnit) (time.Duration, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount %d must be positive", ErrInvalidDuration, amount)
	}

	switch unit {
	case UnitMinutes:
		return time.Duration(amount) * time.Minute, nil
	case UnitHours:
		return time.Duration(amount) * time.Hour, nil
	case UnitDays:
		return time.Duration(amount) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, unit)
	}
}
