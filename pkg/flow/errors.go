package flow

import (
	"errors"
	"fmt"
)

// ErrStructural marks a malformed graph. Fatal: campaign start is aborted
// before any lead is created.
var ErrStructural = errors.New("structural graph error")

// ErrConfiguration marks invalid node configuration. It fails the individual
// lead that hits the node, never the whole campaign.
var ErrConfiguration = errors.New("node configuration error")

// ErrLeadLocked is returned by callers that want a lock-contention outcome
// redelivered instead of silently dropped.
var ErrLeadLocked = errors.New("lead locked by another worker")

// StructuralError describes where a graph definition is broken.
type StructuralError struct {
	NodeID string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("structural graph error: %s", e.Reason)
	}

	return fmt.Sprintf("structural graph error at node %s: %s", e.NodeID, e.Reason)
}

func (e *StructuralError) Unwrap() error {
	return ErrStructural
}

func NewStructuralError(nodeID, reason string) *StructuralError {
	return &StructuralError{NodeID: nodeID, Reason: reason}
}

// ConfigurationError describes an invalid node configuration.
type ConfigurationError struct {
	NodeID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error at node %s: %s", e.NodeID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func NewConfigurationError(nodeID, reason string) *ConfigurationError {
	return &ConfigurationError{NodeID: nodeID, Reason: reason}
}
