package mediation

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates a role mismatch or a bad continuation reference.
	ErrConfiguration = errors.New("cache configuration error")

	// ErrSizeLimitExceeded indicates a response too large to cache. The
	// exchange itself proceeds.
	ErrSizeLimitExceeded = errors.New("response exceeds cacheable size")

	// ErrNoCorrelation indicates a response without a correlation token.
	ErrNoCorrelation = errors.New("no correlation token for exchange")
)

// Role is the side of the exchange a Coordinator handles.
type Role string

const (
	// RoleFinder handles requests.
	RoleFinder Role = "finder"

	// RoleCollector handles responses.
	RoleCollector Role = "collector"
)

// MediationError is returned by Coordinator.Mediate.
type MediationError struct {
	ExchangeID string
	CacheID    string
	Role       Role
	Err        error
}

// Error implements the error interface.
func (e *MediationError) Error() string {
	return fmt.Sprintf("cache %q %s (exchange %s): %v", e.CacheID, e.Role, e.ExchangeID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *MediationError) Unwrap() error {
	return e.Err
}
