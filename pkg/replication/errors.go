package replication

import "errors"

var (
	// ErrReplicationFailure wraps every error raised while publishing or
	// reading replicated state. Callers log it and carry on.
	ErrReplicationFailure = errors.New("replication failure")

	// ErrNotFound indicates no replicated state exists for the key.
	ErrNotFound = errors.New("replicated state not found")
)
