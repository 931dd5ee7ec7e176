package cache

import "errors"

var (
	// ErrInvalidState indicates an entry operation that is not allowed in
	// the entry's current state, such as reincarnating a fresh entry.
	ErrInvalidState = errors.New("invalid cache entry state")

	// ErrInvalidStatusPattern indicates an accepted-status pattern that does
	// not compile.
	ErrInvalidStatusPattern = errors.New("invalid accepted status pattern")
)
