package cache

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Protocol discriminates how responses are validated before caching.
type Protocol string

const (
	// ProtocolHTTP validates status codes against the accepted pattern.
	ProtocolHTTP Protocol = "HTTP"
)

const (
	// DefaultAcceptedStatus accepts any 2xx status.
	DefaultAcceptedStatus = "2[0-9][0-9]"

	// Unbounded disables the payload size limit.
	Unbounded = -1
)

// Store holds the per-pipeline settings shared by the Finder and Collector
// of one cache id.
type Store struct {
	mu             sync.RWMutex
	maxPayloadSize int
	statusPattern  string
	acceptedStatus *regexp.Regexp
	protocol       Protocol
}

// NewStore creates a store that accepts 2xx, speaks HTTP and has no size limit.
func NewStore() *Store {
	return &Store{
		maxPayloadSize: Unbounded,
		statusPattern:  DefaultAcceptedStatus,
		acceptedStatus: regexp.MustCompile(anchor(DefaultAcceptedStatus)),
		protocol:       ProtocolHTTP,
	}
}

// anchor makes pattern match whole status codes only.
func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

// MaxPayloadSize returns the payload limit in bytes, or Unbounded.
func (s *Store) MaxPayloadSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPayloadSize
}

// SetMaxPayloadSize sets the payload limit. Negative values mean Unbounded.
func (s *Store) SetMaxPayloadSize(n int) {
	if n < 0 {
		n = Unbounded
	}
	s.mu.Lock()
	s.maxPayloadSize = n
	s.mu.Unlock()
}

// PayloadFits reports whether a payload of n bytes may be cached.
func (s *Store) PayloadFits(n int) bool {
	max := s.MaxPayloadSize()
	return max == Unbounded || n <= max
}

// AcceptedStatus returns the accepted status pattern as configured.
func (s *Store) AcceptedStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusPattern
}

// SetAcceptedStatus replaces the accepted status pattern. An empty pattern
// leaves the current one in place.
func (s *Store) SetAcceptedStatus(pattern string) error {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(anchor(pattern))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidStatusPattern, pattern, err)
	}
	s.mu.Lock()
	s.statusPattern = pattern
	s.acceptedStatus = re
	s.mu.Unlock()
	return nil
}

// Accepts reports whether the whole status code matches the accepted pattern.
func (s *Store) Accepts(statusCode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptedStatus.MatchString(statusCode)
}

// Protocol returns the protocol discriminator.
func (s *Store) Protocol() Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

// SetProtocol sets the protocol. Names are upper-cased; empty keeps the current one.
func (s *Store) SetProtocol(p string) {
	if p == "" {
		return
	}
	s.mu.Lock()
	s.protocol = Protocol(strings.ToUpper(p))
	s.mu.Unlock()
}

// IsHTTP reports whether responses are validated as HTTP.
func (s *Store) IsHTTP() bool {
	return s.Protocol() == ProtocolHTTP
}
