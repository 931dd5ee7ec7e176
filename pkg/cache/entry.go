package cache

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fake clock.
type Clock func() time.Time

// State is the lifecycle state of a CacheEntry.
type State string

const (
	// StateEmpty means no payload and not expired (just created or reincarnated).
	StateEmpty State = "empty"
	// StateFresh means a payload is present and not expired.
	StateFresh State = "fresh"
	// StateStale means a payload is present but expired.
	StateStale State = "stale"
	// StateExpiredEmpty means no payload and expired, as with a newly loaded entry.
	StateExpiredEmpty State = "expired-empty"
)

// CacheEntry is a cached response for one fingerprint.
//
// Every method is atomic with respect to the entry's own fields. Sequences of
// calls are not: two exchanges sharing a fingerprint may interleave a
// Populate with a Clean. The last writer wins.
type CacheEntry struct {
	mu    sync.RWMutex
	clock Clock

	fingerprint  string
	payload      []byte
	json         bool
	headers      map[string]string
	statusCode   string
	statusReason string
	ttlSeconds   int64
	expireAt     int64 // epoch millis
}

// Snapshot is a detached, serializable copy of a CacheEntry. It is the form
// entries take on the replication channel.
type Snapshot struct {
	Fingerprint  string            `json:"fingerprint"`
	Payload      []byte            `json:"payload,omitempty"`
	JSON         bool              `json:"json"`
	Headers      map[string]string `json:"headers,omitempty"`
	StatusCode   string            `json:"status_code,omitempty"`
	StatusReason string            `json:"status_reason,omitempty"`
	TTLSeconds   int64             `json:"ttl_seconds"`
	ExpireAt     int64             `json:"expire_at"`
}

// NewEntry creates an empty entry for fingerprint. The entry holds no payload
// and reports expired until it is populated or reincarnated.
func NewEntry(fingerprint string, ttlSeconds int64, clock Clock) *CacheEntry {
	if clock == nil {
		clock = time.Now
	}
	return &CacheEntry{
		clock:       clock,
		fingerprint: fingerprint,
		ttlSeconds:  ttlSeconds,
	}
}

// RestoreEntry rebuilds an entry from a replicated snapshot.
func RestoreEntry(s Snapshot, clock Clock) *CacheEntry {
	e := NewEntry(s.Fingerprint, s.TTLSeconds, clock)
	e.payload = cloneBytes(s.Payload)
	e.json = s.JSON
	e.headers = cloneHeaders(s.Headers)
	e.statusCode = s.StatusCode
	e.statusReason = s.StatusReason
	e.expireAt = s.ExpireAt
	return e
}

// Fingerprint returns the request fingerprint this entry answers.
func (e *CacheEntry) Fingerprint() string {
	return e.fingerprint
}

// IsExpired reports whether ttl <= 0 or now >= expireAt.
func (e *CacheEntry) IsExpired() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.expiredLocked()
}

func (e *CacheEntry) expiredLocked() bool {
	return e.ttlSeconds <= 0 || e.clock().UnixMilli() >= e.expireAt
}

// HasPayload reports whether a response payload is held.
func (e *CacheEntry) HasPayload() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.payload != nil
}

// State returns the current lifecycle state.
func (e *CacheEntry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	expired := e.expiredLocked()
	switch {
	case e.payload != nil && !expired:
		return StateFresh
	case e.payload != nil:
		return StateStale
	case expired:
		return StateExpiredEmpty
	default:
		return StateEmpty
	}
}

// TTLSeconds returns the entry's time to live.
func (e *CacheEntry) TTLSeconds() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ttlSeconds
}

// ExpireAt returns the expiry instant in epoch milliseconds.
func (e *CacheEntry) ExpireAt() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.expireAt
}

// Reincarnate resets an expired entry so it can be populated again.
// It fails with ErrInvalidState if the entry has not expired.
func (e *CacheEntry) Reincarnate(ttlSeconds int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.expiredLocked() {
		return fmt.Errorf("%w: unexpired entry %s cannot be reincarnated", ErrInvalidState, e.fingerprint)
	}

	e.payload = nil
	e.headers = nil
	e.ttlSeconds = ttlSeconds
	e.expireAt = e.clock().UnixMilli() + ttlSeconds*1000
	return nil
}

// Clean discards payload and headers. Fingerprint, ttl and expiry are kept.
func (e *CacheEntry) Clean() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payload = nil
	e.headers = nil
}

// Populate stores a response and restarts the expiry window from now.
// Either every field is written or, on error, none is.
func (e *CacheEntry) Populate(payload []byte, isJSON bool, headers map[string]string, statusCode, statusReason string, ttlSeconds int64) error {
	if payload == nil {
		return fmt.Errorf("%w: populate %s without payload", ErrInvalidState, e.fingerprint)
	}

	p := cloneBytes(payload)
	h := cloneHeaders(headers)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.payload = p
	e.json = isJSON
	e.headers = h
	e.statusCode = statusCode
	e.statusReason = statusReason
	e.ttlSeconds = ttlSeconds
	e.expireAt = e.clock().UnixMilli() + ttlSeconds*1000
	return nil
}

// Snapshot returns a detached copy of the entry.
func (e *CacheEntry) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Fingerprint:  e.fingerprint,
		Payload:      cloneBytes(e.payload),
		JSON:         e.json,
		Headers:      cloneHeaders(e.headers),
		StatusCode:   e.statusCode,
		StatusReason: e.statusReason,
		TTLSeconds:   e.ttlSeconds,
		ExpireAt:     e.expireAt,
	}
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.expiredLocked() {
		return 0
	}
	return time.Duration(e.expireAt-e.clock().UnixMilli()) * time.Millisecond
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
