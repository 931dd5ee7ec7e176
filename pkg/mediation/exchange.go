package mediation

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
)

// Exchange-scoped property keys shared by the Finder and the Collector.
const (
	PropRequestHash  = "requestHash"
	PropCachedObject = "cachedObject"
)

// Exchange is one request/response round trip. The host creates it for the
// request, passes it to the Finder, and passes the same value to the
// Collector with Message replaced by the response.
type Exchange struct {
	// ID identifies the exchange across cluster members.
	ID string
	// Message is the message currently being mediated.
	Message *Message

	mu       sync.RWMutex
	props    map[string]any
	answered bool
}

// NewExchange creates an exchange with a random id.
func NewExchange(msg *Message) *Exchange {
	return &Exchange{
		ID:      uuid.NewString(),
		Message: msg,
		props:   make(map[string]any),
	}
}

// Property returns an exchange-scoped property.
func (ex *Exchange) Property(key string) (any, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	v, ok := ex.props[key]
	return v, ok
}

// SetProperty sets an exchange-scoped property.
func (ex *Exchange) SetProperty(key string, value any) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.props == nil {
		ex.props = make(map[string]any)
	}
	ex.props[key] = value
}

// RemoveProperty deletes an exchange-scoped property.
func (ex *Exchange) RemoveProperty(key string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	delete(ex.props, key)
}

// Answered reports whether the Finder served the exchange from cache.
func (ex *Exchange) Answered() bool {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.answered
}

func (ex *Exchange) markAnswered() {
	ex.mu.Lock()
	ex.answered = true
	ex.mu.Unlock()
}

// CorrelationToken links a Collector to the entry its Finder looked up.
type CorrelationToken struct {
	Fingerprint string
	Entry       *cache.CacheEntry
}

// Token returns the correlation token planted by the Finder.
func (ex *Exchange) Token() (CorrelationToken, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	fp, _ := ex.props[PropRequestHash].(string)
	entry, _ := ex.props[PropCachedObject].(*cache.CacheEntry)
	if fp == "" || entry == nil {
		return CorrelationToken{}, false
	}
	return CorrelationToken{Fingerprint: fp, Entry: entry}, true
}

func (ex *Exchange) setToken(t CorrelationToken) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.props == nil {
		ex.props = make(map[string]any)
	}
	ex.props[PropRequestHash] = t.Fingerprint
	ex.props[PropCachedObject] = t.Entry
}
