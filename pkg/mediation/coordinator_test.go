package mediation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
	"github.com/Sternrassler/exchange-cache/pkg/replication"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingReplicator counts calls and optionally fails them.
type recordingReplicator struct {
	mu        sync.Mutex
	exchanges []replication.ExchangeState
	entries   []cache.Snapshot
	err       error
}

func (r *recordingReplicator) ReplicateExchange(_ context.Context, s replication.ExchangeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, s)
	return r.err
}

func (r *recordingReplicator) ReplicateEntry(_ context.Context, _ string, s cache.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, s)
	return r.err
}

type pipeline struct {
	clock     *fakeClock
	registry  *cache.Registry
	finder    *Coordinator
	collector *Coordinator
}

func newPipeline(t *testing.T, cfg Config, opts ...Option) *pipeline {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := cache.NewRegistry(cache.WithClock(clock.Now))
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)

	finderCfg := cfg
	finderCfg.Collector = false
	finder, err := New(reg, finderCfg, opts...)
	if err != nil {
		t.Fatalf("New(finder) error = %v", err)
	}

	collectorCfg := cfg
	collectorCfg.Collector = true
	collector, err := New(reg, collectorCfg, opts...)
	if err != nil {
		t.Fatalf("New(collector) error = %v", err)
	}

	return &pipeline{clock: clock, registry: reg, finder: finder, collector: collector}
}

func getOrder(id string) *Message {
	return &Message{
		Method: http.MethodGet,
		To:     "/orders/" + id,
		REST:   true,
		Headers: []fingerprint.Header{
			{Name: "Accept", Value: "application/json"},
			{Name: "Date", Value: time.Now().Format(http.TimeFormat)},
		},
	}
}

func respond(ex *Exchange, status int, contentType, payload string) {
	ex.Message = &Message{
		REST:         true,
		Response:     true,
		StatusCode:   status,
		StatusReason: http.StatusText(status),
		ContentType:  contentType,
		Payload:      []byte(payload),
		Headers: []fingerprint.Header{
			{Name: "Content-Type", Value: contentType},
			{Name: "X-Backend", Value: "orders-1"},
		},
	}
}

// roundTrip runs the Finder and, when it forwards, the Collector with the
// given response.
func (p *pipeline) roundTrip(t *testing.T, req *Message, status int, contentType, payload string) *Exchange {
	t.Helper()
	ctx := context.Background()

	ex := NewExchange(req)
	cont, err := p.finder.Mediate(ctx, ex)
	if err != nil {
		t.Fatalf("finder Mediate() error = %v", err)
	}
	if !cont {
		return ex
	}

	respond(ex, status, contentType, payload)
	if _, err := p.collector.Mediate(ctx, ex); err != nil {
		t.Fatalf("collector Mediate() error = %v", err)
	}
	return ex
}

func TestScenario_MissThenFreshHit(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders"})
	ctx := context.Background()

	first := p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{"id":1}`)
	if first.Answered() {
		t.Fatal("first exchange should be forwarded")
	}
	token, ok := first.Token()
	if !ok {
		t.Fatal("finder should plant a correlation token")
	}
	if got := token.Entry.State(); got != cache.StateFresh {
		t.Fatalf("entry state = %s, want fresh", got)
	}

	second := NewExchange(getOrder("1"))
	cont, err := p.finder.Mediate(ctx, second)
	if err != nil {
		t.Fatalf("Mediate() error = %v", err)
	}
	if cont {
		t.Error("fresh hit should stop the pipeline")
	}
	if !second.Answered() {
		t.Error("fresh hit should answer the exchange")
	}

	msg := second.Message
	if !msg.Response {
		t.Error("served message should be a response")
	}
	if string(msg.Payload) != `{"id":1}` {
		t.Errorf("Payload = %s, want {\"id\":1}", msg.Payload)
	}
	if msg.StatusCode != http.StatusOK || msg.StatusReason != "OK" {
		t.Errorf("status = %d %s", msg.StatusCode, msg.StatusReason)
	}
	if v, _ := msg.Header("X-Backend"); v != "orders-1" {
		t.Errorf("X-Backend header = %q, want orders-1", v)
	}
	if v, _ := msg.Header(HeaderCacheKey); v != token.Fingerprint {
		t.Errorf("cacheKey header = %q, want %q", v, token.Fingerprint)
	}
	if msg.ContentType != JSONContentType {
		t.Errorf("ContentType = %q", msg.ContentType)
	}
}

func TestScenario_RejectedStatusCleansEntry(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders", AcceptedStatus: "2[0-9][0-9]"})

	first := p.roundTrip(t, getOrder("1"), http.StatusNotFound, JSONContentType, `{"error":"not found"}`)
	token, _ := first.Token()
	if token.Entry.HasPayload() {
		t.Fatal("rejected response must not be cached")
	}

	second := NewExchange(getOrder("1"))
	cont, err := p.finder.Mediate(context.Background(), second)
	if err != nil {
		t.Fatalf("Mediate() error = %v", err)
	}
	if !cont || second.Answered() {
		t.Error("subsequent request should be a miss")
	}
}

func TestScenario_StaleEntryIsReincarnated(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders", TTLSeconds: 1})
	ctx := context.Background()

	p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{"id":1}`)
	p.clock.Advance(1500 * time.Millisecond)

	ex := NewExchange(getOrder("1"))
	cont, err := p.finder.Mediate(ctx, ex)
	if err != nil {
		t.Fatalf("Mediate() error = %v", err)
	}
	if !cont || ex.Answered() {
		t.Fatal("stale hit should forward")
	}

	token, ok := ex.Token()
	if !ok {
		t.Fatal("stale hit should plant a correlation token")
	}
	if token.Entry.HasPayload() {
		t.Error("reincarnation should clear the payload")
	}
	if want := p.clock.Now().UnixMilli() + 1000; token.Entry.ExpireAt() != want {
		t.Errorf("ExpireAt() = %d, want %d", token.Entry.ExpireAt(), want)
	}

	respond(ex, http.StatusOK, JSONContentType, `{"id":1,"v":2}`)
	if _, err := p.collector.Mediate(ctx, ex); err != nil {
		t.Fatalf("collector Mediate() error = %v", err)
	}

	again := NewExchange(getOrder("1"))
	if cont, _ := p.finder.Mediate(ctx, again); cont {
		t.Fatal("repopulated entry should be served")
	}
	if string(again.Message.Payload) != `{"id":1,"v":2}` {
		t.Errorf("Payload = %s", again.Message.Payload)
	}

	// Same entry slot throughout.
	againToken, _ := again.Token()
	if againToken.Entry != token.Entry {
		t.Error("reincarnation should reuse the entry")
	}
}

func TestFinder_DifferentRequestsDoNotShareEntries(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders"})
	p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{"id":1}`)

	ex := NewExchange(getOrder("2"))
	if cont, _ := p.finder.Mediate(context.Background(), ex); !cont {
		t.Error("different address should miss")
	}
}

func TestMediate_RoleMismatch(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders"})
	ctx := context.Background()

	resp := NewExchange(&Message{Response: true, StatusCode: 200})
	if _, err := p.finder.Mediate(ctx, resp); !errors.Is(err, ErrConfiguration) {
		t.Errorf("finder on response error = %v, want ErrConfiguration", err)
	}

	req := NewExchange(getOrder("1"))
	_, err := p.collector.Mediate(ctx, req)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("collector on request error = %v, want ErrConfiguration", err)
	}

	var merr *MediationError
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *MediationError", err)
	}
	if merr.Role != RoleCollector || merr.CacheID != "orders" || merr.ExchangeID != req.ID {
		t.Errorf("MediationError = %+v", merr)
	}
}

func TestMediate_NilExchange(t *testing.T) {
	p := newPipeline(t, Config{})
	if _, err := p.finder.Mediate(context.Background(), nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestCollector_WithoutToken(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders"})

	ex := NewExchange(nil)
	respond(ex, http.StatusOK, JSONContentType, `{}`)

	cont, err := p.collector.Mediate(context.Background(), ex)
	if err != nil {
		t.Fatalf("Mediate() error = %v, want nil", err)
	}
	if !cont {
		t.Error("collector should let the exchange proceed")
	}
	if p.collector.Cache().Len() != 0 {
		t.Error("collector without token must not touch the cache")
	}
}

type stubStates struct {
	state *replication.ExchangeState
}

func (s stubStates) LoadExchange(context.Context, string) (*replication.ExchangeState, error) {
	if s.state == nil {
		return nil, replication.ErrNotFound
	}
	return s.state, nil
}

func (s stubStates) LoadEntry(context.Context, string, string) (*cache.Snapshot, error) {
	return nil, replication.ErrNotFound
}

func TestCollector_RecoversTokenFromReplicatedState(t *testing.T) {
	states := stubStates{state: &replication.ExchangeState{
		ExchangeID:  "ex-peer",
		CacheID:     "orders",
		RequestHash: "abc",
	}}
	p := newPipeline(t, Config{CacheID: "orders"}, WithStateLoader(states))

	ex := NewExchange(nil)
	ex.ID = "ex-peer"
	respond(ex, http.StatusOK, JSONContentType, `{"id":1}`)

	if _, err := p.collector.Mediate(context.Background(), ex); err != nil {
		t.Fatalf("Mediate() error = %v", err)
	}

	entry, ok := p.collector.Cache().Peek("abc")
	if !ok || !entry.HasPayload() {
		t.Fatal("collector should populate the entry named by replicated state")
	}
}

func TestCollector_SizeLimit(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		payload     string
		limit       int
		wantCached  bool
	}{
		{"json under limit", JSONContentType, `{"id":1}`, 64, true},
		{"json over limit", JSONContentType, `{"id":1234567890}`, 8, false},
		{"json at limit", JSONContentType, `{"a":1}`, 7, true},
		{"xml over limit", "text/xml", `<order id="1"/>`, 4, false},
		{"unbounded", "text/plain", "plain text body", cache.Unbounded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, Config{CacheID: "orders", MaxPayloadSize: tt.limit})
			ex := p.roundTrip(t, getOrder("1"), http.StatusOK, tt.contentType, tt.payload)

			token, _ := ex.Token()
			if got := token.Entry.HasPayload(); got != tt.wantCached {
				t.Errorf("HasPayload() = %v, want %v", got, tt.wantCached)
			}
		})
	}
}

func TestCollector_GenericPathSerializesBody(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "quotes"})
	ctx := context.Background()

	ex := NewExchange(getOrder("1"))
	if _, err := p.finder.Mediate(ctx, ex); err != nil {
		t.Fatalf("Mediate() error = %v", err)
	}

	body, err := fingerprint.ParseXMLBytes([]byte(`<quote xmlns="urn:q"><price>10</price></quote>`))
	if err != nil {
		t.Fatalf("ParseXMLBytes() error = %v", err)
	}
	respond(ex, http.StatusOK, "application/xml; charset=utf-8", "ignored when a body tree exists")
	ex.Message.Body = body
	if _, err := p.collector.Mediate(ctx, ex); err != nil {
		t.Fatalf("collector Mediate() error = %v", err)
	}

	hit := NewExchange(getOrder("1"))
	if cont, _ := p.finder.Mediate(ctx, hit); cont {
		t.Fatal("expected a fresh hit")
	}
	root, ok := hit.Message.Body.(*fingerprint.Element)
	if !ok {
		t.Fatalf("Body = %T, want *fingerprint.Element", hit.Message.Body)
	}
	if root.Local != "quote" || root.Space != "urn:q" {
		t.Errorf("root = {%s}%s", root.Space, root.Local)
	}
}

func TestCollector_NonHTTPProtocolAcceptsAnyStatus(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "jms", Protocol: "jms"})
	ex := p.roundTrip(t, &Message{To: "queue://orders", Body: &fingerprint.Element{Local: "get"}}, 500, "text/xml", "<ok/>")

	token, _ := ex.Token()
	if !token.Entry.HasPayload() {
		t.Error("non-HTTP responses are always cacheable")
	}
	if token.Entry.Snapshot().StatusCode != "" {
		t.Error("status code is only recorded for HTTP")
	}
}

func TestFinder_OnHit(t *testing.T) {
	var calls int
	seq := SequenceFunc(func(ctx context.Context, ex *Exchange) error {
		calls++
		if !ex.Answered() {
			t.Error("on-hit sequence should see an answered exchange")
		}
		return nil
	})

	tests := []struct {
		name     string
		onHit    OnHit
		resolver SequenceResolver
		wantCont bool
	}{
		{"inline sequence", OnHit{Sequence: seq}, nil, false},
		{"named sequence", OnHit{SequenceRef: "audit"}, Sequences{"audit": seq}, false},
		{"continue execution", OnHit{Sequence: seq, ContinueExecution: true}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			var opts []Option
			if tt.resolver != nil {
				opts = append(opts, WithSequenceResolver(tt.resolver))
			}
			p := newPipeline(t, Config{CacheID: "orders", OnHit: tt.onHit}, opts...)
			p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{"id":1}`)

			cont, err := p.finder.Mediate(context.Background(), NewExchange(getOrder("1")))
			if err != nil {
				t.Fatalf("Mediate() error = %v", err)
			}
			if cont != tt.wantCont {
				t.Errorf("continue = %v, want %v", cont, tt.wantCont)
			}
			if calls != 1 {
				t.Errorf("sequence called %d times, want 1", calls)
			}
		})
	}
}

func TestFinder_OnHitUnknownSequence(t *testing.T) {
	reg := cache.NewRegistry()
	_, err := New(reg, Config{OnHit: OnHit{SequenceRef: "missing"}},
		WithSequenceResolver(Sequences{}), WithLogger(zerolog.Nop()))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("New() error = %v, want ErrConfiguration", err)
	}

	// Without a resolver the reference fails at mediation time.
	p := newPipeline(t, Config{CacheID: "orders", OnHit: OnHit{SequenceRef: "missing"}})
	p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{}`)
	if _, err := p.finder.Mediate(context.Background(), NewExchange(getOrder("1"))); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Mediate() error = %v, want ErrConfiguration", err)
	}
}

func TestFinder_DigestFailure(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders", Generator: fingerprint.NewTreeHasher("WHIRLPOOL")})

	cont, err := p.finder.Mediate(context.Background(), NewExchange(getOrder("1")))
	if !errors.Is(err, fingerprint.ErrDigestFailure) {
		t.Fatalf("error = %v, want ErrDigestFailure", err)
	}
	if cont {
		t.Error("digest failure should stop mediation")
	}
}

func TestFinder_UnfingerprintableRequest(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders"})

	ex := NewExchange(&Message{Method: http.MethodGet, REST: true})
	cont, err := p.finder.Mediate(context.Background(), ex)
	if err != nil || !cont {
		t.Fatalf("Mediate() = %v, %v; want true, nil", cont, err)
	}
	if _, ok := ex.Token(); ok {
		t.Error("unfingerprintable request should carry no token")
	}
}

func TestFinder_BodyInclusionFollowsMethods(t *testing.T) {
	post := func(body string) *Message {
		return &Message{
			Method: http.MethodPost,
			To:     "/orders",
			REST:   true,
			Body:   &fingerprint.Element{Local: "order", Children: []fingerprint.Node{&fingerprint.Text{Data: body}}},
		}
	}

	p := newPipeline(t, Config{CacheID: "orders", Methods: []string{"GET", "POST"}})
	p.roundTrip(t, post("a"), http.StatusOK, JSONContentType, `{"id":"a"}`)

	ex := NewExchange(post("b"))
	if cont, _ := p.finder.Mediate(context.Background(), ex); !cont {
		t.Error("a different body should produce a different fingerprint")
	}
	ex = NewExchange(post("a"))
	if cont, _ := p.finder.Mediate(context.Background(), ex); cont {
		t.Error("the same body should hit")
	}
}

func TestReplicationFailureDoesNotFailExchange(t *testing.T) {
	rep := &recordingReplicator{err: replication.ErrReplicationFailure}
	p := newPipeline(t, Config{CacheID: "orders"}, WithReplicator(rep))

	ex := p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{"id":1}`)
	token, _ := ex.Token()
	if !token.Entry.HasPayload() {
		t.Error("entry should be populated despite replication failure")
	}
	if len(rep.exchanges) != 1 || len(rep.entries) != 1 {
		t.Errorf("replication calls = %d exchange, %d entry; want 1, 1", len(rep.exchanges), len(rep.entries))
	}
	if rep.exchanges[0].ExchangeID != ex.ID || rep.exchanges[0].CacheID != "orders" {
		t.Errorf("replicated state = %+v", rep.exchanges[0])
	}
}

func TestConcurrentExchangesShareOneEntry(t *testing.T) {
	p := newPipeline(t, Config{CacheID: "orders"})

	const workers = 8
	entries := make([]*cache.CacheEntry, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ex := NewExchange(getOrder("1"))
			if _, err := p.finder.Mediate(context.Background(), ex); err != nil {
				t.Errorf("Mediate() error = %v", err)
				return
			}
			token, _ := ex.Token()
			entries[i] = token.Entry
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if entries[i] != entries[0] {
			t.Fatal("concurrent misses for one fingerprint must share an entry")
		}
	}
}

func TestEntryReplicatedAfterResetAndClean(t *testing.T) {
	rep := &recordingReplicator{}
	p := newPipeline(t, Config{CacheID: "orders", TTLSeconds: 1}, WithReplicator(rep))
	ctx := context.Background()

	p.roundTrip(t, getOrder("1"), http.StatusOK, JSONContentType, `{"id":1}`)
	if len(rep.entries) != 1 || rep.entries[0].Payload == nil {
		t.Fatalf("stored entry not replicated: %+v", rep.entries)
	}

	// Stale: the reincarnated entry replaces the populated snapshot.
	p.clock.Advance(1500 * time.Millisecond)
	ex := NewExchange(getOrder("1"))
	if cont, err := p.finder.Mediate(ctx, ex); err != nil || !cont {
		t.Fatalf("stale Mediate() = %v, %v", cont, err)
	}
	if len(rep.entries) != 2 {
		t.Fatalf("replicated entries = %d, want 2", len(rep.entries))
	}
	if reset := rep.entries[1]; reset.Payload != nil || reset.ExpireAt != p.clock.Now().UnixMilli()+1000 {
		t.Errorf("reincarnated snapshot = %+v", reset)
	}

	// Rejected: the cleaned entry replaces it again.
	respond(ex, http.StatusInternalServerError, JSONContentType, `{"error":true}`)
	if _, err := p.collector.Mediate(ctx, ex); err != nil {
		t.Fatalf("collector Mediate() error = %v", err)
	}
	if len(rep.entries) != 3 {
		t.Fatalf("replicated entries = %d, want 3", len(rep.entries))
	}
	if cleaned := rep.entries[2]; cleaned.Payload != nil {
		t.Errorf("cleaned snapshot still carries a payload: %+v", cleaned)
	}
}
