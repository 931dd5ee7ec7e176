package mediation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
	"github.com/Sternrassler/exchange-cache/pkg/logging"
	"github.com/Sternrassler/exchange-cache/pkg/replication"
)

const tracerName = "github.com/Sternrassler/exchange-cache/pkg/mediation"

// Cache decisions recorded on spans.
const (
	decisionUncacheable = "uncacheable"
	decisionHit         = "hit"
	decisionStale       = "stale"
	decisionMiss        = "miss"
	decisionNoToken     = "no-token"
	decisionRejected    = "rejected"
	decisionTooLarge    = "too-large"
	decisionStored      = "stored"
)

// Coordinator runs one side of the caching protocol for one cache id: the
// Finder on requests or the Collector on responses.
type Coordinator struct {
	cfg        Config
	cache      *cache.Cache
	store      *cache.Store
	loader     cache.Loader
	replicator replication.Replicator
	states     replication.StateLoader
	sequences  SequenceResolver
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReplicator sets the replication side channel. Default: replication.Nop.
func WithReplicator(r replication.Replicator) Option {
	return func(c *Coordinator) {
		c.replicator = r
	}
}

// WithStateLoader lets a Collector resolve exchanges whose Finder ran on
// another cluster member.
func WithStateLoader(l replication.StateLoader) Option {
	return func(c *Coordinator) {
		c.states = l
	}
}

// WithLoader sets how missing entries are created. It only takes effect for
// the first Coordinator of a cache id.
func WithLoader(l cache.Loader) Option {
	return func(c *Coordinator) {
		c.loader = l
	}
}

// WithSequenceResolver resolves OnHit.SequenceRef.
func WithSequenceResolver(r SequenceResolver) Option {
	return func(c *Coordinator) {
		c.sequences = r
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New creates a Coordinator and registers its cache and store in reg.
func New(reg *cache.Registry, cfg Config, opts ...Option) (*Coordinator, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfiguration)
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:        cfg,
		replicator: replication.Nop{},
		logger:     logging.NewLogger(string(cfg.role())),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.OnHit.Sequence == nil && cfg.OnHit.SequenceRef != "" && c.sequences != nil {
		if _, ok := c.sequences.Resolve(cfg.OnHit.SequenceRef); !ok {
			return nil, fmt.Errorf("%w: unknown on-hit sequence %q", ErrConfiguration, cfg.OnHit.SequenceRef)
		}
	}

	c.store = reg.GetOrCreateStore(cfg.CacheID)
	if !cfg.Collector {
		c.store.SetMaxPayloadSize(cfg.MaxPayloadSize)
		if err := c.store.SetAcceptedStatus(cfg.AcceptedStatus); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		c.store.SetProtocol(cfg.Protocol)
	}

	if c.loader == nil {
		c.loader = cache.EmptyLoader(cfg.TTLSeconds, reg.Clock())
	}
	c.cache = reg.GetOrCreateCache(cfg.CacheID, cfg.MaxEntries, c.loader)
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Role returns the side of the exchange this Coordinator handles.
func (c *Coordinator) Role() Role {
	return c.cfg.role()
}

// Cache returns the cache of this coordinator's id.
func (c *Coordinator) Cache() *cache.Cache {
	return c.cache
}

// Store returns the store of this coordinator's id.
func (c *Coordinator) Store() *cache.Store {
	return c.store
}

// Mediate runs the Finder or Collector on ex. It reports whether the
// pipeline should keep mediating: false after a fresh hit unless
// ContinueExecution is set, and on error.
func (c *Coordinator) Mediate(ctx context.Context, ex *Exchange) (bool, error) {
	if ex == nil || ex.Message == nil {
		return false, c.fail(ex, fmt.Errorf("%w: exchange has no message", ErrConfiguration))
	}
	logger := logging.WithExchange(c.logger, c.cfg.CacheID, ex.ID).
		With().Str("role", string(c.cfg.role())).Logger()

	if ex.Message.Response != c.cfg.Collector {
		err := fmt.Errorf("%w: %s cannot handle %s messages", ErrConfiguration, c.cfg.role(), direction(ex.Message))
		logger.Error().Err(err).Msg("Message handled by the wrong cache role")
		return false, c.fail(ex, err)
	}

	if c.cfg.Collector {
		return true, c.collect(ctx, ex, logger)
	}
	return c.find(ctx, ex, logger)
}

func (c *Coordinator) find(ctx context.Context, ex *Exchange, logger zerolog.Logger) (bool, error) {
	ctx, span := c.startSpan(ctx, "exchange-cache.find", ex)
	cont, decision, err := c.findEntry(ctx, ex, logger)
	span.SetAttributes(attribute.String("cache.decision", decision))
	endSpan(span, err)
	return cont, err
}

func (c *Coordinator) findEntry(ctx context.Context, ex *Exchange, logger zerolog.Logger) (bool, string, error) {
	msg := ex.Message
	opts := fingerprint.Options{
		IncludeBody:     !c.addressOnly(msg),
		ExcludedHeaders: c.cfg.ExcludedHeaders,
	}

	fp, err := c.cfg.Generator.Fingerprint(msg.descriptor(), opts)
	if err != nil {
		logger.Error().Err(err).Msg("Error in calculating the hash value of the request")
		return false, decisionUncacheable, c.fail(ex, fmt.Errorf("compute fingerprint: %w", err))
	}
	if fp == "" {
		logger.Debug().Bool("include_body", opts.IncludeBody).Msg("Request has nothing to fingerprint, forwarding uncached")
		return true, decisionUncacheable, nil
	}

	logger = logger.With().Str("fingerprint", fp).Logger()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.fingerprint", fp))
	logger.Trace().Bool("include_body", opts.IncludeBody).Msg("Generated request hash")

	entry, err := c.cache.Get(ctx, fp)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load cache entry")
		return false, decisionUncacheable, c.fail(ex, err)
	}

	token := CorrelationToken{Fingerprint: fp, Entry: entry}
	ex.setToken(token)
	c.replicateExchange(ctx, ex, token, logger)

	switch entry.State() {
	case cache.StateFresh:
		snap := entry.Snapshot()
		if snap.Payload == nil {
			// Cleaned by a concurrent exchange sharing the fingerprint.
			break
		}
		cache.CacheHits.WithLabelValues(c.cfg.CacheID).Inc()
		if err := c.restore(msg, snap, logger); err != nil {
			logger.Error().Err(err).Msg("Error creating response from cache")
			return false, decisionHit, c.fail(ex, err)
		}
		ex.markAnswered()
		logger.Debug().Msg("Cache hit, serving cached response")

		if err := c.runOnHit(ctx, ex, logger); err != nil {
			logger.Error().Err(err).Msg("On-hit sequence failed")
			return false, decisionHit, c.fail(ex, err)
		}
		return c.cfg.OnHit.ContinueExecution, decisionHit, nil

	case cache.StateStale:
		if err := entry.Reincarnate(c.cfg.TTLSeconds); err != nil {
			// Another exchange sharing the fingerprint reincarnated it first.
			logger.Debug().Err(err).Msg("Entry no longer expired")
		}
		c.cache.Put(fp, entry)
		ex.setToken(token)
		c.replicateExchange(ctx, ex, token, logger)
		c.replicateEntry(ctx, token, logger)

		cache.CacheStale.WithLabelValues(c.cfg.CacheID).Inc()
		logger.Debug().Int64("ttl", c.cfg.TTLSeconds).Msg("Existing cached response has expired, entry reset")
		return true, decisionStale, nil
	}

	cache.CacheMisses.WithLabelValues(c.cfg.CacheID).Inc()
	logger.Debug().Msg("Cache miss, forwarding")
	return true, decisionMiss, nil
}

// addressOnly reports whether the request is keyed on address and headers
// alone: an HTTP REST GET in a pipeline that treats only GET as a read.
func (c *Coordinator) addressOnly(msg *Message) bool {
	if !c.store.IsHTTP() || !msg.REST || !c.cfg.getOnly() {
		return false
	}
	return msg.Method == "" || strings.EqualFold(msg.Method, MethodGet)
}

// restore writes a cached response into msg.
func (c *Coordinator) restore(msg *Message, snap cache.Snapshot, logger zerolog.Logger) error {
	msg.Response = true
	msg.Payload = snap.Payload
	msg.Body = nil

	if snap.JSON {
		msg.ContentType = JSONContentType
		if body, err := fingerprint.ParseJSON(snap.Payload); err == nil {
			msg.Body = body
		}
	} else if body, err := fingerprint.ParseXMLBytes(snap.Payload); err == nil {
		msg.Body = body
	} else {
		logger.Trace().Err(err).Msg("Cached payload is not XML, serving raw bytes")
	}

	if c.store.IsHTTP() && snap.StatusCode != "" {
		code, err := strconv.Atoi(snap.StatusCode)
		if err != nil {
			return fmt.Errorf("%w: cached status code %q", cache.ErrInvalidState, snap.StatusCode)
		}
		msg.StatusCode = code
		msg.StatusReason = snap.StatusReason
	}

	if msg.REST && snap.Headers != nil {
		msg.Headers = headersFromProperties(snap.Headers)
		msg.MessageType = snap.Headers[HeaderMessageType]
		if ct, ok := msg.Header("Content-Type"); ok {
			msg.ContentType = ct
		}
	}
	return nil
}

func (c *Coordinator) runOnHit(ctx context.Context, ex *Exchange, logger zerolog.Logger) error {
	seq := c.cfg.OnHit.Sequence
	ref := c.cfg.OnHit.SequenceRef
	if seq == nil && ref != "" {
		if c.sequences == nil {
			return fmt.Errorf("%w: no resolver for on-hit sequence %q", ErrConfiguration, ref)
		}
		s, ok := c.sequences.Resolve(ref)
		if !ok {
			return fmt.Errorf("%w: unknown on-hit sequence %q", ErrConfiguration, ref)
		}
		seq = s
	}
	if seq == nil {
		logger.Trace().Msg("Request was served from the cache")
		return nil
	}

	logger.Trace().Str("sequence", ref).Msg("Delegating message to the on-hit sequence")
	if err := seq.Mediate(ctx, ex); err != nil {
		return fmt.Errorf("on-hit sequence: %w", err)
	}
	return nil
}

func (c *Coordinator) collect(ctx context.Context, ex *Exchange, logger zerolog.Logger) error {
	ctx, span := c.startSpan(ctx, "exchange-cache.collect", ex)
	decision, err := c.collectResponse(ctx, ex, logger)
	span.SetAttributes(attribute.String("cache.decision", decision))
	endSpan(span, err)
	return err
}

func (c *Coordinator) collectResponse(ctx context.Context, ex *Exchange, logger zerolog.Logger) (string, error) {
	token, ok := ex.Token()
	if !ok {
		token, ok = c.recoverToken(ctx, ex, logger)
	}
	if !ok {
		logger.Warn().Err(ErrNoCorrelation).Msg("A response message without a valid mapping to the request hash found, not caching")
		return decisionNoToken, nil
	}

	msg := ex.Message
	logger = logger.With().Str("fingerprint", token.Fingerprint).Int("status_code", msg.StatusCode).Logger()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.fingerprint", token.Fingerprint))

	status := strconv.Itoa(msg.StatusCode)
	if c.store.IsHTTP() && !c.store.Accepts(status) {
		token.Entry.Clean()
		c.cache.Put(token.Fingerprint, token.Entry)
		ex.setToken(token)
		c.replicateExchange(ctx, ex, token, logger)
		c.replicateEntry(ctx, token, logger)

		cache.CacheRejected.WithLabelValues(c.cfg.CacheID).Inc()
		logger.Debug().Str("accepted", c.store.AcceptedStatus()).Msg("Response status cannot be cached, entry cleaned")
		return decisionRejected, nil
	}

	payload, isJSON, err := c.serialize(msg)
	if errors.Is(err, ErrSizeLimitExceeded) {
		cache.SizeLimitExceeded.WithLabelValues(c.cfg.CacheID).Inc()
		logger.Warn().Err(err).Msg("Message size exceeds the upper bound for caching, response will not be cached")
		return decisionTooLarge, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("Unable to serialize the response for the cache")
		return decisionStored, c.fail(ex, err)
	}

	var headers map[string]string
	if msg.REST {
		headers = msg.headerProperties()
		if msg.MessageType != "" {
			headers[HeaderMessageType] = msg.MessageType
		}
		headers[HeaderCacheKey] = token.Fingerprint
		msg.SetHeader(HeaderCacheKey, token.Fingerprint)
	}

	var statusCode, reason string
	if c.store.IsHTTP() {
		statusCode, reason = status, msg.StatusReason
	}

	ttl := token.Entry.TTLSeconds()
	if err := token.Entry.Populate(payload, isJSON, headers, statusCode, reason, ttl); err != nil {
		logger.Error().Err(err).Msg("Failed to populate cache entry")
		return decisionStored, c.fail(ex, err)
	}
	c.cache.Put(token.Fingerprint, token.Entry)

	cache.CacheStored.WithLabelValues(c.cfg.CacheID).Inc()
	cache.PayloadBytes.WithLabelValues(c.cfg.CacheID).Observe(float64(len(payload)))
	logger.Debug().Int64("ttl", ttl).Bool("json", isJSON).Int("size", len(payload)).Msg("Response stored in cache")

	c.replicateEntry(ctx, token, logger)
	return decisionStored, nil
}

// replicateEntry publishes the current state of the token's entry so peers
// never load a snapshot older than the local one.
func (c *Coordinator) replicateEntry(ctx context.Context, token CorrelationToken, logger zerolog.Logger) {
	if err := c.replicator.ReplicateEntry(ctx, c.cfg.CacheID, token.Entry.Snapshot()); err != nil {
		logger.Warn().Err(err).Msg("Unable to replicate cache entry among the cluster")
	}
}

// serialize returns the payload to cache. JSON responses keep their raw
// bytes; everything else is written from the body tree when one exists.
func (c *Coordinator) serialize(msg *Message) ([]byte, bool, error) {
	if msg.isJSON() {
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if !c.store.PayloadFits(len(payload)) {
			return nil, true, fmt.Errorf("%w: %d > %d bytes", ErrSizeLimitExceeded, len(payload), c.store.MaxPayloadSize())
		}
		return payload, true, nil
	}

	var buf bytes.Buffer
	if msg.Body != nil {
		if err := fingerprint.WriteXML(&buf, msg.Body); err != nil {
			return nil, false, fmt.Errorf("serialize response body: %w", err)
		}
	} else {
		buf.Write(msg.Payload)
	}
	if !c.store.PayloadFits(buf.Len()) {
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrSizeLimitExceeded, buf.Len(), c.store.MaxPayloadSize())
	}

	payload := buf.Bytes()
	if payload == nil {
		payload = []byte{}
	}
	return payload, false, nil
}

// recoverToken rebuilds the correlation token from exchange state replicated
// by the cluster member that ran the Finder.
func (c *Coordinator) recoverToken(ctx context.Context, ex *Exchange, logger zerolog.Logger) (CorrelationToken, bool) {
	if c.states == nil {
		return CorrelationToken{}, false
	}

	state, err := c.states.LoadExchange(ctx, ex.ID)
	if err != nil {
		if !errors.Is(err, replication.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to load replicated exchange state")
		}
		return CorrelationToken{}, false
	}
	if state.CacheID != c.cfg.CacheID || state.RequestHash == "" {
		return CorrelationToken{}, false
	}

	entry, err := c.cache.Get(ctx, state.RequestHash)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load cache entry for replicated exchange")
		return CorrelationToken{}, false
	}

	token := CorrelationToken{Fingerprint: state.RequestHash, Entry: entry}
	ex.setToken(token)
	logger.Debug().Str("fingerprint", token.Fingerprint).Msg("Correlation token restored from replicated exchange state")
	return token, true
}

func (c *Coordinator) replicateExchange(ctx context.Context, ex *Exchange, token CorrelationToken, logger zerolog.Logger) {
	snap := token.Entry.Snapshot()
	state := replication.ExchangeState{
		ExchangeID:  ex.ID,
		CacheID:     c.cfg.CacheID,
		RequestHash: token.Fingerprint,
		Entry:       &snap,
	}
	if err := c.replicator.ReplicateExchange(ctx, state); err != nil {
		logger.Warn().Err(err).Msg("Unable to replicate exchange state among the cluster")
	}
}

func (c *Coordinator) fail(ex *Exchange, err error) error {
	var id string
	if ex != nil {
		id = ex.ID
	}
	return &MediationError{
		ExchangeID: id,
		CacheID:    c.cfg.CacheID,
		Role:       c.cfg.role(),
		Err:        err,
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name string, ex *Exchange) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("cache.id", c.cfg.CacheID),
			attribute.String("exchange.id", ex.ID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func direction(msg *Message) string {
	if msg.Response {
		return "response"
	}
	return "request"
}
