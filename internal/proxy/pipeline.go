// Package proxy hosts Finder and Collector pairs in front of an HTTP upstream.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/exchange-cache/pkg/logging"
	"github.com/Sternrassler/exchange-cache/pkg/mediation"
)

// HeaderCacheStatus reports how a response was produced.
const HeaderCacheStatus = "X-Cache"

// Values of HeaderCacheStatus.
const (
	StatusHit  = "HIT"
	StatusMiss = "MISS"
)

// DefaultMaxBodySize bounds request and upstream response bodies.
const DefaultMaxBodySize = 10 << 20

var (
	// ErrNoUpstream is returned by NewPipeline without an upstream URL.
	ErrNoUpstream = errors.New("upstream URL is required")

	// ErrResponseTooLarge is returned when an upstream body exceeds the
	// configured maximum. Such responses are never handed to the Collector.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// Pipeline runs one Finder and Collector around an upstream round trip.
type Pipeline struct {
	finder      *mediation.Coordinator
	collector   *mediation.Coordinator
	upstream    *url.URL
	client      *http.Client
	timeout     time.Duration
	retry       RetryConfig
	maxBodySize int64
	stripPrefix string
	logger      zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClient sets the HTTP client used for upstream requests.
func WithClient(c *http.Client) Option {
	return func(p *Pipeline) {
		p.client = c
	}
}

// WithTimeout bounds each upstream round trip.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithRetry retries idempotent requests on network errors and 5xx responses.
func WithRetry(cfg RetryConfig) Option {
	return func(p *Pipeline) {
		p.retry = cfg
	}
}

// WithMaxBodySize bounds request and response bodies in bytes.
func WithMaxBodySize(n int64) Option {
	return func(p *Pipeline) {
		p.maxBodySize = n
	}
}

// WithStripPrefix removes prefix from request paths before forwarding.
func WithStripPrefix(prefix string) Option {
	return func(p *Pipeline) {
		p.stripPrefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a Pipeline forwarding to upstream.
func NewPipeline(finder, collector *mediation.Coordinator, upstream string, opts ...Option) (*Pipeline, error) {
	if finder == nil || collector == nil {
		return nil, fmt.Errorf("%w: pipeline needs a finder and a collector", mediation.ErrConfiguration)
	}
	if finder.Role() != mediation.RoleFinder || collector.Role() != mediation.RoleCollector {
		return nil, fmt.Errorf("%w: finder and collector roles swapped", mediation.ErrConfiguration)
	}
	if upstream == "" {
		return nil, ErrNoUpstream
	}
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", upstream, err)
	}

	p := &Pipeline{
		finder:      finder,
		collector:   collector,
		upstream:    u,
		client:      http.DefaultClient,
		timeout:     30 * time.Second,
		retry:       DefaultRetryConfig(),
		maxBodySize: DefaultMaxBodySize,
		logger:      logging.NewLogger("proxy"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CacheID returns the cache id of the pipeline.
func (p *Pipeline) CacheID() string {
	return p.finder.Config().CacheID
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cacheID := p.CacheID()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBodySize))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	target := p.target(r)
	ex := mediation.NewExchange(requestMessage(r, target.String(), payload))
	logger := logging.WithExchange(p.logger, cacheID, ex.ID)

	if _, err := p.finder.Mediate(r.Context(), ex); err != nil {
		logger.Error().Err(err).Msg("Finder failed")
		http.Error(w, "cache lookup failed", http.StatusInternalServerError)
		return
	}
	if ex.Answered() {
		writeMessage(w, ex.Message, StatusHit)
		observe(cacheID, StatusHit, start)
		return
	}

	resp, respPayload, err := p.forward(r.Context(), r, target, payload)
	if err != nil {
		UpstreamErrors.WithLabelValues(cacheID).Inc()
		logger.Warn().Err(err).Str("upstream", target.String()).Msg("Upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}

	ex.Message = responseMessage(ex.Message, resp, respPayload)
	if _, err := p.collector.Mediate(r.Context(), ex); err != nil {
		logger.Warn().Err(err).Msg("Collector failed, serving uncached response")
	}

	writeMessage(w, ex.Message, StatusMiss)
	observe(cacheID, StatusMiss, start)
}

// target maps the inbound request onto the upstream.
func (p *Pipeline) target(r *http.Request) *url.URL {
	path := r.URL.Path
	if p.stripPrefix != "" {
		path = strings.TrimPrefix(path, p.stripPrefix)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	}
	u := *p.upstream
	u.Path = strings.TrimSuffix(p.upstream.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery
	return &u
}

func (p *Pipeline) forward(ctx context.Context, r *http.Request, target *url.URL, payload []byte) (*http.Response, []byte, error) {
	return p.retryWithBackoff(ctx, r.Method, func() (*http.Response, []byte, error) {
		return p.roundTrip(ctx, r, target, payload)
	})
}

// roundTrip performs one upstream attempt and reads the whole response.
func (p *Pipeline) roundTrip(ctx context.Context, r *http.Request, target *url.URL, payload []byte) (*http.Response, []byte, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("create upstream request: %w", err)
	}
	for name, values := range r.Header {
		if hopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodySize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read upstream response: %w", err)
	}
	if int64(len(body)) > p.maxBodySize {
		return nil, nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, p.maxBodySize)
	}
	return resp, body, nil
}

func observe(cacheID, status string, start time.Time) {
	ProxyRequests.WithLabelValues(cacheID, status).Inc()
	ProxyDuration.WithLabelValues(cacheID, status).Observe(time.Since(start).Seconds())
}
