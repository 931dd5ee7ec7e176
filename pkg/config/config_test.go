package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
	"github.com/Sternrassler/exchange-cache/pkg/logging"
	"github.com/Sternrassler/exchange-cache/pkg/mediation"
	"github.com/Sternrassler/exchange-cache/pkg/replication"
)

const sample = `
server:
  listenAddr: ":9090"
  upstream: "http://backend:9000"
  upstreamTimeout: 5s
logging:
  level: debug
redis:
  addr: "localhost:6379"
  exchangeTTL: 2m
routes:
  - path: /orders
    cache: orders
caches:
  - id: orders
    timeout: 60
    maxMessageSize: 1024
    protocol:
      type: http
      methods: ["GET", " POST "]
      headersToExcludeInHash: [X-Request-Id]
      responseCodes: "200|404"
      hashGenerator: tree-sha256
    implementation:
      maxSize: 50
    onCacheHit:
      sequence: audit
      continueExecution: "true"
  - id: orders
    collector: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.UpstreamTimeout)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 2*time.Minute, cfg.Redis.ExchangeTTL)
	require.Len(t, cfg.Caches, 2)

	finder := cfg.Caches[0]
	assert.Equal(t, "HTTP", finder.Protocol.Type)
	assert.Equal(t, []string{"GET", "POST"}, finder.Protocol.Methods)
	assert.Equal(t, int64(60), *finder.Timeout)
	assert.Equal(t, 1024, *finder.MaxMessageSize)
	assert.Equal(t, 50, *finder.Implementation.MaxSize)

	collector := cfg.Caches[1]
	assert.True(t, collector.Collector)
	assert.Equal(t, cache.DefaultTTLSeconds, *collector.Timeout)
	assert.Equal(t, cache.Unbounded, *collector.MaxMessageSize)
	assert.Equal(t, []string{mediation.MethodGet}, collector.Protocol.Methods)
	assert.Equal(t, cache.DefaultAcceptedStatus, collector.Protocol.ResponseCodes)
	assert.Equal(t, DefaultGenerator, collector.Protocol.HashGenerator)
	assert.Equal(t, "false", collector.OnCacheHit.ContinueExecution)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, DefaultUpstreamTimeout, cfg.Server.UpstreamTimeout)
	assert.Equal(t, logging.LevelInfo, cfg.Logging.Level)
	assert.Equal(t, replication.DefaultExchangeTTL, cfg.Redis.ExchangeTTL)
	assert.False(t, cfg.Redis.Enabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown method",
			doc:  "caches:\n  - id: a\n    protocol:\n      methods: [FETCH]\n",
			want: "unexpected method type",
		},
		{
			name: "bad pattern",
			doc:  "caches:\n  - id: a\n    protocol:\n      responseCodes: \"2[0-9\"\n",
			want: "responseCodes",
		},
		{
			name: "unknown generator",
			doc:  "caches:\n  - id: a\n    protocol:\n      hashGenerator: crc32\n",
			want: "hashGenerator",
		},
		{
			name: "continueExecution",
			doc:  "caches:\n  - id: a\n    onCacheHit:\n      continueExecution: \"yes\"\n",
			want: "continueExecution",
		},
		{
			name: "negative timeout",
			doc:  "caches:\n  - id: a\n    timeout: -1\n",
			want: "timeout",
		},
		{
			name: "duplicate finder",
			doc:  "caches:\n  - id: a\n  - id: a\n",
			want: "duplicate finder",
		},
		{
			name: "route without collector",
			doc:  "server:\n  upstream: http://x\nroutes:\n  - path: /a\n    cache: a\ncaches:\n  - id: a\n",
			want: "needs a finder and a collector",
		},
		{
			name: "route without upstream",
			doc:  "routes:\n  - path: /a\n    cache: a\ncaches:\n  - id: a\n  - id: a\n    collector: true\n",
			want: "no upstream",
		},
		{
			name: "unknown key",
			doc:  "caches:\n  - id: a\n    ttl: 5\n",
			want: "ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Routes, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefinition_MediationConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	mcfg, err := cfg.Caches[0].MediationConfig()
	require.NoError(t, err)

	want, err := fingerprint.Lookup("tree-sha256")
	require.NoError(t, err)

	assert.Equal(t, "orders", mcfg.CacheID)
	assert.False(t, mcfg.Collector)
	assert.Equal(t, int64(60), mcfg.TTLSeconds)
	assert.Equal(t, []string{"X-Request-Id"}, mcfg.ExcludedHeaders)
	assert.Equal(t, want, mcfg.Generator)
	assert.Equal(t, 1024, mcfg.MaxPayloadSize)
	assert.Equal(t, 50, mcfg.MaxEntries)
	assert.Equal(t, "200|404", mcfg.AcceptedStatus)
	assert.Equal(t, "HTTP", mcfg.Protocol)
	assert.Equal(t, "audit", mcfg.OnHit.SequenceRef)
	assert.True(t, mcfg.OnHit.ContinueExecution)
}

func TestBuild(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	var loaded []string
	reg := cache.NewRegistry()
	pipelines, err := cfg.Build(reg,
		WithCoordinatorOptions(mediation.WithSequenceResolver(mediation.Sequences{
			"audit": mediation.SequenceFunc(nil),
		})),
		WithLoaderFactory(func(id string, ttl int64, clock cache.Clock) cache.Loader {
			loaded = append(loaded, id)
			return cache.EmptyLoader(ttl, clock)
		}),
	)
	require.NoError(t, err)

	p := pipelines["orders"]
	require.NotNil(t, p)
	require.NotNil(t, p.Finder)
	require.NotNil(t, p.Collector)
	assert.Equal(t, mediation.RoleFinder, p.Finder.Role())
	assert.Equal(t, mediation.RoleCollector, p.Collector.Role())
	assert.Same(t, p.Finder.Cache(), p.Collector.Cache())
	assert.Same(t, p.Finder.Store(), p.Collector.Store())
	assert.Equal(t, []string{"orders", "orders"}, loaded)

	store := reg.GetOrCreateStore("orders")
	assert.Equal(t, 1024, store.MaxPayloadSize())
	assert.True(t, store.Accepts("404"))
	assert.False(t, store.Accepts("201"))
}

func TestBuild_CollectorDoesNotOverrideStore(t *testing.T) {
	doc := `
caches:
  - id: a
    collector: true
    maxMessageSize: 1
    protocol:
      responseCodes: "5[0-9][0-9]"
  - id: a
    maxMessageSize: 100
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	reg := cache.NewRegistry()
	_, err = cfg.Build(reg)
	require.NoError(t, err)

	store := reg.GetOrCreateStore("a")
	assert.Equal(t, 100, store.MaxPayloadSize())
	assert.True(t, store.Accepts("200"))
	assert.False(t, store.Accepts("500"))
}

func TestBuild_UnknownSequence(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = cfg.Build(cache.NewRegistry(),
		WithCoordinatorOptions(mediation.WithSequenceResolver(mediation.Sequences{})))
	assert.ErrorIs(t, err, mediation.ErrConfiguration)
}

func TestMarshal_EffectiveConfigParsesBack(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "hashGenerator: tree-sha256")
	assert.Contains(t, string(out), `continueExecution: "true"`)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Caches, again.Caches)
	assert.Equal(t, cfg.Routes, again.Routes)
	assert.Equal(t, cfg.Server, again.Server)
}
