// Package config loads the YAML configuration of an exchange cache host.
//
// A file declares the server, logging and Redis settings plus a list of
// cache definitions. Each definition is one Finder or Collector; a Finder
// and a Collector with the same id form a pipeline:
//
//	server:
//	  listenAddr: ":8080"
//	  upstream: "http://backend:9000"
//	redis:
//	  addr: "localhost:6379"
//	routes:
//	  - path: "/orders"
//	    cache: orders
//	caches:
//	  - id: orders
//	    timeout: 60
//	    maxMessageSize: 65536
//	    protocol:
//	      type: http
//	      methods: [GET]
//	      headersToExcludeInHash: [X-Request-Id]
//	      responseCodes: "2[0-9][0-9]"
//	      hashGenerator: default
//	    implementation:
//	      maxSize: 1000
//	    onCacheHit:
//	      continueExecution: "false"
//	  - id: orders
//	    collector: true
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/fingerprint"
	"github.com/Sternrassler/exchange-cache/pkg/logging"
	"github.com/Sternrassler/exchange-cache/pkg/mediation"
	"github.com/Sternrassler/exchange-cache/pkg/replication"
)

// ErrInvalidConfig is returned for files that fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults applied to missing fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultGenerator       = "default"
	DefaultProtocol        = string(cache.ProtocolHTTP)
)

// allowedMethods are the methods a definition may list as cacheable.
var allowedMethods = map[string]bool{
	"POST": true, "GET": true, "HEAD": true, "PUT": true,
	"DELETE": true, "OPTIONS": true, "CONNECT": true,
}

// Config is the root of a configuration file.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
	Redis   RedisConfig    `yaml:"redis"`
	Routes  []Route        `yaml:"routes"`
	Caches  []Definition   `yaml:"caches"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	Upstream        string        `yaml:"upstream"`
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout"`
	// UpstreamAttempts bounds attempts of idempotent upstream requests.
	UpstreamAttempts int `yaml:"upstreamAttempts"`
}

// RedisConfig configures cluster replication. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	ExchangeTTL time.Duration `yaml:"exchangeTTL"`
}

// Enabled reports whether replication is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Route sends requests under Path through the pipeline of Cache.
type Route struct {
	Path     string `yaml:"path"`
	Cache    string `yaml:"cache"`
	Upstream string `yaml:"upstream"`
}

// Definition declares one Finder or Collector.
type Definition struct {
	ID             string         `yaml:"id"`
	Collector      bool           `yaml:"collector"`
	Timeout        *int64         `yaml:"timeout"`
	MaxMessageSize *int           `yaml:"maxMessageSize"`
	Protocol       Protocol       `yaml:"protocol"`
	Implementation Implementation `yaml:"implementation"`
	OnCacheHit     OnCacheHit     `yaml:"onCacheHit"`
}

// Protocol holds the protocol-specific settings of a definition.
type Protocol struct {
	Type                   string   `yaml:"type"`
	Methods                []string `yaml:"methods"`
	HeadersToExcludeInHash []string `yaml:"headersToExcludeInHash"`
	ResponseCodes          string   `yaml:"responseCodes"`
	HashGenerator          string   `yaml:"hashGenerator"`
}

// Implementation configures the in-memory cache.
type Implementation struct {
	MaxSize *int `yaml:"maxSize"`
}

// OnCacheHit configures the continuation of a hit.
type OnCacheHit struct {
	Sequence          string `yaml:"sequence"`
	ContinueExecution string `yaml:"continueExecution"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, applies defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.UpstreamTimeout <= 0 {
		c.Server.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.Server.UpstreamAttempts <= 0 {
		c.Server.UpstreamAttempts = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = logging.LevelInfo
	}
	if c.Redis.ExchangeTTL <= 0 {
		c.Redis.ExchangeTTL = replication.DefaultExchangeTTL
	}
	for i := range c.Caches {
		c.Caches[i].applyDefaults()
	}
}

func (d *Definition) applyDefaults() {
	if d.Timeout == nil {
		ttl := cache.DefaultTTLSeconds
		d.Timeout = &ttl
	}
	if d.MaxMessageSize == nil {
		size := cache.Unbounded
		d.MaxMessageSize = &size
	}
	if d.Implementation.MaxSize == nil {
		size := -1
		d.Implementation.MaxSize = &size
	}
	p := &d.Protocol
	if p.Type == "" {
		p.Type = DefaultProtocol
	}
	p.Type = strings.ToUpper(p.Type)
	for i, m := range p.Methods {
		p.Methods[i] = strings.TrimSpace(m)
	}
	if len(p.Methods) == 0 {
		p.Methods = []string{mediation.MethodGet}
	}
	for i, h := range p.HeadersToExcludeInHash {
		p.HeadersToExcludeInHash[i] = strings.TrimSpace(h)
	}
	if p.ResponseCodes == "" {
		p.ResponseCodes = cache.DefaultAcceptedStatus
	}
	if p.HashGenerator == "" {
		p.HashGenerator = DefaultGenerator
	}
	if d.OnCacheHit.ContinueExecution == "" {
		d.OnCacheHit.ContinueExecution = "false"
	}
}

// Validate checks every definition and route. All problems are reported.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	finders := make(map[string]bool)

	for i, d := range c.Caches {
		key := fmt.Sprintf("%s/%t", d.ID, d.Collector)
		if seen[key] {
			errs = append(errs, fmt.Errorf("caches[%d]: duplicate %s definition for id %q", i, roleName(d.Collector), d.ID))
		}
		seen[key] = true
		if !d.Collector {
			finders[d.ID] = true
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("caches[%d]: %w", i, err))
		}
	}

	for i, r := range c.Routes {
		if r.Path == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: path is required", i))
		}
		if !finders[r.Cache] || !seen[r.Cache+"/true"] {
			errs = append(errs, fmt.Errorf("routes[%d]: cache %q needs a finder and a collector", i, r.Cache))
		}
		if r.Upstream == "" && c.Server.Upstream == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: no upstream", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks one definition after defaults have been applied.
func (d Definition) Validate() error {
	var errs []error
	for _, m := range d.Protocol.Methods {
		if !allowedMethods[m] {
			errs = append(errs, fmt.Errorf("unexpected method type: %q", m))
		}
	}
	if _, err := regexp.Compile(d.Protocol.ResponseCodes); err != nil {
		errs = append(errs, fmt.Errorf("responseCodes: %w", err))
	}
	if _, err := fingerprint.Lookup(d.Protocol.HashGenerator); err != nil {
		errs = append(errs, fmt.Errorf("hashGenerator: %w", err))
	}
	switch d.OnCacheHit.ContinueExecution {
	case "true", "false":
	default:
		errs = append(errs, fmt.Errorf("unexpected value for continueExecution: %q", d.OnCacheHit.ContinueExecution))
	}
	if d.Timeout != nil && *d.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative: %d", *d.Timeout))
	}
	return errors.Join(errs...)
}

// MediationConfig converts a validated definition.
func (d Definition) MediationConfig() (mediation.Config, error) {
	gen, err := fingerprint.Lookup(d.Protocol.HashGenerator)
	if err != nil {
		return mediation.Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := mediation.Config{
		CacheID:         d.ID,
		Collector:       d.Collector,
		Methods:         append([]string(nil), d.Protocol.Methods...),
		ExcludedHeaders: append([]string(nil), d.Protocol.HeadersToExcludeInHash...),
		Generator:       gen,
		AcceptedStatus:  d.Protocol.ResponseCodes,
		Protocol:        d.Protocol.Type,
		OnHit: mediation.OnHit{
			SequenceRef:       d.OnCacheHit.Sequence,
			ContinueExecution: d.OnCacheHit.ContinueExecution == "true",
		},
	}
	if d.Timeout != nil {
		cfg.TTLSeconds = *d.Timeout
	}
	if d.MaxMessageSize != nil {
		cfg.MaxPayloadSize = *d.MaxMessageSize
	}
	if d.Implementation.MaxSize != nil {
		cfg.MaxEntries = *d.Implementation.MaxSize
	}
	return cfg, nil
}

func roleName(collector bool) string {
	if collector {
		return string(mediation.RoleCollector)
	}
	return string(mediation.RoleFinder)
}

// Marshal writes the effective configuration, defaults included, as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
