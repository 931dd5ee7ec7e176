// Package logging configures zerolog for the exchange cache.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelTrace also logs every mediation step of each exchange.
	LevelTrace LogLevel = "trace"

	// LevelDebug logs cache decisions and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `yaml:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level. Unknown names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithExchange scopes a logger to one exchange of one cache id.
func WithExchange(logger zerolog.Logger, cacheID, exchangeID string) zerolog.Logger {
	return logger.With().
		Str("cache_id", cacheID).
		Str("exchange_id", exchangeID).
		Logger()
}

// Log Level Guidelines:
//
// Trace: every mediation step of an exchange
//
// Debug: cache decisions
//   - fingerprint computed, hit/miss/stale
//   - entries populated or cleaned
//   - replication success
//
// Info: lifecycle
//   - server startup/shutdown
//   - configuration loaded
//
// Warn: degraded but working
//   - replication failures
//   - response without correlation token
//   - response too large to cache
//
// Error: exchange caching aborted
//   - digest failures
//   - configuration errors surfaced at mediation time
//   - upstream unreachable
//
// Context Fields:
//   - cache_id: pipeline identifier
//   - exchange_id: exchange identifier
//   - fingerprint: request fingerprint
//   - role: finder or collector
//   - status_code: response status code
//   - ttl: entry ttl in seconds
