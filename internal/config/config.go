// Package config holds the tuning knobs shared by every component of a
// copy: ring sizing, timeouts, rate limits, and the CLI's ambient
// additions (log level, traceback, NIC stats). Defaults are filled in
// with WithDefaults, then the result is bounds-checked with Validate,
// rather than using a tag-driven decoder.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Default values applied by WithDefaults for zero fields, except
// DefaultEOFTimeout: it is the --eof-timeout flag's default, and
// WithDefaults leaves a zero EOFTimeout alone since zero means infinite.
const (
	DefaultMaxDatagramSize = 65507
	DefaultMaxBacklog      = 4 << 20
	DefaultEOFTimeout      = 30 * time.Second
	DefaultMaxReadSize     = 1 << 20
	DefaultMaxWriteSize    = 1 << 20
)

// OSMaxIovecs is Linux's UIO_MAXIOV, the largest number of iovecs a single
// vectored syscall accepts. WithDefaults normalizes MaxIovecs to it.
const OSMaxIovecs = 1024

// Config is an immutable-by-convention bundle of tuning knobs passed by
// value (or pointer-to-const) to every component. Build one with
// WithDefaults, then Validate it before use.
type Config struct {
	// MaxDatagramSize bounds the per-datagram receive buffer; a larger
	// inbound datagram is discarded and counted, never reported as fatal.
	MaxDatagramSize int
	// MaxBacklog is the ring's byte capacity, including 4-byte length
	// prefixes.
	MaxBacklog int
	// EOFTimeout is how long a UDP source may sit idle before synthesizing
	// end-of-stream. <= 0 means infinite.
	EOFTimeout time.Duration
	// StartTimeout is EOFTimeout's counterpart applied only before the
	// first datagram arrives. < 0 inherits EOFTimeout; == 0 is infinite.
	StartTimeout time.Duration
	// MaxDatagramRate caps datagrams/second sent by a UDP destination.
	// <= 0 means unlimited.
	MaxDatagramRate float64
	// MaxDatagrams stops a UDP destination after it has sent N records.
	// 0 means unlimited. The file/stdout destination and the sources do
	// not enforce it.
	MaxDatagrams uint64
	// MaxReadSize/MaxWriteSize are syscall chunk ceilings for file and
	// stdio endpoints.
	MaxReadSize  int
	MaxWriteSize int
	// MaxIovecs is the batch width for vectored receive. 0 means
	// "use the OS maximum"; a larger value is clamped to it.
	MaxIovecs int
	// Append selects append vs truncate-and-write for a file destination.
	Append bool
	// HandleSignals enables the dedicated SIGINT/SIGUSR1 handling
	// goroutine.
	HandleSignals bool

	// LogLevel is one of debug/info/warning(warn)/error/critical,
	// case-insensitive.
	LogLevel string
	// Traceback enables full `%+v` stack traces on fatal errors instead of
	// a bare message.
	Traceback bool

	// NICStatsInterfaces, when non-empty, names interfaces to poll with
	// ifacestat and report alongside the ring/source/destination stats.
	NICStatsInterfaces []string
	// NICStatsInterval is how often NIC stats are sampled and printed.
	NICStatsInterval time.Duration
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// their defaults.
func (c Config) WithDefaults() Config {
	if c.MaxDatagramSize == 0 {
		c.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if c.MaxBacklog == 0 {
		c.MaxBacklog = DefaultMaxBacklog
	}
	if c.MaxReadSize == 0 {
		c.MaxReadSize = DefaultMaxReadSize
	}
	if c.MaxWriteSize == 0 {
		c.MaxWriteSize = DefaultMaxWriteSize
	}
	if c.MaxIovecs == 0 {
		c.MaxIovecs = OSMaxIovecs
	}
	if c.MaxIovecs > OSMaxIovecs {
		c.MaxIovecs = OSMaxIovecs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// EffectiveStartTimeout resolves the start_timeout < 0 "inherit
// eof_timeout" rule.
func (c Config) EffectiveStartTimeout() time.Duration {
	if c.StartTimeout < 0 {
		return c.EOFTimeout
	}
	return c.StartTimeout
}

// Validate returns an error for out-of-range values. Errors are wrapped
// with github.com/pkg/errors so --tb can print a stack trace.
func (c Config) Validate() error {
	if c.MaxDatagramSize <= 0 {
		return errors.Errorf("config: max_datagram_size must be positive, got %d", c.MaxDatagramSize)
	}
	if c.MaxBacklog <= 0 {
		return errors.Errorf("config: max_backlog must be positive, got %d", c.MaxBacklog)
	}
	if c.MaxBacklog < c.MaxDatagramSize+4 {
		return errors.Errorf(
			"config: max_backlog (%d) must hold at least one framed max_datagram_size record (%d)",
			c.MaxBacklog, c.MaxDatagramSize+4,
		)
	}
	if c.MaxReadSize <= 0 {
		return errors.Errorf("config: max_read_size must be positive, got %d", c.MaxReadSize)
	}
	if c.MaxWriteSize <= 0 {
		return errors.Errorf("config: max_write_size must be positive, got %d", c.MaxWriteSize)
	}
	if c.MaxIovecs < 0 {
		return errors.Errorf("config: max_iovecs must not be negative, got %d", c.MaxIovecs)
	}
	if c.MaxDatagramRate < 0 {
		return errors.Errorf("config: max_datagram_rate must not be negative, got %f", c.MaxDatagramRate)
	}
	switch c.NormalizedLogLevel() {
	case "debug", "info", "warning", "error", "critical":
	default:
		return errors.Errorf("config: unrecognized log level %q", c.LogLevel)
	}
	return nil
}

// NormalizedLogLevel lowercases and canonicalizes c.LogLevel ("warn" ->
// "warning"), the form logrus-level parsing and switch statements expect.
func (c Config) NormalizedLogLevel() string {
	return normalizeLogLevel(c.LogLevel)
}

func normalizeLogLevel(level string) string {
	level = strings.ToLower(level)
	if level == "warn" {
		return "warning"
	}
	return level
}
