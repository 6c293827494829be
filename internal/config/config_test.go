package config

import (
	"testing"
	"time"
)

func TestWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.MaxDatagramSize != DefaultMaxDatagramSize {
		t.Errorf("MaxDatagramSize = %d, want %d", c.MaxDatagramSize, DefaultMaxDatagramSize)
	}
	if c.MaxIovecs != OSMaxIovecs {
		t.Errorf("MaxIovecs = %d, want %d (OS max)", c.MaxIovecs, OSMaxIovecs)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", c.LogLevel)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaulted config should validate, got: %v", err)
	}
}

func TestEffectiveStartTimeout(t *testing.T) {
	cases := []struct {
		name         string
		startTimeout time.Duration
		eofTimeout   time.Duration
		want         time.Duration
	}{
		{"negative inherits eof_timeout", -1, 5 * time.Second, 5 * time.Second},
		{"zero is infinite", 0, 5 * time.Second, 0},
		{"positive is itself", 2 * time.Second, 5 * time.Second, 2 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{StartTimeout: tc.startTimeout, EOFTimeout: tc.eofTimeout}
			if got := c.EffectiveStartTimeout(); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	base := Config{}.WithDefaults()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max_datagram_size", func(c *Config) { c.MaxDatagramSize = -1 }},
		{"backlog smaller than one record", func(c *Config) { c.MaxBacklog = 4 }},
		{"negative max_read_size", func(c *Config) { c.MaxReadSize = 0; c.MaxReadSize-- }},
		{"negative max_iovecs", func(c *Config) { c.MaxIovecs = -1 }},
		{"negative max_datagram_rate", func(c *Config) { c.MaxDatagramRate = -1 }},
		{"unrecognized log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected validation error, got nil")
			}
		})
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	c := Config{LogLevel: "WARN"}.WithDefaults()
	if got := c.NormalizedLogLevel(); got != "warning" {
		t.Errorf("NormalizedLogLevel() = %q, want warning", got)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("WARN should validate, got: %v", err)
	}
}

func TestMaxIovecsZeroNormalizesToOSMax(t *testing.T) {
	c := Config{MaxIovecs: 0}.WithDefaults()
	if c.MaxIovecs != OSMaxIovecs {
		t.Errorf("MaxIovecs = %d, want %d", c.MaxIovecs, OSMaxIovecs)
	}
}

func TestMaxIovecsOverOSMaxIsClamped(t *testing.T) {
	c := Config{MaxIovecs: OSMaxIovecs + 5000}.WithDefaults()
	if c.MaxIovecs != OSMaxIovecs {
		t.Errorf("MaxIovecs = %d, want %d (clamped)", c.MaxIovecs, OSMaxIovecs)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("clamped config should validate, got: %v", err)
	}
}
