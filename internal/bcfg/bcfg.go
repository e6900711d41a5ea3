// Package bcfg holds the broker's startup configuration: the flat set of
// values cmd/rdmnetbroker parses from flags, validates once, and converts
// into the typed Config structs internal/broker and internal/blog each
// expect.
//
// No example repo in the pack carries a third-party configuration
// library in its core (dantte-lp/gobfd's own internal/config loads YAML,
// but that file wasn't retrieved into the pack, only its cmd/gobfd/main.go
// caller); a plain validated struct is the corpus idiom here, the same
// way gobfd keeps config as its own package without pulling in a
// templating or schema library for it.
package bcfg

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/etclabs/rdmnetgo/internal/blog"
	"github.com/etclabs/rdmnetgo/internal/broker"
	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// BrokerConfig is the flat, flag-friendly configuration for one broker
// process.
type BrokerConfig struct {
	// ListenAddr is the TCP address to accept RDMnet client connections on.
	ListenAddr string
	// Scope is the RDMnet scope this broker serves.
	Scope string
	// CID is this broker's own component ID in hex-dash form; empty
	// generates a fresh random one at Validate time.
	CID string
	// UID is this broker's own RDM UID in "mfr:device" hex form.
	UID string
	// MaxClients caps simultaneous client connections; zero means
	// unlimited.
	MaxClients int
	// HeartbeatTimeout is how long a client may go silent before the
	// broker disconnects it.
	HeartbeatTimeout time.Duration

	// MetricsAddr is the address the Prometheus exposition endpoint
	// listens on; empty disables it.
	MetricsAddr string

	// LogFormat is "json" or "text".
	LogFormat string
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// DiscoveryEnabled turns on mDNS browsing of this broker's scope. The
	// broker does not advertise itself over mDNS.
	DiscoveryEnabled bool

	parsedCID rid.CID
	parsedUID rid.UID
}

// Validate checks every field, parsing and caching the CID/UID so
// ToBrokerConfig never needs to fail.
func (c *BrokerConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("bcfg: listen address is required")
	}
	if c.Scope == "" {
		return fmt.Errorf("bcfg: scope is required")
	}
	if len(c.Scope) > e133.MaxScopeLength {
		return fmt.Errorf("bcfg: scope must be at most %d bytes, got %d", e133.MaxScopeLength, len(c.Scope))
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("bcfg: max clients must be >= 0, got %d", c.MaxClients)
	}
	if c.HeartbeatTimeout < 0 {
		return fmt.Errorf("bcfg: heartbeat timeout must be >= 0, got %s", c.HeartbeatTimeout)
	}

	if c.CID == "" {
		c.parsedCID = rid.NewCID()
	} else {
		cid, err := rid.ParseCID(c.CID)
		if err != nil {
			return fmt.Errorf("bcfg: %w", err)
		}
		c.parsedCID = cid
	}

	uid, err := rid.ParseUID(c.UID)
	if err != nil {
		return fmt.Errorf("bcfg: %w", err)
	}
	if !uid.IsStatic() {
		return fmt.Errorf("bcfg: broker UID %s must be a static UID", c.UID)
	}
	c.parsedUID = uid

	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("bcfg: unknown log format %q", c.LogFormat)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ToBrokerConfig converts to internal/broker's Config. Call after
// Validate.
func (c *BrokerConfig) ToBrokerConfig() broker.Config {
	return broker.Config{
		CID:              c.parsedCID,
		UID:              c.parsedUID,
		Scope:            c.Scope,
		ListenAddr:       c.ListenAddr,
		MaxClients:       c.MaxClients,
		HeartbeatTimeout: c.HeartbeatTimeout,
	}
}

// ToLogConfig converts to internal/blog's Config. Call after Validate.
func (c *BrokerConfig) ToLogConfig() blog.Config {
	format := blog.FormatJSON
	if c.LogFormat == "text" {
		format = blog.FormatText
	}
	level, _ := parseLevel(c.LogLevel)
	return blog.Config{Format: format, Level: level}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("bcfg: unknown log level %q", s)
	}
}
