// Package blog constructs the broker's structured logger and slog.Attr
// helpers for RDMnet identifiers. cmd/rdmnetbroker uses the helpers;
// internal/broker, internal/rconn, and internal/mdns build their log
// attributes with slog directly.
//
// The handler setup (JSON by default, switchable to text, level held in a
// slog.LevelVar so it can be adjusted at runtime) follows
// dantte-lp/gobfd's cmd/gobfd/main.go newLoggerWithLevel.
package blog

import (
	"io"
	"log/slog"
	"os"

	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// Format selects the slog.Handler a Logger is built with.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config controls New's output.
type Config struct {
	Format Format
	Level  slog.Level
	Output io.Writer // defaults to os.Stdout
}

// New builds a *slog.Logger plus the slog.LevelVar backing it, so a
// caller can lower or raise verbosity at runtime (e.g. on SIGHUP) without
// rebuilding the handler.
func New(cfg Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(cfg.Level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level
}

// CID renders a component ID as a log attribute.
func CID(cid rid.CID) slog.Attr { return slog.String("cid", cid.String()) }

// UID renders an RDM UID as a log attribute.
func UID(uid rid.UID) slog.Attr { return slog.String("uid", uid.String()) }

// Scope renders an RDMnet scope as a log attribute.
func Scope(scope string) slog.Attr { return slog.String("scope", scope) }
