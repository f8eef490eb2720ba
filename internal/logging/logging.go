// Package logging provides structured logging for the mesh core.
//
// Grounded on postalsys-Muti-Metroo/internal/logging, adapted with this
// domain's own attribute key set (peer/envelope/relay/DHT instead of
// stream/agent) in place of the teacher's.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger for the given level/format
// (spec: "debug","info","warn","error" / "text","json").
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger writing to w.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger discards all output; used in tests and library-embedding
// contexts that haven't configured logging.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent structured logging across the
// core's components.
const (
	KeyPeerID      = "peer_id"
	KeyMessageHash = "message_hash"
	KeyMessageType = "message_type"
	KeyTransport   = "transport"
	KeyHops        = "hops"
	KeyTTL         = "ttl"
	KeyDHTKey      = "dht_key"
	KeyError       = "error"
	KeyComponent   = "component"
	KeyRemoteAddr  = "remote_addr"
	KeyDuration    = "duration"
	KeyRetryCount  = "retry_count"
)
