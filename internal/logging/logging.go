// Package logging configures the process-wide zerolog logger and carries
// request and view-session ids on contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	sessionIDKey
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json", "console" or "auto"
	Level     string // "trace", "debug", "info", "warn", "error", "disabled"
	Component string
}

var (
	mu   sync.RWMutex
	base zerolog.Logger

	stderr       io.Writer = os.Stderr
	isTerminalFn           = term.IsTerminal
)

func init() {
	base = zerolog.New(stderr).With().Timestamp().Logger()
	log.Logger = base
}

// Init replaces the global logger. It may be called again once the
// configuration has been read.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(levelFor(cfg.Level))

	lc := zerolog.New(writerFor(cfg.Format)).With().Timestamp()
	if c := strings.TrimSpace(cfg.Component); c != "" {
		lc = lc.Str("component", c)
	}
	base = lc.Logger()
	log.Logger = base
	return base
}

// IsLevelEnabled reports whether events at level are written.
func IsLevelEnabled(level zerolog.Level) bool {
	return level >= zerolog.GlobalLevel()
}

// WithRequestID stores requestID on ctx, generating one when it is blank.
func WithRequestID(ctx context.Context, requestID string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		requestID = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey, requestID), requestID
}

// RequestID returns the request id on ctx, or "".
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithSessionID tags ctx with the view session it acts on.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID returns the view session id on ctx, or "".
func SessionID(ctx context.Context) string {
	return stringValue(ctx, sessionIDKey)
}

// FromContext returns the global logger with the ids found on ctx.
func FromContext(ctx context.Context) zerolog.Logger {
	mu.RLock()
	logger := base
	mu.RUnlock()

	rid, sid := RequestID(ctx), SessionID(ctx)
	if rid == "" && sid == "" {
		return logger
	}
	lc := logger.With()
	if rid != "" {
		lc = lc.Str("request_id", rid)
	}
	if sid != "" {
		lc = lc.Str("session", sid)
	}
	return lc.Logger()
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func levelFor(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zerolog.InfoLevel
	case "warning":
		return zerolog.WarnLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		fmt.Fprintf(stderr, "logging: invalid level %q; using %q\n", name, "info")
		return zerolog.InfoLevel
	}
	return level
}

func writerFor(format string) io.Writer {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "json":
		return stderr
	case "console":
		return zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	case "", "auto":
		if f, ok := stderr.(*os.File); ok && f != nil && isTerminalFn(int(f.Fd())) {
			return zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
		}
		return stderr
	}
	fmt.Fprintf(stderr, "logging: invalid format %q; using %q\n", format, "json")
	return stderr
}
