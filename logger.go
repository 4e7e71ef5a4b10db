package roomscore

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging interface used for debug output.
// Arguments after the message are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes levelled lines to stderr. Meant for development use.
type SimpleLogger struct {
	out *log.Logger
}

// NewSimpleLogger creates a stderr console logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{out: log.New(os.Stderr, "roomscore ", log.LstdFlags|log.Lmicroseconds)}
}

func (l *SimpleLogger) Debug(msg string, kv ...any) { l.print("DEBUG", msg, kv) }
func (l *SimpleLogger) Info(msg string, kv ...any)  { l.print("INFO", msg, kv) }
func (l *SimpleLogger) Warn(msg string, kv ...any)  { l.print("WARN", msg, kv) }
func (l *SimpleLogger) Error(msg string, kv ...any) { l.print("ERROR", msg, kv) }

func (l *SimpleLogger) print(level, msg string, kv []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	l.out.Println(b.String())
}

// zerologAdapter bridges a zerolog.Logger to the Logger interface.
type zerologAdapter struct {
	l zerolog.Logger
}

// NewZerologLogger wraps a zerolog.Logger so it can drive debug output.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologAdapter{l: l}
}

func (z *zerologAdapter) Debug(msg string, kv ...any) { emit(z.l.Debug(), msg, kv) }
func (z *zerologAdapter) Info(msg string, kv ...any)  { emit(z.l.Info(), msg, kv) }
func (z *zerologAdapter) Warn(msg string, kv ...any)  { emit(z.l.Warn(), msg, kv) }
func (z *zerologAdapter) Error(msg string, kv ...any) { emit(z.l.Error(), msg, kv) }

func emit(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	ev.Msg(msg)
}

// DebugConfig gates which pipeline stages emit debug logs.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogCooldown  bool
	LogDedup     bool
	LogAuth      bool
	RequestIDGen func() string
}

// DefaultDebugConfig enables all stages with short unique request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:     false,
		LogRequests: true,
		LogRetries:  true,
		LogCache:    true,
		LogCooldown: true,
		LogDedup:    true,
		LogAuth:     true,
		RequestIDGen: func() string {
			return uuid.NewString()[:8]
		},
	}
}
