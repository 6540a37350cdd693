package kurirgo

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DebugConfig gates per-concern debug logging. Logging is the outermost
// observer of the pipeline: it sees the fully decorated outbound request
// and the raw inbound response.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogDedup     bool
	LogAuth      bool
	RequestIDGen func() string
}

// DefaultDebugConfig enables all concerns with uuid correlation ids.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogDedup:     true,
		LogAuth:      true,
		RequestIDGen: uuid.NewString,
	}
}

// SimpleLogger writes key-value pairs to the standard library logger.
// Useful for examples and tests; production code should prefer
// NewZerologLogger.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a logger writing to stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...any) { l.write("DEBUG", msg, keysAndValues) }
func (l *SimpleLogger) Info(msg string, keysAndValues ...any)  { l.write("INFO", msg, keysAndValues) }
func (l *SimpleLogger) Warn(msg string, keysAndValues ...any)  { l.write("WARN", msg, keysAndValues) }
func (l *SimpleLogger) Error(msg string, keysAndValues ...any) { l.write("ERROR", msg, keysAndValues) }

func (l *SimpleLogger) write(level, msg string, keysAndValues []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.logger.Println(b.String())
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps a zerolog logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.emit(l.logger.Info(), msg, keysAndValues)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.emit(l.logger.Warn(), msg, keysAndValues)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.emit(l.logger.Error(), msg, keysAndValues)
}

func (l *ZerologLogger) emit(event *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		event = event.Interface(key, keysAndValues[i+1])
	}
	event.Msg(msg)
}
