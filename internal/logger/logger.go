// Package logger formats slog records as "[time] [LEVEL] message key=value"
// and folds the SIP stack's zerolog JSON output into the same format.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var (
	levelMu     sync.RWMutex
	globalLevel = slog.LevelInfo
)

// JSONParsingWriter wraps an io.Writer and converts JSON log lines to our
// format. Other lines pass through unchanged.
type JSONParsingWriter struct {
	base io.Writer
}

// NewJSONParsingWriter wraps base.
func NewJSONParsingWriter(base io.Writer) *JSONParsingWriter {
	return &JSONParsingWriter{base: base}
}

// Write implements io.Writer.
func (w *JSONParsingWriter) Write(p []byte) (int, error) {
	if !strings.HasPrefix(strings.TrimSpace(string(p)), "{") {
		return w.base.Write(p)
	}
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		return w.base.Write(p)
	}

	level := "info"
	if lv, ok := entry["level"]; ok {
		level = fmt.Sprint(lv)
	}
	message := "unknown"
	if msg, ok := entry["message"]; ok {
		message = fmt.Sprint(msg)
	}
	ts := time.Now()
	if t, ok := entry["time"]; ok {
		if parsed, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
			ts = parsed
		}
	}

	var attrs []string
	for k, v := range entry {
		if k != "level" && k != "message" && k != "time" && k != "caller" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
		}
	}
	sort.Strings(attrs)

	if _, err := w.base.Write([]byte(format(ts, strings.ToUpper(level), message, attrs))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func format(ts time.Time, level, message string, attrs []string) string {
	line := "[" + ts.Format("15:04:05") + "] [" + level + "] " + message
	if len(attrs) > 0 {
		line += " " + strings.Join(attrs, " ")
	}
	return line + "\n"
}

// SetLevel sets the global log level.
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMu.Lock()
	globalLevel = level
	levelMu.Unlock()
	zerolog.SetGlobalLevel(zerologLevel(level))
}

// GetLevel returns the current log level as a string.
func GetLevel() string {
	levelMu.RLock()
	defer levelMu.RUnlock()
	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a level name. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l <= slog.LevelDebug:
		return zerolog.DebugLevel
	case l <= slog.LevelInfo:
		return zerolog.InfoLevel
	case l <= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// handler writes formatted records to every output.
type handler struct {
	mu    *sync.Mutex
	outs  []io.Writer
	attrs []string
}

// NewHandler returns a slog handler writing to outs.
func NewHandler(outs ...io.Writer) slog.Handler {
	return &handler{mu: &sync.Mutex{}, outs: outs}
}

// Enabled implements slog.Handler.
func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return level >= globalLevel
}

// Handle implements slog.Handler.
func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	attrs := append([]string(nil), h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, attrString(a))
		return true
	})
	line := []byte(format(record.Time, strings.ToUpper(record.Level.String()), record.Message, attrs))

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write(line)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &handler{mu: h.mu, outs: h.outs, attrs: append([]string(nil), h.attrs...)}
	for _, a := range attrs {
		next.attrs = append(next.attrs, attrString(a))
	}
	return next
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

func attrString(a slog.Attr) string {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindDuration {
		return a.Key + "=" + v.Duration().String()
	}
	return a.Key + "=" + v.String()
}

// InitLogger installs the default slog logger writing to outputs, and routes
// the zerolog global logger through the same outputs.
func InitLogger(outputs ...io.Writer) *slog.Logger {
	logger := slog.New(NewHandler(outputs...))
	slog.SetDefault(logger)
	RouteZerolog(io.MultiWriter(outputs...))
	return logger
}

// RouteZerolog points the zerolog global logger, used by the SIP stack, at
// out in our line format.
func RouteZerolog(out io.Writer) {
	zlog.Logger = zerolog.New(NewJSONParsingWriter(out)).With().Timestamp().Logger()
	levelMu.RLock()
	zerolog.SetGlobalLevel(zerologLevel(globalLevel))
	levelMu.RUnlock()
}
