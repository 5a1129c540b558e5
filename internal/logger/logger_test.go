package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	zlog "github.com/rs/zerolog/log"
)

func TestJSONParsingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONParsingWriter(&buf)

	line := `{"level":"debug","time":"2024-03-01T09:15:30Z","message":"UDP read","caller":"x.go:1","size":512,"from":"10.0.0.2:5060"}` + "\n"
	n, err := w.Write([]byte(line))
	if err != nil || n != len(line) {
		t.Fatalf("Write() = %d, %v, want %d, nil", n, err, len(line))
	}
	want := "[09:15:30] [DEBUG] UDP read from=10.0.0.2:5060 size=512\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	buf.Reset()
	_, _ = w.Write([]byte("plain text\n"))
	if got := buf.String(); got != "plain text\n" {
		t.Errorf("output = %q, want plain text passed through", got)
	}
}

func TestHandlerLevelAndAttrs(t *testing.T) {
	defer SetLevel(GetLevel())
	SetLevel("warn")

	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf)).With("gen", 2)
	logger.Info("[Session] Ignored")
	logger.Warn("[Session] Engine command failed", "op", "register")

	got := buf.String()
	if strings.Contains(got, "Ignored") {
		t.Errorf("info record written at warn level: %q", got)
	}
	if !strings.Contains(got, "[WARN] [Session] Engine command failed gen=2 op=register\n") {
		t.Errorf("output = %q, want formatted warn line", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRouteZerolog(t *testing.T) {
	defer SetLevel(GetLevel())
	SetLevel("debug")

	var buf bytes.Buffer
	RouteZerolog(&buf)
	zlog.Info().Str("method", "REGISTER").Msg("Sending request")

	got := buf.String()
	if !strings.Contains(got, "[INFO] Sending request method=REGISTER") {
		t.Errorf("output = %q, want zerolog line in our format", got)
	}
}
