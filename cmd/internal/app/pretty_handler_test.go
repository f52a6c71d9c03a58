package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("component", "auth").Info("http.request",
		"method", "post",
		"path", "/auth/login",
		"status", 401,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"user_agent", "curl 8",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"component=auth",
		"method=POST",
		"path=/auth/login",
		"status=401",
		"class=4xx",
		"duration=12ms",
		`user_agent="curl 8"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("unexpected ANSI escapes with color disabled: %q", line)
	}
}

func TestPrettyHandler_LevelFilterAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	log.WithGroup("db").Warn("slow", "elapsed", 2*time.Second)
	line := buf.String()
	if !strings.Contains(line, "db.elapsed=2s") {
		t.Fatalf("expected grouped key, got %q", line)
	}
	if !strings.Contains(line, ansiYellow+"[WARN]"+ansiReset) {
		t.Fatalf("expected colored level tag, got %q", line)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "a b", want: `"a b"`},
		{in: "k=v", want: `"k=v"`},
		{in: `say "x"`, want: `"say \"x\""`},
	}
	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}
