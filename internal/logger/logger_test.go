package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestFileWriter_Defaults(t *testing.T) {
	w := FileConfig{Path: filepath.Join(t.TempDir(), "a.log")}.Writer()
	if w == nil {
		t.Fatalf("expected writer for configured path")
	}
	defer closeIf(w)
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected *lumberjack.Logger, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
}

func TestFileWriter_NoPath(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNew_ConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")
	var console bytes.Buffer
	log, closer, err := New(Config{Level: "info", File: FileConfig{Path: path}}, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.With("component", "test").Info("hello", "n", 1)
	log.Debug("hidden")
	closeIf(closer)

	if !strings.Contains(console.String(), "msg=hello") || !strings.Contains(console.String(), "component=test") {
		t.Fatalf("console missing record: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Fatalf("debug record should be filtered at info level")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "msg=hello") {
		t.Fatalf("file missing record: %q", data)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New(Config{Level: "verbose"}, io.Discard); err == nil {
		t.Fatalf("expected error")
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	slog.New(h).With("k", "v").Warn("careful")

	out := buf.String()
	if !strings.Contains(out, "\033[33mWARN\033[0m") {
		t.Fatalf("expected yellow level prefix, got %q", out)
	}
	if !strings.Contains(out, "k=v") {
		t.Fatalf("WithAttrs lost: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be dropped without showTime: %q", out)
	}
}
