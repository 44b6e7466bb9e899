package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStandardKeysRenamesError(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{ReplaceAttr: standardKeys}))
	log.Info("failed", slog.String("error", "boom"))
	if !strings.Contains(buf.String(), "err=boom") {
		t.Fatalf("expected err key, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAuditLoggerWritesJSONToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	file := rotating(path, Rotation{MaxSizeMB: 1})
	defer file.Close()

	newAuditLogger(file).Warn("dangerous tools enabled", slog.String("error", "none"))

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		t.Fatalf("audit record is not JSON: %v (%s)", err, raw)
	}
	if record["stream"] != "audit" || record["msg"] != "dangerous tools enabled" || record["err"] != "none" {
		t.Fatalf("unexpected audit record %v", record)
	}
}

func TestRotatingDefaults(t *testing.T) {
	file := rotating("x.log", Rotation{MaxBackups: 2})
	if file.MaxSize != 100 || file.MaxBackups != 2 || file.MaxAge != 30 {
		t.Fatalf("unexpected rotation settings %+v", file)
	}
}

func TestOpenOutputsRejectsEmptyPath(t *testing.T) {
	if _, _, err := openOutputs([]string{"stderr", " "}, Rotation{}); err == nil {
		t.Fatalf("expected error for empty output path")
	}
	w, opened, err := openOutputs(nil, Rotation{})
	if err != nil || w != os.Stderr || len(opened) != 0 {
		t.Fatalf("default output should be stderr")
	}
}

func TestNopDiscards(t *testing.T) {
	Nop().Error("nothing to see", slog.String("error", "x"))
}
