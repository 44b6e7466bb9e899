// Package logger owns the process-wide structured loggers: the application
// logger used by every component and the audit logger that records
// security-relevant decisions such as enabling dangerous tools.
//
// Components may log before Init runs; they get a text logger on stderr.
// Init replaces it once with the configured outputs.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
	// OutputPaths accepts stdout, stderr or file paths. Files are rotated
	// according to Rotation.
	OutputPaths []string    `yaml:"output_paths"`
	Rotation    Rotation    `yaml:"rotation"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig controls the audit stream. When disabled, audit records go to
// the application logger.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Rotation `yaml:",inline"`
}

// Rotation bounds the size and age of file outputs.
type Rotation struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

var (
	mu         sync.RWMutex
	level      = new(slog.LevelVar)
	app        *slog.Logger
	audit      *slog.Logger
	closers    []io.Closer
	configured bool
)

// Init configures the global loggers. Only the first call takes effect;
// later calls return an error so a second configuration is not silently lost.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if configured {
		return errors.New("logger already initialised")
	}

	level.Set(ParseLevel(cfg.Level))
	out, opened, err := openOutputs(cfg.OutputPaths, cfg.Rotation)
	if err != nil {
		return err
	}
	appLogger := slog.New(newHandler(cfg.Format, out, &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: standardKeys,
	}))

	auditLogger := appLogger
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(opened)
			return errors.New("audit log path cannot be empty when enabled")
		}
		file := rotating(cfg.Audit.Path, cfg.Audit.Rotation)
		opened = append(opened, file)
		auditLogger = newAuditLogger(file)
	}

	app, audit = appLogger, auditLogger
	closers = append(closers, opened...)
	configured = true
	return nil
}

// SetLevel changes the level of the application logger at runtime.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// L returns the application logger.
func L() *slog.Logger {
	mu.RLock()
	l := app
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if app == nil {
		app = slog.New(newHandler("text", os.Stderr, &slog.HandlerOptions{Level: level, ReplaceAttr: standardKeys}))
	}
	return app
}

// Audit returns the audit logger, which is the application logger unless a
// dedicated audit file is configured.
func Audit() *slog.Logger {
	mu.RLock()
	l := audit
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Sync flushes and closes file outputs opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeAll(closers)
	closers = nil
	return err
}

// standardKeys renames "error" to "err" so every component logs failures under one key.
func standardKeys(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "error" {
		a.Key = "err"
	}
	return a
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func newAuditLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: standardKeys})
	return slog.New(handler).With(slog.String("stream", "audit"))
}

// openOutputs defaults to stderr: stdout carries final answers and the MCP
// stdio stream.
func openOutputs(paths []string, rotation Rotation) (io.Writer, []io.Closer, error) {
	if len(paths) == 0 {
		return os.Stderr, nil, nil
	}
	var (
		writers []io.Writer
		opened  []io.Closer
	)
	for _, path := range paths {
		switch strings.ToLower(strings.TrimSpace(path)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		case "":
			closeAll(opened)
			return nil, nil, errors.New("empty log output path")
		default:
			file := rotating(path, rotation)
			writers = append(writers, file)
			opened = append(opened, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], opened, nil
	}
	return io.MultiWriter(writers...), opened, nil
}

// rotating returns a size-bounded file writer. The file and its directory
// are created on first write.
func rotating(path string, r Rotation) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(r.MaxSizeMB, 100),
		MaxBackups: positiveOr(r.MaxBackups, 7),
		MaxAge:     positiveOr(r.MaxAgeDays, 30),
		Compress:   r.Compress,
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}
	return err
}
