package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"resortwala/internal/config"
)

// New builds the process logger. Empty settings mean JSON at info level on
// stdout. The returned closer is nil unless a log file was opened.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	w, closer, err := sink(strings.ToLower(strings.TrimSpace(cfg.Output)), cfg.FilePath)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(w).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()
	return &l, closer, nil
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// sink resolves logging.output: stdout (default), stderr, file or both.
func sink(output, path string) (io.Writer, io.Closer, error) {
	if output != "file" && output != "both" {
		if output == "stderr" {
			return os.Stderr, nil, nil
		}
		return os.Stdout, nil, nil
	}

	if path == "" {
		return nil, nil, fmt.Errorf("logging: output %q needs file_path", output)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	if output == "both" {
		return io.MultiWriter(os.Stdout, f), f, nil
	}
	return f, f, nil
}

// Component tags a child logger with the subsystem name.
func Component(logger *zerolog.Logger, name string) *zerolog.Logger {
	child := logger.With().Str("component", name).Logger()
	return &child
}
