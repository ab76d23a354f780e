package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
)

var Logger *slog.Logger = slog.New(tint.NewHandler(os.Stdout, nil))

const (
	FilePermission = 0644
)

// Setup configures the global logger. When logPath is non-empty, log output
// is teed to stdout and the file. The returned closer releases the log file.
func Setup(logPath string, verbose bool) (func(), error) {
	w := io.Writer(os.Stdout)
	closer := func() {}

	if logPath != "" {
		logDir := filepath.Dir(logPath)
		if logDir != "." && logDir != "" {
			if err := os.MkdirAll(logDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, logFile)
		closer = func() { logFile.Close() }
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	Logger = slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
	}))
	return closer, nil
}

// SetupWriter configures the global logger against an explicit writer.
// Used by tests to capture or discard log output.
func SetupWriter(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	Logger = slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
}
