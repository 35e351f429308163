// Package logger is marlin's process-wide log facade: slog text output behind
// printf-style helpers. The destination is swappable so main can tee stdout
// into a file, and the level is retuned from configuration at startup. Oracle
// prompt/response transcripts go to their own writer (oracle.go) so large
// payloads never drown the run log.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	current  *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput replaces the run-log destination. Callers pass an io.MultiWriter
// to keep stdout alongside a file.
func SetOutput(w io.Writer) {
	mu.Lock()
	current = build(w)
	mu.Unlock()
}

// SetLevel accepts the config spelling of a level; anything unrecognized
// falls back to info rather than erroring at startup.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func logf(level slog.Level, format string, v []any) {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l == nil {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }
