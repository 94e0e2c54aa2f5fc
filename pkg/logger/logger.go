package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var Log *slog.Logger

// defaultMaxFileSize bounds the file sink when no size is configured.
const defaultMaxFileSize = 10 * 1000 * 1000

// Init initializes the global slog logger with a simple text handler at Info level.
func Init() {
	InitWithLevel("")
}

// InitWithLevel initializes the global logger honoring the provided `level`
// string ("debug", "info", "warn", "error"). If level is empty the
// CHATMON_LOG_LEVEL environment variable decides, defaulting to info.
func InitWithLevel(level string) {
	InitWithConfig(level, 0)
}

// InitWithConfig additionally bounds the file sink: once the file would
// exceed maxFileSize bytes it is rotated to <path>.1, replacing the
// previous rotation. A non-positive size uses defaultMaxFileSize.
func InitWithConfig(level string, maxFileSize int64) {
	// Allow overriding sink and level via env vars for tests and production
	sink := os.Getenv("CHATMON_LOG_SINK") // e.g. "file:/path/to/log"
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CHATMON_LOG_LEVEL")))
	}
	var lv slog.Level
	switch lvl {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		w, err := newRotatingWriter(path, maxFileSize)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
			return
		}
		// fallback to stdout
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

// rotatingWriter appends to path and rotates to path+".1" once the file
// would exceed max bytes. Only the previous rotation is kept.
type rotatingWriter struct {
	mu   sync.Mutex
	path string
	max  int64
	size int64
	f    *os.File
}

var _ io.Writer = (*rotatingWriter)(nil)

func newRotatingWriter(path string, max int64) (*rotatingWriter, error) {
	if max <= 0 {
		max = defaultMaxFileSize
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	w := &rotatingWriter{path: path, max: max, f: f}
	if fi, err := f.Stat(); err == nil {
		w.size = fi.Size()
	}
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && w.size+int64(len(p)) > w.max {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) rotate() error {
	_ = w.f.Close()
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	return nil
}

// Sync is a no-op for slog handlers used here.
func Sync() {}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}
