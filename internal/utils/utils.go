package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) error {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		return fmt.Errorf("bad log level %q", level)
	}
	return nil
}

// SetLogFormat switches between logrus' text and JSON formatters.
func SetLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		Log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		Log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("bad log format %q", format)
	}
	return nil
}

// TeeLogFile additionally writes every log line to path. The returned closer
// must be called on shutdown.
func TeeLogFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	Log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
