// Package logging builds the logrus logger shared by the bot.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configures NewLogger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	File   string // optional file that receives a copy of every entry
}

// ParseLevel maps a level name to a logrus level, defaulting to info.
func ParseLevel(name string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger creates a configured logger. The returned closer releases the log
// file, if any; it is never nil.
func NewLogger(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetLevel(ParseLevel(opts.Level))
	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		return logger, nopCloser{}, nil
	}
	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return logger, nopCloser{}, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return logger, nopCloser{}, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return logger, f, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
