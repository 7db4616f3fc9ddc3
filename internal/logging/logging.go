// Package logging builds the process zerolog logger: JSON or console output on
// stderr, optionally teed to a size-rotated file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string // trace|debug|info|warn|error; "" = info
	Format string // json|console; "" = json
	File   string // optional rotated log file

	MaxSizeMB  int // default 50
	MaxBackups int // default 3
	MaxAgeDays int // default 14

	Out io.Writer // default os.Stderr
}

func (c *Config) applyDefaults() {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 14
	}
	if c.Out == nil {
		c.Out = os.Stderr
	}
}

// New returns the root logger and a closer for the rotated file (a no-op when
// File is empty).
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	cfg.applyDefaults()

	var out io.Writer = cfg.Out
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		// The file always gets JSON regardless of the console format.
		out = zerolog.MultiLevelWriter(out, lj)
		closer = lj
	}

	log := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return log, closer, nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
