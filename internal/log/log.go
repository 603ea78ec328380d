// Package log provides the process logger, backed by logrus.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

var (
	mu     sync.RWMutex
	base   = newBase()
	logger Logger = &logrusAdapter{entry: logrus.NewEntry(base)}
	output *MultiWriter
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: DefaultTimeLayout})
	return l
}

// GetLogger returns the process logger. Before Init it logs text to stdout
// at info level.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the process logger. Loggers derived earlier keep writing
// through the previous one.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	formatter, err := newFormatter(cfg)
	if err != nil {
		return err
	}

	w := NewMultiWriter().Add(os.Stdout)
	if cfg.File.Enabled {
		if cfg.File.Filename == "" {
			return fmt.Errorf("log file enabled without a filename")
		}
		w.AddFileAppender(cfg.File)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(formatter)
	l.SetOutput(w)
	l.SetReportCaller(strings.Contains(cfg.Pattern, "%caller"))

	mu.Lock()
	prev := output
	base, output = l, w
	logger = &logrusAdapter{entry: logrus.NewEntry(l)}
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// SetLevel changes the level of the process logger at runtime.
func SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	mu.RLock()
	base.SetLevel(lvl)
	mu.RUnlock()
	return nil
}

// ParseLevel accepts debug, info, warn, warning and error in any case.
// An empty level means info.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("invalid log level %q", level)
}

// Close flushes and closes file appenders.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if output == nil {
		return nil
	}
	err := output.Close()
	output = nil
	return err
}
