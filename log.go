package main

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger keeps the printf-style surface used across the service
// (Debugf/Infof/Warnf/Errorf) on top of a charmbracelet logger.
type Logger struct {
	*log.Logger
}

func NewLogger(level string) *Logger {
	return newLoggerTo(os.Stdout, level)
}

func newLoggerTo(w io.Writer, level string) *Logger {
	lv := log.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = log.DebugLevel
	case "info":
		lv = log.InfoLevel
	case "warn", "warning":
		lv = log.WarnLevel
	case "error":
		lv = log.ErrorLevel
	}
	return &Logger{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "2006-01-02 15:04:05.000",
			Level:           lv,
		}),
	}
}

// Named returns a logger whose lines carry the component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.WithPrefix(name)}
}
