// Package telemetry is the feeder's logging surface: a leveled logger
// writing to stderr and, optionally, a mirrored log file, plus a
// "log once" wrapper so per-line soft failures (field-count
// normalization, modifier validation warnings) surface at most once
// per distinct reason instead of flooding the log.
package telemetry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the feeder's --log-level flag values.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// ParseLevel maps a --log-level flag value to a Level.
func ParseLevel(s string) (Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q: %w", s, err)
	}
	return l, nil
}

// Logger wraps a zap.SugaredLogger with the feeder's dual-sink setup
// and a log-once dedup table.
type Logger struct {
	*zap.SugaredLogger

	mu   sync.Mutex
	once map[string]struct{}
}

// New builds a Logger at the given level, writing JSON lines to stderr
// and, when logFile is non-empty, also to that file (created if missing,
// appended to otherwise).
func New(level Level, logFile string) (*Logger, error) {
	outputs := []string{"stderr"}
	if logFile != "" {
		outputs = append(outputs, logFile)
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			TimeKey:        "ts",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	zapLogger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
		once:          make(map[string]struct{}),
	}, nil
}

// WarnOnce logs msg at warn level the first time key is seen, and
// silently drops every subsequent call with the same key. It satisfies
// dataset.OnceWarner and curriculum.Warner.
func (l *Logger) WarnOnce(key, msg string) {
	l.mu.Lock()
	_, seen := l.once[key]
	if !seen {
		l.once[key] = struct{}{}
	}
	l.mu.Unlock()

	if !seen {
		l.Warnw(msg, "onceKey", key)
	}
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
