// Package audit writes a structured, append-only trail of QC run events:
// run lifecycle, stage completions, skipped channels, and GPU degradation.
// Events are JSON lines over a size-rotated file so long-running services
// can reconstruct what a run did without debug logging enabled.
package audit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType classifies an audit event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventStageCompleted EventType = "stage_completed"
	EventChannelSkipped EventType = "channel_skipped"
	EventGPUDegraded    EventType = "gpu_degraded"
)

// Config controls the audit log file and rotation.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns the standard rotation settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Logger records audit events. Safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	logger *zap.Logger
	closed bool
}

// NewLogger opens (creating if needed) the rotating audit log at
// cfg.Path.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: log path is required")
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "event",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel, // audit entries are always recorded
	)

	return &Logger{logger: zap.New(core)}, nil
}

// Record writes one audit event with the given run correlation id and
// fields.
func (l *Logger) Record(runID string, event EventType, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("run_id", runID), zap.Time("recorded_at", time.Now()))
	all = append(all, fields...)
	l.logger.Info(string(event), all...)
}

// Close flushes and disables the logger.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.logger.Sync()
}
