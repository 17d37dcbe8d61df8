// Package qcerr defines the error taxonomy shared by all flowqc packages.
//
// Responsibilities:
//   - Distinguish configuration mistakes from data problems
//   - Carry enough context (channel name, expected vs. actual sizes) to
//     diagnose a failure without re-running with tracing enabled
//   - Support errors.Is / errors.As inspection across package boundaries
package qcerr

import (
	"errors"
	"fmt"
)

// ErrNoPeaks indicates that no channel produced any density peaks at all.
// A single peakless channel is not an error; it simply contributes nothing.
var ErrNoPeaks = errors.New("no peaks detected in any channel")

// ConfigError reports an invalid configuration value. Never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Msg
}

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ChannelError reports a problem with a single named channel. The
// orchestrator may skip the channel and continue; that is a caller policy,
// not something absorbed silently.
type ChannelError struct {
	Channel  string
	Reason   string
	NotFound bool
}

func (e *ChannelError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("channel %q not found", e.Channel)
	}
	return fmt.Sprintf("channel %q: %s", e.Channel, e.Reason)
}

// NotFound builds a ChannelError for a missing channel.
func NotFound(channel string) error {
	return &ChannelError{Channel: channel, NotFound: true}
}

// StatsError reports a failed statistical computation (empty input,
// degenerate grid, malformed FFT size).
type StatsError struct {
	Op  string
	Msg string
}

func (e *StatsError) Error() string {
	return fmt.Sprintf("stats: %s: %s", e.Op, e.Msg)
}

// Statsf builds a StatsError for the named operation.
func Statsf(op, format string, args ...interface{}) error {
	return &StatsError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports that an input was too small for the
// requested computation.
type InsufficientDataError struct {
	Min    int
	Actual int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d values, got %d", e.Min, e.Actual)
}
