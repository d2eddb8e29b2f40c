// Package signalspec provides the Signal and SignalSpec value types used to
// stage a scheduled container's start behind a delayed signal.
package signalspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	signalMinLen = 1
	signalMaxLen = 64
)

// Signal is a validated, free-form identifier (alphanumeric, '-' or '_',
// 1..64 characters long).
type Signal string

// ErrInvalidSignal reports a Signal that failed validation.
type ErrInvalidSignal struct {
	Input string
}

func (e *ErrInvalidSignal) Error() string {
	return fmt.Sprintf("invalid signal %q: a signal must be composed of alphanumeric, '-' or '_' and be between %d and %d characters long",
		e.Input, signalMinLen, signalMaxLen)
}

// ParseSignal validates and returns s as a Signal.
func ParseSignal(s string) (Signal, error) {
	if len(s) < signalMinLen || len(s) > signalMaxLen || !isValidSignal(s) {
		return "", &ErrInvalidSignal{Input: s}
	}
	return Signal(s), nil
}

func isValidSignal(s string) bool {
	for _, c := range s {
		if !isValidSignalChar(c) {
			return false
		}
	}
	return true
}

func isValidSignalChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-'
}

// SignalSpec pairs a Signal with a delay, in the wire format
// "<signal>:<seconds>".
type SignalSpec struct {
	Signal Signal
	Delay  time.Duration
}

// ErrInvalidSignalSpec reports a SignalSpec string that failed validation.
type ErrInvalidSignalSpec struct {
	Input string
}

func (e *ErrInvalidSignalSpec) Error() string {
	return fmt.Sprintf("invalid signal spec %q: signal spec must be in format <signal>:<seconds>", e.Input)
}

// ParseSignalSpec parses s in the form "<signal>:<seconds>", where seconds
// is a non-negative integer number of seconds.
func ParseSignalSpec(s string) (SignalSpec, error) {
	invalid := &ErrInvalidSignalSpec{Input: s}

	lhs, rhs, ok := strings.Cut(s, ":")
	if !ok {
		return SignalSpec{}, invalid
	}

	signal, err := ParseSignal(lhs)
	if err != nil {
		return SignalSpec{}, invalid
	}

	seconds, err := strconv.ParseUint(rhs, 10, 64)
	if err != nil {
		return SignalSpec{}, invalid
	}

	return SignalSpec{Signal: signal, Delay: time.Duration(seconds) * time.Second}, nil
}
