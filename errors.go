package clonechat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by task stores when no row matches the key.
var ErrNotFound = errors.New("not found")

// ErrFloodWait is a rate-limit directive from the platform. Callers
// must wait RetryAfter before calling again.
type ErrFloodWait struct {
	RetryAfter time.Duration
}

func (e *ErrFloodWait) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.RetryAfter)
}

// ErrRestricted marks a chat whose content is protected: the platform
// refuses to forward out of it.
type ErrRestricted struct {
	ChatID int64
	Reason string
}

func (e *ErrRestricted) Error() string {
	return fmt.Sprintf("chat %d restricted: %s", e.ChatID, e.Reason)
}

// ErrUnsupported marks a message kind no send primitive exists for.
type ErrUnsupported struct {
	Kind Kind
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("unsupported message kind %q", e.Kind)
}

// ErrUnresolvable marks a chat identifier that matched no known chat.
type ErrUnresolvable struct {
	Input string
}

func (e *ErrUnresolvable) Error() string {
	return fmt.Sprintf("cannot resolve chat identifier %q", e.Input)
}

// ErrTransient wraps a failure worth retrying: timeouts, disconnects,
// internal server errors.
type ErrTransient struct {
	Op  string
	Err error
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ErrTransient) Unwrap() error { return e.Err }

// ErrPermanent marks a failure retries cannot fix, including transient
// failures whose retry budget ran out.
type ErrPermanent struct {
	Op  string
	Err error
}

func (e *ErrPermanent) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ErrPermanent) Unwrap() error { return e.Err }

// ErrExternalTool reports an ffmpeg or ffprobe run that did not exit
// cleanly. Killed is set when the run hit its wall-clock limit.
type ErrExternalTool struct {
	Tool     string
	ExitCode int
	Stderr   string
	Killed   bool
}

func (e *ErrExternalTool) Error() string {
	if e.Killed {
		return fmt.Sprintf("%s: killed after time limit", e.Tool)
	}
	return fmt.Sprintf("%s: exit %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

// IsFloodWait reports whether err is a rate-limit directive and, if so,
// how long to wait.
func IsFloodWait(err error) (time.Duration, bool) {
	var fw *ErrFloodWait
	if errors.As(err, &fw) {
		return fw.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports whether err is worth retrying. Tool runs killed
// by the time limit count as transient; anything marked permanent does
// not, regardless of what it wraps.
func IsTransient(err error) bool {
	var pe *ErrPermanent
	if errors.As(err, &pe) {
		return false
	}
	var tr *ErrTransient
	if errors.As(err, &tr) {
		return true
	}
	var et *ErrExternalTool
	if errors.As(err, &et) {
		return et.Killed
	}
	return false
}

// IsPermanent reports whether err is beyond retrying.
func IsPermanent(err error) bool {
	var pe *ErrPermanent
	if errors.As(err, &pe) {
		return true
	}
	var re *ErrRestricted
	return errors.As(err, &re)
}

// IsRestricted reports whether err signals protected content.
func IsRestricted(err error) bool {
	var re *ErrRestricted
	return errors.As(err, &re)
}

// IsUnresolvable reports whether err marks a chat identifier that
// matched no known chat.
func IsUnresolvable(err error) bool {
	var ue *ErrUnresolvable
	return errors.As(err, &ue)
}

// IsUnsupported reports whether err marks a message kind that cannot
// be replicated.
func IsUnsupported(err error) bool {
	var ue *ErrUnsupported
	return errors.As(err, &ue)
}

// IsInterrupted reports whether err came from context cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
