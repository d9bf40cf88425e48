package clonechat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsFloodWait(t *testing.T) {
	wait, ok := IsFloodWait(&ErrFloodWait{RetryAfter: 17 * time.Second})
	if !ok {
		t.Fatal("IsFloodWait = false, want true")
	}
	if wait != 17*time.Second {
		t.Errorf("got wait %v, want 17s", wait)
	}

	wrapped := fmt.Errorf("send_text: %w", &ErrFloodWait{RetryAfter: time.Second})
	if _, ok := IsFloodWait(wrapped); !ok {
		t.Error("IsFloodWait should see through wrapping")
	}
	if _, ok := IsFloodWait(errors.New("other")); ok {
		t.Error("IsFloodWait = true for unrelated error")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", &ErrTransient{Op: "messages", Err: errors.New("disconnect")}, true},
		{"wrapped transient", fmt.Errorf("x: %w", &ErrTransient{Op: "messages", Err: errors.New("d")}), true},
		{"permanent", &ErrPermanent{Op: "messages", Err: errors.New("bad request")}, false},
		{"permanent wrapping transient", &ErrPermanent{Op: "m", Err: &ErrTransient{Op: "m", Err: errors.New("d")}}, false},
		{"tool killed", &ErrExternalTool{Tool: "ffmpeg", Killed: true}, true},
		{"tool exit code", &ErrExternalTool{Tool: "ffmpeg", ExitCode: 1}, false},
		{"plain", errors.New("other"), false},
		{"restricted", &ErrRestricted{ChatID: 1}, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(&ErrPermanent{Op: "x", Err: errors.New("y")}) {
		t.Error("IsPermanent(ErrPermanent) = false")
	}
	if !IsPermanent(&ErrRestricted{ChatID: 1, Reason: "CHAT_FORWARDS_RESTRICTED"}) {
		t.Error("IsPermanent(ErrRestricted) = false")
	}
	if IsPermanent(&ErrTransient{Op: "x", Err: errors.New("y")}) {
		t.Error("IsPermanent(ErrTransient) = true")
	}
}

func TestIsUnsupported(t *testing.T) {
	if !IsUnsupported(&ErrUnsupported{Kind: KindSticker}) {
		t.Error("IsUnsupported = false, want true")
	}
	if IsUnsupported(errors.New("other")) {
		t.Error("IsUnsupported = true for unrelated error")
	}
}

func TestIsInterrupted(t *testing.T) {
	if !IsInterrupted(context.Canceled) {
		t.Error("IsInterrupted(Canceled) = false")
	}
	if !IsInterrupted(fmt.Errorf("walk: %w", context.DeadlineExceeded)) {
		t.Error("IsInterrupted should see through wrapping")
	}
	if IsInterrupted(errors.New("other")) {
		t.Error("IsInterrupted = true for unrelated error")
	}
}

func TestErrExternalToolError(t *testing.T) {
	killed := &ErrExternalTool{Tool: "ffmpeg", Killed: true}
	if got := killed.Error(); got != "ffmpeg: killed after time limit" {
		t.Errorf("got %q", got)
	}
	failed := &ErrExternalTool{Tool: "ffprobe", ExitCode: 1, Stderr: "no such file"}
	if got := failed.Error(); got != "ffprobe: exit 1: no such file" {
		t.Errorf("got %q", got)
	}
}
