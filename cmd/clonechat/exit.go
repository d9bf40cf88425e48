package main

import (
	"errors"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/ffmpeg"
)

// Exit codes, stable for scripting.
const (
	exitOK           = 0
	exitUserError    = 1
	exitNoTranscoder = 2
	exitInterrupted  = 3
	exitPlatform     = 4
)

// exitCode maps a command error to the process exit code. Specific
// classes are checked first so a wrapped interrupt does not fall
// through to the generic user error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ffmpeg.ErrNotInstalled):
		return exitNoTranscoder
	case clonechat.IsInterrupted(err):
		return exitInterrupted
	case clonechat.IsPermanent(err):
		return exitPlatform
	default:
		return exitUserError
	}
}
