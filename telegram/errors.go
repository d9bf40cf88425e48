package telegram

import (
	"context"
	"errors"
	"io/fs"

	"github.com/gotd/td/tgerr"

	"github.com/nevindra/clonechat"
)

// mapError translates platform failures into the engine taxonomy.
// Flood waits become ErrFloodWait so the retry layer sleeps them out,
// server-side 5xx and transport trouble become ErrTransient, and every
// other RPC verdict is permanent. Context and local filesystem errors
// pass through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &clonechat.ErrFloodWait{RetryAfter: wait}
	}

	var rpc *tgerr.Error
	if errors.As(err, &rpc) {
		if rpc.Code >= 500 {
			return &clonechat.ErrTransient{Op: op, Err: err}
		}
		return &clonechat.ErrPermanent{Op: op, Err: err}
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return err
	}

	// Everything else at this point is transport: disconnects, timeouts,
	// DC migrations mid-call.
	return &clonechat.ErrTransient{Op: op, Err: err}
}
