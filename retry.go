package clonechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// retryClient wraps a Client and applies the platform retry policy to
// every call: flood-wait directives are slept out and retried without
// limit, transient failures back off exponentially until the retry
// budget runs out, everything else propagates unchanged.
type retryClient struct {
	inner           Client
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	callTimeout     time.Duration // per attempt, metadata calls; 0 = no limit
	transferTimeout time.Duration // per attempt, media transfer; 0 = no limit
	logger          *slog.Logger  // nil = nopLogger
	stats           Stats
}

// RetryOption configures a retryClient.
type RetryOption func(*retryClient)

// RetryMaxRetries sets how many times a transient failure is retried
// before it is treated as permanent (default: 5). Flood waits never
// count against this budget.
func RetryMaxRetries(n int) RetryOption {
	return func(r *retryClient) { r.maxRetries = n }
}

// RetryBaseDelay sets the backoff delay before the first retry
// (default: 2s). Each subsequent delay doubles up to a fixed cap.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryClient) { r.baseDelay = d }
}

// RetryMaxDelay caps the exponential backoff delay (default: 60s).
func RetryMaxDelay(d time.Duration) RetryOption {
	return func(r *retryClient) { r.maxDelay = d }
}

// RetryCallTimeout bounds a single attempt of a metadata call
// (default: 30s). A hung attempt is cut off and retried as transient.
// Zero disables the bound. Flood-wait and backoff sleeps are never
// bounded by it.
func RetryCallTimeout(d time.Duration) RetryOption {
	return func(r *retryClient) { r.callTimeout = d }
}

// RetryTransferTimeout bounds a single attempt of a media transfer,
// Download and SendMedia, which move whole files (default: 300s). Zero
// disables the bound.
func RetryTransferTimeout(d time.Duration) RetryOption {
	return func(r *retryClient) { r.transferTimeout = d }
}

// RetryLogger sets the structured logger for retry events. Retries log
// at WARN level and exhausted budgets log at ERROR. If not set, a
// no-op logger is used (no output).
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryClient) { r.logger = l }
}

// RetryStats sets the Stats sink for per-call duration samples.
func RetryStats(s Stats) RetryOption {
	return func(r *retryClient) { r.stats = s }
}

// WithRetry wraps c with the retry policy every platform call must go
// through. Compose with any Client:
//
//	cl = clonechat.WithRetry(tg)
//	cl = clonechat.WithRetry(tg, clonechat.RetryMaxRetries(3), clonechat.RetryLogger(log))
func WithRetry(c Client, opts ...RetryOption) Client {
	r := &retryClient{
		inner:           c,
		maxRetries:      5,
		baseDelay:       2 * time.Second,
		maxDelay:        60 * time.Second,
		callTimeout:     30 * time.Second,
		transferTimeout: 300 * time.Second,
		stats:           NopStats{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// retryJitter returns the additive jitter appended to every sleep so
// that parallel runs spread out. Tests stub it.
var retryJitter = func() time.Duration {
	return time.Duration(rand.Int64N(int64(time.Second)))
}

// retryCall runs fn under the retry policy. Each attempt carries its
// own deadline so a hung connection cannot stall a run forever.
func retryCall[T any](ctx context.Context, r *retryClient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	timeout := r.attemptTimeout(op)

	retries := 0
	for {
		start := time.Now()
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		result, err := fn(attemptCtx)
		cancel()
		r.stats.Observe("platform.call.duration", time.Since(start).Seconds(), StringAttr("op", op))
		if err == nil {
			return result, nil
		}
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Only this attempt's deadline fired. The run is still live,
			// so the hang is a transient failure, not an interruption.
			err = &ErrTransient{Op: op, Err: fmt.Errorf("no response within %v", timeout)}
		}

		if wait, ok := IsFloodWait(err); ok {
			wait += retryJitter()
			r.logger.Warn("flood wait",
				"op", op,
				"wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return zero, err
			}
			continue
		}

		if !IsTransient(err) {
			return zero, err
		}
		if retries >= r.maxRetries {
			r.logger.Error("retry budget exhausted",
				"op", op,
				"retries", retries,
				"error", err)
			return zero, &ErrPermanent{Op: op, Err: fmt.Errorf("%d retries exhausted: %w", retries, err)}
		}
		delay := retryBackoff(r.baseDelay, r.maxDelay, retries)
		retries++
		r.logger.Warn("retrying transient error",
			"op", op,
			"attempt", retries,
			"max_attempts", r.maxRetries,
			"delay", delay,
			"error", err)
		if err := sleepCtx(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// retryErr adapts error-only calls to retryCall.
func retryErr(ctx context.Context, r *retryClient, op string, fn func(ctx context.Context) error) error {
	_, err := retryCall(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// attemptTimeout returns the deadline budget for one attempt of op.
// Media transfer moves whole files and gets the longer budget.
func (r *retryClient) attemptTimeout(op string) time.Duration {
	switch op {
	case "download", "send_media":
		return r.transferTimeout
	default:
		return r.callTimeout
	}
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i capped at max, plus additive jitter.
func retryBackoff(base, max time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	if exp > max || exp <= 0 {
		exp = max
	}
	return exp + retryJitter()
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *retryClient) Self(ctx context.Context) (Chat, error) {
	return retryCall(ctx, r, "self", func(ctx context.Context) (Chat, error) {
		return r.inner.Self(ctx)
	})
}

func (r *retryClient) ResolveUsername(ctx context.Context, username string) (Chat, error) {
	return retryCall(ctx, r, "resolve_username", func(ctx context.Context) (Chat, error) {
		return r.inner.ResolveUsername(ctx, username)
	})
}

func (r *retryClient) ChatInfo(ctx context.Context, chatID int64) (Chat, error) {
	return retryCall(ctx, r, "chat_info", func(ctx context.Context) (Chat, error) {
		return r.inner.ChatInfo(ctx, chatID)
	})
}

func (r *retryClient) Dialogs(ctx context.Context) ([]Dialog, error) {
	return retryCall(ctx, r, "dialogs", func(ctx context.Context) ([]Dialog, error) {
		return r.inner.Dialogs(ctx)
	})
}

func (r *retryClient) Topics(ctx context.Context, chatID int64) ([]Topic, error) {
	return retryCall(ctx, r, "topics", func(ctx context.Context) ([]Topic, error) {
		return r.inner.Topics(ctx, chatID)
	})
}

func (r *retryClient) HistoryHead(ctx context.Context, chatID int64) (int, error) {
	return retryCall(ctx, r, "history_head", func(ctx context.Context) (int, error) {
		return r.inner.HistoryHead(ctx, chatID)
	})
}

func (r *retryClient) Messages(ctx context.Context, chatID int64, ids []int) ([]Message, error) {
	return retryCall(ctx, r, "messages", func(ctx context.Context) ([]Message, error) {
		return r.inner.Messages(ctx, chatID, ids)
	})
}

func (r *retryClient) PinnedMessages(ctx context.Context, chatID int64) ([]int, error) {
	return retryCall(ctx, r, "pinned_messages", func(ctx context.Context) ([]int, error) {
		return r.inner.PinnedMessages(ctx, chatID)
	})
}

func (r *retryClient) Forward(ctx context.Context, fromChat int64, msgID int, toChat int64) (int, error) {
	return retryCall(ctx, r, "forward", func(ctx context.Context) (int, error) {
		return r.inner.Forward(ctx, fromChat, msgID, toChat)
	})
}

func (r *retryClient) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	return retryCall(ctx, r, "send_text", func(ctx context.Context) (int, error) {
		return r.inner.SendText(ctx, chatID, text, opts)
	})
}

func (r *retryClient) SendMedia(ctx context.Context, chatID int64, up Upload) (int, error) {
	return retryCall(ctx, r, "send_media", func(ctx context.Context) (int, error) {
		return r.inner.SendMedia(ctx, chatID, up)
	})
}

func (r *retryClient) Download(ctx context.Context, chatID int64, msgID int, path string) (int64, error) {
	return retryCall(ctx, r, "download", func(ctx context.Context) (int64, error) {
		return r.inner.Download(ctx, chatID, msgID, path)
	})
}

func (r *retryClient) CreateChannel(ctx context.Context, title, about string) (Chat, error) {
	return retryCall(ctx, r, "create_channel", func(ctx context.Context) (Chat, error) {
		return r.inner.CreateChannel(ctx, title, about)
	})
}

func (r *retryClient) ExportInviteLink(ctx context.Context, chatID int64) (string, error) {
	return retryCall(ctx, r, "export_invite_link", func(ctx context.Context) (string, error) {
		return r.inner.ExportInviteLink(ctx, chatID)
	})
}

func (r *retryClient) SetDescription(ctx context.Context, chatID int64, about string) error {
	return retryErr(ctx, r, "set_description", func(ctx context.Context) error {
		return r.inner.SetDescription(ctx, chatID, about)
	})
}

func (r *retryClient) Pin(ctx context.Context, chatID int64, msgID int) error {
	return retryErr(ctx, r, "pin", func(ctx context.Context) error {
		return r.inner.Pin(ctx, chatID, msgID)
	})
}

func (r *retryClient) Leave(ctx context.Context, chatID int64) error {
	return retryErr(ctx, r, "leave", func(ctx context.Context) error {
		return r.inner.Leave(ctx, chatID)
	})
}

// compile-time check
var _ Client = (*retryClient)(nil)
