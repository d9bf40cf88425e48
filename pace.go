package clonechat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pacedClient wraps a Client so that successive outbound sends are at
// least one interval apart. Lookups, history reads and downloads pass
// through unchanged.
type pacedClient struct {
	Client
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	next time.Time
}

// PaceOption configures a pacedClient.
type PaceOption func(*pacedClient)

// PaceLogger sets the logger for pacing waits. If not set, a no-op
// logger is used.
func PaceLogger(l *slog.Logger) PaceOption {
	return func(p *pacedClient) { p.logger = l }
}

// WithPace wraps c so that Forward, SendText and SendMedia calls are
// spaced at least interval apart. A zero or negative interval disables
// pacing. Compose outside WithRetry so retry sleeps stay independent:
//
//	cl = clonechat.WithPace(clonechat.WithRetry(tg), 2*time.Second)
func WithPace(c Client, interval time.Duration, opts ...PaceOption) Client {
	p := &pacedClient{Client: c, interval: interval}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// wait reserves the next send slot and sleeps until it opens.
func (p *pacedClient) wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	p.mu.Unlock()

	d := time.Until(slot)
	if d <= 0 {
		return nil
	}
	p.logger.Debug("pacing send", "wait", d)
	return sleepCtx(ctx, d)
}

func (p *pacedClient) Forward(ctx context.Context, fromChat int64, msgID int, toChat int64) (int, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.Client.Forward(ctx, fromChat, msgID, toChat)
}

func (p *pacedClient) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.Client.SendText(ctx, chatID, text, opts)
}

func (p *pacedClient) SendMedia(ctx context.Context, chatID int64, up Upload) (int, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.Client.SendMedia(ctx, chatID, up)
}

// compile-time check
var _ Client = (*pacedClient)(nil)
