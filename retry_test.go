package clonechat

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// stubClient is a test Client. Send-type calls consume pre-configured
// results in order and record their arguments; query calls are backed
// by plain fields so tests can script a chat.
type stubClient struct {
	calls   int
	results []stubResult

	self      Chat
	chats     map[int64]Chat
	usernames map[string]Chat
	dialogs   []Dialog
	topics    []Topic
	head      int
	history   map[int]Message
	pinned    []int

	created       Chat
	invite        string
	downloadSizes []int64 // per-call byte counts, empty = 4 bytes each

	forwards     []int
	texts        []string
	textChats    []int64
	uploads      []Upload
	uploadChats  []int64
	downloads    []string
	pins         []pinCall
	titles       []string
	inviteCalls  int
	descriptions []string
	left         []int64
	sentAt       []time.Time
}

type stubResult struct {
	id  int
	err error
}

type pinCall struct {
	chat  int64
	msgID int
}

// next pops the scripted result queue; past the end, calls succeed
// with ascending message ids.
func (s *stubClient) next() stubResult {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return stubResult{id: 1000 + i}
}

func (s *stubClient) Self(context.Context) (Chat, error) { return s.self, nil }

func (s *stubClient) ResolveUsername(_ context.Context, username string) (Chat, error) {
	if c, ok := s.usernames[strings.ToLower(username)]; ok {
		return c, nil
	}
	return Chat{}, ErrNotFound
}

func (s *stubClient) ChatInfo(_ context.Context, chatID int64) (Chat, error) {
	if c, ok := s.chats[chatID]; ok {
		return c, nil
	}
	return Chat{}, ErrNotFound
}

func (s *stubClient) Dialogs(context.Context) ([]Dialog, error) { return s.dialogs, nil }

func (s *stubClient) Topics(context.Context, int64) ([]Topic, error) { return s.topics, nil }

func (s *stubClient) HistoryHead(context.Context, int64) (int, error) { return s.head, nil }

func (s *stubClient) Messages(_ context.Context, _ int64, ids []int) ([]Message, error) {
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.history[id]; ok {
			out = append(out, msg)
		} else {
			out = append(out, Message{ID: id, Kind: KindEmpty})
		}
	}
	return out, nil
}

func (s *stubClient) PinnedMessages(context.Context, int64) ([]int, error) { return s.pinned, nil }

func (s *stubClient) Forward(_ context.Context, _ int64, msgID int, _ int64) (int, error) {
	r := s.next()
	if r.err != nil {
		return 0, r.err
	}
	s.forwards = append(s.forwards, msgID)
	s.sentAt = append(s.sentAt, time.Now())
	return r.id, nil
}

func (s *stubClient) SendText(_ context.Context, chatID int64, text string, _ SendOptions) (int, error) {
	r := s.next()
	if r.err != nil {
		return 0, r.err
	}
	s.texts = append(s.texts, text)
	s.textChats = append(s.textChats, chatID)
	s.sentAt = append(s.sentAt, time.Now())
	return r.id, nil
}

func (s *stubClient) SendMedia(_ context.Context, chatID int64, up Upload) (int, error) {
	r := s.next()
	if r.err != nil {
		return 0, r.err
	}
	s.uploads = append(s.uploads, up)
	s.uploadChats = append(s.uploadChats, chatID)
	s.sentAt = append(s.sentAt, time.Now())
	return r.id, nil
}

func (s *stubClient) Download(_ context.Context, _ int64, _ int, path string) (int64, error) {
	size := int64(4)
	if len(s.downloadSizes) > 0 {
		size = s.downloadSizes[0]
		s.downloadSizes = s.downloadSizes[1:]
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		return 0, err
	}
	s.downloads = append(s.downloads, path)
	return size, nil
}

func (s *stubClient) CreateChannel(_ context.Context, title, _ string) (Chat, error) {
	s.titles = append(s.titles, title)
	c := s.created
	if c.ID == 0 {
		c = Chat{ID: -1000000000444, Kind: ChatChannel}
	}
	c.Title = title
	return c, nil
}

func (s *stubClient) ExportInviteLink(context.Context, int64) (string, error) {
	s.inviteCalls++
	if s.invite == "" {
		return "", errors.New("invites disabled")
	}
	return s.invite, nil
}

func (s *stubClient) SetDescription(_ context.Context, _ int64, about string) error {
	s.descriptions = append(s.descriptions, about)
	return nil
}

func (s *stubClient) Pin(_ context.Context, chatID int64, msgID int) error {
	s.pins = append(s.pins, pinCall{chat: chatID, msgID: msgID})
	return nil
}

func (s *stubClient) Leave(_ context.Context, chatID int64) error {
	s.left = append(s.left, chatID)
	return nil
}

var _ Client = (*stubClient)(nil)

// noJitter pins retryJitter to zero for the duration of a test.
func noJitter(t *testing.T) {
	t.Helper()
	prev := retryJitter
	retryJitter = func() time.Duration { return 0 }
	t.Cleanup(func() { retryJitter = prev })
}

// --- retry policy tests ---

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	stub := &stubClient{results: []stubResult{{id: 7}}}
	c := WithRetry(stub, RetryBaseDelay(0))

	id, err := c.SendText(context.Background(), 1, "hello", SendOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 7 {
		t.Errorf("got id %d, want 7", id)
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_RetriesTransient(t *testing.T) {
	noJitter(t)
	stub := &stubClient{results: []stubResult{
		{err: &ErrTransient{Op: "send_text", Err: errors.New("disconnect")}},
		{id: 5},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	id, err := c.SendText(context.Background(), 1, "hello", SendOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 5 {
		t.Errorf("got id %d, want 5", id)
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_FloodWaitDoesNotConsumeBudget(t *testing.T) {
	noJitter(t)
	fw := stubResult{err: &ErrFloodWait{RetryAfter: time.Millisecond}}
	stub := &stubClient{results: []stubResult{
		fw, fw, fw,
		{err: &ErrTransient{Op: "send_text", Err: errors.New("disconnect")}},
		{id: 9},
	}}
	// One retry of budget. The three flood waits must not use it up.
	c := WithRetry(stub, RetryBaseDelay(0), RetryMaxRetries(1))

	id, err := c.SendText(context.Background(), 1, "hello", SendOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 9 {
		t.Errorf("got id %d, want 9", id)
	}
	if stub.calls != 5 {
		t.Errorf("got %d calls, want 5", stub.calls)
	}
}

func TestWithRetry_ExhaustionBecomesPermanent(t *testing.T) {
	noJitter(t)
	transient := stubResult{err: &ErrTransient{Op: "send_text", Err: errors.New("timeout")}}
	stub := &stubClient{results: []stubResult{transient, transient, transient, transient}}
	c := WithRetry(stub, RetryBaseDelay(0), RetryMaxRetries(2))

	_, err := c.SendText(context.Background(), 1, "hello", SendOptions{})
	if err == nil {
		t.Fatal("expected error after budget exhaustion, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false, want true", err)
	}
	if IsTransient(err) {
		t.Errorf("IsTransient(%v) = true, want false after exhaustion", err)
	}
	if stub.calls != 3 {
		t.Errorf("got %d calls, want 3 (initial + 2 retries)", stub.calls)
	}
}

func TestWithRetry_PermanentPropagatesImmediately(t *testing.T) {
	stub := &stubClient{results: []stubResult{
		{err: &ErrRestricted{ChatID: 42, Reason: "CHAT_FORWARDS_RESTRICTED"}},
	}}
	c := WithRetry(stub, RetryBaseDelay(0))

	_, err := c.Forward(context.Background(), 42, 1, 43)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsRestricted(err) {
		t.Errorf("IsRestricted(%v) = false, want true", err)
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry)", stub.calls)
	}
}

func TestWithRetry_FloodWaitHonorsContext(t *testing.T) {
	noJitter(t)
	stub := &stubClient{results: []stubResult{
		{err: &ErrFloodWait{RetryAfter: time.Hour}},
	}}
	c := WithRetry(stub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.SendText(ctx, 1, "hello", SendOptions{})
	if !IsInterrupted(err) {
		t.Errorf("IsInterrupted(%v) = false, want true", err)
	}
}

// hangingClient never answers SendText until its context is cut.
type hangingClient struct {
	*stubClient
	attempts int
}

func (h *hangingClient) SendText(ctx context.Context, _ int64, _ string, _ SendOptions) (int, error) {
	h.attempts++
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestWithRetry_HungCallCutOffAndRetried(t *testing.T) {
	noJitter(t)
	stub := &hangingClient{stubClient: &stubClient{}}
	c := WithRetry(stub,
		RetryMaxRetries(2),
		RetryBaseDelay(time.Millisecond),
		RetryCallTimeout(10*time.Millisecond))

	_, err := c.SendText(context.Background(), 1, "hello", SendOptions{})
	if stub.attempts != 3 {
		t.Errorf("got %d attempts, want 3 (cut off and retried)", stub.attempts)
	}
	// Exhausting the budget on a hung call is a platform failure, not
	// an interruption of the run.
	if !IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false, want true", err)
	}
	if IsInterrupted(err) {
		t.Errorf("IsInterrupted(%v) = true, want false", err)
	}
}

func TestWithRetry_HungCallKeepsRunCancellation(t *testing.T) {
	noJitter(t)
	stub := &hangingClient{stubClient: &stubClient{}}
	c := WithRetry(stub, RetryCallTimeout(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.SendText(ctx, 1, "hello", SendOptions{})
	if !IsInterrupted(err) {
		t.Errorf("IsInterrupted(%v) = false, want true", err)
	}
}

func TestRetryBackoff(t *testing.T) {
	noJitter(t)
	base, max := 2*time.Second, 60*time.Second
	tests := []struct {
		i    int
		want time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},  // 64s capped
		{63, 60 * time.Second}, // overflow capped
	}
	for _, tt := range tests {
		if got := retryBackoff(base, max, tt.i); got != tt.want {
			t.Errorf("retryBackoff(i=%d) = %v, want %v", tt.i, got, tt.want)
		}
	}
}
