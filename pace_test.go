package clonechat

import (
	"context"
	"testing"
	"time"
)

func TestWithPace_SpacesSends(t *testing.T) {
	stub := &stubClient{}
	c := WithPace(stub, 30*time.Millisecond)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.SendText(ctx, 1, "x", SendOptions{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(stub.sentAt) != 3 {
		t.Fatalf("got %d sends, want 3", len(stub.sentAt))
	}
	for i := 1; i < len(stub.sentAt); i++ {
		gap := stub.sentAt[i].Sub(stub.sentAt[i-1])
		if gap < 25*time.Millisecond {
			t.Errorf("gap %d = %v, want >= 30ms", i, gap)
		}
	}
}

func TestWithPace_MixedSendsShareOneClock(t *testing.T) {
	stub := &stubClient{history: map[int]Message{}}
	c := WithPace(stub, 30*time.Millisecond)

	ctx := context.Background()
	if _, err := c.SendText(ctx, 1, "x", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Forward(ctx, 1, 1, 2); err != nil {
		t.Fatal(err)
	}
	if len(stub.sentAt) != 2 {
		t.Fatalf("got %d sends, want 2", len(stub.sentAt))
	}
	if gap := stub.sentAt[1].Sub(stub.sentAt[0]); gap < 25*time.Millisecond {
		t.Errorf("gap = %v, want >= 30ms", gap)
	}
}

func TestWithPace_ReadsPassThrough(t *testing.T) {
	stub := &stubClient{head: 10}
	c := WithPace(stub, time.Hour)

	start := time.Now()
	head, err := c.HistoryHead(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 10 {
		t.Errorf("got head %d, want 10", head)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("read should not wait for a send slot")
	}
}

func TestWithPace_ZeroIntervalDisables(t *testing.T) {
	stub := &stubClient{}
	c := WithPace(stub, 0)

	start := time.Now()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.SendText(ctx, 1, "x", SendOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("zero interval should not pace")
	}
}

func TestWithPace_CancelWhileWaiting(t *testing.T) {
	stub := &stubClient{}
	c := WithPace(stub, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.SendText(ctx, 1, "x", SendOptions{}); err != nil {
		t.Fatalf("first send should claim the immediate slot: %v", err)
	}
	_, err := c.SendText(ctx, 1, "y", SendOptions{})
	if !IsInterrupted(err) {
		t.Errorf("IsInterrupted(%v) = false, want true", err)
	}
}
