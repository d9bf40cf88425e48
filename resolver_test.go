package clonechat

import (
	"context"
	"errors"
	"testing"
)

func TestChannelIDRoundTrip(t *testing.T) {
	canonical := ChannelID(1234567890)
	if canonical != -1001234567890 {
		t.Fatalf("ChannelID(1234567890) = %d, want -1001234567890", canonical)
	}
	kind, raw := SplitID(canonical)
	if kind != ChatChannel || raw != 1234567890 {
		t.Errorf("SplitID(%d) = (%v, %d), want (channel, 1234567890)", canonical, kind, raw)
	}
}

func TestSplitID(t *testing.T) {
	tests := []struct {
		id   int64
		kind ChatKind
		raw  int64
	}{
		{123456, ChatUser, 123456},
		{-987654, ChatGroup, 987654},
		{-1001234567890, ChatChannel, 1234567890},
		{GroupID(555), ChatGroup, 555},
	}
	for _, tt := range tests {
		kind, raw := SplitID(tt.id)
		if kind != tt.kind || raw != tt.raw {
			t.Errorf("SplitID(%d) = (%v, %d), want (%v, %d)", tt.id, kind, raw, tt.kind, tt.raw)
		}
	}
}

func TestDeepLink(t *testing.T) {
	if got := DeepLink(-1001234567890); got != "https://t.me/c/1234567890/1" {
		t.Errorf("got %q", got)
	}
}

func TestResolverPlainInteger(t *testing.T) {
	r := NewResolver(&stubClient{})
	id, err := r.Resolve(context.Background(), " -1001234567890 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != -1001234567890 {
		t.Errorf("got %d, want -1001234567890", id)
	}
}

func TestResolverUsernameForms(t *testing.T) {
	stub := &stubClient{usernames: map[string]Chat{
		"somecourse": {ID: -1009999999999, Kind: ChatChannel, Title: "Some Course"},
	}}
	r := NewResolver(stub)

	for _, input := range []string{
		"@somecourse",
		"somecourse",
		"https://t.me/somecourse",
		"t.me/somecourse",
		"telegram.me/somecourse",
	} {
		id, err := r.Resolve(context.Background(), input)
		if err != nil {
			t.Fatalf("Resolve(%q): unexpected error: %v", input, err)
		}
		if id != -1009999999999 {
			t.Errorf("Resolve(%q) = %d, want -1009999999999", input, id)
		}
	}
}

func TestResolverPrivateLink(t *testing.T) {
	r := NewResolver(&stubClient{})

	id, msgID, err := r.ResolveMessage(context.Background(), "https://t.me/c/1234567890/42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != -1001234567890 {
		t.Errorf("got id %d, want -1001234567890", id)
	}
	if msgID != 42 {
		t.Errorf("got msgID %d, want 42", msgID)
	}
}

func TestResolverPublicLinkWithPost(t *testing.T) {
	stub := &stubClient{usernames: map[string]Chat{
		"somecourse": {ID: -1009999999999, Kind: ChatChannel},
	}}
	r := NewResolver(stub)

	id, msgID, err := r.ResolveMessage(context.Background(), "https://t.me/somecourse/17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != -1009999999999 || msgID != 17 {
		t.Errorf("got (%d, %d), want (-1009999999999, 17)", id, msgID)
	}
}

func TestResolverUnresolvable(t *testing.T) {
	r := NewResolver(&stubClient{})

	for _, input := range []string{
		"",
		"@nosuchname",
		"https://t.me/c/notanumber",
		"https://t.me/c/-5",
	} {
		_, err := r.Resolve(context.Background(), input)
		var ue *ErrUnresolvable
		if !errors.As(err, &ue) {
			t.Errorf("Resolve(%q) = %v, want ErrUnresolvable", input, err)
		}
	}
}

// brokenResolveClient fails every username lookup with a platform
// error rather than an unknown-name one.
type brokenResolveClient struct {
	*stubClient
}

func (c *brokenResolveClient) ResolveUsername(context.Context, string) (Chat, error) {
	return Chat{}, &ErrPermanent{Op: "resolve_username", Err: errors.New("session revoked")}
}

func TestResolverPlatformErrorPropagates(t *testing.T) {
	r := NewResolver(&brokenResolveClient{stubClient: &stubClient{}})

	_, err := r.Resolve(context.Background(), "@somecourse")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if IsUnresolvable(err) {
		t.Errorf("got ErrUnresolvable, want the platform error through: %v", err)
	}
	if !IsPermanent(err) {
		t.Errorf("got %v, want a permanent platform error", err)
	}
}
