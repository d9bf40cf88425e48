package clonechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Canonical chat ids follow the convention the rest of the tooling
// speaks: users keep their bare id, basic groups negate it, channels
// and supergroups get the -100 prefix.

// channelZero is the offset behind the -100 prefix of canonical
// channel ids.
const channelZero int64 = 1_000_000_000_000

// ChannelID converts a bare channel id to canonical form.
func ChannelID(raw int64) int64 { return -(channelZero + raw) }

// GroupID converts a bare basic-group id to canonical form.
func GroupID(raw int64) int64 { return -raw }

// SplitID breaks a canonical id into chat kind and bare platform id.
func SplitID(id int64) (ChatKind, int64) {
	switch {
	case id <= -channelZero:
		return ChatChannel, -id - channelZero
	case id < 0:
		return ChatGroup, -id
	default:
		return ChatUser, id
	}
}

// DeepLink returns the private t.me link to the first message of a
// channel given its canonical id.
func DeepLink(chatID int64) string {
	_, raw := SplitID(chatID)
	return fmt.Sprintf("https://t.me/c/%d/1", raw)
}

// Resolver turns user-supplied chat identifiers into canonical ids.
type Resolver struct {
	client Client
	logger *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// ResolverLogger sets the logger for failed lookups.
func ResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver returns a Resolver that answers username lookups through
// client.
func NewResolver(client Client, opts ...ResolverOption) *Resolver {
	r := &Resolver{client: client}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Resolve maps a raw identifier to a canonical chat id. Accepted
// forms: a plain integer, @username, t.me/c/<internal>[/<post>] links,
// t.me/<username>[/<post>] links, and a bare username.
func (r *Resolver) Resolve(ctx context.Context, input string) (int64, error) {
	id, _, err := r.ResolveMessage(ctx, input)
	return id, err
}

// ResolveMessage is Resolve plus the optional post id carried by
// message links. msgID is 0 when the input names only a chat.
func (r *Resolver) ResolveMessage(ctx context.Context, input string) (int64, int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, 0, &ErrUnresolvable{Input: input}
	}

	// A plain integer is already canonical.
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, 0, nil
	}

	if name, ok := strings.CutPrefix(s, "@"); ok {
		return r.lookup(ctx, input, name, 0)
	}

	if rest, ok := stripLinkPrefix(s); ok {
		// Private links carry the bare channel id after /c/.
		if path, ok := strings.CutPrefix(rest, "c/"); ok {
			parts := splitLinkPath(path)
			if len(parts) == 0 {
				return 0, 0, &ErrUnresolvable{Input: input}
			}
			raw, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil || raw <= 0 {
				return 0, 0, &ErrUnresolvable{Input: input}
			}
			return ChannelID(raw), linkMsgID(parts), nil
		}

		parts := splitLinkPath(rest)
		if len(parts) == 0 {
			return 0, 0, &ErrUnresolvable{Input: input}
		}
		return r.lookup(ctx, input, parts[0], linkMsgID(parts))
	}

	// Last resort: treat the input as a bare username.
	return r.lookup(ctx, input, s, 0)
}

func (r *Resolver) lookup(ctx context.Context, input, username string, msgID int) (int64, int, error) {
	chat, err := r.client.ResolveUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		r.logger.Debug("username lookup failed",
			"username", username,
			"error", err)
		// Only an unknown name is a resolution failure. Anything else
		// (flood waits, auth loss, network) must keep its own class so
		// callers do not misreport a reachable chat as nonexistent.
		if errors.Is(err, ErrNotFound) || IsUnresolvable(err) {
			return 0, 0, &ErrUnresolvable{Input: input}
		}
		return 0, 0, fmt.Errorf("resolve %q: %w", input, err)
	}
	return chat.ID, msgID, nil
}

func stripLinkPrefix(s string) (string, bool) {
	for _, p := range []string{
		"https://t.me/",
		"http://t.me/",
		"t.me/",
		"https://telegram.me/",
		"http://telegram.me/",
		"telegram.me/",
	} {
		if rest, ok := strings.CutPrefix(s, p); ok {
			return rest, true
		}
	}
	return "", false
}

func splitLinkPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// linkMsgID extracts the post id from link path segments, 0 if absent
// or malformed.
func linkMsgID(parts []string) int {
	if len(parts) < 2 {
		return 0
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || id < 0 {
		return 0
	}
	return id
}
