package clonechat

import "context"

// Client is the platform surface the engines run against. The telegram
// package implements it over MTProto; WithRetry and WithPace decorate
// it. Implementations must be safe for concurrent use.
type Client interface {
	// --- identity and lookup ---

	// Self returns the authenticated account.
	Self(ctx context.Context) (Chat, error)
	// ResolveUsername maps a public @username to a chat.
	ResolveUsername(ctx context.Context, username string) (Chat, error)
	// ChatInfo returns metadata for a canonical chat id.
	ChatInfo(ctx context.Context, chatID int64) (Chat, error)
	// Dialogs lists every chat of the account.
	Dialogs(ctx context.Context) ([]Dialog, error)
	// Topics lists the forum topics of a supergroup.
	Topics(ctx context.Context, chatID int64) ([]Topic, error)

	// --- history ---

	// HistoryHead returns the id of the newest message, 0 for an
	// empty chat.
	HistoryHead(ctx context.Context, chatID int64) (int, error)
	// Messages fetches the given ids and returns exactly one entry per
	// requested id, in ascending id order. Ids that no longer resolve
	// to content come back as KindEmpty placeholders.
	Messages(ctx context.Context, chatID int64, ids []int) ([]Message, error)
	// PinnedMessages returns the ids of all pinned messages.
	PinnedMessages(ctx context.Context, chatID int64) ([]int, error)

	// --- sends ---

	// Forward copies one message in a single platform call and returns
	// the new destination message id.
	Forward(ctx context.Context, fromChat int64, msgID int, toChat int64) (int, error)
	// SendText sends a plain or HTML text message.
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)
	// SendMedia sends one Upload and returns the new message id.
	SendMedia(ctx context.Context, chatID int64, up Upload) (int, error)

	// --- files ---

	// Download writes the file payload of a message to path and
	// returns the byte count.
	Download(ctx context.Context, chatID int64, msgID int, path string) (int64, error)

	// --- chat management ---

	CreateChannel(ctx context.Context, title, about string) (Chat, error)
	ExportInviteLink(ctx context.Context, chatID int64) (string, error)
	SetDescription(ctx context.Context, chatID int64, about string) error
	Pin(ctx context.Context, chatID int64, msgID int) error
	Leave(ctx context.Context, chatID int64) error
}
