package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/nevindra/clonechat"
)

// CreateChannel creates a broadcast channel and returns its canonical
// chat view.
func (c *Client) CreateChannel(ctx context.Context, title, about string) (clonechat.Chat, error) {
	upd, err := c.api.ChannelsCreateChannel(ctx, &tg.ChannelsCreateChannelRequest{
		Broadcast: true,
		Title:     title,
		About:     about,
	})
	if err != nil {
		return clonechat.Chat{}, mapError("create channel", err)
	}
	ch, ok := createdChannel(upd)
	if !ok {
		return clonechat.Chat{}, fmt.Errorf("telegram: create channel: no channel in response")
	}
	c.peers.rememberChannel(ch)
	chat, _ := c.peers.chat(clonechat.ChannelID(ch.ID))
	c.logger.Info("channel created", "chat_id", chat.ID, "title", title)
	return chat, nil
}

// createdChannel extracts the new channel from a creation response.
func createdChannel(u tg.UpdatesClass) (*tg.Channel, bool) {
	var chats []tg.ChatClass
	switch v := u.(type) {
	case *tg.Updates:
		chats = v.Chats
	case *tg.UpdatesCombined:
		chats = v.Chats
	}
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok {
			return ch, true
		}
	}
	return nil, false
}

// ExportInviteLink returns a fresh invite link for the chat.
func (c *Client) ExportInviteLink(ctx context.Context, chatID int64) (string, error) {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return "", err
	}
	invite, err := c.api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{
		Peer: peer,
	})
	if err != nil {
		return "", mapError("export invite", err)
	}
	exported, ok := invite.(*tg.ChatInviteExported)
	if !ok {
		return "", fmt.Errorf("telegram: export invite: unexpected response %T", invite)
	}
	return exported.Link, nil
}

// SetDescription sets the about text of a chat or channel.
func (c *Client) SetDescription(ctx context.Context, chatID int64, about string) error {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := c.api.MessagesEditChatAbout(ctx, &tg.MessagesEditChatAboutRequest{
		Peer:  peer,
		About: about,
	}); err != nil {
		return mapError("set description", err)
	}
	return nil
}

// Pin pins a message without notifying members.
func (c *Client) Pin(ctx context.Context, chatID int64, msgID int) error {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := c.api.MessagesUpdatePinnedMessage(ctx, &tg.MessagesUpdatePinnedMessageRequest{
		Silent: true,
		Peer:   peer,
		ID:     msgID,
	}); err != nil {
		return mapError("pin", err)
	}
	return nil
}

// Leave removes the account from a channel or basic group.
func (c *Client) Leave(ctx context.Context, chatID int64) error {
	kind, raw := clonechat.SplitID(chatID)
	switch kind {
	case clonechat.ChatChannel:
		channel, err := c.inputChannel(ctx, chatID)
		if err != nil {
			return err
		}
		if _, err := c.api.ChannelsLeaveChannel(ctx, channel); err != nil {
			return mapError("leave", err)
		}
	case clonechat.ChatGroup:
		if _, err := c.api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
			ChatID: raw,
			UserID: &tg.InputUserSelf{},
		}); err != nil {
			return mapError("leave", err)
		}
	default:
		return fmt.Errorf("telegram: leave: %d is a user dialog", chatID)
	}
	c.logger.Info("left chat", "chat_id", chatID)
	return nil
}
