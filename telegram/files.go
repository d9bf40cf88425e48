package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/gotd/td/tg"

	"github.com/nevindra/clonechat"
)

// Download writes the file payload of a message to path and returns
// the byte count. The message is re-fetched first so the file
// reference is fresh; stale references expire within minutes on long
// runs.
func (c *Client) Download(ctx context.Context, chatID int64, msgID int, path string) (int64, error) {
	raw, err := c.rawMessage(ctx, chatID, msgID)
	if err != nil {
		return 0, err
	}
	msg, ok := raw.(*tg.Message)
	if !ok {
		return 0, fmt.Errorf("telegram: download: message %d has no content", msgID)
	}
	media, ok := msg.GetMedia()
	if !ok {
		return 0, fmt.Errorf("telegram: download: message %d has no media", msgID)
	}
	loc, err := fileLocation(media)
	if err != nil {
		return 0, fmt.Errorf("telegram: download message %d: %w", msgID, err)
	}

	if _, err := c.dl.Download(c.api, loc).ToPath(ctx, path); err != nil {
		// Drop partial output so a retry starts clean.
		_ = os.Remove(path)
		return 0, mapError("download", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("telegram: download: %w", err)
	}
	c.logger.Debug("downloaded",
		"chat_id", chatID,
		"msg_id", msgID,
		"bytes", st.Size())
	return st.Size(), nil
}

// rawMessage fetches one platform message by id.
func (c *Client) rawMessage(ctx context.Context, chatID int64, msgID int) (tg.MessageClass, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}}

	kind, _ := clonechat.SplitID(chatID)
	var (
		resp tg.MessagesMessagesClass
		err  error
	)
	if kind == clonechat.ChatChannel {
		channel, cerr := c.inputChannel(ctx, chatID)
		if cerr != nil {
			return nil, cerr
		}
		resp, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: channel,
			ID:      ids,
		})
	} else {
		resp, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, mapError("get message", err)
	}
	msgs, err := normalizeMessages(resp)
	if err != nil {
		return nil, err
	}
	c.peers.absorb(msgs.Users, msgs.Chats)
	for _, m := range msgs.Messages {
		if m.GetID() == msgID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("telegram: message %d not found in chat %d", msgID, chatID)
}

// fileLocation builds the download location for the media payload.
func fileLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.GetDocument()
		if !ok {
			return nil, fmt.Errorf("document payload missing")
		}
		d, ok := doc.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("document payload missing")
		}
		return &tg.InputDocumentFileLocation{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		}, nil
	case *tg.MessageMediaPhoto:
		photo, ok := m.GetPhoto()
		if !ok {
			return nil, fmt.Errorf("photo payload missing")
		}
		p, ok := photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("photo payload missing")
		}
		thumb := largestPhotoType(p)
		if thumb == "" {
			return nil, fmt.Errorf("photo has no downloadable size")
		}
		return &tg.InputPhotoFileLocation{
			ID:            p.ID,
			AccessHash:    p.AccessHash,
			FileReference: p.FileReference,
			ThumbSize:     thumb,
		}, nil
	default:
		return nil, fmt.Errorf("media %T has no file payload", media)
	}
}

// largestPhotoType returns the size type tag of the biggest variant.
func largestPhotoType(p *tg.Photo) string {
	var (
		best string
		area int
	)
	for _, s := range p.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if v.W*v.H >= area {
				area = v.W * v.H
				best = v.Type
			}
		case *tg.PhotoSizeProgressive:
			if v.W*v.H >= area {
				area = v.W * v.H
				best = v.Type
			}
		}
	}
	return best
}
