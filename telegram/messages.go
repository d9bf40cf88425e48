package telegram

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/tg"

	"github.com/nevindra/clonechat"
)

// HistoryHead returns the id of the newest message, 0 for an empty
// chat.
func (c *Client) HistoryHead(ctx context.Context, chatID int64) (int, error) {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return 0, err
	}
	resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: 1,
	})
	if err != nil {
		return 0, mapError("history head", err)
	}
	msgs, err := normalizeMessages(resp)
	if err != nil {
		return 0, err
	}
	c.peers.absorb(msgs.Users, msgs.Chats)
	if len(msgs.Messages) == 0 {
		return 0, nil
	}
	return msgs.Messages[0].GetID(), nil
}

// Messages fetches the given ids and returns exactly one entry per
// requested id, in ascending id order. Ids the platform no longer
// resolves come back as KindEmpty placeholders.
func (c *Client) Messages(ctx context.Context, chatID int64, ids []int) ([]clonechat.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	inputIDs := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		inputIDs[i] = &tg.InputMessageID{ID: id}
	}

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
			ID:      inputIDs,
		})
	} else {
		resp, err = c.api.MessagesGetMessages(ctx, inputIDs)
	}
	if err != nil {
		return nil, mapError("messages", err)
	}

	msgs, err := normalizeMessages(resp)
	if err != nil {
		return nil, err
	}
	c.peers.absorb(msgs.Users, msgs.Chats)

	byID := make(map[int]tg.MessageClass, len(msgs.Messages))
	for _, m := range msgs.Messages {
		byID[m.GetID()] = m
	}

	ordered := append([]int(nil), ids...)
	sort.Ints(ordered)

	out := make([]clonechat.Message, 0, len(ordered))
	for _, id := range ordered {
		m, ok := byID[id]
		if !ok {
			out = append(out, clonechat.Message{ID: id, Kind: clonechat.KindEmpty})
			continue
		}
		out = append(out, mapMessage(m))
	}
	return out, nil
}

// PinnedMessages returns the ids of all pinned messages, ascending.
func (c *Client) PinnedMessages(ctx context.Context, chatID int64) ([]int, error) {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var ids []int
	offsetID := 0
	for {
		resp, err := c.api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
			Peer:     peer,
			Filter:   &tg.InputMessagesFilterPinned{},
			OffsetID: offsetID,
			Limit:    dialogPageSize,
		})
		if err != nil {
			return nil, mapError("pinned messages", err)
		}
		msgs, err := normalizeMessages(resp)
		if err != nil {
			return nil, err
		}
		c.peers.absorb(msgs.Users, msgs.Chats)
		if len(msgs.Messages) == 0 {
			break
		}
		for _, m := range msgs.Messages {
			ids = append(ids, m.GetID())
			offsetID = m.GetID()
		}
		if len(msgs.Messages) < dialogPageSize {
			break
		}
	}

	sort.Ints(ids)
	return ids, nil
}

// normalizeMessages flattens the response union. NotModified cannot
// happen without a hash, so it is an error here.
func normalizeMessages(resp tg.MessagesMessagesClass) (*tg.MessagesMessages, error) {
	switch m := resp.(type) {
	case *tg.MessagesMessages:
		return m, nil
	case *tg.MessagesMessagesSlice:
		return &tg.MessagesMessages{
			Messages: m.Messages,
			Chats:    m.Chats,
			Users:    m.Users,
		}, nil
	case *tg.MessagesChannelMessages:
		return &tg.MessagesMessages{
			Messages: m.Messages,
			Chats:    m.Chats,
			Users:    m.Users,
		}, nil
	default:
		return nil, fmt.Errorf("telegram: unexpected messages response %T", resp)
	}
}

// mapMessage converts one platform message to the engine view.
func mapMessage(msg tg.MessageClass) clonechat.Message {
	switch m := msg.(type) {
	case *tg.MessageEmpty:
		return clonechat.Message{ID: m.ID, Kind: clonechat.KindEmpty}
	case *tg.MessageService:
		return clonechat.Message{
			ID:   m.ID,
			Kind: clonechat.KindService,
			Date: time.Unix(int64(m.Date), 0),
		}
	case *tg.Message:
		out := clonechat.Message{
			ID:     m.ID,
			Date:   time.Unix(int64(m.Date), 0),
			Text:   m.Message,
			Pinned: m.Pinned,
		}
		media, ok := m.GetMedia()
		if !ok {
			out.Kind = clonechat.KindText
			return out
		}
		classify(&out, media)
		return out
	default:
		return clonechat.Message{ID: msg.GetID(), Kind: clonechat.KindUnsupported}
	}
}

// classify fills Kind and the payload fields from the message media.
func classify(out *clonechat.Message, media tg.MessageMediaClass) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.GetPhoto()
		if !ok {
			out.Kind = clonechat.KindEmpty // expired self-destruct photo
			return
		}
		p, ok := photo.(*tg.Photo)
		if !ok {
			out.Kind = clonechat.KindEmpty
			return
		}
		out.Kind = clonechat.KindPhoto
		w, h, size := largestPhotoDims(p)
		out.Media = &clonechat.MediaInfo{
			MIME:   "image/jpeg",
			Size:   int64(size),
			Width:  w,
			Height: h,
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.GetDocument()
		if !ok {
			out.Kind = clonechat.KindEmpty
			return
		}
		d, ok := doc.(*tg.Document)
		if !ok {
			out.Kind = clonechat.KindEmpty
			return
		}
		out.Kind, out.Media = classifyDocument(d)
	case *tg.MessageMediaPoll:
		out.Kind = clonechat.KindPoll
		out.Poll = mapPoll(&m.Poll)
	case *tg.MessageMediaGeo:
		geo, ok := m.Geo.(*tg.GeoPoint)
		if !ok {
			out.Kind = clonechat.KindUnsupported
			return
		}
		out.Kind = clonechat.KindLocation
		out.Geo = &clonechat.GeoPoint{Lat: geo.Lat, Long: geo.Long}
	case *tg.MessageMediaWebPage:
		// A link preview rides on a text message.
		out.Kind = clonechat.KindText
	default:
		// Dice, venues, contacts, invoices, stories, giveaways.
		out.Kind = clonechat.KindUnsupported
	}
}

// classifyDocument tells videos, audio, stickers and plain files apart
// by their attributes.
func classifyDocument(d *tg.Document) (clonechat.Kind, *clonechat.MediaInfo) {
	info := &clonechat.MediaInfo{
		MIME: d.MimeType,
		Size: d.Size,
	}
	kind := clonechat.KindDocument

	for _, attr := range d.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			info.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			info.Duration = time.Duration(a.Duration * float64(time.Second))
			info.Width = a.W
			info.Height = a.H
			if a.RoundMessage {
				kind = clonechat.KindVideoNote
			} else if kind == clonechat.KindDocument {
				kind = clonechat.KindVideo
			}
		case *tg.DocumentAttributeAudio:
			info.Duration = time.Duration(a.Duration) * time.Second
			info.Title = a.Title
			info.Performer = a.Performer
			if a.Voice {
				kind = clonechat.KindVoice
			} else {
				kind = clonechat.KindAudio
			}
		case *tg.DocumentAttributeSticker:
			kind = clonechat.KindSticker
		case *tg.DocumentAttributeAnimated:
			kind = clonechat.KindAnimation
		case *tg.DocumentAttributeImageSize:
			info.Width = a.W
			info.Height = a.H
		}
	}
	return kind, info
}

func mapPoll(p *tg.Poll) *clonechat.Poll {
	options := make([]string, len(p.Answers))
	for i, a := range p.Answers {
		options[i] = a.Text.Text
	}
	return &clonechat.Poll{
		Question:       p.Question.Text,
		Options:        options,
		Anonymous:      !p.PublicVoters,
		MultipleChoice: p.MultipleChoice,
		Quiz:           p.Quiz,
	}
}

// largestPhotoDims returns the dimensions and byte size of the biggest
// size variant.
func largestPhotoDims(p *tg.Photo) (w, h, size int) {
	for _, s := range p.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if v.W*v.H > w*h {
				w, h, size = v.W, v.H, v.Size
			}
		case *tg.PhotoSizeProgressive:
			if v.W*v.H > w*h {
				w, h = v.W, v.H
				if n := len(v.Sizes); n > 0 {
					size = v.Sizes[n-1]
				}
			}
		}
	}
	return w, h, size
}
