package telegram

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/nevindra/clonechat"
)

// Forward copies one message in a single platform call and returns the
// new destination message id.
func (c *Client) Forward(ctx context.Context, fromChat int64, msgID int, toChat int64) (int, error) {
	from, err := c.inputPeer(ctx, fromChat)
	if err != nil {
		return 0, err
	}
	to, err := c.inputPeer(ctx, toChat)
	if err != nil {
		return 0, err
	}

	upd, err := c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: from,
		ToPeer:   to,
		ID:       []int{msgID},
		RandomID: []int64{randomID()},
	})
	if err != nil {
		if tgerr.Is(err, "CHAT_FORWARDS_RESTRICTED") {
			return 0, &clonechat.ErrRestricted{ChatID: fromChat, Reason: "CHAT_FORWARDS_RESTRICTED"}
		}
		return 0, mapError("forward", err)
	}
	id, ok := sentMessageID(upd)
	if !ok {
		return 0, fmt.Errorf("telegram: forward: no message id in response")
	}
	return id, nil
}

// SendText sends a plain or HTML text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, opts clonechat.SendOptions) (int, error) {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return 0, err
	}

	b := &c.sender.To(peer).Builder
	if opts.Silent {
		b = b.Silent()
	}
	if opts.NoPreview {
		b = b.NoWebpage()
	}
	if opts.ReplyTo != 0 {
		b = b.Reply(opts.ReplyTo)
	}

	var upd tg.UpdatesClass
	if opts.HTML {
		upd, err = b.StyledText(ctx, html.String(nil, text))
	} else {
		upd, err = b.Text(ctx, text)
	}
	if err != nil {
		return 0, mapError("send text", err)
	}
	id, ok := sentMessageID(upd)
	if !ok {
		return 0, fmt.Errorf("telegram: send text: no message id in response")
	}
	return id, nil
}

// SendMedia sends one Upload and returns the new message id.
// File-backed kinds stream the file from up.Path first; polls and
// locations go out inline.
func (c *Client) SendMedia(ctx context.Context, chatID int64, up clonechat.Upload) (int, error) {
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return 0, err
	}

	var media tg.InputMediaClass
	if up.Kind.FileBacked() {
		file, err := c.upload.FromPath(ctx, up.Path)
		if err != nil {
			return 0, fmt.Errorf("telegram: upload %s: %w", filepath.Base(up.Path), err)
		}
		media, err = buildFileMedia(up, file)
		if err != nil {
			return 0, err
		}
	} else {
		media, err = buildInlineMedia(up)
		if err != nil {
			return 0, err
		}
	}

	upd, err := c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  up.Caption,
		RandomID: randomID(),
	})
	if err != nil {
		return 0, mapError("send media", err)
	}
	id, ok := sentMessageID(upd)
	if !ok {
		return 0, fmt.Errorf("telegram: send media: no message id in response")
	}
	return id, nil
}

// buildFileMedia wraps an uploaded file into the media type the kind
// calls for.
func buildFileMedia(up clonechat.Upload, file tg.InputFileClass) (tg.InputMediaClass, error) {
	if up.Kind == clonechat.KindPhoto {
		return &tg.InputMediaUploadedPhoto{File: file}, nil
	}

	doc := &tg.InputMediaUploadedDocument{
		File:       file,
		MimeType:   uploadMIME(up),
		Attributes: documentAttributes(up),
	}
	return doc, nil
}

// documentAttributes builds the attribute list for a document upload.
func documentAttributes(up clonechat.Upload) []tg.DocumentAttributeClass {
	var attrs []tg.DocumentAttributeClass

	name := up.FileName
	if name == "" {
		name = filepath.Base(up.Path)
	}
	if name != "" && name != "." {
		attrs = append(attrs, &tg.DocumentAttributeFilename{FileName: name})
	}

	switch up.Kind {
	case clonechat.KindVideo, clonechat.KindVideoNote, clonechat.KindAnimation:
		video := &tg.DocumentAttributeVideo{
			Duration:          up.Duration.Seconds(),
			W:                 up.Width,
			H:                 up.Height,
			SupportsStreaming: true,
			RoundMessage:      up.Kind == clonechat.KindVideoNote,
		}
		attrs = append(attrs, video)
		if up.Kind == clonechat.KindAnimation {
			attrs = append(attrs, &tg.DocumentAttributeAnimated{})
		}
	case clonechat.KindAudio, clonechat.KindVoice:
		attrs = append(attrs, &tg.DocumentAttributeAudio{
			Voice:     up.Kind == clonechat.KindVoice,
			Duration:  int(up.Duration.Seconds()),
			Title:     up.Title,
			Performer: up.Performer,
		})
	}
	return attrs
}

// uploadMIME picks the MIME type for a document upload: the explicit
// one, the extension's, then the kind's default.
func uploadMIME(up clonechat.Upload) string {
	if up.MIME != "" {
		return up.MIME
	}
	if ext := filepath.Ext(up.Path); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	switch up.Kind {
	case clonechat.KindVideo, clonechat.KindVideoNote, clonechat.KindAnimation:
		return "video/mp4"
	case clonechat.KindAudio:
		return "audio/mpeg"
	case clonechat.KindVoice:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// buildInlineMedia handles the kinds that carry their payload in the
// Upload itself.
func buildInlineMedia(up clonechat.Upload) (tg.InputMediaClass, error) {
	switch up.Kind {
	case clonechat.KindPoll:
		if up.Poll == nil {
			return nil, fmt.Errorf("telegram: poll upload without poll payload")
		}
		return pollMedia(up.Poll), nil
	case clonechat.KindLocation:
		if up.Geo == nil {
			return nil, fmt.Errorf("telegram: location upload without geo payload")
		}
		return &tg.InputMediaGeoPoint{
			GeoPoint: &tg.InputGeoPoint{Lat: up.Geo.Lat, Long: up.Geo.Long},
		}, nil
	default:
		return nil, &clonechat.ErrUnsupported{Kind: up.Kind}
	}
}

// pollMedia rebuilds a poll for sending. Quiz polls cannot be re-sent
// because the correct answer is not readable, so they are downgraded
// to regular polls by the caller before reaching here.
func pollMedia(p *clonechat.Poll) *tg.InputMediaPoll {
	answers := make([]tg.PollAnswer, len(p.Options))
	for i, opt := range p.Options {
		answers[i] = tg.PollAnswer{
			Text:   tg.TextWithEntities{Text: opt},
			Option: []byte{byte(i)},
		}
	}
	return &tg.InputMediaPoll{
		Poll: tg.Poll{
			Question:       tg.TextWithEntities{Text: p.Question},
			Answers:        answers,
			PublicVoters:   !p.Anonymous,
			MultipleChoice: p.MultipleChoice,
		},
	}
}

// sentMessageID digs the id of the newly created message out of an
// updates payload.
func sentMessageID(u tg.UpdatesClass) (int, bool) {
	switch v := u.(type) {
	case *tg.UpdateShortSentMessage:
		return v.ID, true
	case *tg.Updates:
		return idFromUpdates(v.Updates)
	case *tg.UpdatesCombined:
		return idFromUpdates(v.Updates)
	default:
		return 0, false
	}
}

func idFromUpdates(updates []tg.UpdateClass) (int, bool) {
	fallback, ok := 0, false
	for _, upd := range updates {
		switch u := upd.(type) {
		case *tg.UpdateNewMessage:
			if m, isMsg := u.Message.(*tg.Message); isMsg {
				return m.ID, true
			}
		case *tg.UpdateNewChannelMessage:
			if m, isMsg := u.Message.(*tg.Message); isMsg {
				return m.ID, true
			}
		case *tg.UpdateMessageID:
			fallback, ok = u.ID, true
		}
	}
	return fallback, ok
}

// randomID returns the client-side dedup id sends require.
func randomID() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("telegram: random id: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
