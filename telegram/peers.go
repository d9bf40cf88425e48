package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/nevindra/clonechat"
)

// dialogPageSize is the batch size for the dialog sweep. 100 is the
// server-side maximum.
const dialogPageSize = 100

// dialogPageDelay spaces the dialog pages out so a large account does
// not burst through the request budget.
const dialogPageDelay = 500 * time.Millisecond

// peerCache maps canonical chat ids to the access hashes MTProto
// wants on every request. Entries accumulate from API responses; a
// full dialog sweep back-fills anything the responses never touched.
type peerCache struct {
	mu       sync.RWMutex
	users    map[int64]int64 // bare user id -> access hash
	channels map[int64]int64 // bare channel id -> access hash
	chats    map[int64]clonechat.Chat
	swept    bool
}

func newPeerCache() *peerCache {
	return &peerCache{
		users:    make(map[int64]int64),
		channels: make(map[int64]int64),
		chats:    make(map[int64]clonechat.Chat),
	}
}

func (p *peerCache) rememberUser(u *tg.User) {
	if u == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.ID] = u.AccessHash
	p.chats[u.ID] = userChat(u)
}

func (p *peerCache) rememberChat(ch *tg.Chat) {
	if ch == nil {
		return
	}
	view := clonechat.Chat{
		ID:         clonechat.GroupID(ch.ID),
		Kind:       clonechat.ChatGroup,
		Title:      ch.Title,
		Restricted: ch.Noforwards,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats[view.ID] = view
}

func (p *peerCache) rememberChannel(ch *tg.Channel) {
	if ch == nil {
		return
	}
	view := clonechat.Chat{
		ID:         clonechat.ChannelID(ch.ID),
		Kind:       clonechat.ChatChannel,
		Title:      ch.Title,
		Username:   strings.TrimPrefix(ch.Username, "@"),
		Restricted: ch.Noforwards,
		Forum:      ch.Forum,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[ch.ID] = ch.AccessHash
	p.chats[view.ID] = view
}

// absorb stores every user and chat a response carried.
func (p *peerCache) absorb(users []tg.UserClass, chats []tg.ChatClass) {
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			p.rememberUser(user)
		}
	}
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			p.rememberChat(v)
		case *tg.Channel:
			p.rememberChannel(v)
		}
	}
}

func (p *peerCache) chat(id int64) (clonechat.Chat, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.chats[id]
	return ch, ok
}

func (p *peerCache) userHash(id int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.users[id]
	return h, ok
}

func (p *peerCache) channelHash(id int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.channels[id]
	return h, ok
}

// inputPeer builds the request peer for a canonical chat id, sweeping
// the dialog list once if the access hash is not cached yet.
func (c *Client) inputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	kind, raw := clonechat.SplitID(chatID)
	switch kind {
	case clonechat.ChatUser:
		if hash, ok := c.peers.userHash(raw); ok {
			return &tg.InputPeerUser{UserID: raw, AccessHash: hash}, nil
		}
	case clonechat.ChatGroup:
		// Basic groups carry no access hash.
		return &tg.InputPeerChat{ChatID: raw}, nil
	case clonechat.ChatChannel:
		if hash, ok := c.peers.channelHash(raw); ok {
			return &tg.InputPeerChannel{ChannelID: raw, AccessHash: hash}, nil
		}
	}

	if err := c.hydrate(ctx, chatID); err != nil {
		return nil, err
	}

	switch kind {
	case clonechat.ChatUser:
		if hash, ok := c.peers.userHash(raw); ok {
			return &tg.InputPeerUser{UserID: raw, AccessHash: hash}, nil
		}
	case clonechat.ChatChannel:
		if hash, ok := c.peers.channelHash(raw); ok {
			return &tg.InputPeerChannel{ChannelID: raw, AccessHash: hash}, nil
		}
	}
	return nil, &clonechat.ErrUnresolvable{Input: fmt.Sprint(chatID)}
}

// inputChannel is inputPeer for channel-only requests.
func (c *Client) inputChannel(ctx context.Context, chatID int64) (*tg.InputChannel, error) {
	kind, raw := clonechat.SplitID(chatID)
	if kind != clonechat.ChatChannel {
		return nil, fmt.Errorf("telegram: chat %d is not a channel", chatID)
	}
	peer, err := c.inputPeer(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ch, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, &clonechat.ErrUnresolvable{Input: fmt.Sprint(chatID)}
	}
	return &tg.InputChannel{ChannelID: raw, AccessHash: ch.AccessHash}, nil
}

// hydrate fills the cache for one chat: direct lookups first, then one
// dialog sweep as the fallback for peers the account only sees in its
// dialog list.
func (c *Client) hydrate(ctx context.Context, chatID int64) error {
	kind, raw := clonechat.SplitID(chatID)
	switch kind {
	case clonechat.ChatUser:
		// A zero hash works for bots, self and mutual contacts.
		users, err := c.api.UsersGetUsers(ctx, []tg.InputUserClass{
			&tg.InputUser{UserID: raw},
		})
		if err == nil && len(users) > 0 {
			if u, ok := users[0].(*tg.User); ok {
				c.peers.rememberUser(u)
				return nil
			}
		}
	case clonechat.ChatGroup:
		chats, err := c.api.MessagesGetChats(ctx, []int64{raw})
		if err == nil {
			c.absorbChats(chats)
			return nil
		}
	case clonechat.ChatChannel:
		chats, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
			&tg.InputChannel{ChannelID: raw},
		})
		if err == nil {
			c.absorbChats(chats)
			if _, ok := c.peers.channelHash(raw); ok {
				return nil
			}
		}
	}
	return c.sweepDialogs(ctx)
}

func (c *Client) absorbChats(chats tg.MessagesChatsClass) {
	switch v := chats.(type) {
	case *tg.MessagesChats:
		c.peers.absorb(nil, v.Chats)
	case *tg.MessagesChatsSlice:
		c.peers.absorb(nil, v.Chats)
	}
}

// sweepDialogs walks the whole dialog list once per process and
// absorbs every peer it returns.
func (c *Client) sweepDialogs(ctx context.Context) error {
	c.peers.mu.Lock()
	swept := c.peers.swept
	c.peers.swept = true
	c.peers.mu.Unlock()
	if swept {
		return nil
	}
	_, err := c.fetchDialogs(ctx)
	return err
}

// Dialogs lists every chat of the account in dialog-list order.
func (c *Client) Dialogs(ctx context.Context) ([]clonechat.Dialog, error) {
	batches, err := c.fetchDialogs(ctx)
	if err != nil {
		return nil, err
	}

	var out []clonechat.Dialog
	for _, d := range batches {
		dlg, ok := d.(*tg.Dialog)
		if !ok {
			continue // folders are not chats
		}
		id, ok := canonicalPeerID(dlg.Peer)
		if !ok {
			continue
		}
		chat, ok := c.peers.chat(id)
		if !ok {
			continue
		}
		out = append(out, clonechat.Dialog{Chat: chat, TopMsg: dlg.TopMessage})
	}
	return out, nil
}

// fetchDialogs pages through messages.getDialogs with the
// (offset_date, offset_id, offset_peer) triple and absorbs every peer.
func (c *Client) fetchDialogs(ctx context.Context) ([]tg.DialogClass, error) {
	var (
		all        []tg.DialogClass
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)
	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageSize,
		})
		if err != nil {
			return nil, mapError("dialogs", err)
		}
		batch, err := normalizeDialogs(resp)
		if err != nil {
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			break
		}

		c.peers.absorb(batch.Users, batch.Chats)
		collectHashes(batch, userHashes, channelHashes)
		all = append(all, batch.Dialogs...)

		last := batch.Dialogs[len(batch.Dialogs)-1]
		prevDate, prevID := offsetDate, offsetID
		switch d := last.(type) {
		case *tg.Dialog:
			offsetID = d.TopMessage
			offsetDate = messageDate(batch.Messages, d.TopMessage)
			offsetPeer = offsetInput(d.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = d.TopMessage
			offsetDate = messageDate(batch.Messages, d.TopMessage)
			offsetPeer = offsetInput(d.Peer, userHashes, channelHashes)
		}
		// The server sometimes returns zero offsets; reuse the previous
		// ones rather than restarting the walk.
		if offsetDate == 0 {
			offsetDate = prevDate
		}
		if offsetID == 0 {
			offsetID = prevID
		}

		if len(batch.Dialogs) < dialogPageSize {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialogPageDelay):
		}
	}

	c.logger.Debug("dialogs fetched", "count", len(all))
	return all, nil
}

func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch d := resp.(type) {
	case *tg.MessagesDialogs:
		return d, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  d.Dialogs,
			Messages: d.Messages,
			Chats:    d.Chats,
			Users:    d.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return &tg.MessagesDialogs{}, nil
	default:
		return nil, fmt.Errorf("telegram: unexpected dialogs response %T", resp)
	}
}

func collectHashes(batch *tg.MessagesDialogs, users, channels map[int64]int64) {
	for _, u := range batch.Users {
		if user, ok := u.(*tg.User); ok {
			users[user.ID] = user.AccessHash
		}
	}
	for _, ch := range batch.Chats {
		if channel, ok := ch.(*tg.Channel); ok {
			channels[channel.ID] = channel.AccessHash
		}
	}
}

// messageDate finds the date of the message id among the top messages
// of a dialog batch. Zero when absent.
func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch m := msg.(type) {
		case *tg.Message:
			if m.ID == id {
				return m.Date
			}
		case *tg.MessageService:
			if m.ID == id {
				return m.Date
			}
		}
	}
	return 0
}

func offsetInput(peer tg.PeerClass, users, channels map[int64]int64) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: p.UserID, AccessHash: users[p.UserID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: channels[p.ChannelID]}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// canonicalPeerID maps a bare platform peer to the canonical id space.
func canonicalPeerID(peer tg.PeerClass) (int64, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID, true
	case *tg.PeerChat:
		return clonechat.GroupID(p.ChatID), true
	case *tg.PeerChannel:
		return clonechat.ChannelID(p.ChannelID), true
	default:
		return 0, false
	}
}

// ChatInfo returns metadata for a canonical chat id.
func (c *Client) ChatInfo(ctx context.Context, chatID int64) (clonechat.Chat, error) {
	if chat, ok := c.peers.chat(chatID); ok {
		return chat, nil
	}
	if err := c.hydrate(ctx, chatID); err != nil {
		return clonechat.Chat{}, err
	}
	if chat, ok := c.peers.chat(chatID); ok {
		return chat, nil
	}
	return clonechat.Chat{}, &clonechat.ErrUnresolvable{Input: fmt.Sprint(chatID)}
}

// ResolveUsername maps a public @username to a chat.
func (c *Client) ResolveUsername(ctx context.Context, username string) (clonechat.Chat, error) {
	username = strings.TrimPrefix(username, "@")
	resolved, err := c.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED") || tgerr.Is(err, "USERNAME_INVALID") {
			return clonechat.Chat{}, &clonechat.ErrUnresolvable{Input: "@" + username}
		}
		return clonechat.Chat{}, mapError("resolve username", err)
	}
	c.peers.absorb(resolved.Users, resolved.Chats)
	id, ok := canonicalPeerID(resolved.Peer)
	if !ok {
		return clonechat.Chat{}, &clonechat.ErrUnresolvable{Input: "@" + username}
	}
	chat, ok := c.peers.chat(id)
	if !ok {
		return clonechat.Chat{}, &clonechat.ErrUnresolvable{Input: "@" + username}
	}
	return chat, nil
}

// Topics lists the forum topics of a supergroup, oldest first.
func (c *Client) Topics(ctx context.Context, chatID int64) ([]clonechat.Topic, error) {
	channel, err := c.inputChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var out []clonechat.Topic
	offsetTopic := 0
	for {
		resp, err := c.api.ChannelsGetForumTopics(ctx, &tg.ChannelsGetForumTopicsRequest{
			Channel:     channel,
			OffsetTopic: offsetTopic,
			Limit:       dialogPageSize,
		})
		if err != nil {
			return nil, mapError("topics", err)
		}
		c.peers.absorb(resp.Users, resp.Chats)
		if len(resp.Topics) == 0 {
			break
		}
		for _, t := range resp.Topics {
			topic, ok := t.(*tg.ForumTopic)
			if !ok {
				continue // deleted topics carry no title
			}
			out = append(out, clonechat.Topic{ID: topic.ID, Title: topic.Title})
			offsetTopic = topic.ID
		}
		if len(resp.Topics) < dialogPageSize {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
