package clonechat

import "time"

// Kind classifies a message by its primary payload.
type Kind string

const (
	KindEmpty       Kind = "empty"
	KindService     Kind = "service"
	KindText        Kind = "text"
	KindPhoto       Kind = "photo"
	KindVideo       Kind = "video"
	KindDocument    Kind = "document"
	KindAudio       Kind = "audio"
	KindVoice       Kind = "voice"
	KindSticker     Kind = "sticker"
	KindAnimation   Kind = "animation"
	KindVideoNote   Kind = "video_note"
	KindPoll        Kind = "poll"
	KindLocation    Kind = "location"
	KindUnsupported Kind = "unsupported"
)

// FileBacked reports whether the kind carries a downloadable payload.
func (k Kind) FileBacked() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindAudio, KindVoice, KindSticker, KindAnimation, KindVideoNote:
		return true
	}
	return false
}

// Message is one source message as the engines see it. Empty and
// service messages carry only ID and Kind.
type Message struct {
	ID     int
	Kind   Kind
	Date   time.Time
	Text   string // body for text messages, caption for everything else
	Pinned bool

	Media *MediaInfo // set for file-backed kinds
	Poll  *Poll      // set for KindPoll
	Geo   *GeoPoint  // set for KindLocation
}

// MediaInfo describes the file payload of a message.
type MediaInfo struct {
	FileName  string
	MIME      string
	Size      int64
	Duration  time.Duration
	Width     int
	Height    int
	Title     string // audio track title
	Performer string // audio track performer
}

// Poll is a regular poll payload. Quiz polls cannot be re-sent.
type Poll struct {
	Question       string
	Options        []string
	Anonymous      bool
	MultipleChoice bool
	Quiz           bool
}

// GeoPoint is a static location payload.
type GeoPoint struct {
	Lat  float64
	Long float64
}

// ChatKind tells user chats, basic groups and channels apart.
type ChatKind string

const (
	ChatUser    ChatKind = "user"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

// Chat is the engine-facing view of a dialog peer. ID is canonical:
// positive for users, negated for basic groups, -100-prefixed for
// channels and supergroups.
type Chat struct {
	ID         int64
	Kind       ChatKind
	Title      string
	Username   string
	Restricted bool // protected content: forwarding out is blocked
	Forum      bool
}

// Dialog is one entry of the account's dialog list.
type Dialog struct {
	Chat   Chat
	TopMsg int
}

// Topic is a forum topic of a supergroup.
type Topic struct {
	ID    int
	Title string
}

// Upload is one outbound send. File-backed kinds read from Path; polls
// and locations carry their payload inline.
type Upload struct {
	Kind     Kind
	Path     string
	Caption  string
	FileName string
	MIME     string

	Duration  time.Duration
	Width     int
	Height    int
	Title     string
	Performer string

	Poll *Poll
	Geo  *GeoPoint
}

// SendOptions adjust a text send.
type SendOptions struct {
	ReplyTo   int  // message or forum topic id, 0 for none
	HTML      bool // parse text as Telegram HTML
	Silent    bool
	NoPreview bool
}
