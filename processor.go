package clonechat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Platform text limits in runes.
const (
	textLimit    = 4096
	captionLimit = 1024
)

// AudioExtractor pulls the audio track out of a downloaded video. The
// ffmpeg package implements it.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
}

// Processor replicates one message to a destination chat using the
// task's strategy.
type Processor struct {
	client Client
	audio  AudioExtractor // nil disables extraction
	logger *slog.Logger
	stats  Stats
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// ProcessorAudio sets the extractor used when a run asks for audio
// extraction.
func ProcessorAudio(a AudioExtractor) ProcessorOption {
	return func(p *Processor) { p.audio = a }
}

// ProcessorLogger sets the logger. If not set, a no-op logger is used.
func ProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// ProcessorStats sets the Stats sink for byte counters.
func ProcessorStats(s Stats) ProcessorOption {
	return func(p *Processor) { p.stats = s }
}

// NewProcessor returns a Processor sending through client.
func NewProcessor(client Client, opts ...ProcessorOption) *Processor {
	p := &Processor{client: client, stats: NopStats{}}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// ProcessOptions adjust a single Process call.
type ProcessOptions struct {
	ScratchDir   string // working directory for download_upload payloads
	ExtractAudio bool   // also produce an mp3 next to downloaded videos
}

// Process replicates msg from origin to dest. It returns the new
// destination message id, or 0 when the message produced no
// destination write (empty, service, or skipped payload).
func (p *Processor) Process(ctx context.Context, strategy Strategy, origin int64, msg Message, dest int64, opts ProcessOptions) (int, error) {
	switch msg.Kind {
	case KindEmpty, KindService:
		return 0, nil
	case KindUnsupported:
		return 0, &ErrUnsupported{Kind: msg.Kind}
	}

	switch strategy {
	case StrategyForward:
		return p.client.Forward(ctx, origin, msg.ID, dest)
	case StrategyDownloadUpload:
		return p.downloadUpload(ctx, origin, msg, dest, opts)
	}
	return 0, fmt.Errorf("process message %d: unknown strategy %q", msg.ID, strategy)
}

func (p *Processor) downloadUpload(ctx context.Context, origin int64, msg Message, dest int64, opts ProcessOptions) (int, error) {
	switch msg.Kind {
	case KindText:
		return p.client.SendText(ctx, dest, TruncateText(msg.Text, textLimit), SendOptions{})
	case KindPoll:
		if msg.Poll == nil || msg.Poll.Quiz {
			return 0, &ErrUnsupported{Kind: KindPoll}
		}
		return p.client.SendMedia(ctx, dest, Upload{Kind: KindPoll, Poll: msg.Poll})
	case KindLocation:
		if msg.Geo == nil {
			return 0, &ErrUnsupported{Kind: KindLocation}
		}
		return p.client.SendMedia(ctx, dest, Upload{Kind: KindLocation, Geo: msg.Geo})
	}

	if msg.Media == nil || !msg.Kind.FileBacked() {
		return 0, &ErrUnsupported{Kind: msg.Kind}
	}

	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return 0, fmt.Errorf("process message %d: %w", msg.ID, err)
	}
	path := filepath.Join(opts.ScratchDir, scratchName(msg))

	size, err := p.download(ctx, origin, msg.ID, path)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		p.logger.Warn("empty payload after retry, skipping message",
			"message_id", msg.ID,
			"kind", msg.Kind)
		_ = os.Remove(path)
		return 0, nil
	}
	p.stats.Count("clone.bytes", size, StringAttr("kind", string(msg.Kind)))

	if opts.ExtractAudio && msg.Kind == KindVideo && p.audio != nil {
		mp3 := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp3"
		if err := p.audio.ExtractAudio(ctx, path, mp3); err != nil {
			// Extraction failures never block the clone.
			p.logger.Warn("audio extraction failed",
				"message_id", msg.ID,
				"error", err)
		}
	}

	up := Upload{
		Kind:      msg.Kind,
		Path:      path,
		Caption:   TruncateText(msg.Text, captionLimit),
		FileName:  msg.Media.FileName,
		MIME:      msg.Media.MIME,
		Duration:  msg.Media.Duration,
		Width:     msg.Media.Width,
		Height:    msg.Media.Height,
		Title:     msg.Media.Title,
		Performer: msg.Media.Performer,
	}
	id, err := p.client.SendMedia(ctx, dest, up)
	if err != nil {
		return 0, err
	}

	// Extracted audio stays on disk; the delivered payload does not.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("scratch cleanup failed", "path", path, "error", err)
	}
	return id, nil
}

// download fetches the payload, retrying once when the platform hands
// back zero bytes.
func (p *Processor) download(ctx context.Context, origin int64, msgID int, path string) (int64, error) {
	size, err := p.client.Download(ctx, origin, msgID, path)
	if err != nil {
		return 0, err
	}
	if size > 0 {
		return size, nil
	}
	p.logger.Warn("zero-byte download, retrying once", "message_id", msgID)
	return p.client.Download(ctx, origin, msgID, path)
}

// scratchName is the payload filename inside the scratch directory.
func scratchName(msg Message) string {
	name := msg.Media.FileName
	if name == "" {
		name = string(msg.Kind) + kindExt(msg.Kind, msg.Media.MIME)
	}
	return fmt.Sprintf("%d-%s", msg.ID, SanitizeFilename(name))
}

// mimeExt covers the payload types Telegram serves most often.
var mimeExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/ogg":       ".ogg",
	"application/pdf": ".pdf",
	"application/zip": ".zip",
}

func kindExt(k Kind, mime string) string {
	if ext, ok := mimeExt[mime]; ok {
		return ext
	}
	switch k {
	case KindPhoto:
		return ".jpg"
	case KindVideo, KindVideoNote, KindAnimation:
		return ".mp4"
	case KindAudio:
		return ".mp3"
	case KindVoice:
		return ".ogg"
	case KindSticker:
		return ".webp"
	}
	return ".bin"
}
