package clonechat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultDownloadRoot is where chat folders land unless overridden.
const defaultDownloadRoot = "data/downloads"

// Downloader bulk-fetches every video in a chat into date-sorted
// folders, checkpointing progress so interrupted runs resume.
type Downloader struct {
	client Client
	store  TaskStore
	audio  AudioExtractor // nil disables extraction
	tracer Tracer         // nil = no tracing
	stats  Stats
	logger *slog.Logger
	root   string
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// DownloaderLogger sets the logger. If not set, a no-op logger is used.
func DownloaderLogger(l *slog.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = l }
}

// DownloaderTracer enables span emission around runs.
func DownloaderTracer(t Tracer) DownloaderOption {
	return func(d *Downloader) { d.tracer = t }
}

// DownloaderStats sets the Stats sink for video counters.
func DownloaderStats(s Stats) DownloaderOption {
	return func(d *Downloader) { d.stats = s }
}

// DownloaderAudio sets the extractor used when a run asks for audio
// extraction.
func DownloaderAudio(a AudioExtractor) DownloaderOption {
	return func(d *Downloader) { d.audio = a }
}

// DownloaderRoot sets the directory that receives one folder per
// chat. Defaults to data/downloads.
func DownloaderRoot(dir string) DownloaderOption {
	return func(d *Downloader) { d.root = dir }
}

// NewDownloader returns a Downloader fetching through client and
// checkpointing in store.
func NewDownloader(client Client, store TaskStore, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: client,
		store:  store,
		stats:  NopStats{},
		root:   defaultDownloadRoot,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = nopLogger
	}
	return d
}

// DownloadOptions control a single Run.
type DownloadOptions struct {
	// Origin is the canonical id of the chat to download from.
	Origin int64
	// OutputDir overrides the per-chat folder for this run.
	OutputDir string
	// Limit stops the run after this many videos, zero for no limit.
	Limit int
	// FromMessage starts the walk at this message id instead of the
	// stored checkpoint. Earlier ids re-download without moving the
	// checkpoint backwards.
	FromMessage int
	// ExtractAudio also produces an mp3 next to each video.
	ExtractAudio bool
	// DeleteVideo removes the video once its mp3 exists. Only honored
	// together with ExtractAudio.
	DeleteVideo bool
}

// Run downloads every video above the checkpoint. It is safe to call
// again after any failure or interruption.
func (d *Downloader) Run(ctx context.Context, opts DownloadOptions) error {
	runID := NewID()
	logger := d.logger.With("run_id", runID, "origin", opts.Origin)

	var span Span
	if d.tracer != nil {
		ctx, span = d.tracer.Start(ctx, "download.run",
			Int64Attr("origin_chat_id", opts.Origin))
		defer func() { span.End() }()
	}

	origin, err := d.client.ChatInfo(ctx, opts.Origin)
	if err != nil {
		return fmt.Errorf("resolve origin chat: %w", err)
	}
	logger = logger.With("origin_title", origin.Title)

	err = d.store.CreateDownloadTask(ctx, DownloadTask{
		OriginID:    origin.ID,
		OriginTitle: origin.Title,
	})
	if err != nil {
		return fmt.Errorf("create download task: %w", err)
	}
	task, err := d.store.GetDownloadTask(ctx, origin.ID)
	if err != nil {
		return fmt.Errorf("load download task: %w", err)
	}

	// A forced start point only overrides the walk, never the stored
	// checkpoint: the guarded advance keeps it monotonic.
	cursor := task.LastDownloadedID
	if opts.FromMessage > 0 {
		cursor = opts.FromMessage - 1
		logger.Info("starting from explicit message", "from_message", opts.FromMessage)
	}

	head, err := d.client.HistoryHead(ctx, opts.Origin)
	if err != nil {
		return fmt.Errorf("read history head: %w", err)
	}

	base := opts.OutputDir
	if base == "" {
		base = filepath.Join(d.root, SanitizeFilename(origin.Title))
	}

	seen := task.TotalVideos
	downloaded := task.DownloadedVideos
	wrote := 0
	start := time.Now()
	for first := cursor + 1; first <= head; first += chunkSize {
		last := first + chunkSize - 1
		if last > head {
			last = head
		}
		ids := make([]int, 0, last-first+1)
		for id := first; id <= last; id++ {
			ids = append(ids, id)
		}

		msgs, err := d.client.Messages(ctx, opts.Origin, ids)
		if err != nil {
			return fmt.Errorf("fetch messages %d..%d: %w", first, last, err)
		}
		for _, msg := range msgs {
			ok, err := d.fetchOne(ctx, logger, origin.ID, msg, base, opts)
			if err != nil {
				return err
			}
			if msg.Kind == KindVideo {
				seen++
			}
			if ok {
				downloaded++
				wrote++
			}
			if err := d.store.AdvanceDownloadTask(ctx, origin.ID, msg.ID, downloaded); err != nil {
				return fmt.Errorf("advance checkpoint: %w", err)
			}
			if opts.Limit > 0 && wrote >= opts.Limit {
				logger.Info("download limit reached", "limit", opts.Limit)
				return nil
			}
		}
		if err := d.store.SetDownloadTotal(ctx, origin.ID, seen); err != nil {
			return fmt.Errorf("store video total: %w", err)
		}
		logger.Info("download progress",
			"last_message_id", ids[len(ids)-1],
			"head", head,
			"videos", wrote,
			"elapsed", time.Since(start))
	}

	logger.Info("download complete", "videos", wrote, "directory", base)
	return nil
}

// fetchOne writes one video to disk. It reports true when a file was
// written, false for non-videos and skipped payloads.
func (d *Downloader) fetchOne(ctx context.Context, logger *slog.Logger, origin int64, msg Message, base string, opts DownloadOptions) (bool, error) {
	if msg.Kind != KindVideo || msg.Media == nil {
		return false, nil
	}

	name := msg.Media.FileName
	if name == "" {
		name = "video.mp4"
	}
	dir := filepath.Join(base, msg.Date.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("download message %d: %w", msg.ID, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%s", msg.ID, SanitizeFilename(name)))

	size, err := d.client.Download(ctx, origin, msg.ID, path)
	if err != nil {
		return false, fmt.Errorf("download message %d: %w", msg.ID, err)
	}
	if size == 0 {
		logger.Warn("zero-byte download, retrying once", "message_id", msg.ID)
		size, err = d.client.Download(ctx, origin, msg.ID, path)
		if err != nil {
			return false, fmt.Errorf("download message %d: %w", msg.ID, err)
		}
		if size == 0 {
			logger.Warn("empty payload after retry, skipping message", "message_id", msg.ID)
			_ = os.Remove(path)
			return false, nil
		}
	}
	d.stats.Count("download.videos", 1)
	d.stats.Count("download.bytes", size)

	if opts.ExtractAudio && d.audio != nil {
		mp3 := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp3"
		if err := d.audio.ExtractAudio(ctx, path, mp3); err != nil {
			logger.Warn("audio extraction failed", "message_id", msg.ID, "error", err)
		} else if opts.DeleteVideo {
			if err := os.Remove(path); err != nil {
				logger.Warn("video cleanup failed", "path", path, "error", err)
			}
		}
	}
	return true, nil
}
