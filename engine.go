package clonechat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// chunkSize is how many message ids one history fetch covers.
const chunkSize = 50

// destTitlePrefix marks channels the engine creates itself.
const destTitlePrefix = "[CLONE] "

// nopLogger is a logger that discards all output. Used when no logger
// option is set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Cloner drives idempotent, resumable chat clones. Progress persists
// in a TaskStore, so a crashed or interrupted run picks up at the
// first unprocessed message.
type Cloner struct {
	client     Client
	store      TaskStore
	proc       *Processor
	links      *LinkFile // nil = no link registry
	tracer     Tracer    // nil = no tracing
	stats      Stats
	logger     *slog.Logger
	scratchDir string
	invites    bool // export an invite link for created channels
}

// ClonerOption configures a Cloner.
type ClonerOption func(*Cloner)

// ClonerLogger sets the logger. If not set, a no-op logger is used.
func ClonerLogger(l *slog.Logger) ClonerOption {
	return func(c *Cloner) { c.logger = l }
}

// ClonerTracer enables span emission around runs.
func ClonerTracer(t Tracer) ClonerOption {
	return func(c *Cloner) { c.tracer = t }
}

// ClonerStats sets the Stats sink for message counters.
func ClonerStats(s Stats) ClonerOption {
	return func(c *Cloner) { c.stats = s }
}

// ClonerLinkFile records destinations the engine creates in a link
// registry file.
func ClonerLinkFile(f *LinkFile) ClonerOption {
	return func(c *Cloner) { c.links = f }
}

// ClonerInviteLinks exports an invite link for each created channel
// and records it alongside the deep link.
func ClonerInviteLinks(on bool) ClonerOption {
	return func(c *Cloner) { c.invites = on }
}

// ClonerScratchDir sets where download_upload payloads land while in
// flight. Defaults to the OS temp directory.
func ClonerScratchDir(dir string) ClonerOption {
	return func(c *Cloner) { c.scratchDir = dir }
}

// NewCloner returns a Cloner replicating through client, checkpointing
// in store, and delegating per-message work to proc.
func NewCloner(client Client, store TaskStore, proc *Processor, opts ...ClonerOption) *Cloner {
	c := &Cloner{
		client:     client,
		store:      store,
		proc:       proc,
		stats:      NopStats{},
		scratchDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// CloneOptions control a single Run.
type CloneOptions struct {
	// Origin is the canonical id of the chat to clone.
	Origin int64
	// Dest, when non-zero, is the destination chat. Zero means reuse
	// the task's stored destination or create a fresh channel.
	Dest int64
	// Restart wipes the task and starts from message 1.
	Restart bool
	// ForceDownload pins the download_upload strategy even when the
	// origin allows forwarding.
	ForceDownload bool
	// ExtractAudio also produces an mp3 for every cloned video.
	ExtractAudio bool
	// LeaveOrigin leaves the origin chat once the clone completes.
	LeaveOrigin bool
	// PublishTo, when non-zero, receives a completion notice with the
	// destination's deep link.
	PublishTo int64
	// Topic is the forum topic id for the completion notice, zero for
	// the general topic.
	Topic int
}

// Run clones one chat. It is safe to call again after any failure or
// interruption: processed messages are never re-sent.
func (c *Cloner) Run(ctx context.Context, opts CloneOptions) error {
	runID := NewID()
	logger := c.logger.With("run_id", runID, "origin", opts.Origin)

	var span Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "clone.run",
			Int64Attr("origin_chat_id", opts.Origin),
			BoolAttr("restart", opts.Restart))
		defer func() { span.End() }()
	}

	if opts.Restart {
		if err := c.store.DeleteSyncTask(ctx, opts.Origin); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("restart clone: %w", err)
		}
		logger.Info("restarting clone from scratch")
	}

	origin, err := c.client.ChatInfo(ctx, opts.Origin)
	if err != nil {
		return fmt.Errorf("resolve origin chat: %w", err)
	}
	logger = logger.With("origin_title", origin.Title)

	task, err := c.getOrCreateTask(ctx, logger, origin, opts)
	if err != nil {
		return err
	}

	head, err := c.client.HistoryHead(ctx, opts.Origin)
	if err != nil {
		return fmt.Errorf("read history head: %w", err)
	}
	if span != nil {
		span.SetAttr(IntAttr("history_head", head))
	}
	if task.LastSyncedID >= head {
		logger.Info("clone already up to date", "head", head)
	}

	idMap, err := c.walk(ctx, logger, origin, task, head, opts)
	if err != nil {
		return err
	}
	c.recordLinks(ctx, logger, origin, task.DestID)

	if err := c.replicatePins(ctx, logger, opts.Origin, task.DestID, idMap); err != nil {
		return err
	}
	if opts.PublishTo != 0 {
		c.announce(ctx, logger, origin, task.DestID, opts)
	}
	if opts.LeaveOrigin {
		if origin.Kind == ChatUser {
			logger.Warn("cannot leave a direct chat, skipping")
		} else if err := c.client.Leave(ctx, opts.Origin); err != nil {
			return fmt.Errorf("leave origin chat: %w", err)
		}
	}

	logger.Info("clone complete", "destination", task.DestID, "head", head)
	return nil
}

// getOrCreateTask loads the sync task, creating it and its destination
// on first contact with this origin.
func (c *Cloner) getOrCreateTask(ctx context.Context, logger *slog.Logger, origin Chat, opts CloneOptions) (SyncTask, error) {
	err := c.store.CreateSyncTask(ctx, SyncTask{
		OriginID:    origin.ID,
		OriginTitle: origin.Title,
		Strategy:    StrategyUnknown,
	})
	if err != nil {
		return SyncTask{}, fmt.Errorf("create sync task: %w", err)
	}
	task, err := c.store.GetSyncTask(ctx, origin.ID)
	if err != nil {
		return SyncTask{}, fmt.Errorf("load sync task: %w", err)
	}

	if task.DestID == 0 {
		dest := opts.Dest
		if dest == 0 {
			dest, err = c.createDestination(ctx, logger, origin)
			if err != nil {
				return SyncTask{}, err
			}
		}
		if err := c.store.SetSyncDestination(ctx, origin.ID, dest); err != nil {
			return SyncTask{}, fmt.Errorf("store destination: %w", err)
		}
		task.DestID = dest
	} else if opts.Dest != 0 && opts.Dest != task.DestID {
		logger.Warn("ignoring destination flag, task already bound",
			"stored_destination", task.DestID,
			"requested_destination", opts.Dest)
	}

	if task.Strategy == StrategyUnknown {
		strategy := StrategyForward
		if origin.Restricted || opts.ForceDownload {
			strategy = StrategyDownloadUpload
		}
		if err := c.store.SetSyncStrategy(ctx, origin.ID, strategy); err != nil {
			return SyncTask{}, fmt.Errorf("store strategy: %w", err)
		}
		task.Strategy = strategy
		logger.Info("strategy selected",
			"strategy", strategy,
			"restricted", origin.Restricted)
	}
	return task, nil
}

// createDestination makes a fresh channel named after the origin.
func (c *Cloner) createDestination(ctx context.Context, logger *slog.Logger, origin Chat) (int64, error) {
	title := TruncateText(destTitlePrefix+origin.Title, 128)
	created, err := c.client.CreateChannel(ctx, title, "")
	if err != nil {
		return 0, fmt.Errorf("create destination channel: %w", err)
	}
	logger.Info("created destination channel", "destination", created.ID, "title", title)
	return created.ID, nil
}

// recordLinks appends the destination's links to the registry. Called
// only once a clone has replayed the full history, so a run that dies
// mid-walk leaves no record behind.
func (c *Cloner) recordLinks(ctx context.Context, logger *slog.Logger, origin Chat, dest int64) {
	if c.links == nil {
		return
	}
	invite := ""
	if c.invites {
		link, err := c.client.ExportInviteLink(ctx, dest)
		if err != nil {
			// The registry keeps the deep link either way.
			logger.Warn("invite link export failed", "error", err)
		} else {
			invite = link
		}
	}
	if err := c.links.Append(origin.Title, DeepLink(dest), invite); err != nil {
		logger.Warn("link registry write failed", "error", err)
	}
}

// walk replays origin history above the checkpoint in ascending id
// order. It returns the origin→destination id map for pin replication.
func (c *Cloner) walk(ctx context.Context, logger *slog.Logger, origin Chat, task SyncTask, head int, opts CloneOptions) (map[int]int, error) {
	idMap := make(map[int]int)
	procOpts := ProcessOptions{
		// Each origin gets its own scratch folder so concurrent clones
		// and leftover temp files never collide.
		ScratchDir:   filepath.Join(c.scratchDir, fmt.Sprintf("%d - %s", origin.ID, SanitizeFilename(origin.Title))),
		ExtractAudio: opts.ExtractAudio,
	}

	start := time.Now()
	processed := 0
	for first := task.LastSyncedID + 1; first <= head; first += chunkSize {
		last := first + chunkSize - 1
		if last > head {
			last = head
		}
		ids := make([]int, 0, last-first+1)
		for id := first; id <= last; id++ {
			ids = append(ids, id)
		}

		msgs, err := c.client.Messages(ctx, opts.Origin, ids)
		if err != nil {
			return nil, fmt.Errorf("fetch messages %d..%d: %w", first, last, err)
		}
		for _, msg := range msgs {
			newID, err := c.processOne(ctx, logger, &task, msg, procOpts)
			if err != nil {
				return nil, err
			}
			if newID > 0 {
				idMap[msg.ID] = newID
			}
			// Skips and gaps advance too, or the run would replay them
			// forever.
			if err := c.store.AdvanceSyncTask(ctx, task.OriginID, msg.ID); err != nil {
				return nil, fmt.Errorf("advance checkpoint: %w", err)
			}
			task.LastSyncedID = msg.ID
			processed++
		}
		logger.Info("clone progress",
			"last_synced_id", task.LastSyncedID,
			"head", head,
			"processed", processed,
			"elapsed", time.Since(start))
	}
	return idMap, nil
}

// processOne replicates a single message, downgrading the strategy
// once if the platform rejects a forward.
func (c *Cloner) processOne(ctx context.Context, logger *slog.Logger, task *SyncTask, msg Message, opts ProcessOptions) (int, error) {
	newID, err := c.proc.Process(ctx, task.Strategy, task.OriginID, msg, task.DestID, opts)
	switch {
	case err == nil:
		c.stats.Count("clone.messages", 1, StringAttr("kind", string(msg.Kind)))
		return newID, nil
	case IsUnsupported(err):
		logger.Warn("skipping unsupported message",
			"message_id", msg.ID,
			"kind", msg.Kind)
		return 0, nil
	case IsRestricted(err) && task.Strategy == StrategyForward:
		logger.Warn("forwards restricted, switching to download_upload",
			"message_id", msg.ID)
		if err := c.store.SetSyncStrategy(ctx, task.OriginID, StrategyDownloadUpload); err != nil {
			return 0, fmt.Errorf("downgrade strategy: %w", err)
		}
		task.Strategy = StrategyDownloadUpload
		return c.processOne(ctx, logger, task, msg, opts)
	default:
		return 0, fmt.Errorf("process message %d: %w", msg.ID, err)
	}
}

// replicatePins pins the destination counterparts of origin pins, in
// ascending order so the newest pin ends up on top.
func (c *Cloner) replicatePins(ctx context.Context, logger *slog.Logger, origin, dest int64, idMap map[int]int) error {
	pinned, err := c.client.PinnedMessages(ctx, origin)
	if err != nil {
		return fmt.Errorf("list pinned messages: %w", err)
	}
	sort.Ints(pinned)
	for _, id := range pinned {
		newID, ok := idMap[id]
		if !ok {
			logger.Debug("pin target not cloned this run, skipping", "message_id", id)
			continue
		}
		if err := c.client.Pin(ctx, dest, newID); err != nil {
			logger.Warn("pin failed", "message_id", newID, "error", err)
		}
	}
	return nil
}

// announce posts the destination deep link to the publish chat.
func (c *Cloner) announce(ctx context.Context, logger *slog.Logger, origin Chat, dest int64, opts CloneOptions) {
	text := origin.Title + "\n" + DeepLink(dest)
	id, err := c.client.SendText(ctx, opts.PublishTo, text, SendOptions{ReplyTo: opts.Topic})
	if err != nil {
		logger.Warn("completion notice failed", "publish_chat", opts.PublishTo, "error", err)
		return
	}
	if err := c.client.Pin(ctx, opts.PublishTo, id); err != nil {
		logger.Warn("completion notice pin failed", "error", err)
	}
}

// RunBatch clones every chat listed in sourceFile, one per line. Blank
// lines and lines starting with # are skipped. A failed line is logged
// and the batch moves on; only an interruption aborts it.
func (c *Cloner) RunBatch(ctx context.Context, resolver *Resolver, sourceFile string, opts CloneOptions) error {
	fh, err := os.Open(sourceFile)
	if err != nil {
		return fmt.Errorf("open batch file: %w", err)
	}
	defer fh.Close()

	var total, failed int
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		total++

		id, err := resolver.Resolve(ctx, line)
		if err != nil {
			c.logger.Error("batch entry did not resolve", "entry", line, "error", err)
			failed++
			continue
		}
		o := opts
		o.Origin = id
		o.Dest = 0
		if err := c.Run(ctx, o); err != nil {
			if IsInterrupted(err) {
				return err
			}
			c.logger.Error("batch clone failed", "entry", line, "error", err)
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	if failed > 0 {
		c.logger.Warn("batch complete with failures", "failed", failed, "total", total)
	} else {
		c.logger.Info("batch complete", "total", total)
	}
	return nil
}
