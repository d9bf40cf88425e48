// Package publish turns a folder of course material into a Telegram
// channel. Non-video files are packed into size-bounded archives,
// videos are normalised to H.264/AAC, concatenated into parts bounded
// by duration and size, and uploaded together with a pinned timestamp
// summary.
//
// The pipeline is a forward-only stage machine checkpointed in a
// TaskStore. A stage's latch is set only after its artefacts exist on
// disk and the store commit succeeds, so an interrupted run repeats at
// most the stage it died in. Every stage tolerates partial output from
// a previous attempt: temporary names end in .tmp and are wiped on
// re-entry, finished artefacts are renamed into place and skipped.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/ffmpeg"
)

// ErrAuthDeclined is returned when an authorisation gate is not
// confirmed. The pipeline pauses at the gate and can be resumed later.
var ErrAuthDeclined = errors.New("publish: stage not authorised")

// Plan selects how compliant videos move through the join stage.
type Plan string

const (
	// PlanSingle uploads every video as its own part.
	PlanSingle Plan = "single"
	// PlanGroup concatenates videos into parts bounded by the duration
	// and size limits.
	PlanGroup Plan = "group"
)

// Transcoder is the external tool surface the pipeline drives. The
// ffmpeg package implements it.
type Transcoder interface {
	Validate(ctx context.Context) error
	Probe(ctx context.Context, path string) (ffmpeg.VideoInfo, error)
	Reencode(ctx context.Context, src, dst string, videoKbit int) error
	Concat(ctx context.Context, listPath, dst string) error
}

var _ Transcoder = (*ffmpeg.Runner)(nil)

// ConfirmFunc asks the operator to authorise a gated stage. It returns
// false when the operator declines.
type ConfirmFunc func(prompt string) (bool, error)

// Config carries the pipeline knobs. Zero values fall back to the
// defaults in withDefaults.
type Config struct {
	// WorkspaceRoot is the directory holding one subtree per project,
	// conventionally data/project_workspace.
	WorkspaceRoot string
	// SizeLimitMB bounds archive parts, re-encoded videos and joined
	// parts.
	SizeLimitMB int
	// VideoExts holds lowercase extensions (with dot) treated as video.
	VideoExts map[string]bool
	// ReencodePlan is PlanSingle or PlanGroup.
	ReencodePlan Plan
	// DurationLimit bounds one joined part.
	DurationLimit time.Duration
	// Transition inserts transition.mp4 from the workspace root
	// between joined clips when the file exists.
	Transition bool
	// StartIndex is the first number used in generated captions.
	StartIndex int
	// HashtagIndex tags video captions, e.g. "F" yields #F1, #F2, ...
	HashtagIndex string
	// DocumentHashtag and DocumentTitle label archive part captions.
	DocumentHashtag string
	DocumentTitle   string
	// SummaryTop and SummaryBottom are paths to literal header and
	// footer files injected into summary.txt. Empty skips them.
	SummaryTop    string
	SummaryBottom string
	// AutoAdapt renumbers video captions to the actual upload order,
	// so a hand-reordered plan still numbers cleanly.
	AutoAdapt bool
	// RegisterInvite exports an invite link for created channels and
	// records it in the link registry.
	RegisterInvite bool
	// MaxPath truncates the derived project name. Zero disables.
	MaxPath int
	// CreateChannel makes a fresh channel named after the project.
	// When false, ChatID must name an existing destination.
	CreateChannel bool
	ChatID        int64
	// MocChatID, when set, receives a publication notice after the
	// upload completes.
	MocChatID int64
	// AutodelTemp removes joined intermediates after their upload is
	// acknowledged.
	AutodelTemp bool
}

// defaultVideoExts matches the extensions the downloader produces plus
// the common container zoo courses arrive in.
var defaultVideoExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".ts": true,
	".m4v": true, ".mpg": true, ".mpeg": true,
}

func (c Config) withDefaults() Config {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = filepath.Join("data", "project_workspace")
	}
	if c.SizeLimitMB <= 0 {
		c.SizeLimitMB = 2000
	}
	if len(c.VideoExts) == 0 {
		c.VideoExts = defaultVideoExts
	}
	if c.ReencodePlan == "" {
		c.ReencodePlan = PlanGroup
	}
	if c.DurationLimit <= 0 {
		c.DurationLimit = 2 * time.Hour
	}
	if c.StartIndex <= 0 {
		c.StartIndex = 1
	}
	if c.HashtagIndex == "" {
		c.HashtagIndex = "F"
	}
	if c.DocumentHashtag == "" {
		c.DocumentHashtag = "M"
	}
	if c.DocumentTitle == "" {
		c.DocumentTitle = "Material"
	}
	return c
}

// sizeLimitBytes returns the part limit in bytes.
func (c Config) sizeLimitBytes() int64 {
	return int64(c.SizeLimitMB) << 20
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Pipeline drives one folder through the publish stages.
type Pipeline struct {
	client  clonechat.Client
	store   clonechat.TaskStore
	trans   Transcoder
	cfg     Config
	links   *clonechat.LinkFile // nil = no link registry
	confirm ConfirmFunc         // nil = gates require the yes flag
	tracer  clonechat.Tracer    // nil = no tracing
	stats   clonechat.Stats
	logger  *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// PipelineLogger sets the logger. If not set, a no-op logger is used.
func PipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// PipelineTracer enables span emission around runs and stages.
func PipelineTracer(t clonechat.Tracer) PipelineOption {
	return func(p *Pipeline) { p.tracer = t }
}

// PipelineStats sets the Stats sink for upload counters and stage
// timings.
func PipelineStats(s clonechat.Stats) PipelineOption {
	return func(p *Pipeline) { p.stats = s }
}

// PipelineLinkFile records created channels in a link registry file.
func PipelineLinkFile(f *clonechat.LinkFile) PipelineOption {
	return func(p *Pipeline) { p.links = f }
}

// PipelineConfirm sets the prompt used at authorisation gates.
func PipelineConfirm(f ConfirmFunc) PipelineOption {
	return func(p *Pipeline) { p.confirm = f }
}

// New returns a Pipeline publishing through client, checkpointing in
// store and shelling out to trans for probe, re-encode and concat.
func New(client clonechat.Client, store clonechat.TaskStore, trans Transcoder, cfg Config, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		client: client,
		store:  store,
		trans:  trans,
		cfg:    cfg.withDefaults(),
		stats:  clonechat.NopStats{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// Options control a single Run.
type Options struct {
	// Folder is the source folder to publish.
	Folder string
	// Restart wipes the task and the project workspace.
	Restart bool
	// Yes authorises every gate without prompting.
	Yes bool
}

// Run publishes one folder. It is safe to call again after any failure
// or interruption: completed stages are never repeated, and the upload
// stage resumes behind its own per-file marker.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	folder, err := filepath.Abs(opts.Folder)
	if err != nil {
		return fmt.Errorf("resolve source folder: %w", err)
	}
	info, err := os.Stat(folder)
	if err != nil {
		return fmt.Errorf("source folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source folder %s: not a directory", folder)
	}

	project := p.projectName(folder)
	logger := p.logger.With("project", project)

	var span clonechat.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "publish.run",
			clonechat.StringAttr("project", project),
			clonechat.BoolAttr("restart", opts.Restart))
		defer func() { span.End() }()
	}

	if opts.Restart {
		wipe := project
		if old, err := p.store.GetPublishTask(ctx, folder); err == nil {
			wipe = old.ProjectName
		}
		if err := p.store.DeletePublishTask(ctx, folder); err != nil && !errors.Is(err, clonechat.ErrNotFound) {
			return fmt.Errorf("restart publish: %w", err)
		}
		if err := os.RemoveAll(newWorkspace(p.cfg.WorkspaceRoot, wipe).dir()); err != nil {
			return fmt.Errorf("restart publish: %w", err)
		}
		logger.Info("restarting publish from scratch")
	}

	err = p.store.CreatePublishTask(ctx, clonechat.PublishTask{
		SourceFolder: folder,
		ProjectName:  project,
		CurrentStep:  clonechat.StepInit,
		Status:       clonechat.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("create publish task: %w", err)
	}
	task, err := p.store.GetPublishTask(ctx, folder)
	if err != nil {
		return fmt.Errorf("load publish task: %w", err)
	}
	// An existing task keeps the project name it was created with.
	project = task.ProjectName
	ws := newWorkspace(p.cfg.WorkspaceRoot, project)
	logger = p.logger.With("project", project)

	if err := p.store.SetPublishStatus(ctx, folder, clonechat.StatusRunning); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}

	for task.CurrentStep != clonechat.StepDone {
		step := task.CurrentStep
		if err := ctx.Err(); err != nil {
			_ = p.store.SetPublishStatus(context.WithoutCancel(ctx), folder, clonechat.StatusPending)
			return err
		}

		if task.StageDone(step) {
			logger.Info("stage already complete, skipping", "step", step)
		} else if err := p.runStage(ctx, ws, task, step, opts); err != nil {
			if errors.Is(err, ErrAuthDeclined) || clonechat.IsInterrupted(err) {
				_ = p.store.SetPublishStatus(context.WithoutCancel(ctx), folder, clonechat.StatusPending)
				logger.Info("pipeline paused", "step", step)
				return err
			}
			_ = p.store.SetPublishStatus(context.WithoutCancel(ctx), folder, clonechat.StatusFailed)
			return fmt.Errorf("%s stage: %w", step, err)
		}

		if err := p.store.AdvancePublishStep(ctx, folder, step); err != nil {
			return fmt.Errorf("advance past %s: %w", step, err)
		}
		task, err = p.store.GetPublishTask(ctx, folder)
		if err != nil {
			return fmt.Errorf("reload publish task: %w", err)
		}
	}

	if err := p.store.SetPublishStatus(ctx, folder, clonechat.StatusCompleted); err != nil {
		return fmt.Errorf("mark task completed: %w", err)
	}
	logger.Info("publish complete", "destination", task.DestID)
	return nil
}

// runStage executes one stage inside its own span and timing sample.
func (p *Pipeline) runStage(ctx context.Context, ws workspace, task clonechat.PublishTask, step clonechat.Step, opts Options) error {
	var span clonechat.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "publish."+string(step))
	}
	start := time.Now()
	err := p.dispatch(ctx, ws, task, step, opts)
	if span != nil {
		if err != nil {
			span.Error(err)
		}
		span.End()
	}
	p.stats.Observe("publish.stage.duration", time.Since(start).Seconds(),
		clonechat.StringAttr("step", string(step)))
	return err
}

func (p *Pipeline) dispatch(ctx context.Context, ws workspace, task clonechat.PublishTask, step clonechat.Step, opts Options) error {
	switch step {
	case clonechat.StepInit:
		return p.runInit(ws, task)
	case clonechat.StepZip:
		return p.runZip(ctx, ws, task)
	case clonechat.StepReport:
		return p.runReport(ctx, ws, task)
	case clonechat.StepReencodeAuth, clonechat.StepUploadAuth:
		return p.gate(ws, task, step, opts)
	case clonechat.StepReencode:
		return p.runReencode(ctx, ws, task)
	case clonechat.StepJoin:
		return p.runJoin(ctx, ws, task)
	case clonechat.StepTimestamp:
		return p.runTimestamp(ctx, ws, task)
	case clonechat.StepUpload:
		return p.runUpload(ctx, ws, task)
	}
	return fmt.Errorf("unknown step %q", step)
}

// runInit lays out the project workspace.
func (p *Pipeline) runInit(ws workspace, task clonechat.PublishTask) error {
	entries, err := os.ReadDir(task.SourceFolder)
	if err != nil {
		return fmt.Errorf("read source folder: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("source folder %s is empty", task.SourceFolder)
	}
	if err := ws.ensure(); err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	p.logger.Info("workspace ready", "dir", ws.dir())
	return nil
}

// gate runs a human-authorisation stage. The yes flag authorises
// silently; otherwise the confirm prompt decides.
func (p *Pipeline) gate(ws workspace, task clonechat.PublishTask, step clonechat.Step, opts Options) error {
	if opts.Yes {
		p.logger.Info("stage authorised by flag", "step", step)
		return nil
	}
	if p.confirm == nil {
		return ErrAuthDeclined
	}
	ok, err := p.confirm(p.gatePrompt(ws, task, step))
	if err != nil {
		return fmt.Errorf("authorisation prompt: %w", err)
	}
	if !ok {
		return ErrAuthDeclined
	}
	return nil
}

// gatePrompt summarises the work the next stages will do.
func (p *Pipeline) gatePrompt(ws workspace, task clonechat.PublishTask, step clonechat.Step) string {
	switch step {
	case clonechat.StepReencodeAuth:
		rows, err := readReport(reportPath(ws))
		if err != nil {
			break
		}
		n := 0
		for _, r := range rows {
			if r.Action == actionReencode {
				n++
			}
		}
		return fmt.Sprintf("Re-encode %d of %d videos for %q and join them?", n, len(rows), task.ProjectName)
	case clonechat.StepUploadAuth:
		items, err := readPlan(planPath(ws))
		if err != nil {
			break
		}
		videos, docs := 0, 0
		for _, it := range items {
			if it.Kind == planKindVideo {
				videos++
			} else {
				docs++
			}
		}
		return fmt.Sprintf("Upload %d videos and %d documents for %q?", videos, docs, task.ProjectName)
	}
	return fmt.Sprintf("Continue past %s for %q?", step, task.ProjectName)
}

// projectName derives the workspace subdirectory from the folder name.
func (p *Pipeline) projectName(folder string) string {
	name := clonechat.SanitizeFilename(filepath.Base(folder))
	if p.cfg.MaxPath > 0 {
		name = clonechat.TruncateText(name, p.cfg.MaxPath)
	}
	return name
}
