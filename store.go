package clonechat

import "context"

// Strategy selects how the clone engine replicates messages.
type Strategy string

const (
	StrategyUnknown        Strategy = "unknown"
	StrategyForward        Strategy = "forward"
	StrategyDownloadUpload Strategy = "download_upload"
)

// Step is one stage of the publish pipeline. Steps only move forward.
type Step string

const (
	StepInit         Step = "init"
	StepZip          Step = "zip"
	StepReport       Step = "report"
	StepReencodeAuth Step = "reencode_auth"
	StepReencode     Step = "reencode"
	StepJoin         Step = "join"
	StepTimestamp    Step = "timestamp"
	StepUploadAuth   Step = "upload_auth"
	StepUpload       Step = "upload"
	StepDone         Step = "done"
)

// publishSteps is the fixed stage order.
var publishSteps = []Step{
	StepInit, StepZip, StepReport, StepReencodeAuth, StepReencode,
	StepJoin, StepTimestamp, StepUploadAuth, StepUpload, StepDone,
}

// Next returns the stage after s, or StepDone when s is last or
// unknown.
func (s Step) Next() Step {
	for i, st := range publishSteps {
		if st == s && i+1 < len(publishSteps) {
			return publishSteps[i+1]
		}
	}
	return StepDone
}

// Status is the coarse lifecycle of a publish task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SyncTask tracks one origin-to-destination clone.
type SyncTask struct {
	OriginID     int64
	OriginTitle  string
	DestID       int64
	Strategy     Strategy
	LastSyncedID int
}

// DownloadTask tracks a bulk video download of one chat. The counters
// are informational and may lag the checkpoint.
type DownloadTask struct {
	OriginID         int64
	OriginTitle      string
	LastDownloadedID int
	TotalVideos      int
	DownloadedVideos int
	CreatedAt        int64
	UpdatedAt        int64
}

// PublishTask tracks one folder moving through the publish pipeline.
// The boolean latches record completed stages and never reset except
// on restart.
type PublishTask struct {
	SourceFolder     string
	ProjectName      string
	DestID           int64
	CurrentStep      Step
	Status           Status
	Started          bool
	Zipped           bool
	Reported         bool
	ReencodeAuthed   bool
	Reencoded        bool
	Joined           bool
	Timestamped      bool
	UploadAuthed     bool
	Published        bool
	LastUploadedFile string
	CreatedAt        int64
	UpdatedAt        int64
}

// StageDone reports whether the latch for step is set.
func (t PublishTask) StageDone(step Step) bool {
	switch step {
	case StepInit:
		return t.Started
	case StepZip:
		return t.Zipped
	case StepReport:
		return t.Reported
	case StepReencodeAuth:
		return t.ReencodeAuthed
	case StepReencode:
		return t.Reencoded
	case StepJoin:
		return t.Joined
	case StepTimestamp:
		return t.Timestamped
	case StepUploadAuth:
		return t.UploadAuthed
	case StepUpload:
		return t.Published
	}
	return false
}

// TaskStore persists engine checkpoints. Implementations must be safe
// for concurrent use and return ErrNotFound for missing keys. Create
// methods are insert-or-ignore: re-creating an existing task never
// resets its progress.
type TaskStore interface {
	// --- sync tasks ---
	CreateSyncTask(ctx context.Context, t SyncTask) error
	GetSyncTask(ctx context.Context, originID int64) (SyncTask, error)
	SetSyncDestination(ctx context.Context, originID, destID int64) error
	SetSyncStrategy(ctx context.Context, originID int64, s Strategy) error
	// AdvanceSyncTask moves the checkpoint forward. Calls with a
	// message id at or below the stored checkpoint are no-ops.
	AdvanceSyncTask(ctx context.Context, originID int64, messageID int) error
	DeleteSyncTask(ctx context.Context, originID int64) error

	// --- download tasks ---
	CreateDownloadTask(ctx context.Context, t DownloadTask) error
	GetDownloadTask(ctx context.Context, originID int64) (DownloadTask, error)
	SetDownloadTotal(ctx context.Context, originID int64, total int) error
	// AdvanceDownloadTask moves the checkpoint forward and records the
	// absolute downloaded count. Calls with a message id at or below
	// the stored checkpoint are no-ops.
	AdvanceDownloadTask(ctx context.Context, originID int64, messageID, downloaded int) error
	DeleteDownloadTask(ctx context.Context, originID int64) error

	// --- publish tasks ---
	CreatePublishTask(ctx context.Context, t PublishTask) error
	GetPublishTask(ctx context.Context, sourceFolder string) (PublishTask, error)
	SetPublishDestination(ctx context.Context, sourceFolder string, destID int64) error
	SetPublishStatus(ctx context.Context, sourceFolder string, status Status) error
	SetPublishUploadMarker(ctx context.Context, sourceFolder, file string) error
	// AdvancePublishStep sets the latch for the completed step and
	// moves current_step to its successor.
	AdvancePublishStep(ctx context.Context, sourceFolder string, completed Step) error
	DeletePublishTask(ctx context.Context, sourceFolder string) error

	// --- lifecycle ---
	Init(ctx context.Context) error
	Close() error
}
