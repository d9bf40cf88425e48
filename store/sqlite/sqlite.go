// Package sqlite implements clonechat.TaskStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/clonechat"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements clonechat.TaskStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ clonechat.TaskStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sync_tasks (
			origin_chat_id INTEGER PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			destination_chat_id INTEGER NOT NULL DEFAULT 0,
			cloning_strategy TEXT NOT NULL DEFAULT 'unknown',
			last_synced_message_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS download_tasks (
			origin_chat_id INTEGER PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			last_downloaded_message_id INTEGER NOT NULL DEFAULT 0,
			total_videos INTEGER NOT NULL DEFAULT 0,
			downloaded_videos INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS publish_tasks (
			source_folder_path TEXT PRIMARY KEY,
			project_name TEXT NOT NULL,
			destination_chat_id INTEGER NOT NULL DEFAULT 0,
			current_step TEXT NOT NULL DEFAULT 'init',
			status TEXT NOT NULL DEFAULT 'pending',
			is_started INTEGER NOT NULL DEFAULT 0,
			is_zipped INTEGER NOT NULL DEFAULT 0,
			is_reported INTEGER NOT NULL DEFAULT 0,
			is_reencode_auth INTEGER NOT NULL DEFAULT 0,
			is_reencoded INTEGER NOT NULL DEFAULT 0,
			is_joined INTEGER NOT NULL DEFAULT 0,
			is_timestamped INTEGER NOT NULL DEFAULT 0,
			is_upload_auth INTEGER NOT NULL DEFAULT 0,
			is_published INTEGER NOT NULL DEFAULT 0,
			last_uploaded_file TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Migrations (best-effort, silent fail if already applied)
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE sync_tasks ADD COLUMN cloning_strategy TEXT NOT NULL DEFAULT 'unknown'")
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE download_tasks ADD COLUMN total_videos INTEGER NOT NULL DEFAULT 0")
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE download_tasks ADD COLUMN downloaded_videos INTEGER NOT NULL DEFAULT 0")
	_, _ = s.db.ExecContext(ctx, "ALTER TABLE publish_tasks ADD COLUMN last_uploaded_file TEXT NOT NULL DEFAULT ''")

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_publish_tasks_status ON publish_tasks(status)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// --- sync tasks ---

// CreateSyncTask inserts a task unless one already exists for the
// origin. Existing progress is never reset.
func (s *Store) CreateSyncTask(ctx context.Context, t clonechat.SyncTask) error {
	start := time.Now()
	s.logger.Debug("sqlite: create sync task", "origin", t.OriginID)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sync_tasks
		 (origin_chat_id, origin_chat_title, destination_chat_id, cloning_strategy, last_synced_message_id)
		 VALUES (?, ?, ?, ?, ?)`,
		t.OriginID, t.OriginTitle, t.DestID, string(t.Strategy), t.LastSyncedID,
	)
	if err != nil {
		s.logger.Error("sqlite: create sync task failed", "origin", t.OriginID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create sync task: %w", err)
	}
	s.logger.Debug("sqlite: create sync task ok", "origin", t.OriginID, "duration", time.Since(start))
	return nil
}

func (s *Store) GetSyncTask(ctx context.Context, originID int64) (clonechat.SyncTask, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get sync task", "origin", originID)

	var t clonechat.SyncTask
	var strategy string
	err := s.db.QueryRowContext(ctx,
		`SELECT origin_chat_id, origin_chat_title, destination_chat_id, cloning_strategy, last_synced_message_id
		 FROM sync_tasks WHERE origin_chat_id = ?`, originID,
	).Scan(&t.OriginID, &t.OriginTitle, &t.DestID, &strategy, &t.LastSyncedID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sqlite: get sync task not found", "origin", originID, "duration", time.Since(start))
		return clonechat.SyncTask{}, clonechat.ErrNotFound
	}
	if err != nil {
		s.logger.Error("sqlite: get sync task failed", "origin", originID, "error", err, "duration", time.Since(start))
		return clonechat.SyncTask{}, fmt.Errorf("get sync task: %w", err)
	}
	t.Strategy = clonechat.Strategy(strategy)
	s.logger.Debug("sqlite: get sync task ok", "origin", originID, "duration", time.Since(start))
	return t, nil
}

func (s *Store) SetSyncDestination(ctx context.Context, originID, destID int64) error {
	start := time.Now()
	s.logger.Debug("sqlite: set sync destination", "origin", originID, "destination", destID)

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_tasks SET destination_chat_id = ? WHERE origin_chat_id = ?`,
		destID, originID,
	)
	if err != nil {
		s.logger.Error("sqlite: set sync destination failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set sync destination: %w", err)
	}
	s.logger.Debug("sqlite: set sync destination ok", "origin", originID, "duration", time.Since(start))
	return nil
}

func (s *Store) SetSyncStrategy(ctx context.Context, originID int64, strategy clonechat.Strategy) error {
	start := time.Now()
	s.logger.Debug("sqlite: set sync strategy", "origin", originID, "strategy", strategy)

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_tasks SET cloning_strategy = ? WHERE origin_chat_id = ?`,
		string(strategy), originID,
	)
	if err != nil {
		s.logger.Error("sqlite: set sync strategy failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set sync strategy: %w", err)
	}
	s.logger.Debug("sqlite: set sync strategy ok", "origin", originID, "duration", time.Since(start))
	return nil
}

// AdvanceSyncTask moves the checkpoint forward. The WHERE guard makes
// stale or repeated calls no-ops, so re-runs never move it backwards.
func (s *Store) AdvanceSyncTask(ctx context.Context, originID int64, messageID int) error {
	start := time.Now()
	s.logger.Debug("sqlite: advance sync task", "origin", originID, "message_id", messageID)

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_tasks SET last_synced_message_id = ?
		 WHERE origin_chat_id = ? AND last_synced_message_id < ?`,
		messageID, originID, messageID,
	)
	if err != nil {
		s.logger.Error("sqlite: advance sync task failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("advance sync task: %w", err)
	}
	s.logger.Debug("sqlite: advance sync task ok", "origin", originID, "duration", time.Since(start))
	return nil
}

func (s *Store) DeleteSyncTask(ctx context.Context, originID int64) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete sync task", "origin", originID)

	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE origin_chat_id = ?`, originID)
	if err != nil {
		s.logger.Error("sqlite: delete sync task failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete sync task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return clonechat.ErrNotFound
	}
	s.logger.Debug("sqlite: delete sync task ok", "origin", originID, "duration", time.Since(start))
	return nil
}

// --- download tasks ---

func (s *Store) CreateDownloadTask(ctx context.Context, t clonechat.DownloadTask) error {
	start := time.Now()
	s.logger.Debug("sqlite: create download task", "origin", t.OriginID)

	now := clonechat.NowUnix()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO download_tasks
		 (origin_chat_id, origin_chat_title, last_downloaded_message_id, total_videos, downloaded_videos, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.OriginID, t.OriginTitle, t.LastDownloadedID, t.TotalVideos, t.DownloadedVideos, now, now,
	)
	if err != nil {
		s.logger.Error("sqlite: create download task failed", "origin", t.OriginID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create download task: %w", err)
	}
	s.logger.Debug("sqlite: create download task ok", "origin", t.OriginID, "duration", time.Since(start))
	return nil
}

func (s *Store) GetDownloadTask(ctx context.Context, originID int64) (clonechat.DownloadTask, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get download task", "origin", originID)

	var t clonechat.DownloadTask
	err := s.db.QueryRowContext(ctx,
		`SELECT origin_chat_id, origin_chat_title, last_downloaded_message_id, total_videos, downloaded_videos, created_at, updated_at
		 FROM download_tasks WHERE origin_chat_id = ?`, originID,
	).Scan(&t.OriginID, &t.OriginTitle, &t.LastDownloadedID, &t.TotalVideos, &t.DownloadedVideos, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sqlite: get download task not found", "origin", originID, "duration", time.Since(start))
		return clonechat.DownloadTask{}, clonechat.ErrNotFound
	}
	if err != nil {
		s.logger.Error("sqlite: get download task failed", "origin", originID, "error", err, "duration", time.Since(start))
		return clonechat.DownloadTask{}, fmt.Errorf("get download task: %w", err)
	}
	s.logger.Debug("sqlite: get download task ok", "origin", originID, "duration", time.Since(start))
	return t, nil
}

func (s *Store) SetDownloadTotal(ctx context.Context, originID int64, total int) error {
	start := time.Now()
	s.logger.Debug("sqlite: set download total", "origin", originID, "total", total)

	_, err := s.db.ExecContext(ctx,
		`UPDATE download_tasks SET total_videos = ?, updated_at = ? WHERE origin_chat_id = ?`,
		total, clonechat.NowUnix(), originID,
	)
	if err != nil {
		s.logger.Error("sqlite: set download total failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set download total: %w", err)
	}
	s.logger.Debug("sqlite: set download total ok", "origin", originID, "duration", time.Since(start))
	return nil
}

// AdvanceDownloadTask moves the checkpoint forward and stores the
// absolute downloaded count. Guarded like AdvanceSyncTask.
func (s *Store) AdvanceDownloadTask(ctx context.Context, originID int64, messageID, downloaded int) error {
	start := time.Now()
	s.logger.Debug("sqlite: advance download task", "origin", originID, "message_id", messageID, "downloaded", downloaded)

	_, err := s.db.ExecContext(ctx,
		`UPDATE download_tasks
		 SET last_downloaded_message_id = ?, downloaded_videos = ?, updated_at = ?
		 WHERE origin_chat_id = ? AND last_downloaded_message_id < ?`,
		messageID, downloaded, clonechat.NowUnix(), originID, messageID,
	)
	if err != nil {
		s.logger.Error("sqlite: advance download task failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("advance download task: %w", err)
	}
	s.logger.Debug("sqlite: advance download task ok", "origin", originID, "duration", time.Since(start))
	return nil
}

func (s *Store) DeleteDownloadTask(ctx context.Context, originID int64) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete download task", "origin", originID)

	res, err := s.db.ExecContext(ctx, `DELETE FROM download_tasks WHERE origin_chat_id = ?`, originID)
	if err != nil {
		s.logger.Error("sqlite: delete download task failed", "origin", originID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete download task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return clonechat.ErrNotFound
	}
	s.logger.Debug("sqlite: delete download task ok", "origin", originID, "duration", time.Since(start))
	return nil
}

// --- publish tasks ---

func (s *Store) CreatePublishTask(ctx context.Context, t clonechat.PublishTask) error {
	start := time.Now()
	s.logger.Debug("sqlite: create publish task", "source_folder", t.SourceFolder)

	now := clonechat.NowUnix()
	step := t.CurrentStep
	if step == "" {
		step = clonechat.StepInit
	}
	status := t.Status
	if status == "" {
		status = clonechat.StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO publish_tasks
		 (source_folder_path, project_name, destination_chat_id, current_step, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SourceFolder, t.ProjectName, t.DestID, string(step), string(status), now, now,
	)
	if err != nil {
		s.logger.Error("sqlite: create publish task failed", "source_folder", t.SourceFolder, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create publish task: %w", err)
	}
	s.logger.Debug("sqlite: create publish task ok", "source_folder", t.SourceFolder, "duration", time.Since(start))
	return nil
}

func (s *Store) GetPublishTask(ctx context.Context, sourceFolder string) (clonechat.PublishTask, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get publish task", "source_folder", sourceFolder)

	var t clonechat.PublishTask
	var step, status string
	var started, zipped, reported, reencAuth, reenc, joined, stamped, upAuth, published int
	err := s.db.QueryRowContext(ctx,
		`SELECT source_folder_path, project_name, destination_chat_id, current_step, status,
		        is_started, is_zipped, is_reported, is_reencode_auth, is_reencoded,
		        is_joined, is_timestamped, is_upload_auth, is_published,
		        last_uploaded_file, created_at, updated_at
		 FROM publish_tasks WHERE source_folder_path = ?`, sourceFolder,
	).Scan(&t.SourceFolder, &t.ProjectName, &t.DestID, &step, &status,
		&started, &zipped, &reported, &reencAuth, &reenc,
		&joined, &stamped, &upAuth, &published,
		&t.LastUploadedFile, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sqlite: get publish task not found", "source_folder", sourceFolder, "duration", time.Since(start))
		return clonechat.PublishTask{}, clonechat.ErrNotFound
	}
	if err != nil {
		s.logger.Error("sqlite: get publish task failed", "source_folder", sourceFolder, "error", err, "duration", time.Since(start))
		return clonechat.PublishTask{}, fmt.Errorf("get publish task: %w", err)
	}
	t.CurrentStep = clonechat.Step(step)
	t.Status = clonechat.Status(status)
	t.Started = started != 0
	t.Zipped = zipped != 0
	t.Reported = reported != 0
	t.ReencodeAuthed = reencAuth != 0
	t.Reencoded = reenc != 0
	t.Joined = joined != 0
	t.Timestamped = stamped != 0
	t.UploadAuthed = upAuth != 0
	t.Published = published != 0
	s.logger.Debug("sqlite: get publish task ok", "source_folder", sourceFolder, "duration", time.Since(start))
	return t, nil
}

func (s *Store) SetPublishDestination(ctx context.Context, sourceFolder string, destID int64) error {
	start := time.Now()
	s.logger.Debug("sqlite: set publish destination", "source_folder", sourceFolder, "destination", destID)

	_, err := s.db.ExecContext(ctx,
		`UPDATE publish_tasks SET destination_chat_id = ?, updated_at = ? WHERE source_folder_path = ?`,
		destID, clonechat.NowUnix(), sourceFolder,
	)
	if err != nil {
		s.logger.Error("sqlite: set publish destination failed", "source_folder", sourceFolder, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set publish destination: %w", err)
	}
	s.logger.Debug("sqlite: set publish destination ok", "source_folder", sourceFolder, "duration", time.Since(start))
	return nil
}

func (s *Store) SetPublishStatus(ctx context.Context, sourceFolder string, status clonechat.Status) error {
	start := time.Now()
	s.logger.Debug("sqlite: set publish status", "source_folder", sourceFolder, "status", status)

	_, err := s.db.ExecContext(ctx,
		`UPDATE publish_tasks SET status = ?, updated_at = ? WHERE source_folder_path = ?`,
		string(status), clonechat.NowUnix(), sourceFolder,
	)
	if err != nil {
		s.logger.Error("sqlite: set publish status failed", "source_folder", sourceFolder, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set publish status: %w", err)
	}
	s.logger.Debug("sqlite: set publish status ok", "source_folder", sourceFolder, "duration", time.Since(start))
	return nil
}

func (s *Store) SetPublishUploadMarker(ctx context.Context, sourceFolder, file string) error {
	start := time.Now()
	s.logger.Debug("sqlite: set publish upload marker", "source_folder", sourceFolder, "file", file)

	_, err := s.db.ExecContext(ctx,
		`UPDATE publish_tasks SET last_uploaded_file = ?, updated_at = ? WHERE source_folder_path = ?`,
		file, clonechat.NowUnix(), sourceFolder,
	)
	if err != nil {
		s.logger.Error("sqlite: set publish upload marker failed", "source_folder", sourceFolder, "error", err, "duration", time.Since(start))
		return fmt.Errorf("set publish upload marker: %w", err)
	}
	s.logger.Debug("sqlite: set publish upload marker ok", "source_folder", sourceFolder, "duration", time.Since(start))
	return nil
}

// publishLatchColumns maps a completed step to its latch column.
var publishLatchColumns = map[clonechat.Step]string{
	clonechat.StepInit:         "is_started",
	clonechat.StepZip:          "is_zipped",
	clonechat.StepReport:       "is_reported",
	clonechat.StepReencodeAuth: "is_reencode_auth",
	clonechat.StepReencode:     "is_reencoded",
	clonechat.StepJoin:         "is_joined",
	clonechat.StepTimestamp:    "is_timestamped",
	clonechat.StepUploadAuth:   "is_upload_auth",
	clonechat.StepUpload:       "is_published",
}

// AdvancePublishStep latches the completed step and moves current_step
// to its successor.
func (s *Store) AdvancePublishStep(ctx context.Context, sourceFolder string, completed clonechat.Step) error {
	start := time.Now()
	s.logger.Debug("sqlite: advance publish step", "source_folder", sourceFolder, "completed", completed)

	column, ok := publishLatchColumns[completed]
	if !ok {
		return fmt.Errorf("advance publish step: unknown step %q", completed)
	}
	// The column name comes from the fixed map above, never from input.
	query := fmt.Sprintf(
		`UPDATE publish_tasks SET %s = 1, current_step = ?, updated_at = ? WHERE source_folder_path = ?`,
		column,
	)
	_, err := s.db.ExecContext(ctx, query, string(completed.Next()), clonechat.NowUnix(), sourceFolder)
	if err != nil {
		s.logger.Error("sqlite: advance publish step failed", "source_folder", sourceFolder, "error", err, "duration", time.Since(start))
		return fmt.Errorf("advance publish step: %w", err)
	}
	s.logger.Debug("sqlite: advance publish step ok", "source_folder", sourceFolder, "next", completed.Next(), "duration", time.Since(start))
	return nil
}

func (s *Store) DeletePublishTask(ctx context.Context, sourceFolder string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete publish task", "source_folder", sourceFolder)

	res, err := s.db.ExecContext(ctx, `DELETE FROM publish_tasks WHERE source_folder_path = ?`, sourceFolder)
	if err != nil {
		s.logger.Error("sqlite: delete publish task failed", "source_folder", sourceFolder, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete publish task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return clonechat.ErrNotFound
	}
	s.logger.Debug("sqlite: delete publish task ok", "source_folder", sourceFolder, "duration", time.Since(start))
	return nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}
