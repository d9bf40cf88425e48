// Package postgres implements clonechat.TaskStore using PostgreSQL.
// It suits deployments where several operators share one checkpoint
// database instead of a local SQLite file.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/clonechat"
)

// Store implements clonechat.TaskStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ clonechat.TaskStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_tasks (
			origin_chat_id BIGINT PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			destination_chat_id BIGINT NOT NULL DEFAULT 0,
			cloning_strategy TEXT NOT NULL DEFAULT 'unknown',
			last_synced_message_id INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS download_tasks (
			origin_chat_id BIGINT PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			last_downloaded_message_id INTEGER NOT NULL DEFAULT 0,
			total_videos INTEGER NOT NULL DEFAULT 0,
			downloaded_videos INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS publish_tasks (
			source_folder_path TEXT PRIMARY KEY,
			project_name TEXT NOT NULL,
			destination_chat_id BIGINT NOT NULL DEFAULT 0,
			current_step TEXT NOT NULL DEFAULT 'init',
			status TEXT NOT NULL DEFAULT 'pending',
			is_started BOOLEAN NOT NULL DEFAULT FALSE,
			is_zipped BOOLEAN NOT NULL DEFAULT FALSE,
			is_reported BOOLEAN NOT NULL DEFAULT FALSE,
			is_reencode_auth BOOLEAN NOT NULL DEFAULT FALSE,
			is_reencoded BOOLEAN NOT NULL DEFAULT FALSE,
			is_joined BOOLEAN NOT NULL DEFAULT FALSE,
			is_timestamped BOOLEAN NOT NULL DEFAULT FALSE,
			is_upload_auth BOOLEAN NOT NULL DEFAULT FALSE,
			is_published BOOLEAN NOT NULL DEFAULT FALSE,
			last_uploaded_file TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_publish_tasks_status ON publish_tasks(status)`,

		`ALTER TABLE sync_tasks ADD COLUMN IF NOT EXISTS cloning_strategy TEXT NOT NULL DEFAULT 'unknown'`,
		`ALTER TABLE download_tasks ADD COLUMN IF NOT EXISTS total_videos INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE download_tasks ADD COLUMN IF NOT EXISTS downloaded_videos INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE publish_tasks ADD COLUMN IF NOT EXISTS last_uploaded_file TEXT NOT NULL DEFAULT ''`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- sync tasks ---

// CreateSyncTask inserts a task unless one already exists for the
// origin. Existing progress is never reset.
func (s *Store) CreateSyncTask(ctx context.Context, t clonechat.SyncTask) error {
	strategy := t.Strategy
	if strategy == "" {
		strategy = clonechat.StrategyUnknown
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_tasks
		 (origin_chat_id, origin_chat_title, destination_chat_id, cloning_strategy, last_synced_message_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (origin_chat_id) DO NOTHING`,
		t.OriginID, t.OriginTitle, t.DestID, string(strategy), t.LastSyncedID)
	if err != nil {
		return fmt.Errorf("postgres: create sync task: %w", err)
	}
	return nil
}

func (s *Store) GetSyncTask(ctx context.Context, originID int64) (clonechat.SyncTask, error) {
	var t clonechat.SyncTask
	var strategy string
	err := s.pool.QueryRow(ctx,
		`SELECT origin_chat_id, origin_chat_title, destination_chat_id, cloning_strategy, last_synced_message_id
		 FROM sync_tasks WHERE origin_chat_id = $1`, originID,
	).Scan(&t.OriginID, &t.OriginTitle, &t.DestID, &strategy, &t.LastSyncedID)
	if err == pgx.ErrNoRows {
		return clonechat.SyncTask{}, clonechat.ErrNotFound
	}
	if err != nil {
		return clonechat.SyncTask{}, fmt.Errorf("postgres: get sync task: %w", err)
	}
	t.Strategy = clonechat.Strategy(strategy)
	return t, nil
}

func (s *Store) SetSyncDestination(ctx context.Context, originID, destID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_tasks SET destination_chat_id = $1 WHERE origin_chat_id = $2`,
		destID, originID)
	if err != nil {
		return fmt.Errorf("postgres: set sync destination: %w", err)
	}
	return nil
}

func (s *Store) SetSyncStrategy(ctx context.Context, originID int64, strategy clonechat.Strategy) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_tasks SET cloning_strategy = $1 WHERE origin_chat_id = $2`,
		string(strategy), originID)
	if err != nil {
		return fmt.Errorf("postgres: set sync strategy: %w", err)
	}
	return nil
}

// AdvanceSyncTask moves the checkpoint forward. The WHERE guard makes
// stale or repeated calls no-ops, so re-runs never move it backwards.
func (s *Store) AdvanceSyncTask(ctx context.Context, originID int64, messageID int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_tasks SET last_synced_message_id = $1
		 WHERE origin_chat_id = $2 AND last_synced_message_id < $1`,
		messageID, originID)
	if err != nil {
		return fmt.Errorf("postgres: advance sync task: %w", err)
	}
	return nil
}

func (s *Store) DeleteSyncTask(ctx context.Context, originID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_tasks WHERE origin_chat_id = $1`, originID)
	if err != nil {
		return fmt.Errorf("postgres: delete sync task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clonechat.ErrNotFound
	}
	return nil
}

// --- download tasks ---

func (s *Store) CreateDownloadTask(ctx context.Context, t clonechat.DownloadTask) error {
	now := clonechat.NowUnix()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO download_tasks
		 (origin_chat_id, origin_chat_title, last_downloaded_message_id, total_videos, downloaded_videos, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (origin_chat_id) DO NOTHING`,
		t.OriginID, t.OriginTitle, t.LastDownloadedID, t.TotalVideos, t.DownloadedVideos, now, now)
	if err != nil {
		return fmt.Errorf("postgres: create download task: %w", err)
	}
	return nil
}

func (s *Store) GetDownloadTask(ctx context.Context, originID int64) (clonechat.DownloadTask, error) {
	var t clonechat.DownloadTask
	err := s.pool.QueryRow(ctx,
		`SELECT origin_chat_id, origin_chat_title, last_downloaded_message_id, total_videos, downloaded_videos, created_at, updated_at
		 FROM download_tasks WHERE origin_chat_id = $1`, originID,
	).Scan(&t.OriginID, &t.OriginTitle, &t.LastDownloadedID, &t.TotalVideos, &t.DownloadedVideos, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return clonechat.DownloadTask{}, clonechat.ErrNotFound
	}
	if err != nil {
		return clonechat.DownloadTask{}, fmt.Errorf("postgres: get download task: %w", err)
	}
	return t, nil
}

func (s *Store) SetDownloadTotal(ctx context.Context, originID int64, total int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE download_tasks SET total_videos = $1, updated_at = $2 WHERE origin_chat_id = $3`,
		total, clonechat.NowUnix(), originID)
	if err != nil {
		return fmt.Errorf("postgres: set download total: %w", err)
	}
	return nil
}

// AdvanceDownloadTask moves the checkpoint forward and stores the
// absolute downloaded count. Guarded like AdvanceSyncTask.
func (s *Store) AdvanceDownloadTask(ctx context.Context, originID int64, messageID, downloaded int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE download_tasks
		 SET last_downloaded_message_id = $1, downloaded_videos = $2, updated_at = $3
		 WHERE origin_chat_id = $4 AND last_downloaded_message_id < $1`,
		messageID, downloaded, clonechat.NowUnix(), originID)
	if err != nil {
		return fmt.Errorf("postgres: advance download task: %w", err)
	}
	return nil
}

func (s *Store) DeleteDownloadTask(ctx context.Context, originID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM download_tasks WHERE origin_chat_id = $1`, originID)
	if err != nil {
		return fmt.Errorf("postgres: delete download task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clonechat.ErrNotFound
	}
	return nil
}

// --- publish tasks ---

func (s *Store) CreatePublishTask(ctx context.Context, t clonechat.PublishTask) error {
	now := clonechat.NowUnix()
	step := t.CurrentStep
	if step == "" {
		step = clonechat.StepInit
	}
	status := t.Status
	if status == "" {
		status = clonechat.StatusPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO publish_tasks
		 (source_folder_path, project_name, destination_chat_id, current_step, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (source_folder_path) DO NOTHING`,
		t.SourceFolder, t.ProjectName, t.DestID, string(step), string(status), now, now)
	if err != nil {
		return fmt.Errorf("postgres: create publish task: %w", err)
	}
	return nil
}

func (s *Store) GetPublishTask(ctx context.Context, sourceFolder string) (clonechat.PublishTask, error) {
	var t clonechat.PublishTask
	var step, status string
	err := s.pool.QueryRow(ctx,
		`SELECT source_folder_path, project_name, destination_chat_id, current_step, status,
		        is_started, is_zipped, is_reported, is_reencode_auth, is_reencoded,
		        is_joined, is_timestamped, is_upload_auth, is_published,
		        last_uploaded_file, created_at, updated_at
		 FROM publish_tasks WHERE source_folder_path = $1`, sourceFolder,
	).Scan(&t.SourceFolder, &t.ProjectName, &t.DestID, &step, &status,
		&t.Started, &t.Zipped, &t.Reported, &t.ReencodeAuthed, &t.Reencoded,
		&t.Joined, &t.Timestamped, &t.UploadAuthed, &t.Published,
		&t.LastUploadedFile, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return clonechat.PublishTask{}, clonechat.ErrNotFound
	}
	if err != nil {
		return clonechat.PublishTask{}, fmt.Errorf("postgres: get publish task: %w", err)
	}
	t.CurrentStep = clonechat.Step(step)
	t.Status = clonechat.Status(status)
	return t, nil
}

func (s *Store) SetPublishDestination(ctx context.Context, sourceFolder string, destID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE publish_tasks SET destination_chat_id = $1, updated_at = $2 WHERE source_folder_path = $3`,
		destID, clonechat.NowUnix(), sourceFolder)
	if err != nil {
		return fmt.Errorf("postgres: set publish destination: %w", err)
	}
	return nil
}

func (s *Store) SetPublishStatus(ctx context.Context, sourceFolder string, status clonechat.Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE publish_tasks SET status = $1, updated_at = $2 WHERE source_folder_path = $3`,
		string(status), clonechat.NowUnix(), sourceFolder)
	if err != nil {
		return fmt.Errorf("postgres: set publish status: %w", err)
	}
	return nil
}

func (s *Store) SetPublishUploadMarker(ctx context.Context, sourceFolder, file string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE publish_tasks SET last_uploaded_file = $1, updated_at = $2 WHERE source_folder_path = $3`,
		file, clonechat.NowUnix(), sourceFolder)
	if err != nil {
		return fmt.Errorf("postgres: set publish upload marker: %w", err)
	}
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
	column, ok := publishLatchColumns[completed]
	if !ok {
		return fmt.Errorf("postgres: advance publish step: unknown step %q", completed)
	}
	// The column name comes from the fixed map above, never from input.
	query := fmt.Sprintf(
		`UPDATE publish_tasks SET %s = TRUE, current_step = $1, updated_at = $2 WHERE source_folder_path = $3`,
		column,
	)
	_, err := s.pool.Exec(ctx, query, string(completed.Next()), clonechat.NowUnix(), sourceFolder)
	if err != nil {
		return fmt.Errorf("postgres: advance publish step: %w", err)
	}
	return nil
}

func (s *Store) DeletePublishTask(ctx context.Context, sourceFolder string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM publish_tasks WHERE source_folder_path = $1`, sourceFolder)
	if err != nil {
		return fmt.Errorf("postgres: delete publish task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return clonechat.ErrNotFound
	}
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}
