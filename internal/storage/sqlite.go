package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"animecast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the sqlite store at cfg.Path and runs the
// embedded migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- jobs ----

func validateJob(j Job) error {
	switch {
	case strings.TrimSpace(j.Anime) == "":
		return fmt.Errorf("%w: job missing anime name", ErrInvalidRecord)
	case j.Resolution <= 0:
		return fmt.Errorf("%w: job resolution must be positive", ErrInvalidRecord)
	case len(j.FileIDs) == 0:
		return fmt.Errorf("%w: job has no file identifiers", ErrInvalidRecord)
	}
	for _, id := range j.FileIDs {
		if id <= 0 {
			return fmt.Errorf("%w: non-positive file identifier %d", ErrInvalidRecord, id)
		}
	}
	return nil
}

func (s *sqliteStore) EnqueueJob(ctx context.Context, job Job) (int64, error) {
	if err := validateJob(job); err != nil {
		return 0, err
	}
	ids, err := json.Marshal(job.FileIDs)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(anime, resolution, file_ids, poster, genres, score, media_type, synopsis, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		job.Anime, job.Resolution, string(ids), job.Poster, job.Genres, job.Score,
		job.MediaType, job.Synopsis, string(JobPending), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) NextPendingJob(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, anime, resolution, file_ids, poster, genres, score, media_type, synopsis, status, error, created_at, updated_at
		 FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		string(JobPending),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *sqliteStore) CountPendingJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, string(JobPending)).Scan(&n)
	return n, err
}

func (s *sqliteStore) MarkJobDone(ctx context.Context, id int64) error {
	return s.finishJob(ctx, id, JobDone, "")
}

func (s *sqliteStore) MarkJobError(ctx context.Context, id int64, cause string) error {
	return s.finishJob(ctx, id, JobError, cause)
}

// finishJob writes the terminal status. The WHERE clause keeps the
// pending -> done|error transition one-way even if called twice.
func (s *sqliteStore) finishJob(ctx context.Context, id int64, status JobStatus, cause string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), cause, now, id, string(JobPending),
	)
	return err
}

func (s *sqliteStore) PruneJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?,?) AND updated_at < ?`,
		string(JobDone), string(JobError), olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		fileIDs              string
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(&j.ID, &j.Anime, &j.Resolution, &fileIDs, &j.Poster, &j.Genres,
		&j.Score, &j.MediaType, &j.Synopsis, &status, &j.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fileIDs), &j.FileIDs); err != nil {
		return nil, fmt.Errorf("%w: job %d file_ids: %v", ErrInvalidRecord, j.ID, err)
	}
	j.Status = JobStatus(status)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	if err := validateJob(j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ---- posts ----

func (s *sqliteStore) PostByAnime(ctx context.Context, anime string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, anime, message_id, buttons, created_at, updated_at FROM posts WHERE anime = ?`,
		anime,
	)
	var (
		p                    Post
		buttons              string
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.Anime, &p.MessageID, &buttons, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(buttons), &p.Buttons); err != nil {
		return nil, fmt.Errorf("%w: post %d buttons: %v", ErrInvalidRecord, p.ID, err)
	}
	if p.MessageID <= 0 {
		return nil, fmt.Errorf("%w: post %d has no message id", ErrInvalidRecord, p.ID)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func (s *sqliteStore) InsertPost(ctx context.Context, post Post) (int64, error) {
	if strings.TrimSpace(post.Anime) == "" || post.MessageID <= 0 {
		return 0, fmt.Errorf("%w: post requires anime and message id", ErrInvalidRecord)
	}
	buttons, err := json.Marshal(post.Buttons)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(anime, message_id, buttons, created_at, updated_at) VALUES(?,?,?,?,?)`,
		post.Anime, post.MessageID, string(buttons), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) UpdatePostButtons(ctx context.Context, id int64, rows [][]Button) error {
	buttons, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`UPDATE posts SET buttons = ?, updated_at = ? WHERE id = ?`,
		string(buttons), now, id,
	)
	return err
}

func (s *sqliteStore) DeletePost(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	return err
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
