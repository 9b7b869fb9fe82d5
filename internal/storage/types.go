package storage

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRecord marks rows that fail required-field validation at the
// store boundary. Business logic never sees half-formed documents.
var ErrInvalidRecord = errors.New("invalid record")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Job is one queued request to announce a single quality variant of a title.
// Status moves pending -> done|error exactly once and never back.
type Job struct {
	ID         int64
	Anime      string
	Resolution int
	FileIDs    []int
	Poster     string // file id or URL; "" means text post
	Genres     string
	Score      string
	MediaType  string
	Synopsis   string
	Status     JobStatus
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Post is the cached projection of a channel announcement message.
// The channel message itself is owned by the platform; this record can
// desync and gets reconciled by the announce state machine.
type Post struct {
	ID        int64
	Anime     string
	MessageID int
	Buttons   [][]Button
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Button mirrors transport.Button; kept separate so the store schema does not
// import the transport package.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Store interface {
	Close() error

	// Job queue.
	EnqueueJob(ctx context.Context, job Job) (int64, error)
	NextPendingJob(ctx context.Context) (*Job, error) // nil, nil when queue is empty
	CountPendingJobs(ctx context.Context) (int, error)
	MarkJobDone(ctx context.Context, id int64) error
	MarkJobError(ctx context.Context, id int64, cause string) error
	PruneJobs(ctx context.Context, olderThan time.Time) (int64, error)

	// Announcement posts.
	PostByAnime(ctx context.Context, anime string) (*Post, error) // nil, nil when absent
	InsertPost(ctx context.Context, post Post) (int64, error)
	UpdatePostButtons(ctx context.Context, id int64, rows [][]Button) error
	DeletePost(ctx context.Context, id int64) error
}
