// Package watcher is the single-consumer polling loop over the job queue.
//
// Claim semantics are read-then-write with no store-level lock: the loop
// reads the oldest pending job, processes it, and the terminal status write
// is the commit. That admits double-processing if two watchers ever run, so
// the app wires exactly one instance; within it, jobs are strictly
// serialized, which also bounds edit concurrency on any announcement post to
// one.
package watcher

import (
	"context"
	"sync"
	"time"

	"animecast/internal/storage"
	"animecast/pkg/logx"
)

// Processor runs one job to completion (the announce state machine).
type Processor interface {
	Process(ctx context.Context, job *storage.Job) error
}

type Config struct {
	// PollInterval is the sleep between queue polls.
	PollInterval time.Duration
	// StoreBackoff is the sleep after a store failure, so an unavailable
	// store backs the loop off instead of spinning.
	StoreBackoff time.Duration
}

type Service struct {
	store storage.Store
	proc  Processor
	log   logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, store storage.Store, proc Processor, log logx.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, proc: proc, log: log}
}

// Apply updates the loop intervals at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.PollInterval > 0 {
		s.cfg.PollInterval = cfg.PollInterval
	}
	if cfg.StoreBackoff > 0 {
		s.cfg.StoreBackoff = cfg.StoreBackoff
	}
}

func (s *Service) intervals() (poll, backoff time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PollInterval, s.cfg.StoreBackoff
}

// Run polls until ctx is done. It never returns a non-cancellation error:
// per-job failures are recorded on the job, store failures back off the
// loop. Intended to run under the supervisor.
func (s *Service) Run(ctx context.Context) error {
	if n, err := s.store.CountPendingJobs(ctx); err == nil {
		s.log.Info("queue watcher started", logx.Int("pending", n))
	} else {
		s.log.Warn("queue watcher started; pending count unavailable", logx.Err(err))
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.Tick(ctx) {
			// Processed a job; poll again promptly in case more are queued.
			continue
		}

		poll, _ := s.intervals()
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick claims and processes at most one pending job. It reports whether a
// job was processed (regardless of that job's outcome).
func (s *Service) Tick(ctx context.Context) bool {
	job, err := s.store.NextPendingJob(ctx)
	if err != nil {
		_, backoff := s.intervals()
		s.log.Error("claim pending job failed; backing off",
			logx.Err(err),
			logx.Duration("backoff", backoff),
		)
		sleep(ctx, backoff)
		return false
	}
	if job == nil {
		return false
	}

	s.log.Info("job claimed",
		logx.Int64("job", job.ID),
		logx.String("anime", job.Anime),
		logx.Int("resolution", job.Resolution),
		logx.Int("files", len(job.FileIDs)),
	)

	start := time.Now()
	if perr := s.proc.Process(ctx, job); perr != nil {
		s.log.Error("job failed", logx.Int64("job", job.ID), logx.Err(perr))
		if merr := s.store.MarkJobError(ctx, job.ID, perr.Error()); merr != nil {
			s.log.Error("record job error failed", logx.Int64("job", job.ID), logx.Err(merr))
		}
		return true
	}

	if merr := s.store.MarkJobDone(ctx, job.ID); merr != nil {
		s.log.Error("record job done failed", logx.Int64("job", job.ID), logx.Err(merr))
		return true
	}
	s.log.Info("job done", logx.Int64("job", job.ID), logx.Duration("took", time.Since(start)))
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
