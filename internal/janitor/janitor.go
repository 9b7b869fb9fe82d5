// Package janitor prunes finished jobs on a cron schedule so the queue table
// does not grow without bound.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"animecast/internal/storage"
	"animecast/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a standard 5-field cron spec.
	Schedule string
	// MaxAge keeps done/error jobs around this long for inspection.
	MaxAge time.Duration
}

type Service struct {
	cfg   Config
	store storage.Store
	log   logx.Logger
	cron  *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 4 * * *"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.prune); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.Info("janitor started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("max_age", s.cfg.MaxAge),
	)
	return nil
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	n, err := s.store.PruneJobs(ctx, cutoff)
	if err != nil {
		s.log.Warn("job prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("finished jobs pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}
