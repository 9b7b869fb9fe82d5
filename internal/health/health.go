// Package health serves the unauthenticated liveness endpoint used by
// external uptime probes.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"animecast/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

type Service struct {
	cfg Config
	log logx.Logger
	srv *http.Server
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// Router is exported for tests.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	alive := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Bot Alive"))
	}
	r.Get("/", alive)
	r.Get("/healthz", alive)
	return r
}

// Run blocks serving until ctx is done, then shuts the server down.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("liveness endpoint up", logx.String("addr", s.cfg.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
		return ctx.Err()
	}
}
