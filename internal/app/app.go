// Package app wires configuration, storage, the Telegram adapter and the
// services together, and owns their lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"animecast/internal/announce"
	"animecast/internal/config"
	"animecast/internal/delivery"
	"animecast/internal/health"
	"animecast/internal/janitor"
	"animecast/internal/ranges"
	rtsup "animecast/internal/runtime/supervisor"
	"animecast/internal/storage"
	"animecast/internal/transport"
	"animecast/internal/transport/telegram/adapter"
	"animecast/internal/watcher"
	"animecast/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	tg       *adapter.Adapter
	watch    *watcher.Service
	deliver  *delivery.Service
	clean    *janitor.Service
	liveness *health.Service

	sup     *rtsup.Supervisor
	updates chan transport.Update
}

// New loads and validates the config, then constructs every component.
// A missing required value is a fatal construction error.
func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	tg, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	announcer := announce.New(announce.Config{
		ChannelID: cfg.Channels.Main,
		RowWidth:  cfg.Announce.RowWidth,
		Footer:    cfg.Announce.Footer,
	}, store, tg, log.With(logx.String("comp", "announce")))

	watch := watcher.New(watcher.Config{
		PollInterval: cfg.WatcherPollInterval(),
		StoreBackoff: cfg.WatcherStoreBackoff(),
	}, store, announcer, log.With(logx.String("comp", "watcher")))

	resolver := ranges.NewResolver(tg, cfg.Channels.Archive, log.With(logx.String("comp", "resolver")))
	expiry := delivery.NewExpiryScheduler(tg, log.With(logx.String("comp", "expiry")))
	deliver := delivery.New(delivery.Config{
		Retention:      cfg.DeliveryRetention(),
		CopyRatePerSec: cfg.Delivery.CopyRatePerSec,
	}, tg, resolver, expiry, log.With(logx.String("comp", "delivery")))

	clean := janitor.New(janitor.Config{
		Enabled:  cfg.Janitor.Enabled,
		Schedule: cfg.Janitor.Schedule,
		MaxAge:   cfg.JanitorMaxAge(),
	}, store, log.With(logx.String("comp", "janitor")))

	liveness := health.New(health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
	}, log.With(logx.String("comp", "health")))

	return &App{
		cfgMgr:   cfgMgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		tg:       tg,
		watch:    watch,
		deliver:  deliver,
		clean:    clean,
		liveness: liveness,
		updates:  make(chan transport.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if err := a.tg.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	if err := a.clean.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	a.sup.GoRestart("queue.watcher", a.watch.Run)
	a.sup.GoRestart("delivery.dispatch", func(ctx context.Context) error {
		return a.deliver.Run(ctx, a.updates)
	})
	a.sup.GoRestart("health.listen", a.liveness.Run)
	a.sup.Go("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.apply", a.applyLoop)

	// Best-effort: only does anything under systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("animecast started", logx.String("bot", a.tg.Username()))
	return nil
}

// applyLoop pushes hot-reloaded config into the services that accept it.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-sub:
			if cfg == nil {
				continue
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.watch.Apply(watcher.Config{
				PollInterval: cfg.WatcherPollInterval(),
				StoreBackoff: cfg.WatcherStoreBackoff(),
			})
			a.deliver.Apply(delivery.Config{
				Retention:      cfg.DeliveryRetention(),
				CopyRatePerSec: cfg.Delivery.CopyRatePerSec,
			})
			a.log.Info("runtime config applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	_ = a.tg.Stop(ctx)
	a.deliver.Stop()
	a.clean.Stop()
	err := a.store.Close()
	_ = a.logSvc.Close()
	return err
}
