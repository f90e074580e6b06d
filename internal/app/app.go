// Package app wires the daemon together: config, logging, storage, the task
// registry, the notifier, and the optional metrics listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskassistant/internal/config"
	"taskassistant/internal/eventbus"
	"taskassistant/internal/metrics"
	"taskassistant/internal/notify"
	"taskassistant/internal/services/registry"
	"taskassistant/internal/storage"
	logx "taskassistant/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	store  storage.Store
	alerts *notify.Service
	reg    *registry.Service

	metricsSrv *http.Server

	watchCancel context.CancelFunc
	reloadCh    chan *config.Config
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	bus := eventbus.New()

	alerts, err := buildNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	refreshEvery, err := config.ParseDurationOrDefault(
		"registry.refresh_every", cfg.Registry.RefreshEvery, 30*time.Second)
	if err != nil {
		return nil, err
	}
	reg := registry.New(registry.Config{
		RefreshEvery: refreshEvery,
		Timezone:     cfg.Registry.Timezone,
	}, log.With(logx.String("comp", "registry")), bus, store, alerts)

	a := &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    log,
		bus:    bus,
		store:  store,
		alerts: alerts,
		reg:    reg,
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

func buildNotifier(cfg *config.Config, log logx.Logger) (*notify.Service, error) {
	ncfg, err := notifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	var sender notify.Sender
	if ncfg.Enabled {
		sender, err = notify.NewTelegramSender(cfg.Notifier.Token, cfg.Notifier.ChatID)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
	}
	return notify.New(ncfg, sender, log.With(logx.String("comp", "notify"))), nil
}

func notifierConfig(cfg *config.Config) (notify.Config, error) {
	if cfg.Notifier == nil {
		return notify.Config{}, nil
	}
	window, err := config.ParseDurationField("notifier.dedup_window", cfg.Notifier.DedupWindow)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:     cfg.Notifier.Enabled,
		QueueSize:   cfg.Notifier.QueueSize,
		RatePerSec:  cfg.Notifier.RatePerSec,
		DedupWindow: window,
	}, nil
}

func definitions(cfg *config.Config) ([]registry.Definition, error) {
	defs := make([]registry.Definition, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		rule, err := tc.Rule()
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", tc.Name, err)
		}
		start, err := tc.Start()
		if err != nil {
			return nil, err
		}
		defs = append(defs, registry.Definition{
			ID:        tc.EffectiveID(),
			Name:      tc.Name,
			Rule:      rule,
			StartDate: start,
		})
	}
	return defs, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	defs, err := definitions(cfg)
	if err != nil {
		return err
	}
	if err := a.reg.Apply(ctx, defs); err != nil {
		return err
	}

	a.alerts.Start(ctx)
	if err := a.reg.Start(ctx); err != nil {
		return err
	}

	if a.metricsSrv != nil {
		srv := a.metricsSrv
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.log.Info("metrics listening", logx.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", logx.Err(err))
			}
		}()
	}

	// Hot reload: watch the config file and re-apply validated configs.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.reloadCh = a.cfgm.Subscribe(4)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(watchCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		a.reloadLoop(watchCtx)
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("daemon started", logx.Int("tasks", len(defs)))
	return nil
}

func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.reloadCh:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.applyReload(ctx, cfg)
		}
	}
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if ncfg, err := notifierConfig(cfg); err == nil {
		a.alerts.Apply(ncfg)
	} else {
		a.log.Warn("notifier reload skipped", logx.Err(err))
	}

	defs, err := definitions(cfg)
	if err != nil {
		// Validate() ran at parse time, so this indicates a bug; keep the
		// previous task set either way.
		a.log.Error("task reload skipped", logx.Err(err))
		return
	}
	if err := a.reg.Apply(ctx, defs); err != nil {
		a.log.Error("task reload failed", logx.Err(err))
		return
	}
	a.reg.RefreshAll(ctx)
	metrics.RecordConfigReload()
	a.log.Info("config reloaded", logx.Int("tasks", len(defs)))
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.reloadCh != nil {
		a.cfgm.Unsubscribe(a.reloadCh)
		a.reloadCh = nil
	}

	a.reg.Stop(ctx)
	a.alerts.Stop(ctx)

	if a.metricsSrv != nil {
		sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.metricsSrv.Shutdown(sctx)
		cancel()
	}

	a.wg.Wait()

	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info("daemon stopped")
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry exposes the task registry for read access.
func (a *App) Registry() *registry.Service { return a.reg }
