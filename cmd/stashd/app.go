package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"stashd/internal/config"
	"stashd/internal/engine"
	"stashd/internal/manifest"
	"stashd/internal/notify"
	"stashd/internal/processor"
	"stashd/internal/runlock"
	"stashd/internal/store"
	"stashd/pkg/logx"
)

// app wires the long-lived components from a validated config. The same
// wiring backs the daemon, the one-shot pass and the status command.
type app struct {
	cfg      *config.Config
	mgr      *config.Manager
	logs     *logx.Service
	log      logx.Logger
	st       store.Store
	lock     *runlock.Manager
	access   *engine.StaticResolver
	proc     *processor.Processor
	queue    *notify.Queue // nil when notifications are disabled
	registry *prometheus.Registry
}

func newApp(cfgPath string) (*app, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{cfg: cfg, mgr: mgr, logs: logs, log: log, st: st}

	ceiling, err := config.ParseDurationOrDefault("scheduler.lock_stale_ceiling",
		cfg.Scheduler.LockStaleCeiling, runlock.DefaultStaleCeiling)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.lock = runlock.New(st, nil, log.With(logx.String("comp", "runlock")),
		runlock.WithStaleCeiling(ceiling))

	runner, err := engine.NewExecRunner(cfg.Runner.Command, log.With(logx.String("comp", "runner")))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.access = engine.NewStaticResolver(cfg.Owners)

	var notifier processor.Notifier
	if nc := cfg.Notify; nc != nil && nc.Enabled {
		poll, err := config.ParseDurationField("notify.poll_timeout", nc.PollTimeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		sender, err := notify.NewTelegramSender(nc.Token, nc.ChatID, poll)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		a.queue = notify.New(notify.Config{
			QueueSize:  nc.QueueSize,
			RatePerSec: nc.RatePerSec,
		}, sender, log.With(logx.String("comp", "notify")))
		notifier = a.queue
	}

	a.registry = prometheus.NewRegistry()
	a.proc = processor.New(processor.Deps{
		Store:        st,
		Ledger:       manifest.New(st),
		Lock:         a.lock,
		Runner:       runner,
		Transport:    engine.LocalDirTransport{},
		Access:       a.access,
		Audit:        engine.StoreAudit{St: st, Log: log.With(logx.String("comp", "audit"))},
		Notifier:     notifier,
		Destinations: a.destinations,
		Log:          log.With(logx.String("comp", "processor")),
		PruneRate:    cfg.Scheduler.PruneRatePerSec,
		Metrics:      processor.NewMetrics(a.registry),
	})
	return a, nil
}

// destinations converts the committed config's destination table. Reads go
// through the manager so config reloads take effect on the next pass.
func (a *app) destinations() map[string]engine.Destination {
	cfg := a.mgr.Get()
	if cfg == nil {
		return nil
	}
	out := make(map[string]engine.Destination, len(cfg.Destinations))
	for id, d := range cfg.Destinations {
		kind := d.Kind
		if kind == "" {
			kind = "localdir"
		}
		out[id] = engine.Destination{
			ID:      id,
			Kind:    kind,
			Root:    d.Root,
			Enabled: d.Enabled,
			Options: d.Options,
		}
	}
	return out
}

// applyReload pushes a committed config update into the running components.
func (a *app) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.access.Replace(cfg.Owners)
	a.log.Info("config reloaded",
		logx.Int("destinations", len(cfg.Destinations)),
		logx.Int("owners", len(cfg.Owners)))
}

func (a *app) Close() {
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
