// Package daemon runs the periodic pass trigger. The cron spec only decides
// when a pass is attempted; correctness still rests on the durable run lock,
// so several daemons (or cron(8) one-shots) can coexist safely.
package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"stashd/internal/processor"
	"stashd/internal/runlock"
	"stashd/pkg/logx"
)

type Config struct {
	// Cron is a standard five-field spec. Default: every five minutes.
	Cron     string
	Timezone string
}

type Trigger struct {
	cfg  Config
	proc *processor.Processor
	lock *runlock.Manager
	log  logx.Logger

	// running guards against trigger overlap inside this process; a pass
	// slower than the cron interval is skipped locally without touching
	// the durable lock.
	running sync.Mutex

	// passActive mutes the idle watchdog ticker while a pass is in
	// flight, so only lock heartbeats count as liveness then.
	passActive atomic.Bool
}

func New(cfg Config, proc *processor.Processor, lock *runlock.Manager, log logx.Logger) *Trigger {
	if cfg.Cron == "" {
		cfg.Cron = "*/5 * * * *"
	}
	return &Trigger{cfg: cfg, proc: proc, lock: lock, log: log}
}

// Run blocks until ctx is cancelled. On systemd: READY is signalled once the
// trigger is armed, and the watchdog is petted on every lock heartbeat plus
// an idle ticker, so a wedged pass (no heartbeats) trips the watchdog while
// a long healthy one does not.
func (t *Trigger) Run(ctx context.Context) error {
	loc := time.Local
	if t.cfg.Timezone != "" {
		l, err := time.LoadLocation(t.cfg.Timezone)
		if err != nil {
			return err
		}
		loc = l
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(t.cfg.Cron, func() { t.firePass(ctx) }); err != nil {
		return err
	}

	stopWatchdog := t.startWatchdog(ctx)
	defer stopWatchdog()

	c.Start()
	t.log.Info("daemon started",
		logx.String("cron", t.cfg.Cron),
		logx.String("tz", loc.String()))
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)

	<-ctx.Done()
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)

	// Stop delivering triggers, then wait for an in-flight pass to end.
	stopCtx := c.Stop()
	<-stopCtx.Done()
	t.log.Info("daemon stopped")
	return nil
}

func (t *Trigger) firePass(ctx context.Context) {
	if !t.running.TryLock() {
		t.log.Info("previous pass still running, trigger skipped")
		return
	}
	defer t.running.Unlock()

	t.passActive.Store(true)
	defer t.passActive.Store(false)

	rep, err := t.proc.Pass(ctx)
	if err != nil {
		t.log.Error("pass failed", logx.Err(err))
		return
	}
	if rep.Skipped {
		return
	}
	t.log.Debug("pass report",
		logx.Int("materialized", rep.Materialized),
		logx.Int("processed", rep.Processed),
		logx.Int("pruned", rep.Pruned))
}

// startWatchdog wires WATCHDOG=1 pets: one per lock heartbeat (forward
// progress inside a pass) and a half-interval ticker that fires only while
// no pass is in flight. During a pass the heartbeats are the sole liveness
// signal, so a wedged pass stops petting and trips the watchdog.
func (t *Trigger) startWatchdog(ctx context.Context) (stop func()) {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return func() {}
	}

	pet := func() { _, _ = sd.SdNotify(false, sd.SdNotifyWatchdog) }
	t.lock.SetOnTouch(pet)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if !t.passActive.Load() {
					pet()
				}
			}
		}
	}()
	return func() {
		close(done)
		t.lock.SetOnTouch(nil)
	}
}
