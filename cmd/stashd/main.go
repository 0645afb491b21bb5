// Package main is the entry point for the stashd CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stashd/internal/config"
	"stashd/internal/daemon"
	"stashd/internal/statusapi"
	"stashd/pkg/logx"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "stashd",
		Short:         "Backup/restore job scheduling daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "stashd.json", "path to config file")
	root.AddCommand(runCmd(&cfgPath), passCmd(&cfgPath), statusCmd(&cfgPath),
		jobCmd(&cfgPath), scheduleCmd(&cfgPath), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("stashd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling daemon (cron trigger, status API, config watch)",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.queue != nil {
				a.queue.Start(ctx)
				defer a.queue.Wait()
			}

			go func() { _ = a.mgr.Watch(ctx) }()
			sub := a.mgr.Subscribe(4)
			defer a.mgr.Unsubscribe(sub)
			go func() {
				for cfg := range sub {
					a.applyReload(cfg)
				}
			}()

			if sc := a.cfg.StatusAPI; sc != nil && sc.Enabled {
				srv, err := buildStatusAPI(a, sc)
				if err != nil {
					return err
				}
				go func() {
					if err := srv.Run(ctx); err != nil {
						a.log.Error("status api failed", logx.Err(err))
					}
				}()
			}

			if !a.cfg.Scheduler.Enabled {
				a.log.Info("scheduler disabled, serving status only")
				<-ctx.Done()
				return nil
			}

			trig := daemon.New(daemon.Config{
				Cron:     a.cfg.Scheduler.Cron,
				Timezone: a.cfg.Scheduler.Timezone,
			}, a.proc, a.lock, a.log.With(logx.String("comp", "daemon")))
			return trig.Run(ctx)
		},
	}
}

// passCmd runs exactly one pass and exits, the shape a cron(8) entry or a
// systemd timer wants. Lock contention exits zero: another runner holding
// the lock is a normal outcome.
func passCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pass",
		Short: "Run a single processing pass and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.queue != nil {
				a.queue.Start(ctx)
			}

			rep, err := a.proc.Pass(ctx)
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
}

func statusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current queue and lock state",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.proc.Snapshot(context.Background())
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
}

func buildStatusAPI(a *app, sc *config.StatusAPIConfig) (*statusapi.Server, error) {
	read, err := config.ParseDurationField("status_api.read_timeout", sc.ReadTimeout)
	if err != nil {
		return nil, err
	}
	write, err := config.ParseDurationField("status_api.write_timeout", sc.WriteTimeout)
	if err != nil {
		return nil, err
	}
	idle, err := config.ParseDurationField("status_api.idle_timeout", sc.IdleTimeout)
	if err != nil {
		return nil, err
	}
	return statusapi.New(statusapi.Config{
		Addr:         sc.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, a.st, a.proc, a.registry, a.log.With(logx.String("comp", "statusapi"))), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
