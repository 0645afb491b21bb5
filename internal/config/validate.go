package config

import (
	"fmt"

	"stashd/internal/store"
)

// Validate performs the structural checks that do not need any running
// service. The config manager calls it before committing a reload, so a
// broken edit never reaches subscribers.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.lock_stale_ceiling", c.Scheduler.LockStaleCeiling); err != nil {
		return err
	}
	if c.Scheduler.PruneRatePerSec < 0 {
		return fmt.Errorf("scheduler.prune_rate_per_sec: must be >= 0")
	}

	if len(c.Runner.Command) == 0 {
		return fmt.Errorf("runner.command: required")
	}

	for id, dest := range c.Destinations {
		if !store.ValidID(id) {
			return fmt.Errorf("destinations: invalid id %q", id)
		}
		switch dest.Kind {
		case "", "localdir":
			if dest.Root == "" {
				return fmt.Errorf("destinations.%s.root: required", id)
			}
		default:
			return fmt.Errorf("destinations.%s.kind: unknown kind %q", id, dest.Kind)
		}
	}

	for owner, accounts := range c.Owners {
		if owner == "" {
			return fmt.Errorf("owners: empty owner name")
		}
		for _, account := range accounts {
			if account == "" {
				return fmt.Errorf("owners.%s: empty account name", owner)
			}
		}
	}

	if c.Notify != nil && c.Notify.Enabled {
		if c.Notify.Token == "" {
			return fmt.Errorf("notify.token: required when notify is enabled")
		}
		if c.Notify.ChatID == 0 {
			return fmt.Errorf("notify.chat_id: required when notify is enabled")
		}
		if _, err := ParseDurationField("notify.poll_timeout", c.Notify.PollTimeout); err != nil {
			return err
		}
	}
	if c.StatusAPI != nil && c.StatusAPI.Enabled {
		for path, raw := range map[string]string{
			"status_api.read_timeout":  c.StatusAPI.ReadTimeout,
			"status_api.write_timeout": c.StatusAPI.WriteTimeout,
			"status_api.idle_timeout":  c.StatusAPI.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}
	return nil
}
