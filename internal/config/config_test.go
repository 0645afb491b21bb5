package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const validJSON = `{
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "file", "path": "/tmp/stashd"},
  "scheduler": {"enabled": true, "cron": "*/5 * * * *", "lock_stale_ceiling": "30m"},
  "runner": {"command": ["backup-tool", "{type}", "{account}", "{root}"]},
  "destinations": {
    "nas": {"kind": "localdir", "root": "/backups", "enabled": true}
  },
  "owners": {"ops": ["alfa", "bravo"]}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "stashd.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Scheduler.LockStaleCeiling != "30m" {
		t.Fatalf("cfg: %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "stashd.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: /tmp/stashd.db
  busy_timeout: 5s
scheduler:
  enabled: true
runner:
  command: ["backup-tool", "{account}"]
destinations:
  nas:
    kind: localdir
    root: /backups
    enabled: true
owners:
  ops: [alfa]
`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("cfg: %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "stashd.json",
		strings.Replace(validJSON, `"logging"`, `"lgoging"`, 1)))
	if _, err := m.Load(); err == nil {
		t.Fatalf("misspelled key accepted")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "stashd.json", validJSON+"{}"))
	if _, err := m.Load(); err == nil {
		t.Fatalf("trailing data accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Storage: StorageConfig{Driver: "file", Path: "/tmp/s"},
			Runner:  RunnerConfig{Command: []string{"backup-tool"}},
			Destinations: map[string]DestinationConfig{
				"nas": {Kind: "localdir", Root: "/backups", Enabled: true},
			},
			Owners: map[string][]string{"ops": {"alfa"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"valid", func(*Config) {}, true},
		{"bad driver", func(c *Config) { c.Storage.Driver = "etcd" }, false},
		{"bad ceiling", func(c *Config) { c.Scheduler.LockStaleCeiling = "soon" }, false},
		{"negative prune rate", func(c *Config) { c.Scheduler.PruneRatePerSec = -1 }, false},
		{"no runner command", func(c *Config) { c.Runner.Command = nil }, false},
		{"bad destination id", func(c *Config) {
			c.Destinations[".hidden"] = DestinationConfig{Kind: "localdir", Root: "/x"}
		}, false},
		{"unknown destination kind", func(c *Config) {
			c.Destinations["s3"] = DestinationConfig{Kind: "s3", Root: "bucket"}
		}, false},
		{"localdir without root", func(c *Config) {
			c.Destinations["bad"] = DestinationConfig{Kind: "localdir"}
		}, false},
		{"empty account", func(c *Config) { c.Owners["ops"] = []string{""} }, false},
		{"notify enabled without token", func(c *Config) {
			c.Notify = &NotifyConfig{Enabled: true, ChatID: 42}
		}, false},
		{"notify disabled needs nothing", func(c *Config) {
			c.Notify = &NotifyConfig{Enabled: false}
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantOK && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
