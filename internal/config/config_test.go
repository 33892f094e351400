package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Branching.Mode != "flat" {
		t.Errorf("Branching.Mode = %q, want flat", cfg.Branching.Mode)
	}
	if cfg.Sync.Strategy != "merge" || !cfg.Sync.BeforeSpawn {
		t.Errorf("Sync = %+v, want merge with BeforeSpawn", cfg.Sync)
	}
	if cfg.Merge.Strategy != "merge" {
		t.Errorf("Merge.Strategy = %q, want merge", cfg.Merge.Strategy)
	}
	if cfg.State.LockTimeout != 5*time.Second {
		t.Errorf("State.LockTimeout = %v, want 5s", cfg.State.LockTimeout)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate() = %v, want no errors", errs)
	}
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
branching:
  mode: epic
  prd_id: PRD-001
  epic_id: E01
merge:
  strategy: squash
agent:
  command: "claude --dangerously-skip-permissions"
state:
  lock_timeout: 2s
diagnose:
  watch_debounce: 250ms
`
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Branching.Mode != "epic" || cfg.Branching.EpicID != "E01" {
		t.Errorf("Branching = %+v", cfg.Branching)
	}
	if cfg.Merge.Strategy != "squash" {
		t.Errorf("Merge.Strategy = %q, want squash", cfg.Merge.Strategy)
	}
	if len(cfg.Agent.Command) != 2 || cfg.Agent.Command[1] != "--dangerously-skip-permissions" {
		t.Errorf("Agent.Command = %v", cfg.Agent.Command)
	}
	if cfg.State.LockTimeout != 2*time.Second {
		t.Errorf("State.LockTimeout = %v, want 2s", cfg.State.LockTimeout)
	}
	if cfg.Diagnose.WatchDebounce != 250*time.Millisecond {
		t.Errorf("Diagnose.WatchDebounce = %v, want 250ms", cfg.Diagnose.WatchDebounce)
	}
	// Unset keys keep their defaults.
	if cfg.Sync.Strategy != "merge" {
		t.Errorf("Sync.Strategy = %q, want default merge", cfg.Sync.Strategy)
	}
}

func TestLoadFrom_InvalidReturnsValidationErrors(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("merge.strategy", "octopus")
	v.Set("branching.mode", "tree")

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom() = nil error, want validation errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}
	if !strings.HasPrefix(err.Error(), "2 validation errors:") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad mode", func(c *Config) { c.Branching.Mode = "nested" }, "branching.mode"},
		{"bad prd id", func(c *Config) { c.Branching.PRDID = "P1" }, "branching.prd_id"},
		{"bad epic id", func(c *Config) { c.Branching.EpicID = "X1" }, "branching.epic_id"},
		{"bad main branch", func(c *Config) { c.Branching.MainBranch = "ma in" }, "branching.main_branch"},
		{"bad sync strategy", func(c *Config) { c.Sync.Strategy = "squash" }, "sync.strategy"},
		{"bad merge strategy", func(c *Config) { c.Merge.Strategy = "octopus" }, "merge.strategy"},
		{"empty agent command", func(c *Config) { c.Agent.Command = nil }, "agent.command"},
		{"zero lock timeout", func(c *Config) { c.State.LockTimeout = 0 }, "state.lock_timeout"},
		{"zero lock retries", func(c *Config) { c.State.LockRetries = 0 }, "state.lock_retries"},
		{"parallelism too high", func(c *Config) { c.Diagnose.Parallelism = 100 }, "diagnose.parallelism"},
		{"negative debounce", func(c *Config) { c.Diagnose.WatchDebounce = -1 }, "diagnose.watch_debounce"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"null in worktree dir", func(c *Config) { c.Paths.WorktreeDir = "a\x00b" }, "paths.worktree_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestResolveDirs(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name         string
		paths        PathsConfig
		wantWorktree string
		wantState    string
	}{
		{
			name:         "defaults",
			paths:        PathsConfig{},
			wantWorktree: "/repo/.agentree/worktrees",
			wantState:    "/repo/.agentree/state",
		},
		{
			name:         "relative",
			paths:        PathsConfig{WorktreeDir: "wt", StateDir: "st"},
			wantWorktree: "/repo/wt",
			wantState:    "/repo/st",
		},
		{
			name:         "absolute and home",
			paths:        PathsConfig{WorktreeDir: "/fast/wt", StateDir: "~/agentree"},
			wantWorktree: "/fast/wt",
			wantState:    filepath.Join(home, "agentree"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.paths.ResolveWorktreeDir("/repo"); got != tt.wantWorktree {
				t.Errorf("ResolveWorktreeDir() = %q, want %q", got, tt.wantWorktree)
			}
			if got := tt.paths.ResolveStateDir("/repo"); got != tt.wantState {
				t.Errorf("ResolveStateDir() = %q, want %q", got, tt.wantState)
			}
		})
	}
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != "/xdg/agentree" {
		t.Errorf("ConfigDir() = %q, want /xdg/agentree", got)
	}
	if got := ConfigFile(); got != "/xdg/agentree/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestNewViper_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTREE_MERGE_STRATEGY", "squash")
	t.Setenv("AGENTREE_STATE_LOCK_TIMEOUT", "2s")
	t.Setenv("AGENTREE_AGENT_COMMAND", "my-agent --task {task}")

	cfg, err := LoadFrom(NewViper())
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Merge.Strategy != "squash" {
		t.Errorf("Merge.Strategy = %q, want squash", cfg.Merge.Strategy)
	}
	if cfg.State.LockTimeout != 2*time.Second {
		t.Errorf("State.LockTimeout = %v, want 2s", cfg.State.LockTimeout)
	}
	if want := []string{"my-agent", "--task", "{task}"}; !slices.Equal(cfg.Agent.Command, want) {
		t.Errorf("Agent.Command = %q, want %q", cfg.Agent.Command, want)
	}
	if cfg.Diagnose.Parallelism != 4 {
		t.Errorf("Diagnose.Parallelism = %d, want default 4", cfg.Diagnose.Parallelism)
	}
}
