// Package config loads agentree configuration through viper.
//
// Values come from (in increasing precedence) built-in defaults, the config
// file (~/.config/agentree/config.yaml or ./.agentree.yaml), and AGENTREE_*
// environment variables, e.g. AGENTREE_MERGE_STRATEGY=squash.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DirName is the per-repository directory holding worktrees and state.
const DirName = ".agentree"

// EnvPrefix prefixes environment overrides, e.g. AGENTREE_MERGE_STRATEGY.
const EnvPrefix = "AGENTREE"

// ProjectFileName is the per-repository config file, read from the
// repository root.
const ProjectFileName = ".agentree.yaml"

// Config represents the complete agentree configuration
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Branching BranchingConfig `mapstructure:"branching"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Agent     AgentConfig     `mapstructure:"agent"`
	State     StateConfig     `mapstructure:"state"`
	Diagnose  DiagnoseConfig  `mapstructure:"diagnose"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PathsConfig controls where agentree stores data
type PathsConfig struct {
	// WorktreeDir is the directory where task worktrees are created.
	// If empty, defaults to ".agentree/worktrees" relative to the repository root.
	// Supports ~ for home directory expansion.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// StateDir holds declared agent records, the state lock and debug.log.
	// If empty, defaults to ".agentree/state" relative to the repository root.
	StateDir string `mapstructure:"state_dir"`
}

// BranchingConfig describes the branch hierarchy tasks are created under.
type BranchingConfig struct {
	// Mode is one of "flat" (tasks branch from main), "prd" (main → prd/*)
	// or "epic" (main → prd/* → epic/*).
	Mode string `mapstructure:"mode"`
	// MainBranch overrides main branch detection (main, then master).
	MainBranch string `mapstructure:"main_branch"`
	// PRDID and EpicID are the default hierarchy IDs when a command does
	// not pass them explicitly.
	PRDID  string `mapstructure:"prd_id"`
	EpicID string `mapstructure:"epic_id"`
}

// SyncConfig controls how parent branches are brought up to date.
type SyncConfig struct {
	// Strategy is "merge" or "rebase".
	Strategy string `mapstructure:"strategy"`
	// BeforeSpawn syncs the task's parent branch with its own parent
	// before creating the task worktree (default: true).
	BeforeSpawn bool `mapstructure:"before_spawn"`
}

// MergeConfig controls how finished tasks are merged into their parent branch.
type MergeConfig struct {
	// Strategy is "merge", "squash" or "rebase".
	Strategy string `mapstructure:"strategy"`
	// Remote is the remote whose task branches are deleted on cleanup.
	// Empty disables remote branch deletion.
	Remote string `mapstructure:"remote"`
}

// AgentConfig controls the process started for a running agent.
type AgentConfig struct {
	// Command is the argv of the agent process. It runs with the task
	// worktree as its working directory and AGENTREE_TASK_ID set.
	Command []string `mapstructure:"command"`
}

// StateConfig controls the declared-state store.
type StateConfig struct {
	// LockTimeout bounds how long a command waits for the state lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	// LockRetries is the maximum number of lock attempts within LockTimeout.
	LockRetries int `mapstructure:"lock_retries"`
}

// DiagnoseConfig controls the diagnose command.
type DiagnoseConfig struct {
	// Parallelism bounds concurrent diagnoses for --all (default: 4).
	Parallelism int `mapstructure:"parallelism"`
	// WatchDebounce coalesces filesystem events in --watch mode.
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// ResolveWorktreeDir returns the absolute worktree root for the repository
// at baseDir.
func (p *PathsConfig) ResolveWorktreeDir(baseDir string) string {
	return resolvePath(p.WorktreeDir, baseDir, filepath.Join(DirName, "worktrees"))
}

// ResolveStateDir returns the absolute state directory for the repository
// at baseDir.
func (p *PathsConfig) ResolveStateDir(baseDir string) string {
	return resolvePath(p.StateDir, baseDir, filepath.Join(DirName, "state"))
}

// resolvePath expands ~ and resolves relative paths against baseDir.
func resolvePath(path, baseDir, fallback string) string {
	if path == "" {
		return filepath.Join(baseDir, fallback)
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{},
		Branching: BranchingConfig{
			Mode: "flat",
		},
		Sync: SyncConfig{
			Strategy:    "merge",
			BeforeSpawn: true,
		},
		Merge: MergeConfig{
			Strategy: "merge",
		},
		Agent: AgentConfig{
			Command: []string{"claude"},
		},
		State: StateConfig{
			LockTimeout: 5 * time.Second,
			LockRetries: 20,
		},
		Diagnose: DiagnoseConfig{
			Parallelism:   4,
			WatchDebounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// NewViper returns a viper instance with defaults registered and
// AGENTREE_* environment overrides enabled. Nested keys use underscores,
// e.g. AGENTREE_STATE_LOCK_TIMEOUT for state.lock_timeout.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	// Paths defaults
	v.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
	v.SetDefault("paths.state_dir", defaults.Paths.StateDir)

	// Branching defaults
	v.SetDefault("branching.mode", defaults.Branching.Mode)
	v.SetDefault("branching.main_branch", defaults.Branching.MainBranch)
	v.SetDefault("branching.prd_id", defaults.Branching.PRDID)
	v.SetDefault("branching.epic_id", defaults.Branching.EpicID)

	// Sync and merge defaults
	v.SetDefault("sync.strategy", defaults.Sync.Strategy)
	v.SetDefault("sync.before_spawn", defaults.Sync.BeforeSpawn)
	v.SetDefault("merge.strategy", defaults.Merge.Strategy)
	v.SetDefault("merge.remote", defaults.Merge.Remote)

	// Agent defaults
	v.SetDefault("agent.command", defaults.Agent.Command)

	// State store defaults
	v.SetDefault("state.lock_timeout", defaults.State.LockTimeout)
	v.SetDefault("state.lock_retries", defaults.State.LockRetries)

	// Diagnose defaults
	v.SetDefault("diagnose.parallelism", defaults.Diagnose.Parallelism)
	v.SetDefault("diagnose.watch_debounce", defaults.Diagnose.WatchDebounce)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// decodeHook lets config files spell durations as "5s" and the agent
// command as a single space-separated string.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
	))
}

// LoadFrom reads the configuration from v and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentree")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, ".config", "agentree")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
