package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "merge.strategy")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBranchingModes returns the supported hierarchy modes.
func ValidBranchingModes() []string {
	return []string{"flat", "prd", "epic"}
}

// ValidSyncStrategies returns the strategies usable for parent syncs.
func ValidSyncStrategies() []string {
	return []string{"merge", "rebase"}
}

// ValidMergeStrategies returns the strategies usable for task merges.
func ValidMergeStrategies() []string {
	return []string{"merge", "squash", "rebase"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateBranching()...)
	errors = append(errors, c.validateStrategies()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateDiagnose()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	for field, path := range map[string]string{
		"paths.worktree_dir": c.Paths.WorktreeDir,
		"paths.state_dir":    c.Paths.StateDir,
	} {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
		if len(path) > 4096 {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path[:50] + "...",
				Message: "path exceeds maximum length of 4096 characters",
			})
		}
	}

	// Map iteration order is random; keep output stable.
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateBranching() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBranchingModes(), c.Branching.Mode) {
		errors = append(errors, ValidationError{
			Field:   "branching.mode",
			Value:   c.Branching.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBranchingModes(), ", ")),
		})
	}

	if c.Branching.PRDID != "" && !strings.HasPrefix(c.Branching.PRDID, "PRD-") {
		errors = append(errors, ValidationError{
			Field:   "branching.prd_id",
			Value:   c.Branching.PRDID,
			Message: "must start with PRD-",
		})
	}
	if c.Branching.EpicID != "" && !strings.HasPrefix(c.Branching.EpicID, "E") {
		errors = append(errors, ValidationError{
			Field:   "branching.epic_id",
			Value:   c.Branching.EpicID,
			Message: "must start with E",
		})
	}
	if strings.ContainsAny(c.Branching.MainBranch, " ~^:?*[\\") {
		errors = append(errors, ValidationError{
			Field:   "branching.main_branch",
			Value:   c.Branching.MainBranch,
			Message: "is not a valid branch name",
		})
	}

	return errors
}

func (c *Config) validateStrategies() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidSyncStrategies(), c.Sync.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "sync.strategy",
			Value:   c.Sync.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSyncStrategies(), ", ")),
		})
	}
	if !slices.Contains(ValidMergeStrategies(), c.Merge.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "merge.strategy",
			Value:   c.Merge.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidMergeStrategies(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	if len(c.Agent.Command) == 0 || strings.TrimSpace(c.Agent.Command[0]) == "" {
		return []ValidationError{{
			Field:   "agent.command",
			Value:   c.Agent.Command,
			Message: "must name an executable",
		}}
	}
	return nil
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError

	if c.State.LockTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "state.lock_timeout",
			Value:   c.State.LockTimeout,
			Message: "must be positive",
		})
	}
	if c.State.LockRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "state.lock_retries",
			Value:   c.State.LockRetries,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateDiagnose() []ValidationError {
	var errors []ValidationError

	if c.Diagnose.Parallelism < 1 || c.Diagnose.Parallelism > 64 {
		errors = append(errors, ValidationError{
			Field:   "diagnose.parallelism",
			Value:   c.Diagnose.Parallelism,
			Message: "must be between 1 and 64",
		})
	}
	if c.Diagnose.WatchDebounce < 0 {
		errors = append(errors, ValidationError{
			Field:   "diagnose.watch_debounce",
			Value:   c.Diagnose.WatchDebounce,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
