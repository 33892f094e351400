package worktree

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Iron-Ham/agentree/internal/errors"
)

// Branch name prefixes. Names are pure functions of entity type and ID.
const (
	TaskBranchPrefix      = "task/"
	PRDBranchPrefix       = "prd/"
	EpicBranchPrefix      = "epic/"
	MergeBranchPrefix     = "merge/"
	ReconcileBranchPrefix = "reconcile/"
)

var (
	taskIDPattern = regexp.MustCompile(`^T[0-9A-Za-z][0-9A-Za-z._-]*$`)
	epicIDPattern = regexp.MustCompile(`^E[0-9A-Za-z][0-9A-Za-z._-]*$`)
	prdIDPattern  = regexp.MustCompile(`^PRD-[0-9A-Za-z][0-9A-Za-z._-]*$`)
)

// TaskBranch returns the branch for a task, e.g. task/T001.
func TaskBranch(taskID string) string { return TaskBranchPrefix + taskID }

// PRDBranch returns the branch for a PRD, e.g. prd/PRD-001.
func PRDBranch(prdID string) string { return PRDBranchPrefix + prdID }

// EpicBranch returns the branch for an epic, e.g. epic/E01.
func EpicBranch(epicID string) string { return EpicBranchPrefix + epicID }

// MergeBranch returns the integration branch used to merge src into dst,
// e.g. merge/E01-to-PRD-001.
func MergeBranch(src, dst string) string { return MergeBranchPrefix + src + "-to-" + dst }

// ReconcileBranch returns the branch used to reconcile an entity.
func ReconcileBranch(id string) string { return ReconcileBranchPrefix + id }

// TaskIDFromBranch extracts the task ID from a task branch name.
func TaskIDFromBranch(branch string) (string, bool) {
	branch = strings.TrimPrefix(branch, "refs/heads/")
	if !strings.HasPrefix(branch, TaskBranchPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(branch, TaskBranchPrefix)
	return id, id != ""
}

// WorktreePath returns the worktree directory for a task: <root>/<taskID>.
func (m *Manager) WorktreePath(taskID string) string {
	return filepath.Join(m.worktreeRoot, taskID)
}

// WorktreeRoot returns the directory holding all task worktrees.
func (m *Manager) WorktreeRoot() string {
	return m.worktreeRoot
}

// ValidateTaskID checks that id looks like a task ID (T001, T1.2, ...).
func ValidateTaskID(id string) error {
	return validateID("task", id, taskIDPattern, "must start with T followed by letters, digits, '.', '_' or '-'")
}

// ValidateEpicID checks that id looks like an epic ID (E01, ...).
func ValidateEpicID(id string) error {
	return validateID("epic", id, epicIDPattern, "must start with E followed by letters, digits, '.', '_' or '-'")
}

// ValidatePRDID checks that id looks like a PRD ID (PRD-001, ...).
func ValidatePRDID(id string) error {
	return validateID("prd", id, prdIDPattern, "must start with PRD- followed by letters, digits, '.', '_' or '-'")
}

func validateID(kind, id string, pattern *regexp.Regexp, message string) error {
	if pattern.MatchString(id) {
		return nil
	}
	return errors.NewValidationError(kind + " ID " + message).
		WithField(kind + "ID").
		WithValue(id)
}
