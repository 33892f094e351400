package worktree

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/agentree/internal/errors"
)

// Strategy is how a branch is integrated into another.
type Strategy string

const (
	// StrategyMerge creates a merge commit (git merge --no-edit).
	StrategyMerge Strategy = "merge"
	// StrategySquash collapses the branch into one commit (git merge --squash).
	StrategySquash Strategy = "squash"
	// StrategyRebase replays the branch onto the target and fast-forwards.
	StrategyRebase Strategy = "rebase"
)

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyMerge, StrategySquash, StrategyRebase:
		return Strategy(s), nil
	case "":
		return StrategyMerge, nil
	default:
		return "", errors.NewValidationError("unknown merge strategy").WithField("strategy").WithValue(s)
	}
}

// MergeSpec identifies a task merge so it can be started, resumed or
// aborted by separate commands. It is persisted with the agent record.
type MergeSpec struct {
	Strategy Strategy `yaml:"strategy"`
	Source   string   `yaml:"source"`
	Target   string   `yaml:"target"`
	// WorktreePath is the task worktree; rebases run there.
	WorktreePath string `yaml:"worktree_path"`
	// Dir is where the merge or rebase is actually performed and where
	// conflicts have to be resolved. Filled in by StartMerge.
	Dir string `yaml:"dir,omitempty"`
	// ReturnBranch is the branch checked out in the repository root before
	// the merge, restored once the merge finishes or is aborted.
	ReturnBranch string `yaml:"return_branch,omitempty"`
	// ReturnCommit is the commit HEAD was detached at when no branch was
	// checked out in the repository root.
	ReturnCommit string `yaml:"return_commit,omitempty"`
	Message      string `yaml:"message,omitempty"`
}

// MergeResult is the outcome of StartMerge. A conflict is a normal outcome,
// not an error: the merge is left stopped in Spec.Dir for resolution.
type MergeResult struct {
	Spec          MergeSpec
	Conflict      bool
	ConflictFiles []string
}

func (s *MergeSpec) commitMessage() string {
	if s.Message != "" {
		return s.Message
	}
	return fmt.Sprintf("Merge %s into %s", s.Source, s.Target)
}

// StartMerge integrates spec.Source into spec.Target.
//
// Merge and squash run in the repository root with the target checked out.
// Rebase runs `git rebase <target>` in the task worktree and then
// fast-forwards the target in the repository root.
func (m *Manager) StartMerge(spec MergeSpec) (*MergeResult, error) {
	if spec.Strategy == "" {
		spec.Strategy = StrategyMerge
	}
	for _, b := range []string{spec.Source, spec.Target} {
		if !m.BranchExists(b) {
			return nil, errors.NewGitError(fmt.Sprintf("branch %s does not exist", b), errors.ErrBranchNotFound).
				WithBranch(b)
		}
	}

	spec.ReturnBranch, spec.ReturnCommit = m.currentHead()
	result := &MergeResult{Spec: spec}

	if spec.Strategy == StrategyRebase {
		if spec.WorktreePath == "" {
			return nil, errors.NewValidationError("rebase merge needs the task worktree path").WithField("worktree_path")
		}
		result.Spec.Dir = spec.WorktreePath
		if _, err := m.git(spec.WorktreePath, "rebase", spec.Target); err != nil {
			if files := m.UnmergedFiles(spec.WorktreePath); len(files) > 0 || m.RebaseInProgress(spec.WorktreePath) {
				result.Conflict = true
				result.ConflictFiles = files
				m.logger.Info("rebase stopped on conflicts", "source", spec.Source, "target", spec.Target, "files", len(files))
				return result, nil
			}
			return nil, err
		}
		if err := m.fastForward(&result.Spec); err != nil {
			return nil, err
		}
		return result, nil
	}

	result.Spec.Dir = m.repoDir
	if spec.ReturnBranch != spec.Target {
		if _, err := m.git(m.repoDir, "checkout", spec.Target); err != nil {
			return nil, err
		}
	}

	var err error
	if spec.Strategy == StrategySquash {
		if _, err = m.git(m.repoDir, "merge", "--squash", spec.Source); err == nil {
			_, err = m.git(m.repoDir, "commit", "--no-verify", "-m", result.Spec.commitMessage())
		}
	} else {
		_, err = m.git(m.repoDir, "merge", "--no-edit", spec.Source)
	}

	if err != nil {
		if files := m.UnmergedFiles(m.repoDir); len(files) > 0 {
			result.Conflict = true
			result.ConflictFiles = files
			m.logger.Info("merge stopped on conflicts", "source", spec.Source, "target", spec.Target, "files", len(files))
			return result, nil
		}
		m.abortInProgress(m.repoDir, spec.Strategy)
		m.restoreHead(spec.ReturnBranch, spec.ReturnCommit)
		return nil, err
	}

	m.restoreHead(spec.ReturnBranch, spec.ReturnCommit)
	m.logger.Info("merged task branch", "source", spec.Source, "target", spec.Target, "strategy", string(spec.Strategy))
	return result, nil
}

// fastForward moves spec.Target to spec.Source in the repository root.
func (m *Manager) fastForward(spec *MergeSpec) error {
	if spec.ReturnBranch != spec.Target {
		if _, err := m.git(m.repoDir, "checkout", spec.Target); err != nil {
			return err
		}
	}
	_, err := m.git(m.repoDir, "merge", "--ff-only", spec.Source)
	m.restoreHead(spec.ReturnBranch, spec.ReturnCommit)
	return err
}

// AbortMerge abandons a stopped merge or rebase and restores the branch,
// or detached commit, that was checked out before it started. It is a no-op when nothing is in
// progress.
func (m *Manager) AbortMerge(spec MergeSpec) error {
	dir := spec.Dir
	if dir == "" {
		dir = m.repoDir
	}

	switch spec.Strategy {
	case StrategyRebase:
		if m.RebaseInProgress(dir) {
			if _, err := m.git(dir, "rebase", "--abort"); err != nil {
				return err
			}
		}
	case StrategySquash:
		if len(m.UnmergedFiles(dir)) > 0 || !m.IsClean(dir) {
			if _, err := m.git(dir, "reset", "--merge"); err != nil {
				return err
			}
		}
	default:
		if m.MergeInProgress(dir) {
			if _, err := m.git(dir, "merge", "--abort"); err != nil {
				return err
			}
		}
	}

	if dir == m.repoDir {
		m.restoreHead(spec.ReturnBranch, spec.ReturnCommit)
	}
	return nil
}

// CommitResolution stages the resolved files in spec.Dir and, for merge
// and squash, records the merge commit. For rebase the commit is made by
// ContinueMerge. Having nothing left to commit is not an error.
func (m *Manager) CommitResolution(spec MergeSpec) error {
	dir := spec.Dir
	if dir == "" {
		dir = m.repoDir
	}

	if files := m.UnmergedFiles(dir); len(files) > 0 {
		// `git add` would mark files with conflict markers as resolved.
		if err := m.checkNoConflictMarkers(dir, files); err != nil {
			return err
		}
	}

	if _, err := m.git(dir, "add", "-A"); err != nil {
		return err
	}
	if spec.Strategy == StrategyRebase {
		return nil
	}

	args := []string{"commit", "--no-verify", "--no-edit"}
	if spec.Strategy == StrategySquash {
		args = []string{"commit", "--no-verify", "-m", spec.commitMessage()}
	}
	if out, err := m.git(dir, args...); err != nil {
		if strings.Contains(out, "nothing to commit") || strings.Contains(out, "no changes added") {
			return nil
		}
		return err
	}
	return nil
}

// checkNoConflictMarkers fails if any of files still contains conflict markers.
func (m *Manager) checkNoConflictMarkers(dir string, files []string) error {
	args := append([]string{"diff", "--check", "--"}, files...)
	out, err := m.git(dir, args...)
	if err != nil && strings.Contains(out, "leftover conflict marker") {
		return errors.NewGitError("conflict markers remain in resolved files", errors.ErrConflictDetected).
			WithRepository(dir).
			WithGitOutput(out)
	}
	return nil
}

// ContinueMerge finishes a merge after its conflicts were committed. For a
// rebase it continues the rebase and fast-forwards the target; a rebase
// that stops on the next commit returns ErrConflictDetected. In all cases
// the original branch of the repository root is restored.
func (m *Manager) ContinueMerge(spec MergeSpec) error {
	if spec.Strategy != StrategyRebase {
		m.restoreHead(spec.ReturnBranch, spec.ReturnCommit)
		return nil
	}

	dir := spec.Dir
	if dir == "" {
		dir = spec.WorktreePath
	}
	if m.RebaseInProgress(dir) {
		if _, err := m.git(dir, "-c", "core.editor=true", "rebase", "--continue"); err != nil {
			if m.RebaseInProgress(dir) {
				return errors.NewGitError("rebase stopped on further conflicts", errors.ErrConflictDetected).
					WithWorktree(dir).
					WithBranch(spec.Source)
			}
			return err
		}
	}
	return m.fastForward(&spec)
}
