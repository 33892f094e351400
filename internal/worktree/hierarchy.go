package worktree

import (
	"fmt"

	"github.com/Iron-Ham/agentree/internal/errors"
)

// Mode selects how deep the branch hierarchy is.
type Mode string

const (
	// ModeFlat cuts task branches straight from main.
	ModeFlat Mode = "flat"
	// ModePRD cuts task branches from prd/<PRDID>.
	ModePRD Mode = "prd"
	// ModeEpic cuts task branches from epic/<EpicID>, itself cut from prd/<PRDID>.
	ModeEpic Mode = "epic"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFlat, ModePRD, ModeEpic:
		return Mode(s), nil
	case "":
		return ModeFlat, nil
	default:
		return "", errors.NewValidationError("unknown branching mode").WithField("mode").WithValue(s)
	}
}

// BranchingContext locates a task in the branch hierarchy.
type BranchingContext struct {
	PRDID      string `yaml:"prd_id,omitempty"`
	EpicID     string `yaml:"epic_id,omitempty"`
	Mode       Mode   `yaml:"mode,omitempty"`
	MainBranch string `yaml:"main_branch,omitempty"`
}

// BranchHierarchy returns the chain of branches above a task, root first:
// [main], [main, prd/X] or [main, prd/X, epic/Y]. Levels whose ID is empty
// are left out.
func (m *Manager) BranchHierarchy(bc BranchingContext) []string {
	main := bc.MainBranch
	if main == "" {
		main = m.MainBranch()
	}

	chain := []string{main}
	if (bc.Mode == ModePRD || bc.Mode == ModeEpic) && bc.PRDID != "" {
		chain = append(chain, PRDBranch(bc.PRDID))
	}
	if bc.Mode == ModeEpic && bc.EpicID != "" {
		chain = append(chain, EpicBranch(bc.EpicID))
	}
	return chain
}

// ParentBranch returns the branch a task is cut from and merged back into.
func (m *Manager) ParentBranch(bc BranchingContext) string {
	chain := m.BranchHierarchy(bc)
	return chain[len(chain)-1]
}

// EnsureBranch creates branch from base if it does not exist yet.
// It reports whether the branch was created.
func (m *Manager) EnsureBranch(branch, base string) (bool, error) {
	if m.BranchExists(branch) {
		return false, nil
	}
	if !m.BranchExists(base) {
		return false, errors.NewGitError(fmt.Sprintf("cannot create %s: base branch %s does not exist", branch, base), errors.ErrBranchNotFound).
			WithBranch(base)
	}
	if _, err := m.git(m.repoDir, "branch", branch, base); err != nil {
		return false, err
	}
	m.logger.Info("created branch", "branch", branch, "base", base)
	return true, nil
}

// HierarchyResult reports what EnsureBranchHierarchy did per branch.
type HierarchyResult struct {
	Branches []string
	Created  []string
	Errors   map[string]error
}

// OK reports whether every branch in the hierarchy now exists.
func (r *HierarchyResult) OK() bool {
	return len(r.Errors) == 0
}

// Err joins the per-branch errors, or returns nil.
func (r *HierarchyResult) Err() error {
	if r.OK() {
		return nil
	}
	var errs []error
	for _, branch := range r.Branches {
		if err, ok := r.Errors[branch]; ok {
			errs = append(errs, errors.Wrapf(err, "branch %s", branch))
		}
	}
	return errors.Join(errs...)
}

// EnsureBranchHierarchy creates any missing branch of the hierarchy, each
// from the level above it. It keeps going after a failure so the result
// shows every branch that could not be ensured.
func (m *Manager) EnsureBranchHierarchy(bc BranchingContext) *HierarchyResult {
	chain := m.BranchHierarchy(bc)
	result := &HierarchyResult{Branches: chain, Errors: map[string]error{}}

	if !m.BranchExists(chain[0]) {
		result.Errors[chain[0]] = errors.NewGitError("main branch does not exist", errors.ErrBranchNotFound).
			WithBranch(chain[0])
	}

	for i := 1; i < len(chain); i++ {
		created, err := m.EnsureBranch(chain[i], chain[i-1])
		if err != nil {
			result.Errors[chain[i]] = err
			continue
		}
		if created {
			result.Created = append(result.Created, chain[i])
		}
	}
	return result
}
