package worktree

import (
	"strconv"
	"strings"
)

// StatusSummary classifies `git status --porcelain` (v1) entries.
type StatusSummary struct {
	// Conflicts holds paths with unmerged status codes (U in either
	// column, AA or DD).
	Conflicts []string
	// Staged holds paths with a change recorded in the index.
	Staged []string
	// Uncommitted holds paths with worktree changes, including untracked files.
	Uncommitted []string
}

// Clean reports whether the status listed no entries at all.
func (s *StatusSummary) Clean() bool {
	return len(s.Conflicts) == 0 && len(s.Staged) == 0 && len(s.Uncommitted) == 0
}

// HasConflicts reports whether any path is unmerged.
func (s *StatusSummary) HasConflicts() bool {
	return len(s.Conflicts) > 0
}

// ParsePorcelain parses `git status --porcelain` output. The two status
// columns are significant, so lines must not be trimmed before parsing.
func ParsePorcelain(output string) *StatusSummary {
	summary := &StatusSummary{}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}

		x, y := line[0], line[1]
		path := line[3:]
		// Renames and copies are reported as "old -> new".
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}

		code := line[:2]
		if x == 'U' || y == 'U' || code == "AA" || code == "DD" {
			summary.Conflicts = append(summary.Conflicts, path)
			continue
		}
		if x != ' ' && x != '?' && x != '!' {
			summary.Staged = append(summary.Staged, path)
		}
		if (y != ' ' && y != '!') || x == '?' {
			summary.Uncommitted = append(summary.Uncommitted, path)
		}
	}

	return summary
}

// WorktreeInfo describes one entry of `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path     string
	Head     string
	Branch   string // short name, empty when detached
	TaskID   string // set when Branch follows the task/<ID> convention
	Detached bool
	Bare     bool
	Prunable bool
}

// IsAgentWorktree reports whether the worktree belongs to a task.
func (w WorktreeInfo) IsAgentWorktree() bool {
	return w.TaskID != ""
}

// parseWorktreeList parses `git worktree list --porcelain` output.
func parseWorktreeList(output string) []WorktreeInfo {
	var (
		result  []WorktreeInfo
		current *WorktreeInfo
	)

	flush := func() {
		if current != nil {
			result = append(result, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			if id, ok := TaskIDFromBranch(current.Branch); ok {
				current.TaskID = id
			}
		case line == "detached":
			current.Detached = true
		case line == "bare":
			current.Bare = true
		case strings.HasPrefix(line, "prunable"):
			current.Prunable = true
		}
	}
	flush()

	return result
}

// parseLeftRight parses `rev-list --left-right --count` output ("L\tR").
func parseLeftRight(output string) (left, right int, ok bool) {
	fields := strings.Fields(output)
	if len(fields) != 2 {
		return 0, 0, false
	}
	l, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, false
	}
	r, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, false
	}
	return l, r, true
}

// splitNonEmpty splits output into non-empty trimmed lines.
func splitNonEmpty(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
