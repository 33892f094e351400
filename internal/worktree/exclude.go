package worktree

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// EnsureExcluded adds the top-level directory containing path to the
// repository's info/exclude so that agentree's own files inside the
// repository never show up in status or get staged by `git add -A`.
// Paths outside the repository are ignored.
func (m *Manager) EnsureExcluded(path string) error {
	rel, err := filepath.Rel(m.repoDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return nil
	}
	top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	pattern := "/" + top + "/"

	common, err := m.git(m.repoDir, "rev-parse", "--git-common-dir")
	if err != nil || common == "" {
		return nil
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(m.repoDir, common)
	}
	excludeFile := filepath.Join(common, "info", "exclude")

	if hasLine(excludeFile, pattern) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(excludeFile), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(excludeFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(pattern + "\n"); err != nil {
		return err
	}
	m.logger.Debug("excluded directory from git status", "pattern", pattern)
	return nil
}

func hasLine(file, line string) bool {
	f, err := os.Open(file)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == line {
			return true
		}
	}
	return false
}
