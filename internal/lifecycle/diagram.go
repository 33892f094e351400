package lifecycle

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// sortedStates returns the states of t in lifecycle order, followed by
// any unknown states in name order.
func sortedStates(t Table) []State {
	known := AllStates()
	var states, unknown []State
	for _, s := range known {
		if _, ok := t[s]; ok {
			states = append(states, s)
		}
	}
	for s := range t {
		if !slices.Contains(known, s) {
			unknown = append(unknown, s)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return append(states, unknown...)
}

// Diagram renders t as text, one block per state in lifecycle order:
//
//	idle
//	  spawn -> dispatched  guards[hasGit, ...]  actions[createWorktree, ...]  worktree[none -> clean]
//
// Terminal states are listed last with no transitions.
func Diagram(t Table) string {
	var b strings.Builder
	for _, s := range sortedStates(t) {
		if s.IsTerminal() {
			continue
		}
		b.WriteString(string(s))
		b.WriteByte('\n')
		for _, e := range t.Events(s) {
			spec := t[s][e]
			fmt.Fprintf(&b, "  %s -> %s", e, spec.Next)
			if len(spec.Guards) > 0 {
				fmt.Fprintf(&b, "  guards[%s]", joinIDs(spec.Guards))
			}
			if len(spec.Actions) > 0 {
				fmt.Fprintf(&b, "  actions[%s]", joinIDs(spec.Actions))
			}
			if spec.Worktree != nil {
				fmt.Fprintf(&b, "  worktree[%s -> %s]", spec.Worktree.From, spec.Worktree.To)
			}
			b.WriteByte('\n')
		}
	}

	var terminal []string
	for _, s := range AllStates() {
		if s.IsTerminal() {
			terminal = append(terminal, string(s))
		}
	}
	fmt.Fprintf(&b, "terminal: %s\n", strings.Join(terminal, ", "))
	return b.String()
}

func joinIDs[T ~string](ids []T) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
