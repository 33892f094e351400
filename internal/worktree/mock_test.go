package worktree

import (
	"strings"
)

// mockCall records a single command invocation
type mockCall struct {
	dir  string
	name string
	args []string
}

type mockResponse struct {
	output string
	err    error
}

// mockExecutor is a test double for CommandExecutor. Responses are matched
// on the space-joined git arguments, exact matches first, then the longest
// registered prefix. Unmatched commands succeed with no output.
type mockExecutor struct {
	calls    []mockCall
	exact    map[string]mockResponse
	prefixes map[string]mockResponse
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		exact:    map[string]mockResponse{},
		prefixes: map[string]mockResponse{},
	}
}

func (m *mockExecutor) on(args string, output string, err error) *mockExecutor {
	m.exact[args] = mockResponse{output: output, err: err}
	return m
}

func (m *mockExecutor) onPrefix(prefix string, output string, err error) *mockExecutor {
	m.prefixes[prefix] = mockResponse{output: output, err: err}
	return m
}

func (m *mockExecutor) respond(dir, name string, args []string) mockResponse {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	key := strings.Join(args, " ")
	if r, ok := m.exact[key]; ok {
		return r
	}
	best := ""
	for p := range m.prefixes {
		if strings.HasPrefix(key, p) && len(p) > len(best) {
			best = p
		}
	}
	if best != "" {
		return m.prefixes[best]
	}
	return mockResponse{}
}

func (m *mockExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	r := m.respond(dir, name, args)
	return []byte(r.output), r.err
}

func (m *mockExecutor) RunQuiet(dir string, name string, args ...string) error {
	return m.respond(dir, name, args).err
}

// called reports whether a command with exactly these arguments ran.
func (m *mockExecutor) called(args string) bool {
	for _, c := range m.calls {
		if strings.Join(c.args, " ") == args {
			return true
		}
	}
	return false
}
