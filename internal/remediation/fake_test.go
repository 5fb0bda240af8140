package remediation

import (
	"context"
	"strings"
	"time"

	"github.com/stone-age-io/remediator/internal/tasks"
)

// fakeRunner answers commands from a script. Each command maps to a queue of
// results; the last result repeats. Unscripted commands get fallback.
type fakeRunner struct {
	responses map[string][]tasks.CommandResult
	fallback  tasks.CommandResult
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string][]tasks.CommandResult),
		fallback:  exited(1, ""),
	}
}

func (f *fakeRunner) on(command string, results ...tasks.CommandResult) *fakeRunner {
	f.responses[command] = append(f.responses[command], results...)
	return f
}

func (f *fakeRunner) Execute(ctx context.Context, command string, timeout time.Duration) tasks.CommandResult {
	f.calls = append(f.calls, command)
	queue, ok := f.responses[command]
	if !ok || len(queue) == 0 {
		return f.fallback
	}
	result := queue[0]
	if len(queue) > 1 {
		f.responses[command] = queue[1:]
	}
	return result
}

func (f *fakeRunner) called(command string) int {
	n := 0
	for _, c := range f.calls {
		if c == command {
			n++
		}
	}
	return n
}

func (f *fakeRunner) calledPrefix(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeRunner) index(command string) int {
	for i, c := range f.calls {
		if c == command {
			return i
		}
	}
	return -1
}

func ok(stdout string) tasks.CommandResult {
	return tasks.CommandResult{Succeeded: true, Stdout: stdout, Attempts: 1}
}

func exited(code int, stderr string) tasks.CommandResult {
	return tasks.CommandResult{ExitCode: code, Stderr: stderr, Attempts: 1}
}

func execFailed(stderr string) tasks.CommandResult {
	return tasks.CommandResult{ExitCode: -1, Stderr: stderr, Attempts: 1}
}

func noInterfaces(ctx context.Context) ([]string, error) {
	return nil, nil
}
