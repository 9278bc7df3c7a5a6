package proposal

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// PytestRunner runs a sandbox's tests with the Python toolchain on PATH.
// A failing test suite is an outcome, not an error; errors mean the runner
// itself could not execute.
type PytestRunner struct {
	// Python overrides the interpreter binary. Empty means python3.
	Python string
}

// RunTests executes pytest inside the sandbox directory and reports whether
// the suite passed along with the combined output.
func (r PytestRunner) RunTests(ctx context.Context, sandboxDir string, _ *Proposal) (TestOutcome, error) {
	bin := r.Python
	if bin == "" {
		bin = "python3"
	}

	cmd := exec.CommandContext(ctx, bin, "-m", "pytest", "-x", "-q")
	cmd.Dir = sandboxDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return TestOutcome{Passed: false, Output: string(out)}, nil
		}
		return TestOutcome{}, fmt.Errorf("run pytest: %w", err)
	}
	return TestOutcome{Passed: true, Output: string(out)}, nil
}
