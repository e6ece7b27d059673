package tier2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"evolab/internal/logging"
)

// outputCap bounds how much captured stdout/stderr is kept per run.
const outputCap = 1000

// Runner executes variant code in a subprocess with a wall-clock
// deadline. Scripts run from the system temp directory so generated
// code never sees the project tree.
type Runner struct {
	python  string
	timeout time.Duration
}

// NewRunner creates a Runner for the given interpreter and timeout.
func NewRunner(python string, timeout time.Duration) *Runner {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{python: python, timeout: timeout}
}

// Run executes the variant and records the outcome on it. Run never
// returns an error: execution failure is a measurement, not a fault.
func (r *Runner) Run(ctx context.Context, v *Variant) {
	scriptPath := filepath.Join(os.TempDir(), "evolab_variant_"+uuid.NewString()+".py")
	if err := os.WriteFile(scriptPath, []byte(v.Code), 0o600); err != nil {
		v.ExecutionSuccess = false
		v.ExecutionError = fmt.Sprintf("write script: %v", err)
		return
	}
	defer os.Remove(scriptPath)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.python, scriptPath)
	cmd.Dir = os.TempDir()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.ExecDebug("variant %d: running %s %s", v.ID, r.python, scriptPath)
	start := time.Now()
	err := cmd.Run()
	v.ExecutionSeconds = time.Since(start).Seconds()

	v.ExecutionOutput = truncateOutput(stdout.String())

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	switch {
	case timedOut:
		v.ExecutionSuccess = false
		v.ExecutionError = fmt.Sprintf("execution timed out after %s", r.timeout)
	case err != nil:
		v.ExecutionSuccess = false
		v.ExecutionError = truncateOutput(stderr.String())
		if v.ExecutionError == "" {
			v.ExecutionError = err.Error()
		}
	default:
		v.ExecutionSuccess = true
	}

	logging.Exec("variant %d: success=%v elapsed=%.2fs", v.ID, v.ExecutionSuccess, v.ExecutionSeconds)
	logging.Audit().ExecResult(scriptPath, int64(v.ExecutionSeconds*1000), v.ExecutionSuccess, timedOut, v.ExecutionError)
}

func truncateOutput(s string) string {
	if len(s) > outputCap {
		return s[:outputCap]
	}
	return s
}
