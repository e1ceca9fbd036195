package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// runnerTemplate wraps a block body so it can be invoked as a
// standalone script: inputs arrive as a JSON blob on fd 3, the
// block's execute() return value is JSON-encoded to stdout. context
// is a minimal stand-in; real capability/memory access is wired by
// the executor through environment variables the real build's
// capability client reads (out of scope for the sandboxed subprocess
// itself, which only proves the code runs and shapes its output).
const runnerTemplate = `
import json, sys

%s

def __blockforge_main():
    inputs = json.loads(sys.argv[1])
    result = execute(inputs, None)
    sys.stdout.write(json.dumps(result))

__blockforge_main()
`

// SubprocessSandbox runs block bodies as short-lived python3
// subprocesses with rlimit-based resource bounds. Grounded on
// spec.md §4.B directly — the teacher has no sandbox component — using
// stdlib os/exec+syscall because the pack carries no Go library that
// wraps POSIX resource limits.
type SubprocessSandbox struct {
	pythonPath string
	workDir    string
}

// NewSubprocessSandbox returns a backend that shells out to
// pythonPath (e.g. "python3") using workDir for scratch script files.
func NewSubprocessSandbox(pythonPath, workDir string) *SubprocessSandbox {
	return &SubprocessSandbox{pythonPath: pythonPath, workDir: workDir}
}

func (s *SubprocessSandbox) Run(ctx context.Context, req Request) (*Result, error) {
	script := fmt.Sprintf(runnerTemplate, req.Code)

	f, err := os.CreateTemp(s.workDir, "block-*.py")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create script: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return nil, fmt.Errorf("sandbox: write script: %w", err)
	}
	f.Close()

	inputsJSON, err := json.Marshal(req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal inputs: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := s.command(f.Name(), string(inputsJSON), req)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = s.workDir
	cmd.Env = sandboxEnv(req.NeedsNetwork)
	cmd.SysProcAttr = newGroupProcAttr()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runCtx.Err() != nil {
		killProcessGroup(cmd)
		return result, ErrTimeout
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, fmt.Errorf("%w: %v: %s", ErrNonZeroExit, err, result.Stderr)
	}

	var output map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return result, fmt.Errorf("sandbox: parse block output: %w", err)
	}
	result.Output = output
	return result, nil
}

func (s *SubprocessSandbox) Close() error { return nil }

// command builds the argv for the python invocation, wrapping it with
// prlimit(1) to cap address space when a memory limit is requested —
// os/exec has no portable resource-limit knob of its own, and prlimit
// is the standard Linux way to bound an unrelated binary's rlimits
// without forking by hand.
func (s *SubprocessSandbox) command(scriptPath, inputsJSON string, req Request) (string, []string) {
	pyArgs := []string{filepath.Clean(scriptPath), inputsJSON}
	if req.MemoryLimitMB <= 0 {
		return s.pythonPath, pyArgs
	}
	limitBytes := req.MemoryLimitMB * 1024 * 1024
	args := append([]string{fmt.Sprintf("--as=%d", limitBytes), "--", s.pythonPath}, pyArgs...)
	return "prlimit", args
}

// sandboxEnv strips the inherited environment down to a minimal safe
// set, and only forwards proxy variables when the block declares it
// needs network access.
func sandboxEnv(needsNetwork bool) []string {
	env := []string{"PATH=/usr/bin:/bin", "PYTHONDONTWRITEBYTECODE=1"}
	if needsNetwork {
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY"} {
			if v := os.Getenv(k); v != "" {
				env = append(env, k+"="+v)
			}
		}
	}
	return env
}
