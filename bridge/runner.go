package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Command is a single process invocation.
type Command struct {
	// Program is the executable to run.
	Program string
	// Args are the arguments after the program name.
	Args []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// RunResult is the outcome of a finished process.
type RunResult struct {
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
	// ExitCode is the process exit code, -1 if it was killed by a signal.
	ExitCode int
}

// Runner executes a command to completion.
// A non-zero exit code is reported in RunResult, not as an error; the error
// is reserved for processes that could not be started or waited on.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*RunResult, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// Env holds extra environment variables appended to the inherited ones.
	Env map[string]string
	// Dir is the working directory; empty means the current one.
	Dir string
}

// Run starts cmd, waits for it and captures its output.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*RunResult, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = r.Dir
	if len(r.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range r.Env {
			c.Env = append(c.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &RunResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run %s: %w", cmd.Program, err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		result.ExitCode = status.ExitStatus()
	} else {
		result.ExitCode = -1
	}
	return result, nil
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (*RunResult, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (*RunResult, error) {
	return f(ctx, cmd)
}
