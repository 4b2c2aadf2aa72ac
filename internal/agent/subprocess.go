package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"
)

const (
	// maxOutputSize caps captured stdout/stderr at 10MB.
	maxOutputSize = 10 * 1024 * 1024

	// defaultTimeout is the wall-clock ceiling on one invocation. The step
	// budget bounds the capability's reasoning; this bounds a hung process.
	defaultTimeout = 30 * time.Minute
)

// Subprocess runs the capability as a child process. The command's argv is
// fixed at construction; per-invocation flags and the prompt are appended,
// and the task text is fed via stdin.
type Subprocess struct {
	command []string
	timeout time.Duration
}

// NewSubprocess creates a subprocess capability from the configured command.
func NewSubprocess(command []string) (*Subprocess, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("capability command cannot be empty")
	}
	return &Subprocess{command: command, timeout: defaultTimeout}, nil
}

// WithTimeout overrides the wall-clock ceiling.
func (s *Subprocess) WithTimeout(d time.Duration) *Subprocess {
	s.timeout = d
	return s
}

// Execute runs one invocation. The capability's exit status is surfaced in
// Result.ExitCode; a non-zero exit is returned as an error alongside the
// captured output so callers can record it.
func (s *Subprocess) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capability request: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append([]string(nil), s.command[1:]...)
	args = append(args,
		"--allowedTools", req.tools(),
		"--max-turns", fmt.Sprintf("%d", req.MaxTurns))
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	cmd := exec.CommandContext(execCtx, s.command[0], args...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(), req.env()...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capability: %w", err)
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := io.WriteString(stdinPipe, req.Task); err != nil {
			log.Printf("[WARN] failed to write task to capability stdin: %v", err)
		}
	}()

	waitErr := cmd.Wait()
	result := &Result{
		Output:   stdoutBuf.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			return result, fmt.Errorf("capability timed out after %s", s.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("capability exited with code %d", result.ExitCode)
		}
		result.ExitCode = -1
		return result, fmt.Errorf("capability failed: %w", waitErr)
	}

	return result, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}
