package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

const (
	// maxOutputLines is the maximum number of output lines to capture.
	// This prevents memory exhaustion from a runaway agent.
	maxOutputLines = 10000
)

// callState tracks one invocation through its lifecycle. Retries only
// happen on the timed-out / process-failure transitions; a malformed
// response is terminal.
type callState int

const (
	callPending callState = iota
	callAwaitingProcess
	callParsing
	callSucceeded
	callMalformed
	callTimedOut
)

func (s callState) String() string {
	switch s {
	case callPending:
		return "pending"
	case callAwaitingProcess:
		return "awaiting_process"
	case callParsing:
		return "parsing"
	case callSucceeded:
		return "succeeded"
	case callMalformed:
		return "malformed"
	case callTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// process wraps one running agent subprocess with line-capped output capture
type process struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	captured  chan struct{}
	startTime time.Time

	mu     sync.Mutex
	output []string
	errors []string
}

// startProcess spawns the agent binary with the given args and begins
// capturing stdout/stderr
func startProcess(bin string, args []string, dir string) (*process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	p := &process{
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		captured:  make(chan struct{}),
		startTime: time.Now(),
	}
	go p.captureOutput()
	return p, nil
}

// wait blocks until the process exits or the context expires. On context
// expiry the process is killed and a timeout error is returned.
func (p *process) wait(ctx context.Context) (exitCode int, duration time.Duration, err error) {
	errCh := make(chan error, 1)
	go func() {
		// cmd.Wait closes the pipe read ends, so both captures must
		// reach EOF first or a trailing chunk of output is lost
		<-p.captured
		errCh <- p.cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		p.kill()
		// A child of the agent may still hold the pipe write ends;
		// close the read ends so capture unblocks and Wait can reap
		_ = p.stdout.Close()
		_ = p.stderr.Close()
		<-errCh // reap; Wait must not be abandoned after Kill
		return -1, time.Since(p.startTime), fmt.Errorf("agent timed out: %w", ctx.Err())
	case waitErr := <-errCh:
		duration = time.Since(p.startTime)
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				return exitErr.ExitCode(), duration, fmt.Errorf("agent exited with code %d", exitErr.ExitCode())
			}
			return -1, duration, fmt.Errorf("agent wait failed: %w", waitErr)
		}
		return 0, duration, nil
	}
}

func (p *process) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// captureOutput reads stdout/stderr line by line into capped buffers
func (p *process) captureOutput() {
	var wg sync.WaitGroup
	wg.Add(2)

	capture := func(r io.Reader, dst *[]string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			p.mu.Lock()
			if len(*dst) < maxOutputLines {
				*dst = append(*dst, line)
			} else if len(*dst) == maxOutputLines {
				*dst = append(*dst, "[... output truncated: limit reached ...]")
			}
			p.mu.Unlock()
		}
	}

	go capture(p.stdout, &p.output)
	go capture(p.stderr, &p.errors)
	wg.Wait()
	close(p.captured)
}

// snapshot returns copies of the captured output so far
func (p *process) snapshot() (output, errors []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	output = make([]string, len(p.output))
	copy(output, p.output)
	errors = make([]string, len(p.errors))
	copy(errors, p.errors)
	return output, errors
}
