// Package agent invokes the external code-analysis agent as a subprocess
// and turns its free-form output into structured results.
//
// The agent is the pipeline's scarce, slow, unreliable resource: every
// invocation passes through a weighted semaphore and a rate limiter, each
// attempt is bounded by a timeout, and process-level failures are retried
// with exponential backoff. A response that parses on any attempt wins.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/codeintelhq/codeintel/internal/config"
	"github.com/codeintelhq/codeintel/internal/types"
)

// Request describes one invocation of the external agent
type Request struct {
	Prompt     string
	WorkingDir string        // repository scope for the agent; empty means none
	Timeout    time.Duration // per-attempt bound; 0 means the client default
	MaxRetries int           // retries after the first attempt; -1 means the client default
}

// Result is a successfully parsed agent response
type Result struct {
	Structured json.RawMessage // the extracted JSON document
	Output     []string        // raw stdout lines (capped)
	Attempts   int             // attempts it took, 1 = first try
	Duration   time.Duration   // wall time of the successful attempt
}

// Client invokes the external agent CLI. Safe for concurrent use; the
// semaphore makes it the single admission point for agent calls.
type Client struct {
	bin        string
	model      string
	scratchDir string
	timeout    time.Duration
	maxRetries int

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *circuitBreaker
	logger  *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient builds an agent client from validated config
func NewClient(cfg config.AgentConfig, logger *slog.Logger) *Client {
	c := &Client{
		bin:            cfg.Bin,
		model:          cfg.Model,
		scratchDir:     cfg.ScratchDir,
		timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxRetries:     cfg.MaxRetries,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		limiter:        rate.NewLimiter(rate.Every(time.Second), cfg.MaxConcurrency),
		logger:         logger,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
	if cfg.CircuitBreaker {
		c.breaker = newCircuitBreaker(5, 2, 30*time.Second, logger)
	}
	return c
}

// Invoke runs the agent once per attempt until a response parses, a
// malformed response is seen, or the retry budget is exhausted.
//
// Error contract:
//   - types.ErrMalformedResponse: output did not contain a structured
//     document; never retried.
//   - types.ErrAgentUnavailable: every attempt failed at the process level.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = c.maxRetries
	}

	// Admission: the agent is the bottleneck resource
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring agent slot: %w", err)
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("agent rate limit wait: %w", err)
	}

	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if c.breaker != nil {
			if err := c.breaker.allow(); err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrAgentUnavailable, err)
			}
		}

		res, err := c.invokeOnce(ctx, req, timeout)
		if err == nil {
			if c.breaker != nil {
				c.breaker.recordSuccess()
			}
			res.Attempts = attempt + 1
			if attempt > 0 {
				c.logger.Info("agent call succeeded after retries",
					slog.Int("attempts", attempt+1))
			}
			return res, nil
		}

		// A parse failure means the prompt/format contract is broken;
		// retrying would reproduce it.
		if errors.Is(err, types.ErrMalformedResponse) {
			c.logger.Warn("agent returned malformed response", slog.String("error", err.Error()))
			return nil, err
		}

		lastErr = err
		if c.breaker != nil {
			c.breaker.recordFailure()
		}

		if attempt == maxRetries {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("agent invocation canceled: %w", ctx.Err())
		}

		c.logger.Warn("agent call failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxRetries+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("agent invocation canceled during backoff: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", types.ErrAgentUnavailable, maxRetries+1, lastErr)
}

// invokeOnce runs a single attempt through the call state machine
func (c *Client) invokeOnce(ctx context.Context, req Request, timeout time.Duration) (*Result, error) {
	state := callPending

	workspace, err := c.acquireWorkspace()
	if err != nil {
		return nil, fmt.Errorf("acquiring workspace: %w", err)
	}
	defer c.releaseWorkspace(workspace)

	dir := req.WorkingDir
	if dir == "" {
		dir = workspace
	}

	proc, err := startProcess(c.bin, c.buildArgs(req.Prompt), dir)
	if err != nil {
		// Spawn failure is process-level, hence retryable
		return nil, err
	}
	state = callAwaitingProcess

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, duration, waitErr := proc.wait(attemptCtx)
	if waitErr != nil {
		if attemptCtx.Err() != nil {
			state = callTimedOut
		}
		c.logger.Debug("agent attempt ended",
			slog.String("state", state.String()),
			slog.Duration("duration", duration))
		return nil, waitErr
	}

	state = callParsing
	output, _ := proc.snapshot()
	doc := extractStructured(strings.Join(output, "\n"))
	if doc == nil {
		state = callMalformed
		c.logger.Debug("agent attempt ended", slog.String("state", state.String()))
		return nil, fmt.Errorf("%w: no structured document in %d output lines",
			types.ErrMalformedResponse, len(output))
	}

	state = callSucceeded
	c.logger.Debug("agent attempt ended",
		slog.String("state", state.String()),
		slog.Duration("duration", duration))

	return &Result{
		Structured: doc,
		Output:     output,
		Duration:   duration,
	}, nil
}

// buildArgs constructs the agent CLI argument list
func (c *Client) buildArgs(prompt string) []string {
	args := []string{"-p"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, "--output-format", "json", "--permission-mode", "auto-approve", prompt)
	return args
}

// acquireWorkspace creates the per-invocation scratch directory
func (c *Client) acquireWorkspace() (string, error) {
	return os.MkdirTemp(c.scratchDir, "agent-*")
}

// releaseWorkspace removes the scratch directory on both success and failure paths
func (c *Client) releaseWorkspace(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("failed to clean agent workspace",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}
}
