package imageworker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/nearloop/backend/infrastructure/logging"
	"github.com/nearloop/backend/infrastructure/resilience"
)

// Client manages the single external image-process subprocess and
// serializes requests through it (spec.md §4.1: "Image-processing
// subprocess is single-instance with a framed request/reply queue").
type Client struct {
	command string
	args    []string
	log     *logging.Logger

	mu      sync.Mutex // serializes the request/reply round trip (queue depth 1)
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	breaker *resilience.CircuitBreaker
}

// New builds a Client that will launch command/args as the worker
// subprocess on first use. A repeatedly crashing worker (protocol
// breakage on every request) trips breaker and fails fast instead of
// respawning the subprocess on every call.
func New(command string, args []string, log *logging.Logger) *Client {
	return &Client{
		command: command,
		args:    args,
		log:     log,
		breaker: resilience.New(resilience.DefaultConfig()),
	}
}

// ensureStarted launches the subprocess if it is not already running.
// Callers must hold c.mu.
func (c *Client) ensureStarted(ctx context.Context) error {
	if c.cmd != nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("imageworker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("imageworker: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("imageworker: start worker: %w", err)
	}
	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	return nil
}

// Process sends one job to the worker and waits for its reply. Only one
// Process call is in flight against the subprocess at a time; concurrent
// callers queue behind the mutex, matching the spec's single-instance
// worker.
func (c *Client) Process(ctx context.Context, req Request) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.InputFileType == "" {
		req.InputFileType = DefaultInputFileType
	}

	var reply Reply
	err := c.breaker.Execute(ctx, func() error {
		if err := c.ensureStarted(ctx); err != nil {
			return err
		}

		if err := WriteFrame(c.stdin, req); err != nil {
			c.restart()
			return fmt.Errorf("imageworker: protocol breakage on request, worker restarted: %w", err)
		}

		if err := ReadFrame(c.stdout, &reply); err != nil {
			c.restart()
			return fmt.Errorf("imageworker: protocol breakage on reply, worker restarted: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) && c.log != nil {
			c.log.Warn(ctx, "image-process worker circuit open, failing fast", nil)
		}
		return Reply{}, err
	}
	return reply, nil
}

// restart tears down a broken worker process so the next Process call
// relaunches it (spec.md §9: "image-process worker is restarted on
// protocol breakage"). Callers must hold c.mu.
func (c *Client) restart() {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
}

// Close signals end-of-stream by closing stdin (spec.md §6: "Exit is
// signalled by closing stdin") and waits for the subprocess to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	err := c.cmd.Wait()
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	return err
}
