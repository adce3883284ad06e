// Package harness implements the line-delimited JSON protocol client the
// core speaks to the external native-policy subprocess over. The native
// runner itself is out of scope; this package owns only request/response
// correlation, serialization, and the failure-on-exit contract.
package harness

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"solclash/internal/errkind"
)

// ErrHarnessGone is returned to every outstanding request when the child
// process's stdout is closed (it exited) while requests were pending.
var ErrHarnessGone = errkind.New(errkind.HarnessGone, "harness process exited with requests outstanding")

// Result is one eval response's decoded payload.
type Result struct {
	AgentID string
	Status  string
	Output  Output
}

// Client owns one harness child process's stdio pipe and multiplexes
// concurrent eval requests over it by a monotonic request id.
type Client struct {
	w io.WriteCloser
	r *bufio.Scanner

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan responseEnvelope
	gone    bool

	writeMu sync.Mutex

	cmd *exec.Cmd // nil when constructed directly over a pipe (e.g. tests)
}

// NewClient wraps an already-running child's stdin/stdout pipe. The caller
// is responsible for starting the reader loop via Run.
func NewClient(w io.WriteCloser, r io.Reader) *Client {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Client{w: w, r: scanner, pending: make(map[int64]chan responseEnvelope)}
}

// NewFromCmd starts cmd and wraps its stdin/stdout as a harness pipe.
func NewFromCmd(cmd *exec.Cmd) (*Client, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("harness: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("harness: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("harness: start: %w", err)
	}
	c := NewClient(stdin, stdout)
	c.cmd = cmd
	return c, nil
}

// Run drains response lines until the pipe closes, dispatching each to its
// pending request. It blocks; callers should run it in its own goroutine.
// When the pipe closes, every still-outstanding request fails with
// ErrHarnessGone.
func (c *Client) Run(ctx context.Context) {
	for c.r.Scan() {
		line := c.r.Bytes()
		var env responseEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			logx.WithContext(ctx).Slowf("harness: malformed response line ignored: %v", err)
			continue
		}
		c.dispatch(env)
	}
	c.failAllOutstanding()
}

func (c *Client) dispatch(env responseEnvelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		// A response without a matching pending entry is ignored.
		return
	}
	ch <- env
}

func (c *Client) failAllOutstanding() {
	c.mu.Lock()
	c.gone = true
	pending := c.pending
	c.pending = make(map[int64]chan responseEnvelope)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) allocID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

func (c *Client) register(id int64) (chan responseEnvelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return nil, ErrHarnessGone
	}
	ch := make(chan responseEnvelope, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) send(req requestEnvelope) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("harness: marshal request: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("harness: write request: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req requestEnvelope) (responseEnvelope, error) {
	ch, err := c.register(req.RequestID)
	if err != nil {
		return responseEnvelope{}, err
	}
	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
		return responseEnvelope{}, err
	}
	select {
	case env, ok := <-ch:
		if !ok {
			return responseEnvelope{}, ErrHarnessGone
		}
		if env.Kind == "error" {
			return env, errkind.New(errkind.HarnessProtocolViolation, env.Message)
		}
		return env, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
		return responseEnvelope{}, ctx.Err()
	}
}

// Init sends the init request and waits for an ok response.
func (c *Client) Init(ctx context.Context, programs []ProgramRef, computeUnitLimit *int64) error {
	id := c.allocID()
	_, err := c.roundTrip(ctx, requestEnvelope{
		Kind: "init", RequestID: id, Programs: programs, ComputeUnitLimit: computeUnitLimit,
	})
	return err
}

// Eval submits one evaluation input and awaits the matching result.
func (c *Client) Eval(ctx context.Context, agentID string, in EvalInput) (Result, error) {
	id := c.allocID()
	env, err := c.roundTrip(ctx, requestEnvelope{
		Kind: "eval", RequestID: id, AgentID: agentID, Input: &in,
	})
	if err != nil {
		return Result{}, err
	}
	if env.Output == nil {
		return Result{}, errkind.New(errkind.HarnessProtocolViolation, "result response missing output")
	}
	return Result{AgentID: env.AgentID, Status: env.Status, Output: *env.Output}, nil
}

// Shutdown issues the shutdown request, then closes stdin. If the process
// does not exit within timeout it is killed.
func (c *Client) Shutdown(ctx context.Context, timeout time.Duration) error {
	id := c.allocID()
	_, _ = c.roundTrip(ctx, requestEnvelope{Kind: "shutdown", RequestID: id})
	_ = c.w.Close()

	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = c.cmd.Process.Kill()
		<-done
		return errkind.New(errkind.HarnessGone, "killed after shutdown timeout")
	}
}
