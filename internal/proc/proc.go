// Package proc spawns child processes with a wall-clock timeout, a combined
// output cap, and best-effort process-group kill. Commands are always argv
// arrays; nothing here ever reaches a shell interpreter.
package proc

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"agentguard/internal/domain"
)

// Options bound a single execution.
type Options struct {
	Timeout   time.Duration
	MaxOutput int // combined stdout+stderr byte cap; 0 = unlimited
}

// Result is the outcome of a completed (or killed) execution.
type Result struct {
	Output   []byte // combined stdout+stderr, capped at MaxOutput+1
	ExitCode int
	Duration time.Duration
}

// Handle is a running child process. Cancel kills its process group;
// abandoning the handle without calling Wait does not leak the process
// because the reaper goroutine always collects it.
type Handle struct {
	cmd     *exec.Cmd
	buf     *cappedBuffer
	start   time.Time
	timeout time.Duration
	waitCh  chan error

	cancelOnce sync.Once
	canceled   chan struct{}
}

// Start spawns program with args. Stdin is unconnected; stdout and stderr are
// piped into one bounded buffer. The child runs in its own process group so
// a kill reaches its direct descendants (grandchildren that change groups
// escape; known limitation).
func Start(program string, args []string, opts Options) (*Handle, error) {
	cmd := exec.Command(program, args...)
	buf := &cappedBuffer{max: opts.MaxOutput}
	cmd.Stdout = buf
	cmd.Stderr = buf
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		cmd:      cmd,
		buf:      buf,
		start:    time.Now(),
		timeout:  opts.Timeout,
		waitCh:   make(chan error, 1),
		canceled: make(chan struct{}),
	}
	go func() { h.waitCh <- cmd.Wait() }()
	return h, nil
}

// Cancel kills the child's process group. Safe to call multiple times and
// from any goroutine.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		killProcessGroup(h.cmd)
		close(h.canceled)
	})
}

// Wait blocks until the child exits, the timeout expires, or ctx is done.
// On expiry or cancellation it kills the process group, collects the child,
// and returns a Timeout-kind error.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	var timeoutCh <-chan time.Time
	if h.timeout > 0 {
		timer := time.NewTimer(h.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-h.waitCh:
		return h.finish(err)
	case <-timeoutCh:
		h.Cancel()
		<-h.waitCh
		return h.result(), domain.Errf(domain.KindTimeout, "command timed out after %s", h.timeout)
	case <-ctx.Done():
		h.Cancel()
		<-h.waitCh
		return h.result(), domain.Errf(domain.KindTimeout, "command canceled: %v", ctx.Err())
	case <-h.canceled:
		<-h.waitCh
		return h.result(), domain.Errf(domain.KindTimeout, "command canceled")
	}
}

func (h *Handle) finish(waitErr error) (*Result, error) {
	res := h.result()
	if h.buf.overflowed() {
		return res, domain.Errf(domain.KindOutputTooLarge, "command output exceeds %d bytes", h.buf.max)
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, waitErr
		}
		return res, waitErr
	}
	return res, nil
}

func (h *Handle) result() *Result {
	return &Result{
		Output:   h.buf.bytes(),
		ExitCode: h.cmd.ProcessState.ExitCode(),
		Duration: time.Since(h.start),
	}
}

// Run is the one-shot form: start, wait, return.
func Run(ctx context.Context, program string, args []string, opts Options) (*Result, error) {
	h, err := Start(program, args, opts)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// cappedBuffer accepts writes up to max+1 bytes and discards the rest, so a
// chatty child cannot exhaust memory while still letting the caller detect
// the overflow.
type cappedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 {
		room := b.max + 1 - b.buf.Len()
		if room <= 0 {
			return len(p), nil
		}
		if len(p) > room {
			b.buf.Write(p[:room])
			return len(p), nil
		}
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func (b *cappedBuffer) overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max > 0 && b.buf.Len() > b.max
}
