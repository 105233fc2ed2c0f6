package controller

import (
	"time"

	"github.com/dstestkit/harness/pkg/ctrlstream"
)

// liveness is a process descriptor's state, per SPEC_FULL.md §3.
type liveness int

const (
	running liveness = iota
	crashed
	stopped
)

// processEntry is the controller's view of one attached process: identity,
// bound address, liveness, and its open control stream.
type processEntry struct {
	name  string
	addr  string
	state liveness
	conn  *ctrlstream.Conn
	mode  string // "CONTROL" or "WATCH", set once ProcessStarted arrives
}

// register adds or re-announces a process. Re-announcement (a process that
// reconnects) resets liveness to running.
func (c *Controller) register(name, addr, mode string, conn *ctrlstream.Conn) {
	c.mu.Lock()
	c.processes[name] = &processEntry{name: name, addr: addr, state: running, conn: conn, mode: mode}
	c.cond.Broadcast()
	c.mu.Unlock()
	c.log.WithFields(map[string]any{"process": name, "addr": addr, "mode": mode}).Info("process started")
}

// markStopped transitions a process to stopped, leaving its entry (and
// address) resolvable for any in-flight driver calls.
func (c *Controller) markStopped(name string) {
	c.mu.Lock()
	if p, ok := c.processes[name]; ok {
		p.state = stopped
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	c.log.WithField("process", name).Info("process stopped")
}

// IsCrashed implements sched.Environment.
func (c *Controller) IsCrashed(process string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.processes[process]
	return ok && p.state == crashed
}

// LinkDenied implements sched.Environment.
func (c *Controller) LinkDenied(src, dst string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topology.Denies(src, dst)
}

// AddrOf implements sched.Environment and the driver's GetProcessAddr.
func (c *Controller) AddrOf(process string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.processes[process]
	if !ok {
		return "", false
	}
	return p.addr, true
}

// GetProcessAddr translates a logical process name to its bound address.
func (c *Controller) GetProcessAddr(name string) (string, error) {
	addr, ok := c.AddrOf(name)
	if !ok {
		return "", ErrUnknownProcess
	}
	return addr, nil
}

// connOf resolves a process's control stream, for commands the scheduler
// or driver needs to send it.
func (c *Controller) connOf(process string) (*ctrlstream.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.processes[process]
	if !ok || p.conn == nil {
		return nil, false
	}
	return p.conn, true
}

// WaitProcesses blocks until at least n processes have completed their
// ProcessStarted handshake and not since stopped (crashed ones still
// count), or timeout elapses.
func (c *Controller) WaitProcesses(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	return c.waitUntil(deadline, func() bool {
		count := 0
		for _, p := range c.processes {
			if p.state != stopped {
				count++
			}
		}
		return count >= n
	})
}
