package controller

import (
	"context"
	"time"

	"github.com/dstestkit/harness/pkg/ctrlstream"
	"github.com/dstestkit/harness/pkg/event"
	"github.com/dstestkit/harness/pkg/sched"
	"github.com/dstestkit/harness/pkg/wire"
)

// Step, Steps, StepUntilNoEvents delegate directly to the scheduler — they
// need nothing the controller owns beyond the event store.

func (c *Controller) Step(ctx context.Context, timeout time.Duration) (sched.Outcome, error) {
	return c.sched.Step(ctx, timeout)
}

func (c *Controller) Steps(ctx context.Context, n int, timeout time.Duration) (int, error) {
	return c.sched.Steps(ctx, n, timeout)
}

func (c *Controller) StepUntilNoEvents(ctx context.Context, stepTimeout, deadline time.Duration) (int, error) {
	return c.sched.StepUntilNoEvents(ctx, stepTimeout, deadline)
}

// StepUntilLocalMessage loops Step until process has emitted at least one
// local message, or deadline elapses.
func (c *Controller) StepUntilLocalMessage(ctx context.Context, process string, stepTimeout, deadline time.Duration) (int, error) {
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	taken := 0
	for {
		c.mu.Lock()
		empty := len(c.localMsgs[process]) == 0
		c.mu.Unlock()
		if !empty {
			return taken, nil
		}
		outcome, err := c.sched.Step(dctx, stepTimeout)
		if err != nil {
			return taken, err
		}
		if outcome == sched.Idle {
			return taken, nil
		}
		taken++
		select {
		case <-dctx.Done():
			return taken, nil
		default:
		}
	}
}

// Fault knob setters — pass straight through to the scheduler.

func (c *Controller) SetMessageDelay(min, max time.Duration) { c.sched.SetMessageDelay(min, max) }
func (c *Controller) SetMessageDropRate(rate float64)        { c.sched.SetDropRate(rate) }
func (c *Controller) SetRepeatRate(rate float64, times int)  { c.sched.SetRepeatRate(rate, times) }
func (c *Controller) SetEventReordering(enabled bool)        { c.sched.SetEventReordering(enabled) }
func (c *Controller) SetRealTimeMode(enabled bool)           { c.sched.SetRealTimeMode(enabled) }

// SendLocalMessage injects message into process as if its operator had
// typed it, using the synthetic id "local" per spec.md §4.5. It blocks
// until the process acks processing, guaranteeing the test observes any
// outbound events the injection triggered before returning.
func (c *Controller) SendLocalMessage(ctx context.Context, process string, message wire.Envelope, timeout time.Duration) error {
	conn, ok := c.connOf(process)
	if !ok {
		return ErrUnknownProcess
	}
	raw, err := wire.Marshal(message, wire.LocalSender, wire.LocalSender)
	if err != nil {
		return err
	}
	if err := conn.Send(ctrlstream.KindReceiveLocalMessage, ctrlstream.ReceiveLocalMessagePayload{Message: raw}); err != nil {
		return err
	}
	if !c.notif.Await(ctx, wire.LocalSender, timeout) {
		return ErrAckTimeout
	}
	return nil
}

// WaitLocalMessage blocks until process's local-message queue is
// non-empty, pops and returns the oldest entry, or returns false on
// timeout.
func (c *Controller) WaitLocalMessage(process string, timeout time.Duration) (wire.Envelope, bool) {
	deadline := time.Now().Add(timeout)
	var out wire.Envelope
	ok := c.waitUntil(deadline, func() bool {
		return len(c.localMsgs[process]) > 0
	})
	if !ok {
		return wire.Envelope{}, false
	}
	c.mu.Lock()
	q := c.localMsgs[process]
	out, q = q[0], q[1:]
	c.localMsgs[process] = q
	c.mu.Unlock()
	return out, true
}

// waitUntil blocks on c.cond until ready() is true or deadline passes.
// Must be called without c.mu held.
func (c *Controller) waitUntil(deadline time.Time, ready func() bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ready() {
		return true
	}
	timer := time.AfterFunc(time.Until(deadline), func() { c.cond.Broadcast() })
	defer timer.Stop()
	for !ready() {
		if !time.Now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
	return true
}

// Topology and crash operations — SPEC_FULL.md §4.2's table, exposed on
// the controller since they mutate both pkg/topology and the event store.

// CrashProcess marks p crashed and purges every event with p as sender or
// recipient, and all of p's pending timers.
func (c *Controller) CrashProcess(p string) error {
	c.mu.Lock()
	entry, ok := c.processes[p]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownProcess
	}
	if entry.state == crashed {
		c.mu.Unlock()
		return ErrAlreadyCrashed
	}
	entry.state = crashed
	delete(c.pendingTimers, p)
	c.mu.Unlock()

	c.sched.Purge(func(e event.Event) bool {
		switch ev := e.(type) {
		case *event.Message:
			return ev.Sender != p && ev.Recipient != p
		case *event.Timer:
			return ev.Owner != p
		default:
			return true
		}
	})
	c.log.WithField("process", p).Info("crashed")
	return nil
}

func (c *Controller) DisconnectProcess(p string) {
	c.mu.Lock()
	c.topology.SetIncomingDropped(p, true)
	c.mu.Unlock()
}

func (c *Controller) ConnectProcess(p string) {
	c.mu.Lock()
	c.topology.SetIncomingDropped(p, false)
	c.mu.Unlock()
}

func (c *Controller) DropIncoming(p string) {
	c.mu.Lock()
	c.topology.SetIncomingDropped(p, true)
	c.mu.Unlock()
}

func (c *Controller) DisableLink(src, dst string) {
	c.mu.Lock()
	c.topology.DisableLink(src, dst)
	c.mu.Unlock()
}

func (c *Controller) EnableLink(src, dst string) {
	c.mu.Lock()
	c.topology.EnableLink(src, dst)
	c.mu.Unlock()
}

func (c *Controller) PartitionNetwork(a, b []string) {
	c.mu.Lock()
	c.topology.Partition(a, b)
	c.mu.Unlock()
}

func (c *Controller) ResetNetwork() {
	c.mu.Lock()
	c.topology.Reset()
	c.mu.Unlock()
}
