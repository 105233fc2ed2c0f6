package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/dstestkit/harness/pkg/event"
)

// dispatchMessage resolves a single selected message event: crash/topology
// discard, drop, duplication, then delivery and ack-wait. Per
// SPEC_FULL.md §4.2 step 5.
//
// Duplicate copies are inserted into the store before the original's
// command is sent, but the original is delivered in this same Step, so it
// always reaches the recipient before any of its copies; the copies are
// selected on later Steps like any other pending event.
//
// If a prior Step already sent this event's command and merely timed out
// waiting for the ack, this re-enters on a retry: it skips straight to
// re-awaiting instead of re-rolling the drop/duplicate dice and resending
// the command, so a slow-but-not-lost ack can't cause a double delivery.
func (s *Scheduler) dispatchMessage(ctx context.Context, e *event.Message, timeout time.Duration) (Outcome, error) {
	if !s.isInFlight(e.ID()) {
		if s.env.IsCrashed(e.Recipient) {
			s.Remove(e.ID())
			return Progressed, nil
		}
		if s.env.LinkDenied(e.Sender, e.Recipient) {
			s.Remove(e.ID())
			return Progressed, nil
		}

		s.mu.Lock()
		dropRate := s.policy.DropRate
		if dropRate > 0 && s.rng.Float64() < dropRate {
			s.mu.Unlock()
			s.Remove(e.ID())
			if s.m != nil {
				s.m.RecordDrop()
			}
			return Progressed, nil
		}

		if e.Repeatable && s.policy.RepeatRate > 0 && s.rng.Float64() < s.policy.RepeatRate {
			for k := 1; k <= s.policy.RepeatTimes; k++ {
				dupID := fmt.Sprintf("%s~dup%d", e.ID(), k)
				dup := e.Clone(dupID, time.Now())
				s.store.Insert(dup)
				if s.m != nil {
					s.m.RecordDuplicate()
				}
			}
			s.reportPending()
		}
		s.mu.Unlock()

		senderAddr, _ := s.env.AddrOf(e.Sender)
		if err := s.env.SendReceiveMessage(e.Recipient, e.ID(), senderAddr, e.Payload); err != nil {
			return Progressed, fmt.Errorf("sched: deliver message %s: %w", e.ID(), err)
		}
		s.markInFlight(e.ID())
	}

	if !s.env.AwaitAck(ctx, e.ID(), timeout) {
		return TimedOut, nil
	}
	s.Remove(e.ID())
	return Progressed, nil
}

// dispatchTimer resolves a single selected timer event: deliver and
// ack-wait. Timers are never dropped, duplicated, or topology-denied —
// they fire on their owning process only. Like dispatchMessage, a retry
// after TimedOut re-awaits the already-sent fire rather than sending it
// again.
func (s *Scheduler) dispatchTimer(ctx context.Context, e *event.Timer, timeout time.Duration) (Outcome, error) {
	if !s.isInFlight(e.ID()) {
		if s.env.IsCrashed(e.Owner) {
			s.Remove(e.ID())
			return Progressed, nil
		}
		if err := s.env.SendFireTimer(e.Owner, e.ID()); err != nil {
			return Progressed, fmt.Errorf("sched: fire timer %s: %w", e.ID(), err)
		}
		s.markInFlight(e.ID())
	}

	if !s.env.AwaitAck(ctx, e.ID(), timeout) {
		return TimedOut, nil
	}
	s.Remove(e.ID())
	return Progressed, nil
}

// Steps calls Step up to n times, stopping early if the store goes Idle.
// It does not stop on TimedOut — a slow ack shouldn't halt an otherwise
// productive batch. Returns the number of Progressed/TimedOut steps taken.
func (s *Scheduler) Steps(ctx context.Context, n int, timeout time.Duration) (int, error) {
	taken := 0
	for i := 0; i < n; i++ {
		outcome, err := s.Step(ctx, timeout)
		if err != nil {
			return taken, err
		}
		if outcome == Idle {
			return taken, nil
		}
		taken++
	}
	return taken, nil
}

// StepUntilNoEvents steps repeatedly until the store is empty or deadline
// elapses, returning the number of steps taken. A deadline of zero means
// no limit beyond ctx's own cancellation.
func (s *Scheduler) StepUntilNoEvents(ctx context.Context, stepTimeout time.Duration, deadline time.Duration) (int, error) {
	var cancel context.CancelFunc
	if deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	taken := 0
	for {
		if s.PendingCount() == 0 {
			return taken, nil
		}
		outcome, err := s.Step(ctx, stepTimeout)
		if err != nil {
			return taken, err
		}
		if outcome == Idle {
			return taken, nil
		}
		taken++
	}
}
