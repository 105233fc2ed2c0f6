// Package sched implements the controller's dispatch algorithm: turning
// one step() call into at most one observable event delivery, consistent
// with the current fault-injection policy, blocking until the target
// process acknowledges processing or the timeout elapses.
//
// See SPEC_FULL.md §4.2.
package sched

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dstestkit/harness/pkg/event"
)

// Outcome is the result of one Step call.
type Outcome int

const (
	// Progressed means exactly one event was selected and resolved
	// (delivered, dropped, or discarded).
	Progressed Outcome = iota
	// Idle means the event store was empty; nothing to do.
	Idle
	// TimedOut means an event was selected and dispatched but its ack
	// did not arrive before the deadline. The event is NOT removed
	// from the store — the next Step can retry the wait.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Progressed:
		return "progressed"
	case Idle:
		return "idle"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Environment is everything the scheduler needs from the controller: the
// process registry's crash/topology views, and the ability to dispatch a
// command to a process and await its ack. The controller implements this
// directly so the scheduler never reaches around it.
type Environment interface {
	IsCrashed(process string) bool
	LinkDenied(src, dst string) bool
	AddrOf(process string) (string, bool)
	SendReceiveMessage(process, eventID, senderAddr string, payload []byte) error
	SendFireTimer(process, eventID string) error
	// AwaitAck blocks until a Processed(eventID) ack arrives or timeout
	// elapses, returning false on timeout. ctx cancellation also
	// unblocks it (returning false) so a controller shutdown can't wedge
	// an in-flight Step forever.
	AwaitAck(ctx context.Context, eventID string, timeout time.Duration) bool
}

// Metrics is the narrow recording surface the scheduler drives; see
// pkg/metrics for the OpenTelemetry-backed implementation. A nil Metrics
// is valid — every method is a no-op check at the call site.
type Metrics interface {
	RecordStep(outcome string)
	RecordDrop()
	RecordDuplicate()
	SetPending(n int)
}

// Policy holds the fault-injection knobs from SPEC_FULL.md §4.2's table.
// The zero value is NOT the documented default (RealTimeMode defaults to
// on) — always construct via DefaultPolicy.
type Policy struct {
	MinDelay        time.Duration
	MaxDelay        time.Duration
	DropRate        float64
	RepeatRate      float64
	RepeatTimes     int
	EventReordering bool
	RealTimeMode    bool
}

// DefaultPolicy returns the knob defaults from SPEC_FULL.md §4.2.
func DefaultPolicy() Policy {
	return Policy{RealTimeMode: true}
}

// Scheduler owns the event store and the current fault policy, and runs
// the dispatch algorithm described in SPEC_FULL.md §4.2.
type Scheduler struct {
	store *event.Store
	env   Environment
	rng   *rand.Rand
	m     Metrics

	mu       sync.Mutex
	policy   Policy
	inFlight map[string]bool
}

// New constructs a Scheduler with the default fault policy.
func New(env Environment, m Metrics) *Scheduler {
	return &Scheduler{
		store:    event.NewStore(),
		env:      env,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		m:        m,
		policy:   DefaultPolicy(),
		inFlight: make(map[string]bool),
	}
}

// Insert adds a freshly announced event to the pending set.
func (s *Scheduler) Insert(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Insert(e)
	s.reportPending()
}

// Remove deletes a pending event by id (used for explicit timer cancel).
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Remove(id)
	delete(s.inFlight, id)
	s.reportPending()
}

// Purge removes every event for which keep returns false (crash purge).
func (s *Scheduler) Purge(keep func(event.Event) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.store.All() {
		if !keep(e) {
			delete(s.inFlight, e.ID())
		}
	}
	s.store.RemoveWhere(keep)
	s.reportPending()
}

// markInFlight records that id's command has already been sent to its
// process, so a subsequent retry after TimedOut re-awaits instead of
// re-dispatching.
func (s *Scheduler) markInFlight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[id] = true
}

// isInFlight reports whether id's command was already sent on a prior
// Step that then timed out waiting for the ack.
func (s *Scheduler) isInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[id]
}

// Get returns the pending event with the given id, if any.
func (s *Scheduler) Get(id string) (event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Get(id)
}

// PendingCount reports how many events are pending.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

func (s *Scheduler) reportPending() {
	if s.m != nil {
		s.m.SetPending(s.store.Len())
	}
}

// Fault knob setters — SPEC_FULL.md §4.2's table.

func (s *Scheduler) SetMessageDelay(min, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.MinDelay, s.policy.MaxDelay = min, max
}

func (s *Scheduler) SetDropRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.DropRate = rate
}

func (s *Scheduler) SetRepeatRate(rate float64, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.RepeatRate, s.policy.RepeatTimes = rate, times
}

// SetEventReordering toggles random event selection. Enabling it also
// forces real-time pacing off, matching the original harness: reordering
// and wall-clock pacing to a (now meaningless) scheduled time don't mix.
func (s *Scheduler) SetEventReordering(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.EventReordering = enabled
	if enabled {
		s.policy.RealTimeMode = false
	}
}

func (s *Scheduler) SetRealTimeMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.RealTimeMode = enabled
}

// Policy returns a snapshot of the current fault policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Step runs one dispatch cycle: select at most one pending event,
// fault-inject, dispatch, and wait for its ack.
func (s *Scheduler) Step(ctx context.Context, timeout time.Duration) (Outcome, error) {
	outcome, err := s.step(ctx, timeout)
	if s.m != nil {
		s.m.RecordStep(outcome.String())
	}
	return outcome, err
}

func (s *Scheduler) step(ctx context.Context, timeout time.Duration) (Outcome, error) {
	s.mu.Lock()
	if s.store.Len() == 0 {
		s.mu.Unlock()
		return Idle, nil
	}
	s.assignDelaysLocked()
	selected, policy := s.selectLocked()
	s.mu.Unlock()

	if selected == nil {
		return Idle, nil
	}

	if policy.RealTimeMode {
		if scheduledAt, ok := selected.ScheduledAt(); ok {
			if wait := time.Until(scheduledAt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return Idle, ctx.Err()
				}
			}
		}
	}

	switch e := selected.(type) {
	case *event.Message:
		return s.dispatchMessage(ctx, e, timeout)
	case *event.Timer:
		return s.dispatchTimer(ctx, e, timeout)
	default:
		return Idle, fmt.Errorf("sched: unknown event type %T", selected)
	}
}

// assignDelaysLocked gives every unscheduled message event a scheduled
// time, per SPEC_FULL.md §4.2 step 2. Must be called with s.mu held.
func (s *Scheduler) assignDelaysLocked() {
	for _, e := range s.store.All() {
		msg, ok := e.(*event.Message)
		if !ok {
			continue
		}
		if _, has := msg.ScheduledAt(); has {
			continue
		}
		var delay time.Duration
		if s.policy.MinDelay == 0 && s.policy.MaxDelay == 0 {
			if msg.Sender == msg.Recipient {
				delay = 0
			} else {
				delay = 100 * time.Millisecond
			}
		} else {
			span := s.policy.MaxDelay - s.policy.MinDelay
			delay = s.policy.MinDelay + time.Duration(s.rng.Float64()*float64(span))
		}
		msg.SetScheduledAt(msg.CreatedAt().Add(delay))
	}
}

// selectLocked picks the next event per the ordering/reordering policy.
// Must be called with s.mu held; it does not remove the event from the
// store.
func (s *Scheduler) selectLocked() (event.Event, Policy) {
	if s.policy.EventReordering {
		e, _ := s.store.Random(s.rng)
		return e, s.policy
	}
	e, _ := s.store.Earliest()
	return e, s.policy
}
