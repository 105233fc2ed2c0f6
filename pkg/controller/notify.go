package controller

import (
	"context"
	"sync"
	"time"
)

// notifier maps an event id to a single-shot wakeup, realizing the "small
// mapping id -> single-shot notifier" design the scheduler's ack-wait needs
// (SPEC_FULL.md §5). Notify may race ahead of Await (the ack can arrive
// before the waiter registers), so a Notify with no registered waiter
// leaves a mark in fired rather than dropping the signal.
type notifier struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
	fired   map[string]bool
}

func newNotifier() *notifier {
	return &notifier{
		waiters: make(map[string]chan struct{}),
		fired:   make(map[string]bool),
	}
}

// Notify wakes whoever is awaiting id, or remembers that it fired if no
// one is waiting yet.
func (n *notifier) Notify(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.waiters[id]; ok {
		delete(n.waiters, id)
		close(ch)
		return
	}
	n.fired[id] = true
}

// Await blocks for a Notify(id) call, returning false on timeout or ctx
// cancellation. Each id may only be awaited once between Notify calls.
func (n *notifier) Await(ctx context.Context, id string, timeout time.Duration) bool {
	n.mu.Lock()
	if n.fired[id] {
		delete(n.fired, id)
		n.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	n.waiters[id] = ch
	n.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		n.mu.Lock()
		delete(n.waiters, id)
		n.mu.Unlock()
		return false
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, id)
		n.mu.Unlock()
		return false
	}
}
