package controller

import "errors"

// Sentinel errors surfaced by the driver API and the dispatch environment.
// See SPEC_FULL.md §7.3.
var (
	ErrUnknownProcess  = errors.New("controller: unknown process")
	ErrAckTimeout      = errors.New("controller: ack timeout")
	ErrAlreadyCrashed  = errors.New("controller: process already crashed")
	ErrTimerNotPending = errors.New("controller: timer not pending")
)
