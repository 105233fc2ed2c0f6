package shim

import (
	"time"

	"github.com/dstestkit/harness/pkg/wire"
)

// ReceiveWithTimeout offers the blocking receive-with-timeout style from
// original_source/dslib/comm.py's Communicator.recv(timeout), for
// processes that prefer pulling their next message in a loop over the
// callback-based Process interface. It is only meaningful in WATCH or
// standalone mode, where processMessagesLoop feeds a real inbox off
// real network I/O and real wall-clock timers. It competes with
// processMessagesLoop for the same inbox channel, so a process using it
// should give Process.Receive a no-op implementation and pull messages
// exclusively through this method.
//
// CONTROL mode cannot support this primitive: runControlLoop's single
// goroutine reads the next controller command only after the current one
// has been fully handled and acked, so blocking inside a handler would
// also block the read of the very FireTimer/ReceiveMessage frame that
// would end the wait — a guaranteed deadlock, not a timing edge case.
// comm.py's recv(timeout) avoids this because its test-mode command
// handlers (_handle_receive_message, _handle_fire_timer) only enqueue
// onto an inbox and return immediately, leaving the blocking pull to a
// separate caller goroutine; this shim's CONTROL-mode handlers instead
// invoke Process.Receive/Process.OnTimer synchronously on the same
// goroutine that reads commands, so there is no second goroutine for a
// pull-style wait to run on. Calling this in CONTROL mode therefore
// returns (Envelope{}, false) immediately rather than pretending to wait.
//
// See SPEC_FULL.md §9.
func (s *Shim) ReceiveWithTimeout(timeout time.Duration) (wire.Envelope, bool) {
	if s.testing && s.mode == ModeControl {
		s.log.Warn("ReceiveWithTimeout is not supported in CONTROL mode; use Process.Receive/OnTimer instead")
		return wire.Envelope{}, false
	}
	select {
	case msg := <-s.inbox:
		return msg, true
	case <-time.After(timeout):
		return wire.Envelope{}, false
	case <-s.stopCh:
		return wire.Envelope{}, false
	}
}
