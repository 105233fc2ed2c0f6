package controller

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain guards against goroutine leaks in the per-process connection
// goroutines the errgroup.Group in Controller.procs supervises: every
// attached shim's read/dispatch loop must actually exit on Shutdown/Stop
// rather than leaking past the end of a test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}
