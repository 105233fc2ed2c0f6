package controller_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstestkit/harness/internal/fixtures/pingpong"
	"github.com/dstestkit/harness/pkg/controller"
	"github.com/dstestkit/harness/pkg/shim"
	"github.com/dstestkit/harness/pkg/wire"
)

// freeAddr picks a free TCP port by binding and immediately releasing it,
// matching the BaseTestCase server/client bring-up in
// original_source/dslib/examples/ping-pong/test.py.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// startController launches a Controller on a fresh port and waits for it
// to start accepting connections.
func startController(t *testing.T) (*controller.Controller, string) {
	t.Helper()
	addr := freeAddr(t)
	ctrl := controller.New(controller.Config{Addr: addr, AckTimeout: 2 * time.Second})
	go func() { _ = ctrl.Serve() }()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return ctrl, addr
}

// attachShim starts a shim for proc under the controller at ctrlAddr,
// returning it for the test to Stop() via cleanup.
func attachShim(t *testing.T, proc shim.Process, ctrlAddr string) *shim.Shim {
	t.Helper()
	require.NoError(t, os.Setenv(shim.EnvTestServer, ctrlAddr))
	require.NoError(t, os.Setenv(shim.EnvTestMode, string(shim.ModeControl)))
	s, err := shim.New(proc, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func newPingPongCluster(t *testing.T, ctrlAddr string) (*shim.Shim, *shim.Shim) {
	srv := attachShim(t, pingpong.NewServer("server"), ctrlAddr)
	cli := attachShim(t, pingpong.NewClient("client", "server"), ctrlAddr)
	return srv, cli
}

// TestPingPongCleanPath mirrors original_source/.../ping-pong/test.py's
// BasicTestCase: a PING injected locally gets echoed back as PONG.
func TestPingPongCleanPath(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.SetRealTimeMode(false)
	newPingPongCluster(t, addr)

	require.True(t, ctrl.WaitProcesses(2, time.Second))

	ctx := context.Background()
	req := wire.Envelope{Type: "PING", Body: "Hello!"}
	require.NoError(t, ctrl.SendLocalMessage(ctx, "client", req, time.Second))

	_, err := ctrl.StepUntilLocalMessage(ctx, "client", time.Second, 2*time.Second)
	require.NoError(t, err)

	resp, ok := ctrl.WaitLocalMessage("client", time.Second)
	require.True(t, ok, "client must receive a local response")
	assert.Equal(t, "PONG", resp.Type)
	assert.Equal(t, "Hello!", resp.Body)
}

// TestPingLostThenRecovered mirrors spec.md §8 scenario 2: the PING is
// dropped entirely, then, once drops stop, the client's own retry (fired
// by its timeout timer, per retry.py) still gets a PONG through.
func TestPingLostThenRecovered(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.SetRealTimeMode(false)
	newPingPongCluster(t, addr)
	require.True(t, ctrl.WaitProcesses(2, time.Second))

	ctx := context.Background()
	req := wire.Envelope{Type: "PING", Body: "Hello!"}
	require.NoError(t, ctrl.SendLocalMessage(ctx, "client", req, time.Second))

	ctrl.SetMessageDropRate(1)
	_, err := ctrl.Steps(ctx, 1, time.Second)
	require.NoError(t, err)
	ctrl.SetMessageDropRate(0)

	// The first PING was dropped, but the client's timeout timer is still
	// pending; once it fires the client resends, and with drops now off
	// that retry reaches the server and comes back as a PONG.
	_, err = ctrl.StepUntilLocalMessage(ctx, "client", time.Second, 2*time.Second)
	require.NoError(t, err)

	resp, ok := ctrl.WaitLocalMessage("client", time.Second)
	require.True(t, ok, "the client's retried PING must eventually get a PONG back")
	assert.Equal(t, "PONG", resp.Type)
	assert.Equal(t, "Hello!", resp.Body)
}

// TestRandomReorderingStillDeliversPong mirrors RandomReorderingTestCase:
// enabling reordering (which forces real_time_mode off) must not prevent
// eventual delivery.
func TestRandomReorderingStillDeliversPong(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.SetRealTimeMode(false)
	newPingPongCluster(t, addr)
	require.True(t, ctrl.WaitProcesses(2, time.Second))

	ctx := context.Background()
	req := wire.Envelope{Type: "PING", Body: "Hello!"}
	require.NoError(t, ctrl.SendLocalMessage(ctx, "client", req, time.Second))

	ctrl.SetEventReordering(true)
	_, err := ctrl.Steps(ctx, 100, time.Second)
	require.NoError(t, err)
	ctrl.SetEventReordering(false)

	_, err = ctrl.StepUntilLocalMessage(ctx, "client", time.Second, 2*time.Second)
	require.NoError(t, err)
	resp, ok := ctrl.WaitLocalMessage("client", time.Second)
	require.True(t, ok)
	assert.Equal(t, "PONG", resp.Type)
}

// TestCrashProcessDiscardsInFlightMessages mirrors ServerCrashTestCase's
// shape, at the level this harness actually controls: once a process is
// marked crashed, messages addressed to it are discarded rather than
// delivered.
func TestCrashProcessDiscardsInFlightMessages(t *testing.T) {
	ctrl, addr := startController(t)
	ctrl.SetRealTimeMode(false)
	newPingPongCluster(t, addr)
	require.True(t, ctrl.WaitProcesses(2, time.Second))

	require.NoError(t, ctrl.CrashProcess("server"))

	ctx := context.Background()
	req := wire.Envelope{Type: "PING", Body: "Hello!"}
	require.NoError(t, ctrl.SendLocalMessage(ctx, "client", req, time.Second))

	_, err := ctrl.Steps(ctx, 5, time.Second)
	require.NoError(t, err)

	_, ok := ctrl.WaitLocalMessage("client", 100*time.Millisecond)
	assert.False(t, ok, "a crashed server must never answer")
}
