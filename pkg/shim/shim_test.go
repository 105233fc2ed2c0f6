package shim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstestkit/harness/pkg/wire"
)

type recordingProcess struct {
	NoTimers
	name string

	mu      sync.Mutex
	timers  []string
	msgs    []wire.Envelope
	onTimer func(ctx Context, name string)
}

func (p *recordingProcess) Name() string { return p.name }

func (p *recordingProcess) Receive(ctx Context, msg wire.Envelope) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *recordingProcess) OnTimer(ctx Context, name string) {
	p.mu.Lock()
	p.timers = append(p.timers, name)
	cb := p.onTimer
	p.mu.Unlock()
	if cb != nil {
		cb(ctx, name)
	}
}

func TestStandaloneTimerFiresOnTimer(t *testing.T) {
	proc := &recordingProcess{name: "p1"}
	s, err := New(proc, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.SetTimer("retry", 10*time.Millisecond)

	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.timers) == 1
	}, time.Second, time.Millisecond)

	proc.mu.Lock()
	assert.Equal(t, []string{"retry"}, proc.timers)
	proc.mu.Unlock()
}

func TestCancelTimerPreventsFiring(t *testing.T) {
	proc := &recordingProcess{name: "p1"}
	s, err := New(proc, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.SetTimer("retry", 30*time.Millisecond)
	s.CancelTimer("retry")

	time.Sleep(60 * time.Millisecond)
	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Empty(t, proc.timers)
}

func TestSetTimerTwiceReplacesPending(t *testing.T) {
	proc := &recordingProcess{name: "p1"}
	s, err := New(proc, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.SetTimer("retry", time.Hour)
	firstID := s.timerIDs["retry"]
	s.SetTimer("retry", time.Hour)
	secondID := s.timerIDs["retry"]

	assert.NotEqual(t, firstID, secondID)
	assert.Len(t, s.timerIDs, 1)
}

func TestSendLocalObservableOnChannel(t *testing.T) {
	proc := &recordingProcess{name: "p1"}
	s, err := New(proc, "")
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	go s.sendLocal(wire.Envelope{Type: "PONG", Body: "hi"})

	got := s.ReceiveLocal()
	assert.Equal(t, "PONG", got.Type)
	assert.Equal(t, "hi", got.Body)
}
