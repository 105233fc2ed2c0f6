package pingpong

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstestkit/harness/pkg/wire"
)

type fakeCtx struct {
	sent       []sentMessage
	local      []wire.Envelope
	timersSet  map[string]time.Duration
	timersCanc []string
}

type sentMessage struct {
	msg       wire.Envelope
	recipient string
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{timersSet: make(map[string]time.Duration)}
}

func (f *fakeCtx) Addr() string { return "fake:0" }
func (f *fakeCtx) Send(message wire.Envelope, recipient string) {
	f.sent = append(f.sent, sentMessage{message, recipient})
}
func (f *fakeCtx) SendLocal(message wire.Envelope) { f.local = append(f.local, message) }
func (f *fakeCtx) SetTimer(name string, interval time.Duration) {
	f.timersSet[name] = interval
}
func (f *fakeCtx) CancelTimer(name string) { f.timersCanc = append(f.timersCanc, name) }

func TestClientForwardsLocalPingAndArmsTimeout(t *testing.T) {
	c := NewClient("client", "server")
	ctx := newFakeCtx()

	c.Receive(ctx, wire.Envelope{Type: "PING", Body: "hi", Sender: wire.LocalSender})

	require.Len(t, ctx.sent, 1)
	assert.Equal(t, "server", ctx.sent[0].recipient)
	assert.Equal(t, "PING", ctx.sent[0].msg.Type)
	_, armed := ctx.timersSet["timeout"]
	assert.True(t, armed)
}

func TestClientPongCancelsTimeoutAndRelaysLocally(t *testing.T) {
	c := NewClient("client", "server")
	ctx := newFakeCtx()

	c.Receive(ctx, wire.Envelope{Type: "PING", Body: "hi", Sender: wire.LocalSender})
	c.Receive(ctx, wire.Envelope{Type: "PONG", Body: "hi", Sender: "server"})

	assert.Equal(t, []string{"timeout"}, ctx.timersCanc)
	require.Len(t, ctx.local, 1)
	assert.Equal(t, "PONG", ctx.local[0].Type)
}

func TestClientTimeoutResendsPendingPingAndRearmsTimer(t *testing.T) {
	c := NewClient("client", "server")
	ctx := newFakeCtx()

	c.Receive(ctx, wire.Envelope{Type: "PING", Body: "hi", Sender: wire.LocalSender})
	c.OnTimer(ctx, "timeout")

	require.Len(t, ctx.sent, 2, "the original PING plus one retry")
	assert.Equal(t, "server", ctx.sent[1].recipient)
	assert.Equal(t, "PING", ctx.sent[1].msg.Type)
	assert.Equal(t, "hi", ctx.sent[1].msg.Body)
	_, armed := ctx.timersSet["timeout"]
	assert.True(t, armed, "the timer must be re-armed so the client keeps retrying")
}

func TestClientRetriesUntilPongGetsThrough(t *testing.T) {
	c := NewClient("client", "server")
	ctx := newFakeCtx()

	c.Receive(ctx, wire.Envelope{Type: "PING", Body: "hi", Sender: wire.LocalSender})
	c.OnTimer(ctx, "timeout")
	c.OnTimer(ctx, "timeout")
	c.Receive(ctx, wire.Envelope{Type: "PONG", Body: "hi", Sender: "server"})

	require.Len(t, ctx.local, 1, "the retried ping's eventual pong still reaches the caller")
	assert.Equal(t, "PONG", ctx.local[0].Type)
}

func TestClientTimeoutWithNoPendingPingIsNoOp(t *testing.T) {
	c := NewClient("client", "server")
	ctx := newFakeCtx()

	c.OnTimer(ctx, "timeout")

	assert.Empty(t, ctx.sent)
	assert.Empty(t, ctx.local)
}

func TestClientUnknownMessageRepliesError(t *testing.T) {
	c := NewClient("client", "server")
	ctx := newFakeCtx()

	c.Receive(ctx, wire.Envelope{Type: "WAT", Sender: "server"})

	require.Len(t, ctx.sent, 1)
	assert.Equal(t, "server", ctx.sent[0].recipient)
	assert.Equal(t, "ERROR", ctx.sent[0].msg.Type)
}

func TestServerEchoesPingAsPong(t *testing.T) {
	s := NewServer("server")
	ctx := newFakeCtx()

	s.Receive(ctx, wire.Envelope{Type: "PING", Body: "hi", Sender: "client"})

	require.Len(t, ctx.sent, 1)
	assert.Equal(t, "client", ctx.sent[0].recipient)
	assert.Equal(t, "PONG", ctx.sent[0].msg.Type)
	assert.Equal(t, "hi", ctx.sent[0].msg.Body)
}

func TestServerUnknownTypeRepliesError(t *testing.T) {
	s := NewServer("server")
	ctx := newFakeCtx()

	s.Receive(ctx, wire.Envelope{Type: "WAT", Sender: "client"})

	require.Len(t, ctx.sent, 1)
	assert.Equal(t, "ERROR", ctx.sent[0].msg.Type)
}
