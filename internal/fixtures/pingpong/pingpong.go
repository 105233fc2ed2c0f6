// Package pingpong is the client/server pair spec.md §8 uses for its
// ping/pong scenarios, grounded on
// original_source/seminars/01-dslib/ping-pong/retry.py.
package pingpong

import (
	"time"

	"github.com/dstestkit/harness/pkg/shim"
	"github.com/dstestkit/harness/pkg/wire"
)

// Client sends the local PING it receives on to Server and relays the
// PONG back out as a local message. If the timeout timer fires before a
// PONG arrives, it resends the same PING and re-arms the timer, retrying
// indefinitely until a PONG gets through.
type Client struct {
	name       string
	serverName string
	pending    *wire.Envelope
}

// NewClient builds a ping client that talks to the process named serverName.
func NewClient(name, serverName string) *Client {
	return &Client{name: name, serverName: serverName}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Receive(ctx shim.Context, msg wire.Envelope) {
	switch {
	case msg.Type == "PING" && msg.IsLocal():
		c.pending = &msg
		ctx.Send(msg, c.serverName)
		ctx.SetTimer("timeout", time.Second)
	case msg.Type == "PONG" && c.pending != nil:
		c.pending = nil
		ctx.CancelTimer("timeout")
		ctx.SendLocal(msg)
	default:
		ctx.Send(wire.Envelope{Type: "ERROR", Body: "unknown message: " + msg.Type}, msg.Sender)
	}
}

func (c *Client) OnTimer(ctx shim.Context, name string) {
	if name == "timeout" && c.pending != nil {
		ctx.Send(*c.pending, c.serverName)
		ctx.SetTimer("timeout", time.Second)
	}
}

// Server echoes every PING back as a PONG carrying the same body.
type Server struct {
	name string
}

func NewServer(name string) *Server { return &Server{name: name} }

func (s *Server) Name() string { return s.name }

func (s *Server) Receive(ctx shim.Context, msg wire.Envelope) {
	switch msg.Type {
	case "PING":
		ctx.Send(wire.Envelope{Type: "PONG", Body: msg.Body}, msg.Sender)
	default:
		ctx.Send(wire.Envelope{Type: "ERROR", Body: "unknown request type: " + msg.Type}, msg.Sender)
	}
}

func (s *Server) OnTimer(ctx shim.Context, name string) {}
