package shim

import (
	"time"

	"github.com/dstestkit/harness/pkg/wire"
)

// Context is the programming interface user code sees on every Receive
// and OnTimer callback. It is valid only for the duration of that
// callback — see (*shimContext).destroy.
type Context interface {
	// Addr returns the process's own bound address.
	Addr() string
	// Send enqueues message for delivery to recipient (a logical process
	// name under a controller, a "host:port" address standalone, or
	// LocalSender to behave like SendLocal). Returns immediately; in
	// CONTROL mode this only announces the message to the controller and
	// never touches the real network, while WATCH mode announces it and
	// also sends it over UDP.
	Send(message wire.Envelope, recipient string)
	// SendLocal emits an externally observable local message.
	SendLocal(message wire.Envelope)
	// SetTimer creates or replaces the named timer. interval is
	// coerced to 1 virtual second in CONTROL mode regardless of what
	// is requested here — see (*Shim).SetTimer.
	SetTimer(name string, interval time.Duration)
	// CancelTimer removes a pending timer by name. It is a no-op if no
	// timer with that name is pending.
	CancelTimer(name string)
}

// Process is the user-supplied business logic the shim drives. A zero
// value of OnTimer is acceptable for processes with no timers: embed
// NoTimers to satisfy the interface.
type Process interface {
	Name() string
	Receive(ctx Context, message wire.Envelope)
	OnTimer(ctx Context, name string)
}

// NoTimers can be embedded by processes that never set a timer, so they
// don't need to write an empty OnTimer method.
type NoTimers struct{}

func (NoTimers) OnTimer(ctx Context, name string) {}

type shimContext struct {
	s         *Shim
	destroyed bool
}

func (c *shimContext) Addr() string {
	c.checkLive()
	return c.s.Addr()
}

func (c *shimContext) Send(message wire.Envelope, recipient string) {
	c.checkLive()
	c.s.send(message, recipient)
}

func (c *shimContext) SendLocal(message wire.Envelope) {
	c.checkLive()
	c.s.sendLocal(message)
}

func (c *shimContext) SetTimer(name string, interval time.Duration) {
	c.checkLive()
	c.s.SetTimer(name, interval)
}

func (c *shimContext) CancelTimer(name string) {
	c.checkLive()
	c.s.CancelTimer(name)
}

// destroy invalidates the context; called once the triggering callback
// returns, mirroring the original's ctx.destroy() right before the ack is
// sent, so no outbound action can leak past the event it belongs to.
func (c *shimContext) destroy() {
	c.destroyed = true
}

func (c *shimContext) checkLive() {
	if c.destroyed {
		c.s.log.Warn("context used after callback returned")
		panic("shim: context used after destroy")
	}
}
