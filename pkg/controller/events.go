package controller

import (
	"context"
	"time"

	"github.com/dstestkit/harness/pkg/ctrlstream"
	"github.com/dstestkit/harness/pkg/event"
	"github.com/dstestkit/harness/pkg/wire"
)

// modeWatch mirrors shim.ModeWatch's wire value. The controller only needs
// to distinguish "WATCH" from everything else, so it reads the raw string
// off ProcessStartedPayload rather than importing pkg/shim.
const modeWatch = "WATCH"

// controlInterval is the virtual-time timer interval every CONTROL-mode
// timer is coerced to, regardless of what the process requested. See
// DESIGN.md's note on this open question.
const controlInterval = time.Second

// runProcessLoop owns one process's control stream for its lifetime: the
// first frame must be ProcessStarted, after which it dispatches every
// subsequent event frame until the stream closes.
func (c *Controller) runProcessLoop(conn *ctrlstream.Conn) {
	frame, err := conn.Recv()
	if err != nil {
		c.log.WithError(err).Warn("process disconnected before announcing start")
		return
	}
	var started ctrlstream.ProcessStartedPayload
	if frame.Kind != ctrlstream.KindProcessStarted || ctrlstream.Decode(frame, &started) != nil {
		c.log.WithField("kind", frame.Kind).Error("expected process_started as first frame")
		_ = conn.Close()
		return
	}
	name := started.ProcessID
	c.register(name, started.Address, started.Mode, conn)

	for {
		frame, err := conn.Recv()
		if err != nil {
			c.markStopped(name)
			return
		}
		c.dispatchEvent(name, frame)
	}
}

func (c *Controller) dispatchEvent(name string, frame ctrlstream.Frame) {
	switch frame.Kind {
	case ctrlstream.KindProcessStopped:
		c.markStopped(name)

	case ctrlstream.KindNewMessage:
		var p ctrlstream.NewMessagePayload
		if ctrlstream.Decode(frame, &p) == nil {
			c.onNewMessage(name, p)
		}

	case ctrlstream.KindNewTimer:
		var p ctrlstream.NewTimerPayload
		if ctrlstream.Decode(frame, &p) == nil {
			c.onNewTimer(name, p)
		}

	case ctrlstream.KindTimerCanceled:
		var p ctrlstream.TimerCanceledPayload
		if ctrlstream.Decode(frame, &p) == nil {
			c.onTimerCanceled(name, p)
		}

	case ctrlstream.KindMessageProcessed:
		var p ctrlstream.MessageProcessedPayload
		if ctrlstream.Decode(frame, &p) == nil {
			c.notif.Notify(p.MessageID)
		}

	case ctrlstream.KindTimerProcessed:
		var p ctrlstream.TimerProcessedPayload
		if ctrlstream.Decode(frame, &p) == nil {
			c.notif.Notify(p.TimerID)
		}

	case ctrlstream.KindMessageReceived, ctrlstream.KindTimerFired:
		// Observational only — the scheduler already knows it dispatched
		// the event; nothing further to drive here.
		c.log.WithFields(map[string]any{"process": name, "kind": frame.Kind}).Debug("ack intermediate")

	default:
		c.log.WithField("kind", frame.Kind).Warn("unexpected frame from process")
	}
}

// onNewMessage handles a process's announcement of an outbound message.
// Local emissions (recipient == wire.LocalSender) go straight into the
// sender's local-message queue and never touch the scheduler. WATCH-mode
// processes announce real network sends purely for observation — they
// have no command loop to dispatch to, so their events are logged, not
// scheduled.
func (c *Controller) onNewMessage(sender string, p ctrlstream.NewMessagePayload) {
	if p.Recipient == wire.LocalSender {
		env, err := wire.Unmarshal(p.Message)
		if err != nil {
			c.log.WithError(err).Error("malformed local emission")
			return
		}
		c.mu.Lock()
		c.localMsgs[sender] = append(c.localMsgs[sender], env)
		c.cond.Broadcast()
		c.mu.Unlock()
		return
	}

	if c.modeOf(sender) == modeWatch {
		c.log.WithFields(map[string]any{"sender": sender, "recipient": p.Recipient}).
			Debug("observing WATCH-mode message, not scheduling")
		return
	}

	msg := event.NewMessage(p.MessageID, sender, p.Recipient, p.Message, time.Now())
	c.sched.Insert(msg)
}

// onNewTimer handles a process's announcement of a new or replaced timer,
// enforcing the pending-timer-map invariant: re-issuing a name purges the
// prior id's event before the new one is inserted.
func (c *Controller) onNewTimer(owner string, p ctrlstream.NewTimerPayload) {
	if c.modeOf(owner) == modeWatch {
		c.log.WithFields(map[string]any{"owner": owner, "name": p.Name}).
			Debug("observing WATCH-mode timer, not scheduling")
		return
	}

	c.mu.Lock()
	names, ok := c.pendingTimers[owner]
	if !ok {
		names = make(map[string]string)
		c.pendingTimers[owner] = names
	}
	oldID, hadPrior := names[p.Name]
	names[p.Name] = p.TimerID
	c.mu.Unlock()

	if hadPrior && oldID != p.TimerID {
		c.sched.Remove(oldID)
	}

	t := event.NewTimer(p.TimerID, owner, p.Name, controlInterval, time.Now())
	c.sched.Insert(t)
}

func (c *Controller) onTimerCanceled(owner string, p ctrlstream.TimerCanceledPayload) {
	c.mu.Lock()
	if names, ok := c.pendingTimers[owner]; ok {
		for name, id := range names {
			if id == p.TimerID {
				delete(names, name)
				break
			}
		}
	}
	c.mu.Unlock()
	c.sched.Remove(p.TimerID)
}

func (c *Controller) modeOf(process string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.processes[process]; ok {
		return p.mode
	}
	return ""
}

// SendReceiveMessage implements sched.Environment.
func (c *Controller) SendReceiveMessage(process, eventID, senderAddr string, payload []byte) error {
	conn, ok := c.connOf(process)
	if !ok {
		return ErrUnknownProcess
	}
	return conn.Send(ctrlstream.KindReceiveMessage, ctrlstream.ReceiveMessagePayload{
		MessageID: eventID,
		Sender:    senderAddr,
		Message:   payload,
	})
}

// SendFireTimer implements sched.Environment.
func (c *Controller) SendFireTimer(process, eventID string) error {
	conn, ok := c.connOf(process)
	if !ok {
		return ErrUnknownProcess
	}
	return conn.Send(ctrlstream.KindFireTimer, ctrlstream.FireTimerPayload{TimerID: eventID})
}

// AwaitAck implements sched.Environment.
func (c *Controller) AwaitAck(ctx context.Context, eventID string, timeout time.Duration) bool {
	return c.notif.Await(ctx, eventID, timeout)
}
