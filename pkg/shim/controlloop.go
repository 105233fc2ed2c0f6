package shim

import (
	"github.com/dstestkit/harness/pkg/ctrlstream"
	"github.com/dstestkit/harness/pkg/wire"
)

// runControlLoop is the shim's CONTROL-mode state machine: wait for the
// next controller command, run it to completion (invoking exactly one
// user callback), ack, repeat. Because commands are handled one at a
// time on this single goroutine, the owning process observes a strictly
// sequential, single-threaded execution — SPEC_FULL.md §5's determinism
// guarantee.
func (s *Shim) runControlLoop() {
	for {
		frame, err := s.conn.Recv()
		if err != nil {
			s.log.WithError(err).Debug("control stream closed")
			return
		}
		switch frame.Kind {
		case ctrlstream.KindReceiveLocalMessage:
			var p ctrlstream.ReceiveLocalMessagePayload
			if err := ctrlstream.Decode(frame, &p); err != nil {
				s.log.WithError(err).Error("decode receive_local_message")
				continue
			}
			s.handleReceiveLocal(p.Message)

		case ctrlstream.KindReceiveMessage:
			var p ctrlstream.ReceiveMessagePayload
			if err := ctrlstream.Decode(frame, &p); err != nil {
				s.log.WithError(err).Error("decode receive_message")
				continue
			}
			s.handleReceiveMessage(p.MessageID, p.Message)

		case ctrlstream.KindFireTimer:
			var p ctrlstream.FireTimerPayload
			if err := ctrlstream.Decode(frame, &p); err != nil {
				s.log.WithError(err).Error("decode fire_timer")
				continue
			}
			s.handleFireTimer(p.TimerID)

		default:
			s.log.WithField("kind", frame.Kind).Warn("unknown command kind")
		}
	}
}

func (s *Shim) handleReceiveLocal(raw []byte) {
	msg, err := wire.Unmarshal(raw)
	if err != nil {
		s.log.WithError(err).Error("malformed local message command")
		return
	}
	_ = s.conn.Send(ctrlstream.KindMessageReceived, ctrlstream.MessageReceivedPayload{MessageID: wire.LocalSender})
	ctx := s.newContext()
	s.proc.Receive(ctx, msg)
	ctx.destroy()
	_ = s.conn.Send(ctrlstream.KindMessageProcessed, ctrlstream.MessageProcessedPayload{MessageID: wire.LocalSender})
}

func (s *Shim) handleReceiveMessage(messageID string, raw []byte) {
	msg, err := wire.Unmarshal(raw)
	if err != nil {
		s.log.WithError(err).Error("malformed message command")
		return
	}
	_ = s.conn.Send(ctrlstream.KindMessageReceived, ctrlstream.MessageReceivedPayload{MessageID: messageID})
	ctx := s.newContext()
	s.proc.Receive(ctx, msg)
	ctx.destroy()
	_ = s.conn.Send(ctrlstream.KindMessageProcessed, ctrlstream.MessageProcessedPayload{MessageID: messageID})
}

func (s *Shim) handleFireTimer(timerID string) {
	s.mu.Lock()
	name, ok := s.pendingTimers[timerID]
	delete(s.pendingTimers, timerID)
	s.mu.Unlock()
	if !ok {
		// The controller never issues FireTimer for an id it has
		// already purged via CancelTimer/crash, so this would
		// indicate a protocol desync rather than a normal race.
		s.log.WithField("timer_id", timerID).Error("fire_timer for unknown pending timer")
		return
	}
	_ = s.conn.Send(ctrlstream.KindTimerFired, ctrlstream.TimerFiredPayload{TimerID: timerID})
	ctx := s.newContext()
	s.proc.OnTimer(ctx, name)
	ctx.destroy()
	_ = s.conn.Send(ctrlstream.KindTimerProcessed, ctrlstream.TimerProcessedPayload{TimerID: timerID})
}
