package shim

import (
	"github.com/dstestkit/harness/pkg/ctrlstream"
	"github.com/dstestkit/harness/pkg/wire"
)

// receiveMessagesLoop reads real datagrams off the UDP transport and
// feeds them to processMessagesLoop. Only runs in WATCH or standalone
// mode — CONTROL mode never touches the network.
func (s *Shim) receiveMessagesLoop() {
	for {
		raw, ok := s.trans.Recv()
		if !ok {
			return
		}
		msg, err := wire.Unmarshal(raw)
		if err != nil {
			s.log.WithError(err).Debug("dropped malformed datagram")
			continue
		}
		select {
		case s.inbox <- msg:
		case <-s.stopCh:
			return
		}
	}
}

// processMessagesLoop drains the inbox and invokes the user callback for
// each message, one at a time — the same sequential discipline CONTROL
// mode gets from the controller, just driven by real arrival order here.
func (s *Shim) processMessagesLoop() {
	for {
		select {
		case msg := <-s.inbox:
			s.deliverInboundReal(msg)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Shim) deliverInboundReal(msg wire.Envelope) {
	s.log.WithField("from", msg.Sender).Debug("receive")
	if s.testing {
		_ = s.conn.Send(ctrlstream.KindMessageReceived, ctrlstream.MessageReceivedPayload{MessageID: msg.ID})
	}
	ctx := s.newContext()
	s.proc.Receive(ctx, msg)
	ctx.destroy()
	if s.testing {
		_ = s.conn.Send(ctrlstream.KindMessageProcessed, ctrlstream.MessageProcessedPayload{MessageID: msg.ID})
	}
}
