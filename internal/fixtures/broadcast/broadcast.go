// Package broadcast is a peer that sends every locally submitted chat
// message to its configured peer set and relays each broadcast it receives
// for the first time, grounded on
// original_source/homework/broadcast/solution/peer.py.
package broadcast

import (
	"github.com/dstestkit/harness/pkg/shim"
	"github.com/dstestkit/harness/pkg/wire"
)

// Peer broadcasts SEND messages to its peers. On the first receipt of a
// BCAST it forwards it to every peer except the one it came from, then
// delivers it to the local user as DELIVER; later copies of the same
// "<from>: <body>" text are ignored, so a peer delivers it at most once.
type Peer struct {
	name  string
	peers []string
	seen  map[string]bool
}

// NewPeer builds a peer that broadcasts to peerNames (the other peers'
// logical process names, not including its own).
func NewPeer(name string, peerNames []string) *Peer {
	return &Peer{name: name, peers: peerNames, seen: make(map[string]bool)}
}

func (p *Peer) Name() string { return p.name }

func (p *Peer) Receive(ctx shim.Context, msg wire.Envelope) {
	switch {
	case msg.Type == "SEND" && msg.IsLocal():
		p.seen[p.name+": "+msg.Body] = true
		bcast := wire.Envelope{Type: "BCAST", Body: msg.Body, Headers: map[string]string{"from": p.name}}
		for _, peer := range p.peers {
			ctx.Send(bcast, peer)
		}
	case msg.Type == "BCAST":
		text := msg.Headers["from"] + ": " + msg.Body
		if p.seen[text] {
			return
		}
		p.seen[text] = true
		for _, peer := range p.peers {
			if peer != msg.Sender {
				ctx.Send(msg, peer)
			}
		}
		ctx.SendLocal(wire.Envelope{Type: "DELIVER", Body: text})
	}
}

func (p *Peer) OnTimer(ctx shim.Context, name string) {}
