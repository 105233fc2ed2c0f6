// Package topology tracks the network fault rules the test driver installs
// between processes: per-process incoming-drop flags and a set of disabled
// directed links. A partition is modeled as the union of all cross-group
// disabled links; there is no separate partition concept to reset.
package topology

// Edge is a directed (src, dst) pair identifying a disabled link.
type Edge struct {
	Src, Dst string
}

// Rules is the controller's topology state. Construct it with New, which
// yields the default topology (every link open, nothing dropped); the zero
// value's nil maps make SetIncomingDropped and DisableLink panic.
type Rules struct {
	incomingDropped map[string]bool
	disabledLinks   map[Edge]bool
}

// New returns a default (fully connected) Rules.
func New() *Rules {
	return &Rules{
		incomingDropped: make(map[string]bool),
		disabledLinks:   make(map[Edge]bool),
	}
}

// SetIncomingDropped sets or clears the incoming-dropped flag for a
// process; used by DropIncoming/DisconnectProcess and ConnectProcess.
func (r *Rules) SetIncomingDropped(process string, dropped bool) {
	if dropped {
		r.incomingDropped[process] = true
	} else {
		delete(r.incomingDropped, process)
	}
}

// DisableLink marks (src, dst) as disabled; messages from src to dst are
// discarded at dispatch time until EnableLink or Reset.
func (r *Rules) DisableLink(src, dst string) {
	r.disabledLinks[Edge{src, dst}] = true
}

// EnableLink clears a previously disabled (src, dst) link.
func (r *Rules) EnableLink(src, dst string) {
	delete(r.disabledLinks, Edge{src, dst})
}

// Partition installs every cross-group ordered pair between a and b into
// disabled links, in both directions, realizing "no message from a∈A to
// b∈B nor vice versa is ever delivered until reset" (spec.md §8).
func (r *Rules) Partition(a, b []string) {
	for _, x := range a {
		for _, y := range b {
			r.DisableLink(x, y)
			r.DisableLink(y, x)
		}
	}
}

// Reset clears every topology rule, restoring the default (fully
// connected, nothing dropped) topology.
func (r *Rules) Reset() {
	r.incomingDropped = make(map[string]bool)
	r.disabledLinks = make(map[Edge]bool)
}

// Denies reports whether a message from src to dst should be discarded:
// either dst has incoming dropped, or (src, dst) is a disabled link.
func (r *Rules) Denies(src, dst string) bool {
	if r.incomingDropped[dst] {
		return true
	}
	return r.disabledLinks[Edge{src, dst}]
}
