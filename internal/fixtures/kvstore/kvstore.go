// Package kvstore is a quorum-replicated key/value node, grounded on the
// replica-selection scheme in
// original_source/homework/08-kv-replication/solution.py (get_key_replicas)
// with the node-to-node replication protocol (left as a `pass` stub in
// that homework's on_message) supplied here so the quorum round-trip is
// actually exercised end to end, per spec.md §8's quorum-replica scenario.
// The values/metadata response shape follows the more advanced
// original_source/2020/homework/kv-replication/test.py, whose send_get
// asserts on a response body carrying parallel 'values' and 'metadata'
// lists rather than a single value.
package kvstore

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dstestkit/harness/pkg/shim"
	"github.com/dstestkit/harness/pkg/wire"
)

const requestTimeout = 2 * time.Second

// replicationFactor mirrors the original's hardcoded 3-way replication.
const replicationFactor = 3

type clientRequest struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Quorum int    `json:"quorum"`
}

// versionedValue pairs a stored value with the opaque id of the write that
// produced it. No read-repair or anti-entropy runs against replicas that
// fall out of sync (e.g. across a partition), so a read quorum can surface
// more than one of these for the same key; reconciling siblings is left to
// the caller, matching spec.md §8 scenario 6's "set-union... with matching
// opaque version metadata".
type versionedValue struct {
	Value   string `json:"value"`
	Version string `json:"version"`
}

type clientResponse struct {
	Key      string           `json:"key"`
	Values   []versionedValue `json:"values,omitempty"`
	Found    bool             `json:"found"`
	TimedOut bool             `json:"timed_out,omitempty"`
}

type replicateMsg struct {
	ReqID string `json:"req_id"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type replicateAck struct {
	ReqID   string `json:"req_id"`
	Value   string `json:"value,omitempty"`
	Version string `json:"version,omitempty"`
	Found   bool   `json:"found"`
}

type pendingRequest struct {
	kind    string // GET, PUT, DELETE
	key     string
	value   string
	quorum  int
	acked   int
	seen    []versionedValue // distinct (value, version) pairs seen across acks, dedup by version
	replied bool
	replyTo string // wire.LocalSender, or the remote client process that issued the request
}

func (r *pendingRequest) observe(v versionedValue) {
	for _, existing := range r.seen {
		if existing.Version == v.Version {
			return
		}
	}
	r.seen = append(r.seen, v)
}

// Node is one storage node in a fixed cluster.
type Node struct {
	name      string
	nodeNames []string

	data    map[string]versionedValue
	pending map[string]*pendingRequest
}

// NewNode builds a storage node. nodeNames lists every node's logical
// process name, in a stable, cluster-wide order shared by every node.
func NewNode(name string, nodeNames []string) *Node {
	return &Node{
		name:      name,
		nodeNames: nodeNames,
		data:      make(map[string]versionedValue),
		pending:   make(map[string]*pendingRequest),
	}
}

func (n *Node) Name() string { return n.name }

func (n *Node) Receive(ctx shim.Context, msg wire.Envelope) {
	switch msg.Type {
	case "GET", "PUT", "DELETE":
		// A client-facing request, whether injected locally or forwarded
		// here by a kvstore.Client coordinating on a caller's behalf.
		n.receiveRequest(ctx, msg)
	case "REPLICATE_GET", "REPLICATE_PUT", "REPLICATE_DELETE":
		n.receiveReplicate(ctx, msg)
	case "REPLICATE_ACK":
		n.receiveAck(ctx, msg)
	}
}

func (n *Node) receiveRequest(ctx shim.Context, msg wire.Envelope) {
	var req clientRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		return
	}
	quorum := req.Quorum
	if quorum <= 0 || quorum > replicationFactor {
		quorum = (replicationFactor / 2) + 1
	}

	replyTo := wire.LocalSender
	if !msg.IsLocal() {
		replyTo = msg.Sender
	}
	reqID := uuid.New().String()
	n.pending[reqID] = &pendingRequest{kind: msg.Type, key: req.Key, value: req.Value, quorum: quorum, replyTo: replyTo}

	kind := "REPLICATE_" + msg.Type
	payload, _ := json.Marshal(replicateMsg{ReqID: reqID, Key: req.Key, Value: req.Value})
	for _, idx := range keyReplicas(req.Key, len(n.nodeNames)) {
		ctx.Send(wire.Envelope{Type: kind, Body: string(payload)}, n.nodeNames[idx])
	}
	ctx.SetTimer(reqID, requestTimeout)
}

func (n *Node) receiveReplicate(ctx shim.Context, msg wire.Envelope) {
	var p replicateMsg
	if err := json.Unmarshal([]byte(msg.Body), &p); err != nil {
		return
	}
	ack := replicateAck{ReqID: p.ReqID}
	switch msg.Type {
	case "REPLICATE_GET":
		v, ok := n.data[p.Key]
		ack.Value, ack.Version, ack.Found = v.Value, v.Version, ok
	case "REPLICATE_PUT":
		// The request's own correlation id doubles as this write's opaque
		// version: every replica that accepts the write stamps the same id.
		sv := versionedValue{Value: p.Value, Version: p.ReqID}
		n.data[p.Key] = sv
		ack.Value, ack.Version, ack.Found = sv.Value, sv.Version, true
	case "REPLICATE_DELETE":
		v, ok := n.data[p.Key]
		delete(n.data, p.Key)
		ack.Value, ack.Version, ack.Found = v.Value, v.Version, ok
	}
	out, _ := json.Marshal(ack)
	ctx.Send(wire.Envelope{Type: "REPLICATE_ACK", Body: string(out)}, msg.Sender)
}

func (n *Node) receiveAck(ctx shim.Context, msg wire.Envelope) {
	var ack replicateAck
	if err := json.Unmarshal([]byte(msg.Body), &ack); err != nil {
		return
	}
	req, ok := n.pending[ack.ReqID]
	if !ok || req.replied {
		return
	}
	req.acked++
	if ack.Found {
		req.observe(versionedValue{Value: ack.Value, Version: ack.Version})
	}
	if req.acked < req.quorum {
		return
	}
	req.replied = true
	ctx.CancelTimer(ack.ReqID)
	delete(n.pending, ack.ReqID)

	resp := clientResponse{Key: req.key, Found: len(req.seen) > 0}
	if req.kind == "GET" || req.kind == "DELETE" {
		resp.Values = req.seen
	} else {
		resp.Values = []versionedValue{{Value: req.value, Version: ack.ReqID}}
		resp.Found = true
	}
	out, _ := json.Marshal(resp)
	n.reply(ctx, req, wire.Envelope{Type: req.kind + "_RESP", Body: string(out)})
}

// reply delivers a response either to the local driver or back to the
// remote client that forwarded the request, depending on req.replyTo.
func (n *Node) reply(ctx shim.Context, req *pendingRequest, resp wire.Envelope) {
	if req.replyTo == wire.LocalSender || req.replyTo == "" {
		ctx.SendLocal(resp)
		return
	}
	ctx.Send(resp, req.replyTo)
}

func (n *Node) OnTimer(ctx shim.Context, name string) {
	req, ok := n.pending[name]
	if !ok || req.replied {
		return
	}
	req.replied = true
	delete(n.pending, name)
	out, _ := json.Marshal(clientResponse{Key: req.key, TimedOut: true})
	n.reply(ctx, req, wire.Envelope{Type: req.kind + "_RESP", Body: string(out)})
}

// keyReplicas reproduces get_key_replicas: an md5-hash-derived starting
// node, then the next replicationFactor-1 nodes around the ring.
func keyReplicas(key string, nodeCount int) []int {
	if nodeCount == 0 {
		return nil
	}
	sum := md5.Sum([]byte(key))
	start := int(binary.LittleEndian.Uint64(sum[:8]) % uint64(nodeCount))

	n := replicationFactor
	if n > nodeCount {
		n = nodeCount
	}
	replicas := make([]int, n)
	cur := start
	for i := 0; i < n; i++ {
		replicas[i] = cur
		cur = (cur + 1) % nodeCount
	}
	return replicas
}
