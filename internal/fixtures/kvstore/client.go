package kvstore

import (
	"github.com/dstestkit/harness/pkg/shim"
	"github.com/dstestkit/harness/pkg/wire"
)

// Client is a thin coordinator-less front end for a kvstore.Node cluster,
// standing in for the separate client process spec.md §8 scenarios 5 and 6
// name (client1/client2/client3) alongside the replica processes. Neither
// original_source homework this package is grounded on actually has a
// distinct client process type — original_source/2020/homework/
// kv-replication/test.py's BaseTestCase.send_get/send_put address storage
// nodes directly — so Client does the minimum a six-process topology needs:
// forward a locally injected GET/PUT/DELETE to one fixed replica and relay
// whatever *_RESP comes back to the local driver.
type Client struct {
	shim.NoTimers
	name    string
	replica string
}

// NewClient builds a client that forwards every request to replica.
func NewClient(name, replica string) *Client {
	return &Client{name: name, replica: replica}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Receive(ctx shim.Context, msg wire.Envelope) {
	if msg.IsLocal() {
		ctx.Send(msg, c.replica)
		return
	}
	ctx.SendLocal(msg)
}
