// Package wire marshals and unmarshals the user-facing message envelope.
//
// A message is a self-describing JSON object: {type, body?, headers?,
// sender?, id?}. Payloads are opaque to every layer above this package —
// the controller and scheduler never look inside body or headers.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LocalSender is the sentinel sender/recipient name for local (operator)
// messages, as opposed to a real host:port address.
const LocalSender = "local"

// ErrMalformed is returned when a raw payload cannot be decoded into an
// Envelope, or decodes into one missing its required Type field.
var ErrMalformed = errors.New("malformed message")

// Envelope is the wire representation of a user message: a type tag, an
// optional opaque body and header map, and bookkeeping fields the shim and
// controller stamp on before handing it to the network.
type Envelope struct {
	Type    string            `json:"type"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Sender  string            `json:"sender,omitempty"`
	ID      string            `json:"id,omitempty"`
}

// IsLocal reports whether the envelope is addressed to or from the local
// (operator) sentinel rather than a real process.
func (e Envelope) IsLocal() bool {
	return e.Sender == LocalSender
}

// Marshal encodes an envelope to its wire bytes. If sender or id are
// non-empty they override whatever is already set on e, mirroring the
// two-argument marshall() of the original Python Message.
func Marshal(e Envelope, sender, id string) ([]byte, error) {
	out := e
	if sender != "" {
		out.Sender = sender
	}
	if id != "" {
		out.ID = id
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", out.Type, err)
	}
	return b, nil
}

// Unmarshal decodes raw wire bytes into an Envelope. It returns
// ErrMalformed (wrapped with the decode error or the missing-field
// complaint) when the bytes aren't a well-formed envelope.
func Unmarshal(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return e, nil
}
