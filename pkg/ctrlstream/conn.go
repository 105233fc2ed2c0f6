package ctrlstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn wraps a single WebSocket connection carrying Frames in both
// directions. Writes are serialized with a mutex, matching the
// single-writer-goroutine discipline gorilla/websocket requires; reads are
// expected to happen from one goroutine at a time (the stream's reader
// loop), per SPEC_FULL.md §5's single-producer/single-consumer note.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// New wraps an already-established *websocket.Conn.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send encodes payload under kind and writes it as one text frame.
func (c *Conn) Send(kind string, payload any) error {
	f, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("ctrlstream: write %s: %w", kind, err)
	}
	return nil
}

// Recv blocks for the next frame off the wire. It returns an error when
// the peer closes the stream or the underlying connection fails — the
// caller (shim or controller) treats that as the process having stopped.
func (c *Conn) Recv() (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return Frame{}, fmt.Errorf("ctrlstream: read: %w", err)
	}
	return f, nil
}

// Close closes the underlying connection, best-effort sending a close
// frame first.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.ws.Close()
}

// Dial opens a control-plane stream to the controller at serverAddr,
// as the process-side of the connection ("initiated by the process" per
// spec.md §6).
func Dial(ctx context.Context, serverAddr string) (*Conn, error) {
	url := fmt.Sprintf("ws://%s/attach", serverAddr)
	d := websocket.Dialer{}
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ctrlstream: dial %s: %w", serverAddr, err)
	}
	return New(ws), nil
}
