package shim

import (
	"fmt"
	"net"
)

// transport is the real network path a shim uses in WATCH/STANDALONE
// mode. Grounded on original_source/dslib/transport.py's UDPTransport:
// one UDP socket, best-effort send, blocking receive that unblocks on
// Close.
type transport struct {
	conn *net.UDPConn
	addr string
}

func newUDPTransport(bindAddr string) (*transport, error) {
	var laddr *net.UDPAddr
	var err error
	if bindAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", bindAddr)
		if err != nil {
			return nil, fmt.Errorf("shim: resolve bind addr %s: %w", bindAddr, err)
		}
	} else {
		laddr = &net.UDPAddr{Port: 0}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("shim: listen udp: %w", err)
	}
	return &transport{conn: conn, addr: conn.LocalAddr().String()}, nil
}

func (t *transport) Addr() string { return t.addr }

func (t *transport) Send(data []byte, to string) error {
	raddr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return fmt.Errorf("shim: resolve recipient %s: %w", to, err)
	}
	_, err = t.conn.WriteToUDP(data, raddr)
	return err
}

// Recv blocks for the next datagram. It returns ok=false once the
// transport has been closed.
func (t *transport) Recv() (data []byte, ok bool) {
	buf := make([]byte, 65536)
	n, _, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, false
	}
	return buf[:n], true
}

func (t *transport) Close() error {
	return t.conn.Close()
}
