package core

import (
	"net"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// UDPTransport is the production types.Transport: a single bound
// *net.UDPConn shared by every Message a server or client sends.
type UDPTransport struct {
	conn *net.UDPConn
}

// NewUDPTransport binds addr and returns a ready-to-use transport.
func NewUDPTransport(addr *net.UDPAddr) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn}, nil
}

// SendTo writes raw to peer's address.
func (t *UDPTransport) SendTo(peer types.Peer, raw []byte) error {
	_, err := t.conn.WriteToUDPAddrPort(raw, peer.Addr)
	return err
}

// ReadFrom blocks for the next datagram, returning its bytes and sender.
func (t *UDPTransport) ReadFrom(buf []byte) (int, types.Peer, error) {
	n, addrPort, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return n, types.Peer{}, err
	}
	return n, types.Peer{Addr: addrPort}, nil
}

// LocalAddr reports the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
