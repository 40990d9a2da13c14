package network

import (
	"net"
)

// Transport abstracts the outbound side of the UDP socket so handlers and
// tests can inject their own sink.
type Transport interface {
	WriteTo(data []byte, addr *net.UDPAddr) (int, error)
}

type udpTransport struct {
	conn *net.UDPConn
}

func (t *udpTransport) WriteTo(data []byte, addr *net.UDPAddr) (int, error) {
	return t.conn.WriteToUDP(data, addr)
}
