package testhelpers

import (
	"net"
	"sync"
)

// SentPacket records one datagram written through the mock transport
type SentPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockTransport captures outbound datagrams instead of writing to a socket
type MockTransport struct {
	mu      sync.Mutex
	packets []SentPacket
}

// NewMockTransport creates an empty capture transport
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// WriteTo records the datagram and reports it fully written
func (t *MockTransport) WriteTo(data []byte, addr *net.UDPAddr) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := SentPacket{
		Data: make([]byte, len(data)),
		Addr: addr,
	}
	copy(p.Data, data)
	t.packets = append(t.packets, p)
	return len(data), nil
}

// Packets returns a copy of everything written so far
func (t *MockTransport) Packets() []SentPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentPacket(nil), t.packets...)
}

// PacketsTo returns the datagrams written to one address
func (t *MockTransport) PacketsTo(addr *net.UDPAddr) []SentPacket {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []SentPacket
	for _, p := range t.packets {
		if p.Addr.IP.Equal(addr.IP) && p.Addr.Port == addr.Port {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the most recent datagram, nil when nothing was written
func (t *MockTransport) Last() *SentPacket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.packets) == 0 {
		return nil
	}
	p := t.packets[len(t.packets)-1]
	return &p
}

// Clear discards everything captured so far
func (t *MockTransport) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packets = nil
}
