package engine

import (
	"net"
	"sync"
	"time"
)

// memAddr is a trivial net.Addr stand-in for in-process loopback tests.
type memAddr string

func (m memAddr) Network() string { return "mem" }
func (m memAddr) String() string  { return string(m) }

type inboundFrame struct {
	data []byte
	from net.Addr
}

// memNetwork is a shared address->endpoint registry so several memEndpoints
// can address each other by memAddr, the way real sockets address each
// other by IP:port.
type memNetwork struct {
	mu   sync.Mutex
	byAddr map[string]*memEndpoint
}

func newMemNetwork() *memNetwork {
	return &memNetwork{byAddr: make(map[string]*memEndpoint)}
}

func (n *memNetwork) register(ep *memEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byAddr[ep.self.String()] = ep
}

func (n *memNetwork) lookup(addr net.Addr) *memEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.byAddr[addr.String()]
}

// memEndpoint is an in-memory DatagramEndpoint fake with an injectable drop
// rate, so tests can exercise retransmission and loss handling without a
// real socket. Several memEndpoints sharing a memNetwork can address each
// other freely, mirroring a real UDP fanout server.
type memEndpoint struct {
	mu       sync.Mutex
	self     net.Addr
	net      *memNetwork
	inbox    []inboundFrame
	dropNth  int // drop every Nth send (0 disables)
	sendSeen int
}

func newMemEndpointOn(network *memNetwork, addr net.Addr) *memEndpoint {
	ep := &memEndpoint{self: addr, net: network}
	network.register(ep)
	return ep
}

// newMemEndpoint creates a standalone endpoint with its own private
// network, for the common case of exactly two communicating endpoints.
func newMemEndpoint(addr net.Addr) *memEndpoint {
	return newMemEndpointOn(newMemNetwork(), addr)
}

// linkEndpoints joins two previously-standalone endpoints onto one shared
// network so they can address each other.
func linkEndpoints(a, b *memEndpoint) {
	a.net.register(b)
	b.net = a.net
	b.net.register(a)
}

func (m *memEndpoint) SendTo(b []byte, addr net.Addr) error {
	m.mu.Lock()
	m.sendSeen++
	drop := m.dropNth > 0 && m.sendSeen%m.dropNth == 0
	network := m.net
	self := m.self
	m.mu.Unlock()

	if drop {
		return nil
	}
	dest := network.lookup(addr)
	if dest == nil {
		return nil
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	dest.mu.Lock()
	dest.inbox = append(dest.inbox, inboundFrame{data: cp, from: self})
	dest.mu.Unlock()
	return nil
}

func (m *memEndpoint) RecvFrom(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return 0, nil, ErrRecvTimeout
	}
	frame := m.inbox[0]
	m.inbox = m.inbox[1:]
	n := copy(buf, frame.data)
	return n, frame.from, nil
}
