// Package engine implements the per-endpoint reliable-datagram protocol
// engine: packet framing and tamper-evident integrity tags, the
// send/retransmit state machine, receive-side deduplication and
// acknowledgement batching, RTT estimation, congestion control, and the
// keepalive/liveness state machine described in the package's
// specification. It deliberately does not implement ordering, framing, or
// a handshake — see the non-goals in the design documents this package
// was built from.
//
// The engine is single-threaded and cooperative: Submit, Poll, Tick and
// Close all execute serialized on whatever scheduling context owns the
// Engine, and time only advances during those calls. Driving the engine
// (calling Tick in a loop, alongside Poll) is the caller's job; the engine
// never spawns its own goroutines or timers.
package engine

import (
	"errors"
	"net"
	"time"
)

// ErrRecvTimeout is returned by a DatagramEndpoint's RecvFrom when no
// datagram arrived before the deadline. It is not a real error: Poll
// treats it as "nothing to report this call".
var ErrRecvTimeout = errors.New("reliudp: receive timeout")

// DatagramEndpoint is the external collaborator the engine consumes: a
// message-oriented, connectionless, address-stamped byte transport. It
// carries no reliability or ordering guarantees of its own — that is the
// engine's job.
type DatagramEndpoint interface {
	// SendTo transmits b to addr. It may suspend but must not block
	// indefinitely.
	SendTo(b []byte, addr net.Addr) error
	// RecvFrom waits up to timeout for one datagram, reading it into buf.
	// It returns ErrRecvTimeout (not n==0) when the deadline elapses with
	// nothing received.
	RecvFrom(buf []byte, timeout time.Duration) (n int, addr net.Addr, err error)
}

// Logger is the minimal structured-logging contract the engine uses. A
// nil Logger is valid; the engine then logs nothing.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// recvBufSize is large enough to hold the worst-case frame the wire format
// defines plus a small margin, regardless of what the endpoint hands back.
const recvBufSize = frameCapacity + 64

// Engine is one protocol endpoint: it owns a single DatagramEndpoint and
// multiplexes logical connections to arbitrary remote addresses. A
// connection materializes implicitly on first send or receive to/from a
// peer address.
type Engine struct {
	endpoint DatagramEndpoint
	pool     *BufferPool
	log      Logger

	peers map[string]*peerState

	lastCleanup time.Time
	recvBuf     []byte
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger installs a structured logger. Without this option the engine
// logs nothing.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New wires an Engine to an already-bound DatagramEndpoint and a buffer
// pool. Binding the endpoint (and any bind-failure handling) is the
// endpoint implementation's responsibility — see the transport package's
// UDPEndpoint for the concrete binding this protocol is normally deployed
// over.
func New(endpoint DatagramEndpoint, pool *BufferPool, opts ...Option) *Engine {
	e := &Engine{
		endpoint: endpoint,
		pool:     pool,
		log:      noopLogger{},
		peers:    make(map[string]*peerState),
		recvBuf:  make([]byte, recvBufSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AcquireBuffer hands the caller a fresh buffer from the pool, ready to be
// filled with a payload and submitted.
func (e *Engine) AcquireBuffer() *Buffer {
	return e.pool.Acquire()
}

// BufferPoolStats reports the underlying buffer pool's activity.
func (e *Engine) BufferPoolStats() PoolStats {
	return e.pool.Stats()
}

// Peers lists every remote address the engine currently tracks state for.
func (e *Engine) Peers() []net.Addr {
	out := make([]net.Addr, 0, len(e.peers))
	for _, p := range e.peers {
		out = append(out, p.addr)
	}
	return out
}

// ConnectionStatus reports a peer's liveness status. A peer this engine
// has never heard from, or has since torn down, reports Dead.
func (e *Engine) ConnectionStatus(peer net.Addr) Status {
	p, ok := e.peers[peer.String()]
	if !ok {
		return Dead
	}
	return p.liveness.status
}

// Stats returns a peer's cumulative statistics, if the engine still
// tracks that peer.
func (e *Engine) Stats(peer net.Addr) (ConnectionStats, bool) {
	p, ok := e.peers[peer.String()]
	if !ok {
		return ConnectionStats{}, false
	}
	stats := p.stats
	stats.AvgRTT = p.timing.srtt
	stats.LastActivity = p.liveness.lastActivity
	return stats, true
}

// peerFor returns (creating if necessary) the peerState for addr.
func (e *Engine) peerFor(addr net.Addr, now time.Time) *peerState {
	key := addr.String()
	p, ok := e.peers[key]
	if !ok {
		p = newPeerState(addr, now)
		e.peers[key] = p
	}
	return p
}

// lookupPeer returns the peerState for addr without creating one.
func (e *Engine) lookupPeer(addr net.Addr) (*peerState, bool) {
	p, ok := e.peers[addr.String()]
	return p, ok
}

func (e *Engine) teardownPeer(addr net.Addr) {
	delete(e.peers, addr.String())
}

// Close sends a Close frame to every tracked peer and purges all peer
// state. It does not close the underlying DatagramEndpoint — that remains
// the caller's (or the endpoint implementation's) responsibility.
func (e *Engine) Close() error {
	return e.CloseAt(time.Now())
}

// CloseAt is Close with an injectable clock, for deterministic tests.
func (e *Engine) CloseAt(now time.Time) error {
	var firstErr error
	for _, p := range e.peers {
		seq := p.takeSeq()
		frame := serializeFrame(PacketClose, seq, nil)
		if err := e.endpoint.SendTo(frame, p.addr); err != nil && firstErr == nil {
			firstErr = wrapErr(KindIO, err, "sending close to %s", p.addr)
		}
	}
	e.peers = make(map[string]*peerState)
	return firstErr
}
