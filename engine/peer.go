package engine

import (
	"net"
	"time"
)

// pendingPacket is a parked, unacknowledged frame awaiting retransmission
// or ack. It owns its own serialized bytes; a PeerState's retransmit map
// is the sole place these live.
type pendingPacket struct {
	data       []byte
	sendTime   time.Time
	retryCount uint8
	rto        time.Duration
	retransmitted bool // Karn's algorithm: excludes this packet's next ack from RTT sampling
}

// ConnectionStats is the externally-visible cumulative counters for one
// peer.
type ConnectionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	Retransmissions uint64
	AvgRTT          time.Duration
	LastActivity    time.Time
}

// peerState is the engine's per-remote-address bundle: sequence counters,
// the retransmit map, the received-set used for dedup, the pending-ack
// list, and the timing/congestion/liveness sub-state machines. Modeling it
// as one record (rather than several maps keyed in parallel) is what makes
// the "created lazily, torn down atomically" lifecycle trivial to get
// right.
type peerState struct {
	addr net.Addr

	nextSeq uint32

	retransmit   map[uint32]*pendingPacket
	receivedSeqs map[uint32]struct{}
	pendingAcks  []uint32

	timing     *timingEstimator
	congestion *congestionController
	liveness   *livenessTracker

	stats ConnectionStats

	seqWrapped bool // set when nextSeq has wrapped to 0 since the last cleanup sweep
}

func newPeerState(addr net.Addr, now time.Time) *peerState {
	return &peerState{
		addr:         addr,
		retransmit:   make(map[uint32]*pendingPacket),
		receivedSeqs: make(map[uint32]struct{}),
		timing:       newTimingEstimator(),
		congestion:   newCongestionController(),
		liveness:     newLivenessTracker(now),
		stats:        ConnectionStats{LastActivity: now},
	}
}

// takeSeq returns the next outgoing sequence for this peer and advances
// the counter, wrapping modulo 2^32 explicitly.
func (p *peerState) takeSeq() uint32 {
	seq := p.nextSeq
	p.nextSeq++
	if p.nextSeq == 0 {
		p.seqWrapped = true
	}
	return seq
}

// idle reports whether this peer has no retained state worth keeping
// around: no pending sends, no dedup history, and no queued acks.
func (p *peerState) idle() bool {
	return len(p.retransmit) == 0 && len(p.receivedSeqs) == 0 && len(p.pendingAcks) == 0
}
