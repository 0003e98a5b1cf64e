package engine

import (
	"net"
	"time"
)

// PollResult is what Poll hands back when a call produced something for
// the caller: either a delivered Data payload or an error worth logging.
type PollResult struct {
	From   net.Addr
	Buffer *Buffer
	Err    error
}

// Poll drains at most one datagram from the endpoint and, if it was a Data
// frame, returns its payload. Control frames (acks, nacks, pings, close)
// are fully handled internally and produce no output — the caller is
// expected to call Poll again immediately in that case.
func (e *Engine) Poll() (*PollResult, bool) {
	return e.PollAt(time.Now())
}

// PollAt is Poll with an injectable clock, for deterministic tests.
func (e *Engine) PollAt(now time.Time) (*PollResult, bool) {
	n, from, err := e.endpoint.RecvFrom(e.recvBuf, time.Millisecond)
	if err == ErrRecvTimeout {
		return nil, false
	}
	if err != nil {
		return &PollResult{Err: wrapErr(KindIO, err, "receiving datagram")}, true
	}

	data := e.recvBuf[:n]
	ptype, tag, seq, payload, perr := parseFrame(data)
	if perr != nil {
		return &PollResult{From: from, Err: perr}, true
	}
	if !verifyTag(ptype, seq, payload, tag) {
		return &PollResult{From: from, Err: newErr(KindSecurity, "integrity tag mismatch from %s", from)}, true
	}

	// Close/CloseAck deliberately do not materialize peer state for an
	// address the engine has never heard from: an unsolicited close gets
	// acknowledged and otherwise ignored.
	if ptype == PacketClose || ptype == PacketCloseAck {
		p, existed := e.lookupPeer(from)
		if existed {
			p.liveness.updateActivity(now)
		}
		if ptype == PacketClose {
			ack := serializeFrame(PacketCloseAck, seq, nil)
			if err := e.endpoint.SendTo(ack, from); err != nil {
				e.log.Warnf("peer %s: sending close-ack failed: %v", from, err)
			}
		}
		if existed {
			e.teardownPeer(from)
		}
		return nil, false
	}

	p := e.peerFor(from, now)
	p.liveness.updateActivity(now)

	switch ptype {
	case PacketData:
		return e.handleData(p, from, seq, payload, now)
	case PacketDataAck:
		e.handleDataAck(p, payload, now)
	case PacketDataNack:
		e.handleDataNack(p, payload, now)
	case PacketPing:
		e.handlePing(p, from, seq, payload)
	case PacketPingAck:
		e.handlePingAck(p, payload, now)
	}
	return nil, false
}

func (e *Engine) handleData(p *peerState, from net.Addr, seq uint32, payload []byte, now time.Time) (*PollResult, bool) {
	if _, dup := p.receivedSeqs[seq]; dup {
		e.scheduleAck(p, seq)
		return nil, false
	}

	p.receivedSeqs[seq] = struct{}{}
	e.scheduleAck(p, seq)

	buf := e.pool.Acquire()
	if len(payload) > buf.PayloadCap() {
		buf.Release()
		return &PollResult{From: from, Err: newErr(KindBufferTooLarge, "data payload %d exceeds %d", len(payload), buf.PayloadCap())}, true
	}
	copy(buf.PayloadMut(), payload)
	_ = buf.SetPayloadLen(len(payload))

	p.stats.PacketsReceived++

	return &PollResult{From: from, Buffer: buf}, true
}

func (e *Engine) handleDataAck(p *peerState, payload []byte, now time.Time) {
	seqs, err := decodeSeqList(payload)
	if err != nil {
		e.log.Warnf("peer %s: malformed data-ack: %v", p.addr, err)
		return
	}

	var acked uint32
	for _, seq := range seqs {
		pkt, ok := p.retransmit[seq]
		if !ok {
			continue
		}
		delete(p.retransmit, seq)
		acked++
		if !pkt.retransmitted {
			p.timing.sample(now.Sub(pkt.sendTime))
		}
	}
	if acked > 0 {
		p.congestion.onAckReceived(acked)
	}
}

func (e *Engine) handleDataNack(p *peerState, payload []byte, now time.Time) {
	seqs, err := decodeSeqList(payload)
	if err != nil {
		e.log.Warnf("peer %s: malformed data-nack: %v", p.addr, err)
		return
	}
	for _, seq := range seqs {
		e.retransmitNow(p, seq, now)
	}
}

func (e *Engine) handlePing(p *peerState, from net.Addr, seq uint32, payload []byte) {
	ack := serializeFrame(PacketPingAck, seq, payload)
	if err := e.endpoint.SendTo(ack, from); err != nil {
		e.log.Warnf("peer %s: sending ping-ack failed: %v", from, err)
	}
}

func (e *Engine) handlePingAck(p *peerState, payload []byte, now time.Time) {
	ts, err := decodePingPayload(payload)
	if err != nil {
		e.log.Warnf("peer %s: malformed ping-ack: %v", p.addr, err)
		return
	}
	nowNanos := now.UnixNano()
	if nowNanos > ts {
		p.timing.sample(time.Duration(nowNanos - ts))
	}
	p.liveness.markPingReceived(now)
}

// scheduleAck queues seq for the next ack-flush tick. Re-scheduling an
// already-pending or already-flushed sequence (a duplicate delivery) is
// harmless: the receiver tolerates redundant acks.
func (e *Engine) scheduleAck(p *peerState, seq uint32) {
	p.pendingAcks = append(p.pendingAcks, seq)
}
