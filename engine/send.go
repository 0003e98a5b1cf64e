package engine

import (
	"net"
	"time"
)

const maxRetries = 5

// Submit assigns a sequence number to buf's contents, frames it as a Data
// packet, and hands it to the datagram endpoint, parking a copy for
// retransmission until it is acknowledged. Ownership of buf transfers to
// the engine: once Submit returns (successfully or not) the caller must
// not use buf again, as it has already been released back to the pool.
func (e *Engine) Submit(buf *Buffer, dest net.Addr) error {
	return e.SubmitAt(buf, dest, time.Now())
}

// SubmitAt is Submit with an injectable clock, for deterministic tests.
func (e *Engine) SubmitAt(buf *Buffer, dest net.Addr, now time.Time) error {
	defer buf.Release()

	p := e.peerFor(dest, now)

	if !p.congestion.CanSend() {
		return newErr(KindCongestionWindowFull, "peer %s: in_flight >= cwnd", dest)
	}

	seq := p.takeSeq()
	fillHeader(buf, PacketData, seq)

	frameCopy := make([]byte, len(buf.frame()))
	copy(frameCopy, buf.frame())

	if err := e.endpoint.SendTo(frameCopy, dest); err != nil {
		return wrapErr(KindIO, err, "sending data seq=%d to %s", seq, dest)
	}

	p.retransmit[seq] = &pendingPacket{
		data:     frameCopy,
		sendTime: now,
		rto:      p.timing.packetRTO(),
	}

	p.stats.PacketsSent++
	p.liveness.updateActivity(now)
	p.congestion.onPacketSent()

	return nil
}

// retransmitDue walks every peer's retransmit map, resending frames whose
// RTO has elapsed and abandoning ones that have exhausted their retry
// budget.
func (e *Engine) retransmitDue(now time.Time) {
	for _, p := range e.peers {
		for seq, pkt := range p.retransmit {
			if now.Sub(pkt.sendTime) < pkt.rto {
				continue
			}
			if pkt.retryCount >= maxRetries {
				delete(p.retransmit, seq)
				p.stats.PacketsLost++
				p.liveness.markPacketLost()
				p.congestion.onPacketLost(now, pkt.rto)
				e.log.Warnf("peer %s: seq=%d abandoned after %d retries", p.addr, seq, pkt.retryCount)
				continue
			}

			pkt.retryCount++
			pkt.sendTime = now
			pkt.retransmitted = true
			newRTO := pkt.rto * 2
			if newRTO > rtoMaxPacket {
				newRTO = rtoMaxPacket
			}
			pkt.rto = newRTO

			if err := e.endpoint.SendTo(pkt.data, p.addr); err != nil {
				e.log.Warnf("peer %s: retransmit seq=%d failed: %v", p.addr, seq, err)
			}
			p.stats.Retransmissions++
			p.congestion.onPacketLost(now, pkt.rto)
		}
	}
}

// retransmitNow immediately resends a single pending packet in response to
// a DataNack, per §4.6: the attempt counts toward the abandonment cap (the
// spec's stated safer default) and clears the loss-suppression window so a
// subsequent timeout can still fire.
func (e *Engine) retransmitNow(p *peerState, seq uint32, now time.Time) {
	pkt, ok := p.retransmit[seq]
	if !ok {
		return
	}
	pkt.retryCount++
	pkt.sendTime = now
	pkt.retransmitted = true

	if err := e.endpoint.SendTo(pkt.data, p.addr); err != nil {
		e.log.Warnf("peer %s: nack-triggered retransmit seq=%d failed: %v", p.addr, seq, err)
	}
	p.stats.Retransmissions++
	p.congestion.clearCongestionSuppression()
}
