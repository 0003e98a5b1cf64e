package engine

import "time"

const cleanupInterval = 60 * time.Second
const cleanupIdleThreshold = 5 * time.Minute

// Tick runs one maintenance step: retransmission, ack flushing, the
// liveness sweep, and (once per cleanupInterval) stale-peer cleanup. It
// must be invoked by the caller in a loop; the engine has no timer of its
// own.
func (e *Engine) Tick() {
	e.TickAt(time.Now())
}

// TickAt is Tick with an injectable clock, for deterministic tests.
func (e *Engine) TickAt(now time.Time) {
	e.retransmitDue(now)
	e.flushPendingAcks(now)
	e.livenessSweep(now)

	if e.lastCleanup.IsZero() {
		e.lastCleanup = now
		return
	}
	if now.Sub(e.lastCleanup) >= cleanupInterval {
		e.periodicCleanup(now)
		e.lastCleanup = now
	}
}

// flushPendingAcks emits one DataAck frame per peer per tick, listing up
// to maxAckBatch sequences. Acks are batched rather than sent inline to
// avoid inflating ack traffic on bursty senders. Each flushed ack consumes
// a fresh sequence from the peer's own counter but is never itself parked
// for retransmission.
func (e *Engine) flushPendingAcks(now time.Time) {
	for _, p := range e.peers {
		if len(p.pendingAcks) == 0 {
			continue
		}

		batch := p.pendingAcks
		if len(batch) > maxAckBatch {
			batch = batch[:maxAckBatch]
		}
		p.pendingAcks = p.pendingAcks[len(batch):]

		seq := p.takeSeq()
		frame := serializeFrame(PacketDataAck, seq, encodeSeqList(batch))
		if err := e.endpoint.SendTo(frame, p.addr); err != nil {
			e.log.Warnf("peer %s: sending data-ack failed: %v", p.addr, err)
		}
	}
}

// livenessSweep issues a keepalive Ping to any peer that has gone idle
// past the idle timeout, and tears down peers whose liveness tracker says
// to give up on them.
func (e *Engine) livenessSweep(now time.Time) {
	var toClose []*peerState

	for _, p := range e.peers {
		// A ping that has sat outstanding past pingTimeout without a
		// PingAck counts as a failure; this is what actually drives
		// consecutive_ping_failures toward the Dead threshold.
		if p.liveness.pingSent != nil && now.Sub(*p.liveness.pingSent) > pingTimeout {
			p.liveness.markPingFailed()
		}

		if p.liveness.shouldClose(now) {
			toClose = append(toClose, p)
			continue
		}
		if p.liveness.shouldPing(now) {
			seq := p.takeSeq()
			payload := encodePingPayload(now.UnixNano())
			frame := serializeFrame(PacketPing, seq, payload)
			if err := e.endpoint.SendTo(frame, p.addr); err != nil {
				e.log.Warnf("peer %s: sending ping failed: %v", p.addr, err)
			}
			p.liveness.markPingSent(now)
		}
	}

	for _, p := range toClose {
		e.log.Infof("peer %s: declared dead, tearing down", p.addr)
		e.teardownPeer(p.addr)
	}
}

// periodicCleanup runs once per cleanupInterval: it clears a peer's
// received-set if its sequence counter has wrapped since the last sweep
// (protecting against stale dedup collisions with re-used low sequences),
// and drops any peer that has gone fully idle for cleanupIdleThreshold.
func (e *Engine) periodicCleanup(now time.Time) {
	var toDrop []string

	for key, p := range e.peers {
		if p.seqWrapped {
			p.receivedSeqs = make(map[uint32]struct{})
			p.seqWrapped = false
		}
		if p.idle() && now.Sub(p.liveness.lastActivity) > cleanupIdleThreshold {
			toDrop = append(toDrop, key)
		}
	}

	for _, key := range toDrop {
		delete(e.peers, key)
	}
}
