package engine

import "time"

// CongestionState is the controller's current phase.
type CongestionState int

const (
	SlowStart CongestionState = iota
	CongestionAvoidance
	FastRecovery
)

func (s CongestionState) String() string {
	switch s {
	case SlowStart:
		return "slow_start"
	case CongestionAvoidance:
		return "congestion_avoidance"
	case FastRecovery:
		return "fast_recovery"
	default:
		return "unknown"
	}
}

const (
	initialSsthresh = 65535
	maxCwnd         = 1000
)

// congestionController tracks one peer's send window: how many packets may
// be in flight at once, growing during slow start and additive increase,
// shrinking on loss. in_flight <= cwnd is enforced as a send-admission
// predicate (CanSend), never just recorded after the fact.
type congestionController struct {
	state          CongestionState
	cwnd           uint32
	ssthresh       uint32
	inFlight       uint32
	lastCongestion time.Time // zero value means "no congestion event yet"
}

func newCongestionController() *congestionController {
	return &congestionController{
		state:    SlowStart,
		cwnd:     1,
		ssthresh: initialSsthresh,
	}
}

// CanSend reports whether admission allows one more packet in flight.
func (c *congestionController) CanSend() bool {
	return c.inFlight < c.cwnd
}

func (c *congestionController) onPacketSent() {
	c.inFlight++
}

// onAckReceived folds n newly-acknowledged packets into the window.
func (c *congestionController) onAckReceived(n uint32) {
	if n > c.inFlight {
		c.inFlight = 0
	} else {
		c.inFlight -= n
	}

	switch c.state {
	case SlowStart:
		c.cwnd += n
		if c.cwnd >= c.ssthresh {
			c.state = CongestionAvoidance
		}
	case CongestionAvoidance:
		inc := n
		if inc < 1 {
			inc = 1
		}
		denom := c.cwnd
		if denom < 1 {
			denom = 1
		}
		c.cwnd += inc / denom
	case FastRecovery:
		// no change while recovering
	}

	if c.cwnd > maxCwnd {
		c.cwnd = maxCwnd
	}
}

// onPacketLost reacts to a detected loss (a retransmission timeout or an
// abandoned packet). Guarded by lastCongestion so a burst of losses within
// one RTO only reduces the window once.
func (c *congestionController) onPacketLost(now time.Time, rto time.Duration) {
	if !c.lastCongestion.IsZero() && now.Sub(c.lastCongestion) < rto {
		return
	}
	c.lastCongestion = now

	half := c.cwnd / 2
	if half < 2 {
		half = 2
	}
	c.ssthresh = half

	switch c.state {
	case SlowStart, CongestionAvoidance:
		c.cwnd = c.ssthresh
		c.state = CongestionAvoidance
	case FastRecovery:
		halved := c.cwnd / 2
		if halved < 1 {
			halved = 1
		}
		c.cwnd = halved
	}
}

// clearCongestionSuppression resets the loss-event guard so a subsequent
// timeout can fire immediately. Used after a nack-triggered retransmission,
// per the protocol's immediate-retransmission rule.
func (c *congestionController) clearCongestionSuppression() {
	c.lastCongestion = time.Time{}
}
