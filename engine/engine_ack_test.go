package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushPendingAcksSendsBatchedAck(t *testing.T) {
	clientAddr := memAddr("ack-client")
	serverAddr := memAddr("ack-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	serverEngine := New(server, NewBufferPool())
	now := time.Now()

	frame := serializeFrame(PacketData, 5, []byte("x"))
	require.NoError(t, client.SendTo(frame, serverAddr))

	result, ok := serverEngine.PollAt(now)
	require.True(t, ok)
	require.NotNil(t, result.Buffer)

	serverEngine.TickAt(now)

	raw := make([]byte, frameCapacity)
	n, from, err := client.RecvFrom(raw, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, serverAddr, from)

	ptype, _, _, payload, perr := parseFrame(raw[:n])
	require.NoError(t, perr)
	assert.Equal(t, PacketDataAck, ptype)

	seqs, err := decodeSeqList(payload)
	require.NoError(t, err)
	assert.Equal(t, []uint32{5}, seqs)
}

func TestDataAckSamplesRTTOnlyForNonRetransmittedPacket(t *testing.T) {
	clientAddr := memAddr("rtt-client")
	serverAddr := memAddr("rtt-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	clientEngine := New(client, NewBufferPool())
	now := time.Now()

	buf := clientEngine.AcquireBuffer()
	require.NoError(t, buf.SetPayloadLen(0))
	require.NoError(t, clientEngine.SubmitAt(buf, serverAddr, now))

	p := clientEngine.peerFor(serverAddr, now)
	initialSRTT := p.timing.srtt

	later := now.Add(50 * time.Millisecond)
	ack := serializeFrame(PacketDataAck, 1, encodeSeqList([]uint32{0}))
	clientEngine.handleDataAck(p, ack[HeaderSize:], later)

	assert.NotEqual(t, initialSRTT, p.timing.srtt)
	_, stillPending := p.retransmit[0]
	assert.False(t, stillPending)
}

func TestDataAckSkipsRTTSampleForRetransmittedPacket(t *testing.T) {
	clientAddr := memAddr("rtt2-client")
	serverAddr := memAddr("rtt2-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	clientEngine := New(client, NewBufferPool())
	now := time.Now()

	buf := clientEngine.AcquireBuffer()
	require.NoError(t, buf.SetPayloadLen(0))
	require.NoError(t, clientEngine.SubmitAt(buf, serverAddr, now))

	p := clientEngine.peerFor(serverAddr, now)
	pkt := p.retransmit[0]
	pkt.retransmitted = true
	initialSRTT := p.timing.srtt

	ack := serializeFrame(PacketDataAck, 1, encodeSeqList([]uint32{0}))
	clientEngine.handleDataAck(p, ack[HeaderSize:], now.Add(time.Second))

	assert.Equal(t, initialSRTT, p.timing.srtt)
}

func TestDataNackTriggersImmediateRetransmit(t *testing.T) {
	clientAddr := memAddr("nack-client")
	serverAddr := memAddr("nack-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	clientEngine := New(client, NewBufferPool())
	now := time.Now()

	buf := clientEngine.AcquireBuffer()
	require.NoError(t, buf.SetPayloadLen(0))
	require.NoError(t, clientEngine.SubmitAt(buf, serverAddr, now))

	p := clientEngine.peerFor(serverAddr, now)
	assert.Equal(t, uint8(0), p.retransmit[0].retryCount)

	nack := serializeFrame(PacketDataNack, 1, encodeSeqList([]uint32{0}))
	clientEngine.handleDataNack(p, nack[HeaderSize:], now.Add(time.Millisecond))

	assert.Equal(t, uint8(1), p.retransmit[0].retryCount)
	assert.True(t, p.retransmit[0].retransmitted)
}

func TestRetransmitDueAbandonsAfterMaxRetries(t *testing.T) {
	clientAddr := memAddr("retry-client")
	serverAddr := memAddr("retry-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	clientEngine := New(client, NewBufferPool())
	now := time.Now()

	buf := clientEngine.AcquireBuffer()
	require.NoError(t, buf.SetPayloadLen(0))
	require.NoError(t, clientEngine.SubmitAt(buf, serverAddr, now))

	p := clientEngine.peerFor(serverAddr, now)
	p.retransmit[0].retryCount = maxRetries

	clientEngine.retransmitDue(now.Add(time.Hour))

	_, stillPending := p.retransmit[0]
	assert.False(t, stillPending)
	assert.Equal(t, uint64(1), p.stats.PacketsLost)
}

func TestPingEchoesSameSequence(t *testing.T) {
	clientAddr := memAddr("ping-client")
	serverAddr := memAddr("ping-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	serverEngine := New(server, NewBufferPool())
	now := time.Now()

	pingPayload := encodePingPayload(now.UnixNano())
	ping := serializeFrame(PacketPing, 77, pingPayload)
	require.NoError(t, client.SendTo(ping, serverAddr))

	_, ok := serverEngine.PollAt(now)
	require.False(t, ok)

	raw := make([]byte, frameCapacity)
	n, _, err := client.RecvFrom(raw, time.Millisecond)
	require.NoError(t, err)

	ptype, _, seq, _, perr := parseFrame(raw[:n])
	require.NoError(t, perr)
	assert.Equal(t, PacketPingAck, ptype)
	assert.Equal(t, uint32(77), seq)
}

func TestLivenessThreeFailedPingsDeclareDead(t *testing.T) {
	now := time.Now()
	tr := newLivenessTracker(now)
	tr.markPingSent(now)

	tr.markPingFailed()
	assert.Equal(t, Degraded, tr.status)
	assert.False(t, tr.shouldClose(now))

	tr.markPingSent(now)
	tr.markPingFailed()
	assert.Equal(t, Degraded, tr.status)

	tr.markPingSent(now)
	tr.markPingFailed()
	assert.Equal(t, Dead, tr.status)
	assert.True(t, tr.shouldClose(now))
}

func TestEngineLivenessSweepTearsDownDeadPeer(t *testing.T) {
	clientAddr := memAddr("sweep-client")
	serverAddr := memAddr("sweep-server")
	client := newMemEndpoint(clientAddr)
	server := newMemEndpoint(serverAddr)
	linkEndpoints(client, server)

	eng := New(server, NewBufferPool())
	now := time.Now()

	buf := eng.AcquireBuffer()
	require.NoError(t, buf.SetPayloadLen(0))
	require.NoError(t, eng.SubmitAt(buf, clientAddr, now))

	p, ok := eng.lookupPeer(clientAddr)
	require.True(t, ok)
	p.liveness.consecutiveFailures = maxPingFailures
	p.liveness.status = Degraded
	p.liveness.pingSent = nil

	eng.TickAt(now)

	assert.Equal(t, Dead, eng.ConnectionStatus(clientAddr))
}
