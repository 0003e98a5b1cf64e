package engine

import (
	"encoding/binary"
	"hash/fnv"
)

// PacketType tags a frame's purpose. Values match the order the original
// implementation this protocol was distilled from used, so that a tag byte
// captured from the wire needs no translation table.
type PacketType uint8

const (
	PacketPing PacketType = iota
	PacketPingAck
	PacketData
	PacketDataAck
	PacketDataNack
	PacketClose
	PacketCloseAck
)

func (t PacketType) String() string {
	switch t {
	case PacketPing:
		return "ping"
	case PacketPingAck:
		return "ping_ack"
	case PacketData:
		return "data"
	case PacketDataAck:
		return "data_ack"
	case PacketDataNack:
		return "data_nack"
	case PacketClose:
		return "close"
	case PacketCloseAck:
		return "close_ack"
	default:
		return "unknown"
	}
}

func (t PacketType) valid() bool {
	return t <= PacketCloseAck
}

// integritySalt is a fixed, build-time constant shared by endpoints that
// speak this protocol. It defends against cross-protocol injection and
// casual corruption, not against an active attacker.
var integritySalt = []byte("reliudp")

// computeTag derives the 32-bit integrity tag for a frame's contents: the
// salt, the type byte, the big-endian sequence, the big-endian payload
// length, and the first 16 payload bytes (zero-padded if shorter). It uses
// FNV-1a, the same non-cryptographic hash the reference implementation of
// this protocol uses for its tamper-evidence check.
func computeTag(ptype PacketType, seq uint32, payload []byte) uint32 {
	h := fnv.New32a()
	h.Write(integritySalt)
	h.Write([]byte{byte(ptype)})

	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	h.Write(seqBuf[:])

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	h.Write(lenBuf[:])

	var prefix [16]byte
	n := copy(prefix[:], payload)
	_ = n
	h.Write(prefix[:])

	return h.Sum32()
}

// parseFrame splits a raw datagram into its header fields and payload. It
// does not verify the integrity tag — that is a separate step so a caller
// can choose to log malformed traffic before discarding it.
func parseFrame(b []byte) (ptype PacketType, tag uint32, seq uint32, payload []byte, err error) {
	if len(b) < HeaderSize {
		err = newErr(KindPacketTooSmall, "frame is %d bytes, need at least %d", len(b), HeaderSize)
		return
	}
	t := PacketType(b[0])
	if !t.valid() {
		err = newErr(KindProtocol, "unknown packet type tag 0x%02x", b[0])
		return
	}
	ptype = t
	tag = binary.BigEndian.Uint32(b[1:5])
	seq = binary.BigEndian.Uint32(b[5:9])
	payload = b[HeaderSize:]
	return
}

// verifyTag reports whether tag is the integrity tag this frame's own
// contents recompute to.
func verifyTag(ptype PacketType, seq uint32, payload []byte, tag uint32) bool {
	return computeTag(ptype, seq, payload) == tag
}

// serializeFrame builds a standalone frame (header plus payload) for
// control packets that are not backed by a pooled Buffer, such as acks,
// nacks, pings and close frames.
func serializeFrame(ptype PacketType, seq uint32, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	writeHeader(out, ptype, seq, payload)
	copy(out[HeaderSize:], payload)
	return out
}

// writeHeader fills the 9-byte prefix of out in place, computing the
// integrity tag from payload. It writes only out[:HeaderSize]; payload is
// not copied into out.
func writeHeader(out []byte, ptype PacketType, seq uint32, payload []byte) {
	out[0] = byte(ptype)
	binary.BigEndian.PutUint32(out[1:5], computeTag(ptype, seq, payload))
	binary.BigEndian.PutUint32(out[5:9], seq)
}

// fillHeader mutates a pooled buffer's reserved header prefix in place,
// recomputing the integrity tag from the payload already written into the
// buffer. No copy is made; this is the zero-copy send path.
func fillHeader(buf *Buffer, ptype PacketType, seq uint32) {
	writeHeader(buf.header(), ptype, seq, buf.Payload())
}

// encodeSeqList serializes the DataAck/DataNack payload shape: a 1-byte
// count followed by that many big-endian sequences. Callers must ensure
// len(seqs) <= 255.
func encodeSeqList(seqs []uint32) []byte {
	out := make([]byte, 1+4*len(seqs))
	out[0] = byte(len(seqs))
	for i, s := range seqs {
		binary.BigEndian.PutUint32(out[1+4*i:5+4*i], s)
	}
	return out
}

// decodeSeqList parses the DataAck/DataNack payload shape produced by
// encodeSeqList.
func decodeSeqList(payload []byte) ([]uint32, error) {
	if len(payload) < 1 {
		return nil, newErr(KindProtocol, "ack/nack payload is empty")
	}
	count := int(payload[0])
	need := 1 + 4*count
	if len(payload) < need {
		return nil, newErr(KindProtocol, "ack/nack payload too short: have %d, need %d", len(payload), need)
	}
	seqs := make([]uint32, count)
	for i := 0; i < count; i++ {
		seqs[i] = binary.BigEndian.Uint32(payload[1+4*i : 5+4*i])
	}
	return seqs, nil
}

// encodePingPayload and decodePingPayload carry the 8-byte monotonic
// timestamp approximation that Ping/PingAck frames exchange.
func encodePingPayload(ts int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(ts))
	return out
}

func decodePingPayload(payload []byte) (int64, error) {
	if len(payload) < 8 {
		return 0, newErr(KindProtocol, "ping payload is %d bytes, need 8", len(payload))
	}
	return int64(binary.BigEndian.Uint64(payload[:8])), nil
}

// maxAckBatch is the most sequences a single DataAck/DataNack frame may
// carry; the count byte caps it at 255 and the spec reserves this exact
// figure so the frame payload (1 + 255*4 = 1021 bytes) stays well under
// MaxPayloadSize.
const maxAckBatch = 255
