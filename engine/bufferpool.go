package engine

import "sync"

// MaxPayloadSize is the largest user payload the engine will carry in a
// single Data frame.
const MaxPayloadSize = 1200

// HeaderSize is the fixed wire-frame prefix: type(1) + tag(4) + seq(4).
const HeaderSize = 9

// frameCapacity is the fixed size of every pooled buffer: the reserved
// header prefix plus the maximum payload.
const frameCapacity = HeaderSize + MaxPayloadSize

// maxPoolCapacity bounds how many idle buffers the pool will hold onto;
// buffers released beyond this cap are left for the garbage collector.
const maxPoolCapacity = 200000

// Buffer is a pooled, fixed-capacity byte block with a reserved header
// prefix that only the engine may touch and a payload region the caller
// writes into. Buffers are handed out with payload length 0.
//
// A Buffer must be released back to its pool exactly once, by whichever
// party ends up owning it last (see Engine.Submit, which takes ownership
// and releases it).
type Buffer struct {
	raw     [frameCapacity]byte
	dataLen int
	pool    *BufferPool
}

// Payload returns the written portion of the user data region. The slice
// aliases the buffer's storage; it is invalidated by the next SetPayloadLen
// call or by Release.
func (b *Buffer) Payload() []byte {
	return b.raw[HeaderSize : HeaderSize+b.dataLen]
}

// PayloadCap returns the maximum payload length this buffer can hold.
func (b *Buffer) PayloadCap() int { return MaxPayloadSize }

// PayloadMut returns the full writable payload region (not just the
// written prefix), so the caller can fill it before calling SetPayloadLen.
func (b *Buffer) PayloadMut() []byte {
	return b.raw[HeaderSize:frameCapacity]
}

// SetPayloadLen records how much of PayloadMut the caller actually wrote.
func (b *Buffer) SetPayloadLen(n int) error {
	if n < 0 || n > MaxPayloadSize {
		return newErr(KindBufferTooLarge, "payload length %d exceeds capacity %d", n, MaxPayloadSize)
	}
	b.dataLen = n
	return nil
}

// PayloadLen returns the currently recorded payload length.
func (b *Buffer) PayloadLen() int { return b.dataLen }

// header returns the mutable reserved header prefix. Unexported: only
// engine code (the codec) may fill the header, never the caller.
func (b *Buffer) header() []byte { return b.raw[:HeaderSize] }

// frame returns the header plus the written payload: the bytes actually
// placed on the wire. Unexported for the same reason as header.
func (b *Buffer) frame() []byte { return b.raw[:HeaderSize+b.dataLen] }

// Release returns the buffer to its originating pool. Safe to call once;
// calling it on a buffer not obtained from a pool is a no-op.
func (b *Buffer) Release() {
	if b.pool == nil {
		return
	}
	b.dataLen = 0
	b.pool.release(b)
}

// PoolStats is a snapshot of buffer pool activity.
type PoolStats struct {
	TotalAllocations uint64
	PoolHits         uint64
	PoolMisses       uint64
	FreeCount        int
}

// BufferPool yields fixed-capacity buffers, recycling released ones.
// Acquire never blocks and never fails: on an empty free list it simply
// allocates. The pool is safe to share across multiple engines running on
// different scheduling contexts; its lock is held only for O(1) work and
// never across a suspension point.
type BufferPool struct {
	mu    sync.Mutex
	free  []*Buffer
	stats PoolStats
}

// NewBufferPool constructs an empty pool. Use Warmup to pre-populate it.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

// Acquire returns a buffer with payload length 0, reusing a free one if
// available (a pool hit) or allocating fresh (a pool miss).
func (p *BufferPool) Acquire() *Buffer {
	p.mu.Lock()
	p.stats.TotalAllocations++

	n := len(p.free)
	if n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.stats.PoolHits++
		p.mu.Unlock()
		buf.dataLen = 0
		return buf
	}
	p.stats.PoolMisses++
	p.mu.Unlock()

	buf := &Buffer{pool: p}
	return buf
}

// release returns buf to the free list, discarding it if the pool is at
// capacity. Bytes are not scrubbed; the next Acquire overwrites them.
func (p *BufferPool) release(buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= maxPoolCapacity {
		return
	}
	p.free = append(p.free, buf)
}

// Warmup pre-populates the free list up to n buffers, or the pool cap,
// whichever is smaller.
func (p *BufferPool) Warmup(n int) {
	if n > maxPoolCapacity {
		n = maxPoolCapacity
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) < n {
		p.free = append(p.free, &Buffer{pool: p})
	}
}

// Stats returns a snapshot of pool activity.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.FreeCount = len(p.free)
	return s
}
