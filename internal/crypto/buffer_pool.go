package crypto

import "sync/atomic"

import "sync"

// BufferPool provides thread-safe pooling of byte buffers to reduce
// allocations during chunked streaming. Buffers are zeroized before
// being returned to the pool so no ciphertext or plaintext lingers in
// a reused buffer. Small fixed-size tiers (4/12/32 bytes) cover
// nonce/key-sized allocations, while the chunk tier is sized to
// whatever chunk_size the caller is actually using rather than a fixed
// constant, since chunk_size is left to the client. There is no
// circular-buffer backpressure primitive here: Transform is
// single-threaded, so there is no producer/consumer boundary to
// arbitrate.
type BufferPool struct {
	pool4     *sync.Pool
	pool12    *sync.Pool
	pool32    *sync.Pool
	poolChunk *sync.Pool
	chunkCap  int

	hits4, misses4         int64
	hits12, misses12       int64
	hits32, misses32       int64
	hitsChunk, missesChunk int64
}

// NewBufferPool builds a pool whose chunk tier holds buffers of at
// least chunkCap bytes (typically out_chunk_size: chunk_size+TagSize).
func NewBufferPool(chunkCap int) *BufferPool {
	p := &BufferPool{chunkCap: chunkCap}
	p.pool4 = &sync.Pool{New: func() interface{} { return make([]byte, 4) }}
	p.pool12 = &sync.Pool{New: func() interface{} { return make([]byte, 12) }}
	p.pool32 = &sync.Pool{New: func() interface{} { return make([]byte, 32) }}
	p.poolChunk = &sync.Pool{New: func() interface{} { return make([]byte, chunkCap) }}
	return p
}

// Get returns a buffer of at least size bytes from the tier that
// matches, or a fresh allocation if no tier fits.
func (p *BufferPool) Get(size int) []byte {
	switch {
	case size == 32:
		return p.Get32()
	case size == 12:
		return p.Get12()
	case size == 4:
		return p.Get4()
	case size <= p.chunkCap && size > 32:
		buf := p.GetChunk()
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the tier matching its capacity, if any.
func (p *BufferPool) Put(buf []byte) {
	switch cap(buf) {
	case p.chunkCap:
		p.PutChunk(buf)
	case 32:
		p.Put32(buf)
	case 12:
		p.Put12(buf)
	case 4:
		p.Put4(buf)
	}
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

func (p *BufferPool) Get4() []byte {
	if buf, ok := p.pool4.Get().([]byte); ok {
		atomic.AddInt64(&p.hits4, 1)
		return buf
	}
	atomic.AddInt64(&p.misses4, 1)
	return make([]byte, 4)
}

func (p *BufferPool) Put4(buf []byte) {
	if cap(buf) != 4 {
		return
	}
	zero(buf)
	p.pool4.Put(buf[:4])
}

func (p *BufferPool) Get12() []byte {
	if buf, ok := p.pool12.Get().([]byte); ok {
		atomic.AddInt64(&p.hits12, 1)
		return buf
	}
	atomic.AddInt64(&p.misses12, 1)
	return make([]byte, 12)
}

func (p *BufferPool) Put12(buf []byte) {
	if cap(buf) != 12 {
		return
	}
	zero(buf)
	p.pool12.Put(buf[:12])
}

func (p *BufferPool) Get32() []byte {
	if buf, ok := p.pool32.Get().([]byte); ok {
		atomic.AddInt64(&p.hits32, 1)
		return buf
	}
	atomic.AddInt64(&p.misses32, 1)
	return make([]byte, 32)
}

func (p *BufferPool) Put32(buf []byte) {
	if cap(buf) != 32 {
		return
	}
	zero(buf)
	p.pool32.Put(buf[:32])
}

func (p *BufferPool) GetChunk() []byte {
	if buf, ok := p.poolChunk.Get().([]byte); ok {
		atomic.AddInt64(&p.hitsChunk, 1)
		return buf
	}
	atomic.AddInt64(&p.missesChunk, 1)
	return make([]byte, p.chunkCap)
}

func (p *BufferPool) PutChunk(buf []byte) {
	if cap(buf) != p.chunkCap {
		return
	}
	zero(buf)
	p.poolChunk.Put(buf[:p.chunkCap])
}

// BufferPoolMetrics reports pooling performance counters for the metrics package.
type BufferPoolMetrics struct {
	Hits4, Misses4         int64
	Hits12, Misses12       int64
	Hits32, Misses32       int64
	HitsChunk, MissesChunk int64
}

func (p *BufferPool) GetMetrics() BufferPoolMetrics {
	return BufferPoolMetrics{
		Hits4:       atomic.LoadInt64(&p.hits4),
		Misses4:     atomic.LoadInt64(&p.misses4),
		Hits12:      atomic.LoadInt64(&p.hits12),
		Misses12:    atomic.LoadInt64(&p.misses12),
		Hits32:      atomic.LoadInt64(&p.hits32),
		Misses32:    atomic.LoadInt64(&p.misses32),
		HitsChunk:   atomic.LoadInt64(&p.hitsChunk),
		MissesChunk: atomic.LoadInt64(&p.missesChunk),
	}
}

func (m BufferPoolMetrics) HitRateChunk() float64 {
	total := m.HitsChunk + m.MissesChunk
	if total == 0 {
		return 0
	}
	return float64(m.HitsChunk) / float64(total)
}
