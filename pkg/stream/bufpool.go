package stream

import "sync"

// chunkSize is the capacity of one DataMsg data region.
const chunkSize = 0xFFF8

// chunkPool recycles the 64KB scratch buffer FDToHost (PULL) reads
// each chunk into, instead of allocating one per stream.
type chunkPool struct {
	pool sync.Pool
}

func (p *chunkPool) Get() []byte {
	if v := p.pool.Get(); v != nil {
		return v.([]byte)
	}
	return make([]byte, chunkSize)
}

func (p *chunkPool) Put(buf []byte) {
	if cap(buf) != chunkSize {
		return
	}
	p.pool.Put(buf[:chunkSize])
}

var chunks chunkPool
