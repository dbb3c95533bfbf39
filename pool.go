package fbchan

import (
	"sync"
)

// DefaultPoolSlotSize is the slot size of the pool created when none is
// configured. It bounds the size of a single file read issued by the reader.
const DefaultPoolSlotSize = 16 * 1024

// Pool is a fixed-slot-size byte buffer pool. The reader acquires a slot for
// every file read and releases it once the downstream consumer has
// acknowledged the delivery.
type Pool struct {
	pool sync.Pool
	slot int
}

// NewPool creates a pool with the given slot size. Panics if slotSize is not
// positive.
func NewPool(slotSize int) *Pool {
	if slotSize <= 0 {
		panic("fbchan: pool slot size must be positive")
	}
	p := &Pool{slot: slotSize}
	p.pool.New = func() any {
		return make([]byte, slotSize)
	}
	return p
}

// SlotSize returns the fixed size of the slots handed out by Get.
func (p *Pool) SlotSize() int {
	return p.slot
}

// Get acquires a full-slot buffer from the pool.
func (p *Pool) Get() Buffer {
	slab := p.pool.Get().([]byte)
	return Buffer{b: slab, slab: slab, pool: p}
}

func (p *Pool) put(slab []byte) {
	if len(slab) == p.slot {
		p.pool.Put(slab)
	}
}
