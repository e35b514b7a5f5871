package rpmsg

import "errors"

// ErrPoolExhausted is returned by BufferPool.Alloc when every slot is
// currently checked out.
var ErrPoolExhausted = errors.New("rpmsg: buffer pool exhausted")

// BufferPool slices a shared-memory region (allocated by the resource-table
// engine per spec §4.5 "allocate a shared-buffer pool of 2 x num x
// buffer_size from the pool, zero it, and hand it to the rpmsg device")
// into fixed-size message slots with a simple freelist — unlike shmpool's
// bump allocator, rpmsg buffers are returned and reused constantly as
// messages are sent and acknowledged.
type BufferPool struct {
	mem      []byte
	slotSize int
	free     []int // indices of free slots
}

// NewBufferPool partitions mem into slots of slotSize bytes.
func NewBufferPool(mem []byte, slotSize int) *BufferPool {
	n := len(mem) / slotSize
	p := &BufferPool{mem: mem, slotSize: slotSize}
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Alloc checks out one slot and returns its offset within mem and the
// slot's backing bytes.
func (p *BufferPool) Alloc() (offset int, buf []byte, err error) {
	if len(p.free) == 0 {
		return 0, nil, ErrPoolExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	off := idx * p.slotSize
	return off, p.mem[off : off+p.slotSize], nil
}

// Free returns a slot (identified by the offset Alloc returned) to the pool.
func (p *BufferPool) Free(offset int) {
	idx := offset / p.slotSize
	p.free = append(p.free, idx)
}

// SlotSize is the fixed capacity of each buffer, i.e. the rpmsg buffer
// cap referenced throughout spec §3/§4 (header + payload must fit within it).
func (p *BufferPool) SlotSize() int { return p.slotSize }

// PayloadCap is the maximum rpmsg payload a single buffer can carry.
func (p *BufferPool) PayloadCap() int { return p.slotSize - HeaderLen }

// At returns the slot bytes at a given offset, for the receive path, which
// learns offsets from the vring rather than from Alloc.
func (p *BufferPool) At(offset int, length int) []byte {
	return p.mem[offset : offset+length]
}
