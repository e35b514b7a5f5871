// Package vring implements the split-virtqueue pair (spec §4.7, component
// F): descriptor table, available ring, used ring, laid out in shared
// memory with a power-of-two length and declared alignment, lock-free
// single-producer/single-consumer on each ring. The host plays the
// "driver" role on one queue of a vdev and the "device" role on the other;
// for the remote peer the roles are inverted, matching the standard
// virtio split-virtqueue layout.
//
// Unlike a real cross-core virtqueue, visibility of index updates here is
// not mediated by a hardware memory barrier: the notify.Channel send/wait
// pair that wakes the receive loop already establishes a happens-before
// edge in Go's memory model, so index writes that happen before a notify
// are guaranteed visible to whatever reads them after the wait returns.
package vring

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	descFNext  uint16 = 1
	descFWrite uint16 = 2
)

const (
	descLen     = 16 // addr(u64) + len(u32) + flags(u16) + next(u16)
	usedElemLen = 8  // id(u32) + len(u32)
)

var (
	// ErrNoDescriptors is the resource-exhaustion error for the producer
	// side: "fails fast if no descriptor is free" (spec §5).
	ErrNoDescriptors = errors.New("vring: no free descriptors")
	// ErrInvalidLength is returned when num is not a power of two.
	ErrInvalidLength = errors.New("vring: length must be a power of two")
	// ErrEmpty is returned by PopAvail/PopUsed when nothing new is pending.
	ErrEmpty = errors.New("vring: nothing pending")
)

// Size returns the total byte size of a vring with the given descriptor
// count and alignment, mirroring virtio's vring_size().
func Size(num int, align uint32) uint32 {
	descTable := uint32(num * descLen)
	avail := uint32(6 + num*2)          // flags,idx,ring[num],used_event
	used := uint32(6 + num*usedElemLen) // flags,idx,ring[num],avail_event

	alignUp := func(x, a uint32) uint32 { return (x + a - 1) &^ (a - 1) }
	return alignUp(descTable+avail, align) + alignUp(used, align)
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// Queue is one half of a vdev's ring pair, mapped over a caller-supplied
// shared-memory region (typically shmpool.Pool.Bytes of the region the
// resource-table engine allocated for this vring).
type Queue struct {
	mem   []byte
	num   int
	align uint32

	descOff  uint32
	availOff uint32
	usedOff  uint32

	// Driver-role bookkeeping: free descriptor list and last-seen used idx.
	freeHead  uint16
	freeCount int
	lastUsed  uint16

	// Device-role bookkeeping: last-seen avail idx.
	lastAvail uint16
}

// New lays out a fresh (zeroed) ring pair over mem, which must be at least
// Size(num, align) bytes.
func New(mem []byte, num int, align uint32) (*Queue, error) {
	if !isPow2(num) {
		return nil, ErrInvalidLength
	}
	total := Size(num, align)
	if uint32(len(mem)) < total {
		return nil, fmt.Errorf("vring: buffer too small: have %d, need %d", len(mem), total)
	}

	q := &Queue{mem: mem, num: num, align: align}
	q.descOff = 0
	q.availOff = uint32(num * descLen)
	usedStart := q.availOff + uint32(6+num*2)
	q.usedOff = (usedStart + align - 1) &^ (align - 1)

	for i := range mem {
		mem[i] = 0
	}

	// Build the free descriptor chain: 0 -> 1 -> ... -> num-1 -> none.
	for i := 0; i < num; i++ {
		next := uint16(i + 1)
		if i == num-1 {
			next = 0
		}
		q.putDescNext(uint16(i), next)
	}
	q.freeHead = 0
	q.freeCount = num
	return q, nil
}

func (q *Queue) descAt(i uint16) []byte {
	off := q.descOff + uint32(i)*descLen
	return q.mem[off : off+descLen]
}

func (q *Queue) putDesc(i uint16, addr uint64, length uint32, flags, next uint16) {
	b := q.descAt(i)
	binary.LittleEndian.PutUint64(b[0:8], addr)
	binary.LittleEndian.PutUint32(b[8:12], length)
	binary.LittleEndian.PutUint16(b[12:14], flags)
	binary.LittleEndian.PutUint16(b[14:16], next)
}

func (q *Queue) putDescNext(i, next uint16) {
	b := q.descAt(i)
	binary.LittleEndian.PutUint16(b[14:16], next)
}

func (q *Queue) getDesc(i uint16) (addr uint64, length uint32, flags, next uint16) {
	b := q.descAt(i)
	addr = binary.LittleEndian.Uint64(b[0:8])
	length = binary.LittleEndian.Uint32(b[8:12])
	flags = binary.LittleEndian.Uint16(b[12:14])
	next = binary.LittleEndian.Uint16(b[14:16])
	return
}

func (q *Queue) availIdx() uint16    { return binary.LittleEndian.Uint16(q.mem[q.availOff+2 : q.availOff+4]) }
func (q *Queue) setAvailIdx(v uint16) {
	binary.LittleEndian.PutUint16(q.mem[q.availOff+2:q.availOff+4], v)
}
func (q *Queue) availRingAt(i uint16) uint16 {
	off := q.availOff + 4 + uint32(i)*2
	return binary.LittleEndian.Uint16(q.mem[off : off+2])
}
func (q *Queue) setAvailRingAt(i, descID uint16) {
	off := q.availOff + 4 + uint32(i)*2
	binary.LittleEndian.PutUint16(q.mem[off:off+2], descID)
}

func (q *Queue) usedIdx() uint16 { return binary.LittleEndian.Uint16(q.mem[q.usedOff+2 : q.usedOff+4]) }
func (q *Queue) setUsedIdx(v uint16) {
	binary.LittleEndian.PutUint16(q.mem[q.usedOff+2:q.usedOff+4], v)
}
func (q *Queue) usedRingAt(i uint16) (id uint32, length uint32) {
	off := q.usedOff + 4 + uint32(i)*usedElemLen
	b := q.mem[off : off+usedElemLen]
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])
}
func (q *Queue) setUsedRingAt(i uint16, id, length uint32) {
	off := q.usedOff + 4 + uint32(i)*usedElemLen
	b := q.mem[off : off+usedElemLen]
	binary.LittleEndian.PutUint32(b[0:4], id)
	binary.LittleEndian.PutUint32(b[4:8], length)
}
