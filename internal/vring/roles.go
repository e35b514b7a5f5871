package vring

// UsedElem is one entry the device role has handed back to the driver
// role: which descriptor was consumed and how many bytes the device wrote.
type UsedElem struct {
	DescID uint16
	Length uint32
}

// EnqueueAvail is the driver-role producer path (spec §4.7 "producer
// side"): acquire a free descriptor, record addr/length/writable, append
// it to the available ring, and bump the avail index. It does not call
// the backend's notify — callers (the rpmsg send path) do that themselves
// after deciding the doorbell is warranted.
func (q *Queue) EnqueueAvail(addr uint64, length uint32, writable bool) (uint16, error) {
	if q.freeCount == 0 {
		return 0, ErrNoDescriptors
	}
	id := q.freeHead
	_, _, _, next := q.getDesc(id)
	q.freeHead = next
	q.freeCount--

	var flags uint16
	if writable {
		flags = descFWrite
	}
	q.putDesc(id, addr, length, flags, 0)

	idx := q.availIdx()
	q.setAvailRingAt(idx%uint16(q.num), id)
	q.setAvailIdx(idx + 1)
	return id, nil
}

// PopUsed is the driver-role completion path: returns the next used-ring
// entry not yet observed, if any, and returns its descriptor to the free
// list. Callers must drain every pending entry on each wake (spec §4.9:
// "the consumer must drain all used entries each wake, not just one").
func (q *Queue) PopUsed() (UsedElem, error) {
	avail := q.usedIdx()
	if q.lastUsed == avail {
		return UsedElem{}, ErrEmpty
	}
	id32, length := q.usedRingAt(q.lastUsed % uint16(q.num))
	q.lastUsed++

	id := uint16(id32)
	_, _, _, _ = q.getDesc(id)
	q.putDescNext(id, q.freeHead)
	q.freeHead = id
	q.freeCount++

	return UsedElem{DescID: id, Length: length}, nil
}

// AvailEntry is what the device role sees when it pops the available ring.
type AvailEntry struct {
	DescID  uint16
	Addr    uint64
	Length  uint32
	Writable bool
}

// PopAvail is the device-role consumer path: returns the next
// available-ring entry not yet observed, if any.
func (q *Queue) PopAvail() (AvailEntry, error) {
	avail := q.availIdx()
	if q.lastAvail == avail {
		return AvailEntry{}, ErrEmpty
	}
	id := q.availRingAt(q.lastAvail % uint16(q.num))
	q.lastAvail++

	addr, length, flags, _ := q.getDesc(id)
	return AvailEntry{DescID: id, Addr: addr, Length: length, Writable: flags&descFWrite != 0}, nil
}

// PushUsed is the device-role completion path: records how many bytes
// were written into the descriptor buffer and advances the used index so
// the driver-role peer (on the other side of the mapping) observes it.
func (q *Queue) PushUsed(descID uint16, writtenLength uint32) {
	idx := q.usedIdx()
	q.setUsedRingAt(idx%uint16(q.num), uint32(descID), writtenLength)
	q.setUsedIdx(idx + 1)
}

// PendingUsed reports whether PopUsed (driver role) has unseen completions.
func (q *Queue) PendingUsed() bool { return q.lastUsed != q.usedIdx() }

// PendingAvail reports whether PopAvail (device role) has unseen entries.
func (q *Queue) PendingAvail() bool { return q.lastAvail != q.availIdx() }
