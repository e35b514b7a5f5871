package rsctab

import (
	"fmt"

	"github.com/openeuler-mirror/coordinatord/internal/shmpool"
	"github.com/openeuler-mirror/coordinatord/internal/vring"
)

// BufferSlotSize is the rpmsg buffer payload size the engine assumes when
// sizing a VDEV's shared-buffer pool (spec §4.5 "2 x num x buffer_size"),
// matching RPMSG_BUFFER_SIZE in the original library.
const BufferSlotSize = 512

// VdevResources is everything the engine allocated for one VDEV entry: the
// parsed descriptor, the raw memory backing each of its two vrings (host
// TX is conventionally index 0, RX index 1, matching "the host fulfills
// the driver role on TX and the device role on RX" in spec §4.7), and the
// shared-buffer pool memory handed to the rpmsg device.
type VdevResources struct {
	Vdev      *Vdev
	RingMem   [2][]byte
	BufferMem []byte
}

// WalkResult collects everything the engine discovered and allocated
// while walking one client's resource table (spec §4.5).
type WalkResult struct {
	Vdevs    []VdevResources
	RbufPairs []*RbufPair
	Pending  []PendingEndpoint
	// EptTableOffset locates the EPT_TABLE entry, the place EncodeEPTTable
	// writes to; zero (with HasEptTable false) if the table has none.
	EptTableOffset uint32
	HasEptTable    bool
}

// Walk processes every entry of the resource table at buf per spec §4.5,
// allocating from pool as it goes. Entries of an unrecognized vendor type
// are skipped without error; a malformed entry aborts with a wrapped
// ErrMalformed.
func Walk(buf []byte, pool *shmpool.Pool, align uint32) (*WalkResult, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	res := &WalkResult{}
	for _, offset := range h.Offsets {
		typ, err := EntryType(buf, offset)
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypeVdev:
			vd, err := walkVdev(buf, offset, pool, align)
			if err != nil {
				return nil, err
			}
			res.Vdevs = append(res.Vdevs, *vd)
		case TypeVendorRbufPair:
			rb, err := walkRbufPair(buf, offset, pool)
			if err != nil {
				return nil, err
			}
			res.RbufPairs = append(res.RbufPairs, rb)
		case TypeVendorEptTable:
			pending, err := PreBoundEndpoints(buf, offset)
			if err != nil {
				return nil, err
			}
			res.Pending = append(res.Pending, pending...)
			res.EptTableOffset = offset
			res.HasEptTable = true
		case TypeCarveout, TypeDevmem, TypeTrace:
			// Recognized but not actionable by this engine; nothing to
			// allocate (the backend's own mmap of a fixed carveout
			// covers these, per spec §4.5's "unrecognized vendor type
			// is skipped" — these are non-vendor types with no
			// allocation behavior specified here).
		default:
			if !IsVendorType(typ) {
				return nil, fmt.Errorf("rsctab: %w: unknown non-vendor type %d", ErrMalformed, typ)
			}
			// Unrecognized vendor type: skip without error.
		}
	}
	return res, nil
}

func walkVdev(buf []byte, offset uint32, pool *shmpool.Pool, align uint32) (*VdevResources, error) {
	vd, err := ParseVdev(buf, offset)
	if err != nil {
		return nil, err
	}
	if len(vd.Vrings) != 2 {
		return nil, fmt.Errorf("rsctab: %w: VDEV at offset %d has %d vrings, want 2", ErrMalformed, offset, len(vd.Vrings))
	}

	out := &VdevResources{Vdev: vd}
	for i, vr := range vd.Vrings {
		size := vring.Size(int(vr.Num), align)
		var virt uintptr
		var err error
		if vr.DA == AddrAny {
			virt, err = pool.Alloc(uintptr(size))
			if err != nil {
				return nil, fmt.Errorf("rsctab: allocate vring %d: %w", i, err)
			}
			phys, perr := pool.VirtToPhys(virt)
			if perr != nil {
				return nil, perr
			}
			if err := vd.WriteBackDA(buf, i, uint32(phys)); err != nil {
				return nil, err
			}
		} else {
			virt, err = pool.AllocAt(uintptr(vr.DA), uintptr(size))
			if err != nil {
				return nil, fmt.Errorf("rsctab: re-pin vring %d at %#x: %w", i, vr.DA, err)
			}
		}
		mem, err := pool.Bytes(virt, uintptr(size))
		if err != nil {
			return nil, err
		}
		out.RingMem[i] = mem
	}

	bufSize := uintptr(2 * int(vd.Vrings[0].Num) * BufferSlotSize)
	bufVirt, err := pool.Alloc(bufSize)
	if err != nil {
		return nil, fmt.Errorf("rsctab: allocate buffer pool: %w", err)
	}
	bufMem, err := pool.Bytes(bufVirt, bufSize)
	if err != nil {
		return nil, err
	}
	for i := range bufMem {
		bufMem[i] = 0
	}
	out.BufferMem = bufMem
	return out, nil
}

func walkRbufPair(buf []byte, offset uint32, pool *shmpool.Pool) (*RbufPair, error) {
	rb, err := ParseRbufPair(buf, offset)
	if err != nil {
		return nil, err
	}
	virt, err := pool.Alloc(uintptr(rb.Len))
	if err != nil {
		return nil, fmt.Errorf("rsctab: allocate RBUF_PAIR: %w", err)
	}
	phys, err := pool.VirtToPhys(virt)
	if err != nil {
		return nil, err
	}
	rb.WriteBack(buf, uint32(phys), uint32(phys), RbufStateInitialized)
	return rb, nil
}
