// Package shmpool implements the bump allocator over a mapped region of
// shared physical memory that backs a single client's rpmsg transport.
//
// There is no real cross-core physical memory device reachable from this
// host environment, so the pool's backing store is either an anonymous
// mmap (for a bare-metal-style backend that owns its own carveout) or a
// regular file mmap'd MAP_SHARED (for a partitioning-hypervisor backend
// whose peer device exposes the region as a file-like object). Either way
// the allocator above the mapping behaves identically: a single
// monotonically increasing cursor, no individual free.
package shmpool

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sentinel errors distinguish error kinds per the spec's error-handling
// design (checked with errors.Is, never string-compared).
var (
	ErrAlreadyInitialized = errors.New("shmpool: already initialized")
	ErrExhausted          = errors.New("shmpool: pool exhausted")
	ErrOutOfRange          = errors.New("shmpool: address out of range")
	ErrRegionTaken         = errors.New("shmpool: pinned region already handed out")
)

// Backing selects how the pool's physical region is obtained.
type Backing int

const (
	// BackingAnon maps an anonymous, zero-filled region (bare-metal backend
	// carveout simulation).
	BackingAnon Backing = iota
	// BackingFile maps an existing file descriptor MAP_SHARED (hypervisor
	// peer-device shared-memory simulation).
	BackingFile
)

// Pool is the shared-memory pool allocator described in spec §4.2 (component A).
type Pool struct {
	mu sync.Mutex

	physBase uintptr
	size     uintptr
	virtBase uintptr
	virtEnd  uintptr

	unusedHigh uintptr
	pinned     map[uintptr]uintptr // physAddr -> size, pinned regions already handed out

	mem []byte // the mmap'd region itself, kept alive until Close unmaps it
}

// New maps a region of the given size and returns an initialized Pool.
// physBase is the physical address the region is presented as occupying
// from the remote's point of view; it need not equal any real host
// physical address since this is a host-only simulation of the carveout.
//
// New may only be called once per client's pool; a client record that
// tries to re-init an existing pool must construct a new Pool value — there
// is no in-place re-init, matching init_shmem_pool's single-shot guard.
func New(backing Backing, fd int, physBase uintptr, size uintptr) (*Pool, error) {
	if size == 0 {
		return nil, fmt.Errorf("shmpool: %w: zero size", ErrOutOfRange)
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	var mem []byte
	var err error
	switch backing {
	case BackingAnon:
		mem, err = unix.Mmap(-1, 0, int(size), prot, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	case BackingFile:
		mem, err = unix.Mmap(fd, 0, int(size), prot, unix.MAP_SHARED)
	default:
		return nil, fmt.Errorf("shmpool: unknown backing %d", backing)
	}
	if err != nil {
		return nil, fmt.Errorf("shmpool: mmap failed: %w", err)
	}

	virtBase := uintptr(unsafe.Pointer(&mem[0]))
	p := &Pool{
		physBase:   physBase,
		size:       size,
		virtBase:   virtBase,
		virtEnd:    virtBase + size,
		unusedHigh: virtBase,
		pinned:     make(map[uintptr]uintptr),
		mem:        mem,
	}
	return p, nil
}

// Close unmaps the pool's backing region. Called during client teardown,
// after all services have been unbound (spec §4.1 stop()).
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// Alloc returns a fresh virtual address for size bytes, advancing the
// cursor. It fails with ErrExhausted (and leaves the cursor untouched) if
// the request would cross the end of the pool.
func (p *Pool) Alloc(size uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unusedHigh+size > p.virtEnd {
		return 0, ErrExhausted
	}
	va := p.unusedHigh
	p.unusedHigh += size
	return va, nil
}

// AllocAt pins a previously-declared physical range into the pool without
// advancing the cursor. It succeeds only if the requested physical range
// lies entirely within the pool and has not already been handed out by a
// prior AllocAt call (overlapping pinned regions are a caller error per
// spec §4.2 and are rejected here rather than silently aliased).
func (p *Pool) AllocAt(physAddr uintptr, size uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if physAddr < p.physBase || physAddr+size > p.physBase+p.size {
		return 0, ErrOutOfRange
	}
	for pa, sz := range p.pinned {
		if physAddr < pa+sz && pa < physAddr+size {
			return 0, ErrRegionTaken
		}
	}
	p.pinned[physAddr] = size
	return p.virtBase + (physAddr - p.physBase), nil
}

// PhysToVirt translates a physical address within the pool to its virtual
// image, failing when out of range.
func (p *Pool) PhysToVirt(phys uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if phys < p.physBase || phys >= p.physBase+p.size {
		return 0, ErrOutOfRange
	}
	return p.virtBase + (phys - p.physBase), nil
}

// VirtToPhys is the inverse of PhysToVirt.
func (p *Pool) VirtToPhys(virt uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if virt < p.virtBase || virt >= p.virtEnd {
		return 0, ErrOutOfRange
	}
	return p.physBase + (virt - p.virtBase), nil
}

// Bytes returns the slice backing a virtual address range, for callers
// (the vring and resource-table engine) that need to read or write through
// the mapping directly.
func (p *Pool) Bytes(virt uintptr, size uintptr) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if virt < p.virtBase || virt+size > p.virtEnd {
		return nil, ErrOutOfRange
	}
	off := virt - p.virtBase
	return p.mem[off : off+size], nil
}

// PhysBase, Size and VirtBase expose the pool's fixed geometry.
func (p *Pool) PhysBase() uintptr { return p.physBase }
func (p *Pool) Size() uintptr     { return p.size }
func (p *Pool) VirtBase() uintptr { return p.virtBase }
