// Package hypervisor implements rproc.Backend over a partitioning
// hypervisor cell: "jailhouse cell start/shutdown/destroy" manages the
// remote's lifecycle, an ivshmem-style region backs shared memory, and a
// vsock connection carries the notification doorbell in place of the
// ivshmem doorbell register a real jailhouse setup would use. Grounded on
// original_source/library/remoteproc/jailhouse_rproc.c.
package hypervisor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"

	"github.com/openeuler-mirror/coordinatord/internal/notify"
	"github.com/openeuler-mirror/coordinatord/internal/rproc"
	"github.com/openeuler-mirror/coordinatord/internal/rsctab"
	"github.com/openeuler-mirror/coordinatord/internal/shmpool"
)

// CommandRunner abstracts process execution so tests don't shell out to a
// real "jailhouse" binary, mirroring run_command() in jailhouse_rproc.c.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecCommandRunner runs the real binary via os/exec.
func ExecCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Run()
}

// Options configures a Backend.
type Options struct {
	CellName     string
	JailhouseBin string // default "jailhouse"
	ShmemFD      int    // backing fd for the ivshmem-style shared region
	// Doorbell is the outbound half of the vsock doorbell connection:
	// Notify writes one byte to it, the remote's poll loop on the other
	// end treats the byte as the kick (spec §4.6).
	Doorbell io.Writer
	// Waiter is the inbound half, wrapping the same or a paired vsock
	// connection as a notify.Channel for the coordinator's receive loop.
	Waiter notify.Channel
	Run    CommandRunner // default ExecCommandRunner

	OnEptTable func(bound []rsctab.PendingEndpoint)
	OnRbufPair func(rb *rsctab.RbufPair)
}

// Backend is the partitioning-hypervisor rproc.Backend.
type Backend struct {
	cellName string
	bin      string
	shmemFD  int
	doorbell io.Writer
	waiter   notify.Channel
	run      CommandRunner

	pool *shmpool.Pool
	cfg  rproc.BootConfig

	onEptTable func(bound []rsctab.PendingEndpoint)
	onRbufPair func(rb *rsctab.RbufPair)
}

// New constructs a Backend. Call Init then Configure before Start.
func New(opts Options) *Backend {
	bin := opts.JailhouseBin
	if bin == "" {
		bin = "jailhouse"
	}
	run := opts.Run
	if run == nil {
		run = ExecCommandRunner
	}
	return &Backend{
		cellName:   opts.CellName,
		bin:        bin,
		shmemFD:    opts.ShmemFD,
		doorbell:   opts.Doorbell,
		waiter:     opts.Waiter,
		run:        run,
		onEptTable: opts.OnEptTable,
		onRbufPair: opts.OnRbufPair,
	}
}

func (b *Backend) Init() error {
	if b.cellName == "" {
		return fmt.Errorf("hypervisor: no cell name configured")
	}
	return nil
}

func (b *Backend) Remove() error {
	if err := b.run(context.Background(), b.bin, "cell", "destroy", b.cellName); err != nil {
		return fmt.Errorf("hypervisor: jailhouse cell destroy %s: %w", b.cellName, err)
	}
	if b.pool != nil {
		return b.pool.Close()
	}
	return nil
}

func (b *Backend) Configure(cfg rproc.BootConfig) error {
	b.cfg = cfg
	pool, err := shmpool.New(shmpool.BackingFile, b.shmemFD, cfg.StaticMemBase, cfg.StaticMemSize)
	if err != nil {
		return fmt.Errorf("hypervisor: init shared memory pool: %w", err)
	}
	b.pool = pool
	return nil
}

func (b *Backend) Start() error {
	if err := b.run(context.Background(), b.bin, "cell", "start", b.cellName); err != nil {
		return fmt.Errorf("hypervisor: jailhouse cell start %s: %w", b.cellName, err)
	}
	return nil
}

// Stop has no pause primitive distinct from a full shutdown in this
// backend; jailhouse_rproc.c defines no .stop either.
func (b *Backend) Stop() error {
	return rproc.ErrNotSupported
}

func (b *Backend) Shutdown() error {
	if err := b.run(context.Background(), b.bin, "cell", "shutdown", b.cellName); err != nil {
		return fmt.Errorf("hypervisor: jailhouse cell shutdown %s: %w", b.cellName, err)
	}
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			return err
		}
		b.pool = nil
	}
	log.Printf("hypervisor: cell %s shut down", b.cellName)
	return nil
}

func (b *Backend) Mmap(physAddr, devAddr uintptr, size uintptr) (rproc.MemRegion, error) {
	if b.pool == nil {
		return rproc.MemRegion{}, fmt.Errorf("hypervisor: pool not configured")
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

// Notify rings the doorbell over vsock in place of jailhouse_rproc.c's
// write32(&ivshm_regs->doorbell, peer_id << 16) — there is no ivshmem
// register file reachable from this host environment, so the equivalent
// signal travels over the cell's vsock control connection instead.
func (b *Backend) Notify(id uint32) error {
	_ = id
	if b.doorbell == nil {
		return fmt.Errorf("hypervisor: no doorbell channel configured")
	}
	_, err := b.doorbell.Write([]byte{1})
	return err
}

func (b *Backend) HandleVendorResource(resourceType uint32, payload []byte) error {
	switch resourceType {
	case rsctab.TypeVendorEptTable:
		bound, err := rsctab.PreBoundEndpoints(payload, 0)
		if err != nil {
			return fmt.Errorf("hypervisor: parse EPT_TABLE: %w", err)
		}
		if b.onEptTable != nil {
			b.onEptTable(bound)
		}
		return nil
	case rsctab.TypeVendorRbufPair:
		rb, err := rsctab.ParseRbufPair(payload, 0)
		if err != nil {
			return fmt.Errorf("hypervisor: parse RBUF_PAIR: %w", err)
		}
		if b.onRbufPair != nil {
			b.onRbufPair(rb)
		}
		return nil
	default:
		return fmt.Errorf("hypervisor: unhandled vendor resource type %d", resourceType)
	}
}

// Waiter exposes the notification channel for the coordinator's receive
// loop to select on.
func (b *Backend) Waiter() notify.Channel {
	return b.waiter
}
