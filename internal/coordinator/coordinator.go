// Package coordinator implements the lifecycle orchestrator (spec §4.1,
// component J) and the per-client receive loop (spec §4.9, component I).
// Adapted from internal/lifecycle/manager.go: per-instance mutex, a
// central map keyed by client id, state-change callback hook, and
// rollback-in-reverse-order on a failed start — the same shape the
// teacher uses for its STOPPED/STARTING/RUNNING/PAUSED/TERMINATED state
// machine, retargeted at Offline/Configured/Ready/Running/Suspended.
package coordinator

import (
	"fmt"
	"log"
	"sync"

	"github.com/openeuler-mirror/coordinatord/internal/imgload"
	"github.com/openeuler-mirror/coordinatord/internal/notify"
	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
	"github.com/openeuler-mirror/coordinatord/internal/rproc"
	"github.com/openeuler-mirror/coordinatord/internal/rsctab"
	"github.com/openeuler-mirror/coordinatord/internal/shmpool"
	"github.com/openeuler-mirror/coordinatord/internal/vring"
)

// vringAlign is the declared virtqueue alignment used across this module
// (spec §4.7 "declared alignment"); 16 matches virtio's conventional
// VIRTIO_RING_F_ALIGN default and the teacher's other fixed-size wire
// constants' general style of picking one value and documenting it.
const vringAlign = 16

// Client is one managed remote-processor instance (spec §3 "Client
// record"). All mutable fields are guarded by mu.
type Client struct {
	mu sync.Mutex

	ID      string
	CPU     uint32
	Backend rproc.Backend
	State   rproc.State

	ResourceTable  []byte
	eptTableOffset uint32
	hasEptTable    bool

	Device *rpmsg.Device

	waiter      notify.Channel
	receiveDone chan struct{}
}

// Status returns the client's current state and bound service names,
// satisfying spec §4.1's status(client).
func (c *Client) Status() (rproc.State, []string) {
	c.mu.Lock()
	state, dev := c.State, c.Device
	c.mu.Unlock()
	if dev == nil {
		return state, nil
	}
	return state, dev.ServiceNames()
}

// Manager owns every client and drives create/start/stop/destroy (spec
// §4.1). Commands against a single client are linearized by that client's
// own mutex, matching "the CLI serializes commands per client socket" —
// Manager itself only protects the map of clients.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client

	onStateChange func(id string, state rproc.State)
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*Client)}
}

// OnStateChange registers a callback invoked after every state transition,
// mirroring lifecycle.Manager.OnStateChange (used by the registry to
// persist state and by the control plane to push status updates).
func (m *Manager) OnStateChange(fn func(id string, state rproc.State)) {
	m.onStateChange = fn
}

func (m *Manager) notify(id string, s rproc.State) {
	if m.onStateChange != nil {
		m.onStateChange(id, s)
	}
}

// CreateConfig carries what Create needs to bring a client to Configured.
type CreateConfig struct {
	ID      string
	CPU     uint32
	Backend rproc.Backend
	Waiter  notify.Channel

	StaticMemBase uintptr
	StaticMemSize uintptr
}

// preflightChecker is implemented by backends (currently only
// rproc/baremetal) that can confirm their target is powered off before a
// boot is attempted (spec §4.1 "fails if the target CPU is not reported
// as powered off"). Backends without a meaningful notion of this (the
// hypervisor backend manages whole cells, not individual cores) simply
// don't implement it, and the check is skipped.
type preflightChecker interface {
	PreflightCPUOff(cpu uint32) error
}

// Create opens the backend's control device, initializes its shared
// memory pool, and transitions Offline->Configured (spec §4.1 create()).
func (m *Manager) Create(cfg CreateConfig) (*Client, error) {
	m.mu.Lock()
	if _, exists := m.clients[cfg.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, cfg.ID)
	}
	m.mu.Unlock()

	if err := cfg.Backend.Init(); err != nil {
		return nil, fmt.Errorf("coordinator: backend init: %w", err)
	}

	if pc, ok := cfg.Backend.(preflightChecker); ok {
		if err := pc.PreflightCPUOff(cfg.CPU); err != nil {
			cfg.Backend.Remove()
			return nil, fmt.Errorf("%w: %v", ErrTargetNotOff, err)
		}
	}

	if err := cfg.Backend.Configure(rproc.BootConfig{
		CPU:           cfg.CPU,
		StaticMemBase: cfg.StaticMemBase,
		StaticMemSize: cfg.StaticMemSize,
	}); err != nil {
		cfg.Backend.Remove()
		return nil, fmt.Errorf("coordinator: backend configure: %w", err)
	}

	c := &Client{
		ID:      cfg.ID,
		CPU:     cfg.CPU,
		Backend: cfg.Backend,
		State:   rproc.StateConfigured,
		waiter:  cfg.Waiter,
	}

	m.mu.Lock()
	m.clients[cfg.ID] = c
	m.mu.Unlock()
	m.notify(cfg.ID, rproc.StateConfigured)
	return c, nil
}

// Get returns a previously created client.
func (m *Manager) Get(id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// StartConfig carries what Start needs to boot a client's remote image.
type StartConfig struct {
	BootAddr      uint64
	FirmwareImage []byte // already fetched via imgload.Fetch
	ResourceTable []byte // located via imgload.LocateResourceTable
}

// startRollback accumulates undo steps as Start progresses, run in
// reverse order on any later failure (spec §4.1 "restores to Configured
// on any step failure, undoing in reverse order").
type startRollback struct {
	steps []func()
}

func (r *startRollback) push(undo func()) { r.steps = append(r.steps, undo) }

func (r *startRollback) unwind() {
	for i := len(r.steps) - 1; i >= 0; i-- {
		r.steps[i]()
	}
}

// Start loads the image, walks and patches the resource table, builds the
// rpmsg device over the allocated vring pair, and releases the target CPU
// at the translated entry point (spec §4.1 start()).
func (m *Manager) Start(c *Client, pool *shmpool.Pool, cfg StartConfig) error {
	c.mu.Lock()
	if c.State != rproc.StateConfigured {
		c.mu.Unlock()
		return fmt.Errorf("%w: client %s is %s, want configured", ErrWrongState, c.ID, c.State)
	}
	c.mu.Unlock()

	var rb startRollback

	img, err := imgload.Load(cfg.FirmwareImage, cfg.BootAddr)
	if err != nil {
		return fmt.Errorf("coordinator: load image: %w", err)
	}

	if err := imgload.Place(img, func(destPhys uint64, size int) ([]byte, error) {
		region, err := c.Backend.Mmap(uintptr(destPhys), 0, uintptr(size))
		if err != nil {
			return nil, err
		}
		return region.Bytes, nil
	}); err != nil {
		return fmt.Errorf("coordinator: place image segments: %w", err)
	}

	walk, err := rsctab.Walk(cfg.ResourceTable, pool, vringAlign)
	if err != nil {
		rb.unwind()
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	if len(walk.Vdevs) == 0 {
		rb.unwind()
		return fmt.Errorf("coordinator: resource table declares no VDEV entries")
	}

	vd := walk.Vdevs[0]
	txQ, err := vring.New(vd.RingMem[0], int(vd.Vdev.Vrings[0].Num), vringAlign)
	if err != nil {
		rb.unwind()
		return fmt.Errorf("coordinator: build tx vring: %w", err)
	}
	rxQ, err := vring.New(vd.RingMem[1], int(vd.Vdev.Vrings[1].Num), vringAlign)
	if err != nil {
		rb.unwind()
		return fmt.Errorf("coordinator: build rx vring: %w", err)
	}
	bufPool := rpmsg.NewBufferPool(vd.BufferMem, rsctab.BufferSlotSize)

	dev := rpmsg.NewDevice(txQ, rxQ, bufPool, backendNotifier{c.Backend})
	if len(walk.Pending) > 0 {
		pending := make([]rpmsg.PendingRemoteEndpoint, len(walk.Pending))
		for i, p := range walk.Pending {
			pending[i] = rpmsg.PendingRemoteEndpoint{Name: p.Name, Addr: p.Addr}
		}
		dev.SeedPending(pending)
	}

	if err := c.Backend.Start(); err != nil {
		rb.unwind()
		return fmt.Errorf("coordinator: backend start: %w", err)
	}
	rb.push(func() {
		if err := c.Backend.Shutdown(); err != nil {
			log.Printf("coordinator: rollback shutdown for %s: %v", c.ID, err)
		}
	})

	dev.SetRunning(true)

	c.mu.Lock()
	c.Device = dev
	c.ResourceTable = cfg.ResourceTable
	c.eptTableOffset = walk.EptTableOffset
	c.hasEptTable = walk.HasEptTable
	c.State = rproc.StateRunning
	c.mu.Unlock()
	m.notify(c.ID, rproc.StateRunning)

	c.startReceiveLoop()
	return nil
}

type backendNotifier struct {
	b rproc.Backend
}

func (n backendNotifier) Notify() error { return n.b.Notify(0) }
