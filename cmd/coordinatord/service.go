// Adapter wiring coordinator.Manager (and everything it needs: a backend
// per client, a shared-memory pool, the image loader, the per-client rpmsg
// services) into the narrow controlplane.Coordinator surface, mirroring
// how cmd/aegisd/main.go's own inline closures glue lifecycle.Manager to
// internal/api.Server rather than having the API package import the
// lifecycle package's full surface directly.
package main

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"

	"github.com/openeuler-mirror/coordinatord/internal/config"
	"github.com/openeuler-mirror/coordinatord/internal/coordinator"
	"github.com/openeuler-mirror/coordinatord/internal/debugservice"
	"github.com/openeuler-mirror/coordinatord/internal/imgload"
	"github.com/openeuler-mirror/coordinatord/internal/mcsdev"
	"github.com/openeuler-mirror/coordinatord/internal/notify"
	"github.com/openeuler-mirror/coordinatord/internal/ptyservice"
	"github.com/openeuler-mirror/coordinatord/internal/registry"
	"github.com/openeuler-mirror/coordinatord/internal/rpcserver"
	"github.com/openeuler-mirror/coordinatord/internal/rproc"
	"github.com/openeuler-mirror/coordinatord/internal/rproc/baremetal"
	"github.com/openeuler-mirror/coordinatord/internal/rproc/hypervisor"
	"github.com/openeuler-mirror/coordinatord/internal/shmpool"
)

// carveoutBase is the device address every client's static shared-memory
// pool is presented as occupying. It has no relation to any real host
// physical address (each pool is backed by its own anonymous mapping), so
// every client reusing the same value is harmless.
const carveoutBase = 0x40000000

// entry is everything this daemon keeps in memory for one live client,
// beyond what coordinator.Client itself tracks.
type entry struct {
	client *coordinator.Client
	pool   *shmpool.Pool
	waiter notify.Channel

	raw      []byte
	resTable []byte

	pty *ptyservice.Service
	dbg *debugservice.Service
	rpc *rpcserver.Dispatcher

	closers []func()
}

// daemonCoordinator implements controlplane.Coordinator over
// coordinator.Manager, resolving everything Manager.Start needs (a
// backend, a pool, the fetched firmware image and its resource table)
// that a create request alone doesn't carry.
type daemonCoordinator struct {
	cfg *config.Config
	mgr *coordinator.Manager
	db  *registry.DB
	log *log.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func newDaemonCoordinator(cfg *config.Config, mgr *coordinator.Manager, db *registry.DB, logger *log.Logger) *daemonCoordinator {
	return &daemonCoordinator{
		cfg:     cfg,
		mgr:     mgr,
		db:      db,
		log:     logger,
		entries: make(map[string]*entry),
	}
}

// Create resolves firmwarePath to raw bytes, locates its resource table,
// opens a fresh backend and pool, and brings the client to Configured
// (spec §4.1 create()), persisting the result to the registry so it can
// be reconciled after a restart.
func (d *daemonCoordinator) Create(name string, cpu uint32, firmwarePath string) error {
	d.mu.Lock()
	if _, exists := d.entries[name]; exists {
		d.mu.Unlock()
		return fmt.Errorf("coordinatord: client %s already exists", name)
	}
	d.mu.Unlock()

	raw, err := imgload.Fetch(firmwarePath, os.ReadFile)
	if err != nil {
		return err
	}
	resTable, err := imgload.LocateResourceTable(raw)
	if err != nil {
		return err
	}

	backend, waiter, closers, err := d.newBackend(name, cpu)
	if err != nil {
		return err
	}

	pool, err := shmpool.New(shmpool.BackingAnon, -1, carveoutBase, d.cfg.DefaultPoolSize)
	if err != nil {
		runClosers(closers)
		return fmt.Errorf("coordinatord: init pool for %s: %w", name, err)
	}

	client, err := d.mgr.Create(coordinator.CreateConfig{
		ID:            name,
		CPU:           cpu,
		Backend:       backend,
		Waiter:        waiter,
		StaticMemBase: carveoutBase,
		StaticMemSize: d.cfg.DefaultPoolSize,
	})
	if err != nil {
		pool.Close()
		runClosers(closers)
		return err
	}

	e := &entry{
		client:   client,
		pool:     pool,
		waiter:   waiter,
		raw:      raw,
		resTable: resTable,
		pty:      ptyservice.New(d.log),
		dbg:      debugservice.New(d.log),
		closers:  closers,
	}

	d.mu.Lock()
	d.entries[name] = e
	d.mu.Unlock()

	if d.db != nil {
		st, _ := client.Status()
		rec := &registry.ClientRecord{
			ID:           name,
			Name:         name,
			CPU:          cpu,
			BackendKind:  d.cfg.DefaultBackendKind,
			FirmwarePath: firmwarePath,
			State:        st.String(),
		}
		if err := d.db.SaveClient(rec); err != nil {
			d.log.Printf("coordinatord: persist client %s: %v", name, err)
		}
	}

	d.log.Printf("coordinatord: created client %s (cpu %d, backend %s)", name, cpu, d.cfg.DefaultBackendKind)
	return nil
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (d *daemonCoordinator) newBackend(name string, cpu uint32) (rproc.Backend, notify.Channel, []func(), error) {
	switch d.cfg.DefaultBackendKind {
	case "hypervisor":
		return d.newHypervisorBackend(name)
	default:
		return d.newBaremetalBackend(cpu)
	}
}

func (d *daemonCoordinator) newBaremetalBackend(cpu uint32) (rproc.Backend, notify.Channel, []func(), error) {
	dev, err := mcsdev.Open(d.cfg.McsDevicePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coordinatord: open %s: %w", d.cfg.McsDevicePath, err)
	}

	waiter, err := notify.NewPipeChannel()
	if err != nil {
		dev.Close()
		return nil, nil, nil, fmt.Errorf("coordinatord: notify pipe: %w", err)
	}

	stop := make(chan struct{})
	go pollDoorbell(dev, waiter, stop)

	backend := baremetal.New(baremetal.Options{Dev: dev, Waiter: waiter})
	closers := []func(){
		func() { close(stop) },
		func() { waiter.Close() },
		func() { dev.Close() },
	}
	return backend, waiter, closers, nil
}

// pollDoorbell arms waiter whenever the mcs device fd becomes readable,
// fulfilling the self-pipe contract baremetal.Options.Waiter documents:
// there is no async-signal-safe way for the backend or notify packages to
// do this on the caller's behalf, so the daemon runs the poll loop itself.
func pollDoorbell(dev *mcsdev.File, waiter *notify.PipeChannel, stop <-chan struct{}) {
	pfd := []unix.PollFd{{Fd: int32(dev.Fd()), Events: unix.POLLIN}}
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := unix.Poll(pfd, 250)
		if err != nil || n == 0 {
			continue
		}
		waiter.Raise()
	}
}

func (d *daemonCoordinator) newHypervisorBackend(name string) (rproc.Backend, notify.Channel, []func(), error) {
	if d.cfg.VsockCID == 0 {
		return nil, nil, nil, fmt.Errorf("coordinatord: hypervisor backend requires vsock_cid configured")
	}

	waiter, err := notify.DialVsockChannel(d.cfg.VsockCID, d.cfg.VsockPort)
	if err != nil {
		return nil, nil, nil, err
	}
	doorbell, err := vsock.Dial(d.cfg.VsockCID, d.cfg.VsockPort, nil)
	if err != nil {
		waiter.Close()
		return nil, nil, nil, fmt.Errorf("coordinatord: dial doorbell: %w", err)
	}

	backend := hypervisor.New(hypervisor.Options{
		CellName:     name,
		JailhouseBin: d.cfg.JailhouseBin,
		Doorbell:     doorbell,
		Waiter:       waiter,
	})
	closers := []func(){
		func() { doorbell.Close() },
		func() { waiter.Close() },
	}
	return backend, waiter, closers, nil
}

// Start boots a previously created client (spec §4.1 start()): loads the
// already-fetched image, walks the resource table, builds the rpmsg
// transport, and registers every bound service on it.
func (d *daemonCoordinator) Start(name string) error {
	d.mu.Lock()
	e, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinatord: unknown client %s", name)
	}

	if err := d.mgr.Start(e.client, e.pool, coordinator.StartConfig{
		BootAddr:      carveoutBase,
		FirmwareImage: e.raw,
		ResourceTable: e.resTable,
	}); err != nil {
		return err
	}

	dev := e.client.Device
	if err := dev.RegisterService(e.pty.RpmsgService(dev)); err != nil {
		d.log.Printf("coordinatord: register pty service for %s: %v", name, err)
	}
	if err := dev.RegisterService(e.dbg.RpmsgService(dev)); err != nil {
		d.log.Printf("coordinatord: register debug service for %s: %v", name, err)
	}

	e.rpc = rpcserver.New(dev, rpcserver.Options{Mode: rpcserver.ModeWorker, Log: d.log})
	if err := dev.RegisterService(e.rpc.Service()); err != nil {
		d.log.Printf("coordinatord: register rpc service for %s: %v", name, err)
	}

	if d.db != nil {
		st, _ := e.client.Status()
		if err := d.db.UpdateState(name, st.String()); err != nil {
			d.log.Printf("coordinatord: persist state for %s: %v", name, err)
		}
	}
	d.log.Printf("coordinatord: started client %s", name)
	return nil
}

// Stop shuts the client down, tearing down its per-client rpc dispatcher
// alongside the rpmsg device (Manager.Stop already runs every registered
// service's Remove hook).
func (d *daemonCoordinator) Stop(name string) error {
	d.mu.Lock()
	e, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinatord: unknown client %s", name)
	}

	if err := d.mgr.Stop(e.client); err != nil {
		return err
	}
	if e.rpc != nil {
		e.rpc.Stop()
		e.rpc = nil
	}

	if d.db != nil {
		st, _ := e.client.Status()
		if err := d.db.UpdateState(name, st.String()); err != nil {
			d.log.Printf("coordinatord: persist state for %s: %v", name, err)
		}
	}
	return nil
}

// Status reports a single line, mirroring show_status's name/cpu/
// state/services summary.
func (d *daemonCoordinator) Status(name string) (string, error) {
	d.mu.Lock()
	e, ok := d.entries[name]
	d.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("coordinatord: unknown client %s", name)
	}

	state, services := e.client.Status()
	return fmt.Sprintf("%s cpu=%d state=%s services=%v", name, e.client.CPU, state, services), nil
}

// destroy tears a client all the way down, releasing its backend and pool
// (used during graceful shutdown).
func (d *daemonCoordinator) destroy(name string) {
	d.mu.Lock()
	e, ok := d.entries[name]
	delete(d.entries, name)
	d.mu.Unlock()
	if !ok {
		return
	}

	if err := d.mgr.Destroy(e.client); err != nil {
		d.log.Printf("coordinatord: destroy %s: %v", name, err)
	}
	e.pool.Close()
	runClosers(e.closers)
}

func (d *daemonCoordinator) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.entries))
	for name := range d.entries {
		out = append(out, name)
	}
	return out
}
