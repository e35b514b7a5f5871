// Package rproc defines the remote-processor lifecycle vtable (spec §4.3,
// component C) and the Offline/Configured/Ready/Running/Suspended/Error
// state machine that drives it. Concrete backends (rproc/baremetal,
// rproc/hypervisor) implement Backend; the coordinator drives it through
// this package's state machine, mirroring the ops-vtable dispatch in
// original_source/library/remoteproc/remoteproc.c and the two backend
// drivers it selects between (baremetal_rproc.c, jailhouse_rproc.c).
package rproc

import (
	"errors"
	"fmt"
)

// State is one node of the remote-processor lifecycle state machine
// (spec §3 "Remote processor state").
type State int

const (
	StateOffline State = iota
	StateConfigured
	StateReady
	StateRunning
	StateSuspended
	StateError
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConfigured:
		return "configured"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when a caller requests a state
// transition the machine doesn't allow from its current state.
var ErrInvalidTransition = errors.New("rproc: invalid state transition")

// validTransitions enumerates the state machine's edges (spec §3). Every
// state can transition to StateError; that edge is checked separately in
// Transition rather than listed here for every row.
var validTransitions = map[State][]State{
	StateOffline:    {StateConfigured},
	StateConfigured: {StateReady, StateOffline},
	StateReady:      {StateRunning, StateOffline},
	StateRunning:    {StateSuspended, StateOffline},
	StateSuspended:  {StateRunning, StateOffline},
	StateError:      {StateOffline},
}

// Transition validates from -> to and returns ErrInvalidTransition if the
// edge isn't in the machine (every state may always move to StateError).
func Transition(from, to State) error {
	if to == StateError {
		return nil
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// MemRegion is one mapped shared-memory window a backend hands back from
// Mmap, mirroring remoteproc_mem's {pa, da, size, io}.
type MemRegion struct {
	PhysAddr uintptr
	DevAddr  uintptr
	Size     uintptr
	Bytes    []byte
}

// Backend is the per-transport vtable a concrete remote-processor backend
// implements (spec §4.3 "backend vtable": init/remove/configure/start/
// stop/shutdown/mmap/notify/handle_vendor_resource), grounded on
// remoteproc_ops in original_source/library/include/openamp-equivalent
// headers and concretely on baremetal_rproc.c / jailhouse_rproc.c.
type Backend interface {
	// Init opens backend-specific resources (a device node, a vsock
	// connection) and prepares the notification waiter.
	Init() error
	// Remove releases everything Init acquired.
	Remove() error
	// Configure applies boot configuration (cpu id, boot address, memory
	// layout) ahead of Start.
	Configure(cfg BootConfig) error
	// Start boots the remote core at the previously configured address.
	Start() error
	// Stop halts a running remote core without tearing down mappings
	// (used for the Running -> Suspended edge where the backend
	// supports it; returns ErrNotSupported otherwise).
	Stop() error
	// Shutdown fully tears the remote core down and releases memory
	// mappings registered via Mmap.
	Shutdown() error
	// Mmap maps size bytes at the given physical/device address pair,
	// returning the host-virtual window (spec §4.3 mmap contract:
	// either address may be unset, in which case it's derived from the
	// other — see baremetal_rproc.c's rproc_mmap).
	Mmap(physAddr, devAddr uintptr, size uintptr) (MemRegion, error)
	// Notify rings the remote core's doorbell for notification id
	// (bare-metal: SGI via mcsdev.SendIPI; hypervisor: vsock write).
	Notify(id uint32) error
	// HandleVendorResource processes one vendor-range resource-table
	// entry the generic walker doesn't understand natively (spec §4.5,
	// grounded on handle_mica_rsc): EPT_TABLE restores pre-bound
	// endpoints, RBUF_PAIR records the rpmsg buffer region.
	HandleVendorResource(resourceType uint32, payload []byte) error
}

// ErrNotSupported is returned by backend methods the active backend
// doesn't implement (e.g. Stop on a backend with no pause primitive).
var ErrNotSupported = errors.New("rproc: operation not supported by this backend")

// BootConfig carries what Configure needs to prepare a boot.
type BootConfig struct {
	CPU          uint32
	BootAddr     uint64
	StaticMemBase uintptr
	StaticMemSize uintptr
}
