package rpmsg

import (
	"fmt"
	"sync"

	"github.com/openeuler-mirror/coordinatord/internal/vring"
)

const firstDynamicAddr uint32 = 1024

// Notifier is implemented by the owning remote-processor backend: Send
// calls it after posting a buffer, to raise the doorbell (spec §4.7
// "append to the available ring, memory-barrier, then call backend
// notify").
type Notifier interface {
	Notify() error
}

// Device is one client's constructed rpmsg device: the framing layer (G)
// plus the endpoint/service registry (H) it carries, scoped to exactly
// one client record. There is deliberately no package-level registry or
// pending-endpoint list anywhere in this package — the canonicalization of
// spec.md's Open Question (a): every client gets its own Device, its own
// pending queue, its own endpoint table.
type Device struct {
	mu sync.Mutex

	tx      *vring.Queue // driver role: host posts, remote completes
	rx      *vring.Queue // device role: remote posts, host completes
	bufPool *BufferPool
	notify  Notifier

	nextAddr  uint32
	endpoints map[uint32]*Endpoint
	services  []*Service
	pending   []PendingRemoteEndpoint

	txPending map[uint16]int // descriptor id -> buffer-pool offset, awaiting completion

	running bool
}

// NewDevice constructs an rpmsg device over an already-allocated tx/rx
// vring pair and shared-buffer pool (spec §4.5/§4.7 wiring performed by the
// resource-table engine and the lifecycle orchestrator).
func NewDevice(tx, rx *vring.Queue, bufPool *BufferPool, notifier Notifier) *Device {
	return &Device{
		tx:        tx,
		rx:        rx,
		bufPool:   bufPool,
		notify:    notifier,
		nextAddr:  firstDynamicAddr,
		endpoints: make(map[uint32]*Endpoint),
		txPending: make(map[uint16]int),
		running:   false,
	}
}

// SetRunning toggles whether RegisterService is permitted — the resource
// table engine/orchestrator flips this at the Running state transition
// boundary (spec §4.8 "register_service... requires state Running").
func (d *Device) SetRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = running
}

func (d *Device) allocAddr() uint32 {
	a := d.nextAddr
	d.nextAddr++
	return a
}

// CreateEndpoint allocates a local address and registers the endpoint on
// this device (spec §4.8 "create_endpoint"). If dst is AddrAny the
// endpoint starts half-open.
func (d *Device) CreateEndpoint(name string, dst uint32, cb Callback, unbind UnbindCallback, priv interface{}) *Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	ep := &Endpoint{
		Name:     name,
		Addr:     d.allocAddr(),
		DestAddr: dst,
		Callback: cb,
		UnbindCB: unbind,
		Priv:     priv,
		device:   d,
	}
	d.endpoints[ep.Addr] = ep
	return ep
}

func (d *Device) removeEndpoint(ep *Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.endpoints, ep.Addr)
}

// Send frames payload with ep's addresses and posts it to the tx queue,
// then raises the doorbell. Fails with ErrNotBound if ep has no remote
// address, and ErrTooLarge if payload won't fit in one buffer —
// fragmentation is a non-goal (spec §4.8).
func (d *Device) Send(ep *Endpoint, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ep.DestAddr == AddrAny {
		return ErrNotBound
	}
	if len(payload) > d.bufPool.PayloadCap() {
		return fmt.Errorf("rpmsg: %w: %d > cap %d", ErrTooLarge, len(payload), d.bufPool.PayloadCap())
	}

	offset, buf, err := d.bufPool.Alloc()
	if err != nil {
		return err
	}
	h := Header{Src: ep.Addr, Dst: ep.DestAddr}
	n, err := h.Encode(buf, payload)
	if err != nil {
		d.bufPool.Free(offset)
		return err
	}

	descID, err := d.tx.EnqueueAvail(uint64(offset), uint32(n), false)
	if err != nil {
		d.bufPool.Free(offset)
		return err
	}
	d.txPending[descID] = offset
	if d.notify != nil {
		return d.notify.Notify()
	}
	return nil
}

// DrainTxCompletions reclaims buffer-pool slots for every tx descriptor
// the remote has finished with. Called by the receive loop alongside
// DispatchAvailable on each wake.
func (d *Device) DrainTxCompletions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		used, err := d.tx.PopUsed()
		if err != nil {
			return
		}
		if offset, ok := d.txPending[used.DescID]; ok {
			d.bufPool.Free(offset)
			delete(d.txPending, used.DescID)
		}
	}
}

// DispatchAvailable drains every pending rx entry, decoding each as an
// rpmsg frame and routing it: to the name-service matcher if addressed to
// NSAddr, otherwise to the bound endpoint's callback (spec §4.8
// "Receiving"). Unroutable messages (unknown destination) are dropped,
// mirroring the transport-core "log and continue" error policy (spec §7).
func (d *Device) DispatchAvailable(onProtocolError func(error)) {
	for {
		entry, err := func() (vring.AvailEntry, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.rx.PopAvail()
		}()
		if err != nil {
			return
		}

		buf := d.bufPool.At(int(entry.Addr), int(entry.Length))
		h, payload, err := Decode(buf)
		if err != nil {
			if onProtocolError != nil {
				onProtocolError(err)
			}
			d.mu.Lock()
			d.rx.PushUsed(entry.DescID, 0)
			d.mu.Unlock()
			continue
		}

		if h.Dst == NSAddr {
			d.handleAnnouncement(payload)
		} else {
			d.mu.Lock()
			ep := d.endpoints[h.Dst]
			d.mu.Unlock()
			if ep != nil && ep.Callback != nil {
				ep.Callback(payload, h.Src)
			}
		}

		d.mu.Lock()
		d.rx.PushUsed(entry.DescID, 0)
		d.mu.Unlock()
	}
}
