package rpmsg

import "errors"

// ErrNotRunning is returned by RegisterService when the owning client
// isn't in the Running state (spec §4.8: "requires state Running").
var ErrNotRunning = errors.New("rpmsg: client not running")

// Service is a host-side object that registers a name predicate and a
// bind callback, and owns zero or more endpoints once bound (spec §3
// "Service descriptor").
type Service struct {
	Name string
	Init func()
	Remove func()

	// Match reports whether this service owns the given announced name.
	Match func(name string, src uint32) bool
	// Bind is invoked once for each announcement (pending or live) this
	// service matches; it typically calls Device.CreateEndpoint.
	Bind func(name string, src uint32)
}

// PendingRemoteEndpoint is an announcement with no matching service yet
// (spec §3 "Pending remote endpoint"). Scoped per-Device (i.e. per
// client), per the Open Question (a) canonicalization — see package doc.
type PendingRemoteEndpoint struct {
	Name string
	Addr uint32
}

// SeedPending pre-populates the pending queue from endpoints the resource
// table recorded as pre-bound before this boot (supplemented feature, see
// SPEC_FULL.md §12, grounded on handle_mica_rsc).
func (d *Device) SeedPending(entries []PendingRemoteEndpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, entries...)
}

// RegisterService clones svc onto this device's service list, runs its
// Init hook, then walks the pending-remote queue looking for entries svc
// matches, binding and removing each one (spec §4.8 "register_service").
func (d *Device) RegisterService(svc *Service) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	clone := *svc
	d.services = append(d.services, &clone)
	d.mu.Unlock()

	if clone.Init != nil {
		clone.Init()
	}
	if clone.Match == nil {
		return nil
	}

	d.mu.Lock()
	var matched []PendingRemoteEndpoint
	var remaining []PendingRemoteEndpoint
	for _, p := range d.pending {
		if clone.Match(p.Name, p.Addr) {
			matched = append(matched, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	d.pending = remaining
	d.mu.Unlock()

	for _, p := range matched {
		clone.Bind(p.Name, p.Addr)
	}
	return nil
}

// handleAnnouncement is the name-service matcher (spec §4.8 "Matcher on
// remote announcement"): walk the service list in registration order; the
// first whose predicate matches gets Bind invoked. If none matches, park
// the announcement on the pending queue.
//
// Destroy announcements (NSFlagDestroy) unbind the corresponding live
// endpoint instead of attempting a fresh bind.
func (d *Device) handleAnnouncement(payload []byte) {
	msg, err := DecodeNS(payload)
	if err != nil {
		return
	}

	if msg.Flags == NSFlagDestroy {
		d.mu.Lock()
		var ep *Endpoint
		for _, e := range d.endpoints {
			if e.DestAddr == msg.Addr && e.Name == msg.Name {
				ep = e
				break
			}
		}
		d.mu.Unlock()
		if ep != nil {
			ep.Destroy()
		}
		return
	}

	d.mu.Lock()
	services := append([]*Service(nil), d.services...)
	d.mu.Unlock()

	for _, svc := range services {
		if svc.Match == nil {
			continue
		}
		if svc.Match(msg.Name, msg.Addr) {
			svc.Bind(msg.Name, msg.Addr)
			return
		}
	}

	d.mu.Lock()
	d.pending = append(d.pending, PendingRemoteEndpoint{Name: msg.Name, Addr: msg.Addr})
	d.mu.Unlock()
}

// Teardown unbinds every live endpoint and removes every registered
// service in reverse registration order, running each service's Remove
// hook (spec §4.1 stop() "removes services in reverse registration order
// ... tears down the rpmsg device"). After Teardown the device must not
// be used again.
func (d *Device) Teardown() {
	d.mu.Lock()
	services := append([]*Service(nil), d.services...)
	d.services = nil
	d.pending = nil
	d.running = false
	d.mu.Unlock()

	for i := len(services) - 1; i >= 0; i-- {
		if services[i].Remove != nil {
			services[i].Remove()
		}
	}

	d.mu.Lock()
	d.endpoints = make(map[uint32]*Endpoint)
	d.mu.Unlock()
}

// ServiceNames returns the bound service names in registration order, for
// status reporting (spec §4.1 status()).
func (d *Device) ServiceNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.services))
	for i, s := range d.services {
		names[i] = s.Name
	}
	return names
}

// PendingCount reports the current pending-remote-endpoint queue depth,
// used by tests and status reporting.
func (d *Device) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// BoundEndpoints returns a snapshot of every fully-bound endpoint
// (DestAddr != AddrAny). Nothing in the daemon calls it after a bind, so
// the resource table's EPT_TABLE is not regenerated when endpoints bind.
func (d *Device) BoundEndpoints() []EndpointBinding {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []EndpointBinding
	for _, ep := range d.endpoints {
		if ep.DestAddr == AddrAny {
			continue
		}
		out = append(out, EndpointBinding{Name: ep.Name, Addr: ep.Addr, DestAddr: ep.DestAddr})
	}
	return out
}

// EndpointBinding is the host's view of one bound endpoint. Its fields
// match rsctab.Binding, the input of rsctab.EncodeEPTTable (which performs
// the addr/dest_addr swap on persist — see its doc comment).
type EndpointBinding struct {
	Name     string
	Addr     uint32
	DestAddr uint32
}
