package rpmsg

// Callback is invoked when a message arrives addressed to an endpoint's
// local address.
type Callback func(payload []byte, src uint32)

// UnbindCallback runs when an endpoint is destroyed.
type UnbindCallback func()

// Endpoint is an rpmsg endpoint (spec §3 "Rpmsg endpoint"): a
// (name, local-address, remote-address) binding through which a service
// sends and receives messages. An endpoint whose DestAddr is AddrAny is
// "half-open": receivable but not sendable, per spec §4.8
// "create_endpoint".
type Endpoint struct {
	Name     string
	Addr     uint32
	DestAddr uint32
	Callback Callback
	UnbindCB UnbindCallback
	Priv     interface{}

	device *Device
}

// Bind sets the endpoint's remote address, moving it out of the
// half-open state. Called by the matcher when a name-service announcement
// resolves a pending endpoint, or directly by a sender that already knows
// the destination.
func (e *Endpoint) Bind(dest uint32) {
	e.DestAddr = dest
}

// Destroy unbinds the endpoint: removes it from its device's table and
// fires UnbindCB, matching rpmsg_destroy_ept's contract.
func (e *Endpoint) Destroy() {
	e.device.removeEndpoint(e)
	if e.UnbindCB != nil {
		e.UnbindCB()
	}
}
