package rpcserver

import (
	"net"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
)

// registerDNSHandlers wires the name-resolution and interface-enumeration
// corner of the function table through net instead of unix: these calls
// are answered from the host's own resolver configuration, not forwarded
// as a raw syscall, so there's no fidelity reason to avoid the standard
// library here (the DOMAIN STACK promotion of golang.org/x/sys/unix is
// about raw-flag/raw-errno forwarding, which doesn't apply to hostname
// resolution).
func registerDNSHandlers(d *Dispatcher) {
	d.register(FuncGethostbyname, handleGethostbyname)
	d.register(FuncGethostbyaddr, handleGethostbyaddr)
	d.register(FuncGetaddrinfo, handleGetaddrinfo)
	d.register(FuncFreeaddrinfo, handleFreeaddrinfo)
	d.register(FuncGaistrerror, handleGaistrerror)
	d.register(FuncIfnameindex, handleIfnameindex)
}

func encodeIPv4List(ips []net.IP) []byte {
	w := &writer{}
	var v4s []net.IP
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			v4s = append(v4s, v4)
		}
	}
	w.u32(uint32(len(v4s)))
	for _, ip := range v4s {
		w.bytes(ip)
	}
	return w.buf
}

func handleGethostbyname(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	name := r.cstring(maxPathLen)

	ips, err := net.LookupIP(name)
	if err != nil {
		return nil, gaiErrno(err), nil
	}
	return encodeIPv4List(ips), 0, nil
}

func handleGethostbyaddr(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	addr := r.bytes(4)
	ip := net.IPv4(addr[0], addr[1], addr[2], addr[3])

	names, err := net.LookupAddr(ip.String())
	if err != nil || len(names) == 0 {
		return nil, gaiErrno(err), nil
	}
	w := &writer{}
	w.cstring(names[0], maxPathLen)
	return w.buf, 0, nil
}

func handleGetaddrinfo(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	host := r.cstring(maxPathLen)

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, gaiErrno(err), nil
	}
	return encodeIPv4List(ips), 0, nil
}

// handleFreeaddrinfo is a no-op: getaddrinfo's reply above carries no
// host-side handle for the remote to free, unlike the original's
// addrinfo-chain allocation.
func handleFreeaddrinfo(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	return nil, 0, nil
}

var gaiErrorStrings = map[int32]string{
	0:  "Success",
	-2: "Name or service not known",
	-3: "Temporary failure in name resolution",
	-5: "No address associated with hostname",
}

func handleGaistrerror(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	code := r.i32()
	msg, ok := gaiErrorStrings[code]
	if !ok {
		msg = "Unknown resolver error"
	}
	w := &writer{}
	w.cstring(msg, maxPathLen)
	return w.buf, 0, nil
}

func handleIfnameindex(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, gaiErrno(err), nil
	}
	w := &writer{}
	w.u32(uint32(len(ifaces)))
	for _, ifc := range ifaces {
		w.u32(uint32(ifc.Index))
		w.cstring(ifc.Name, 16)
	}
	return w.buf, 0, nil
}

func gaiErrno(err error) int32 {
	if err == nil {
		return 0
	}
	return -2
}
