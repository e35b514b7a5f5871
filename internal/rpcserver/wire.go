package rpcserver

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// maxPathLen bounds every fixed-width path field in a request frame. A
// request whose embedded path doesn't fit is rejected by the decoder, not
// silently truncated.
const maxPathLen = 256

// sockaddrWireLen is the fixed width of an encoded sockaddr on the wire:
// family(u16) + port(u16) + 16 address bytes, wide enough for IPv6.
const sockaddrWireLen = 20

// reader walks a request body field by field. Every accessor can panic on a
// short buffer; Dispatcher.run recovers from that and replies with a
// generic invalid-argument errno instead of letting a malformed frame from
// an untrusted remote take the process down (spec §7 "the transport core
// surfaces errors as return values; it never aborts the process").
type reader struct {
	b   []byte
	off int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) bytes(n int) []byte {
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) cstring(n int) string {
	b := r.bytes(n)
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	if end == len(b) {
		panic(fmt.Sprintf("rpcserver: %d-byte string field has no NUL terminator", n))
	}
	return string(b[:end])
}

// rest returns everything not yet consumed, for trailing variable-length
// payloads (write/sendto/writev/setsockopt bodies).
func (r *reader) rest() []byte { return r.b[r.off:] }

// writer assembles a reply body field by field.
type writer struct {
	buf []byte
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) cstring(s string, width int) {
	b := make([]byte, width)
	n := copy(b, s)
	_ = n
	w.buf = append(w.buf, b...)
}

// errnoOf extracts a POSIX errno from err, matching set_rsp_base's
// "errnum = errno; errno = 0" capture in the original.
func errnoOf(err error) int32 {
	if err == nil {
		return 0
	}
	if errno, ok := err.(unix.Errno); ok {
		return int32(errno)
	}
	return -1
}

// decodeSockaddr reads a fixed-width {family, port, addr[16]} wire sockaddr.
func decodeSockaddr(b []byte) (unix.Sockaddr, error) {
	if len(b) < sockaddrWireLen {
		return nil, fmt.Errorf("rpcserver: sockaddr frame truncated")
	}
	family := binary.LittleEndian.Uint16(b[0:2])
	port := int(binary.LittleEndian.Uint16(b[2:4]))
	switch family {
	case unix.AF_INET:
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], b[4:8])
		return &sa, nil
	case unix.AF_INET6:
		var sa unix.SockaddrInet6
		sa.Port = port
		copy(sa.Addr[:], b[4:20])
		return &sa, nil
	default:
		return nil, fmt.Errorf("rpcserver: unsupported sockaddr family %d", family)
	}
}

// encodeSockaddr is decodeSockaddr's inverse, used when replying with a
// peer/local address (accept, getpeername, getsockname, recvfrom).
func encodeSockaddr(sa unix.Sockaddr) []byte {
	out := make([]byte, sockaddrWireLen)
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		binary.LittleEndian.PutUint16(out[0:2], unix.AF_INET)
		binary.LittleEndian.PutUint16(out[2:4], uint16(v.Port))
		copy(out[4:8], v.Addr[:])
	case *unix.SockaddrInet6:
		binary.LittleEndian.PutUint16(out[0:2], unix.AF_INET6)
		binary.LittleEndian.PutUint16(out[2:4], uint16(v.Port))
		copy(out[4:20], v.Addr[:])
	}
	return out
}
