// Package rpmsg implements the rpmsg framing layer and the
// endpoint/service registry built on it (spec §4.8, components G and H):
// fixed-header messages over a vring.Queue pair, address allocation, and
// name-service announcements.
package rpmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderLen is the on-wire rpmsg header size: src(4) + dst(4) +
// reserved(4) + length(2) + flags(2), little-endian, packed (spec §3).
const HeaderLen = 16

// AddrAny is the "unbound" sentinel address.
const AddrAny uint32 = 0xFFFFFFFF

// NSAddr is the reserved rpmsg name-service address.
const NSAddr uint32 = 53

var (
	// ErrNotBound is returned by Send on a half-open endpoint (spec §7
	// "Not-bound").
	ErrNotBound = errors.New("rpmsg: endpoint has no remote address")
	// ErrTooLarge is returned when a payload exceeds the buffer's payload
	// capacity; fragmentation is a non-goal (spec §4.8).
	ErrTooLarge = errors.New("rpmsg: payload exceeds buffer capacity")
	// ErrMalformedHeader covers a header that doesn't fit in the consumed
	// buffer (spec §7 "Protocol").
	ErrMalformedHeader = errors.New("rpmsg: malformed header")
)

// Header is the fixed rpmsg wire header.
type Header struct {
	Src      uint32
	Dst      uint32
	Reserved uint32
	Length   uint16
	Flags    uint16
}

// Encode writes the header followed by payload into dst, which must be at
// least HeaderLen+len(payload) bytes.
func (h Header) Encode(dst []byte, payload []byte) (int, error) {
	need := HeaderLen + len(payload)
	if len(dst) < need {
		return 0, fmt.Errorf("rpmsg: %w: dst buffer too small", ErrMalformedHeader)
	}
	binary.LittleEndian.PutUint32(dst[0:4], h.Src)
	binary.LittleEndian.PutUint32(dst[4:8], h.Dst)
	binary.LittleEndian.PutUint32(dst[8:12], h.Reserved)
	binary.LittleEndian.PutUint16(dst[12:14], uint16(len(payload)))
	binary.LittleEndian.PutUint16(dst[14:16], h.Flags)
	copy(dst[HeaderLen:need], payload)
	return need, nil
}

// Decode parses a header and returns it plus the payload slice (a view
// into buf, not a copy).
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, fmt.Errorf("rpmsg: %w: buffer shorter than header", ErrMalformedHeader)
	}
	h := Header{
		Src:      binary.LittleEndian.Uint32(buf[0:4]),
		Dst:      binary.LittleEndian.Uint32(buf[4:8]),
		Reserved: binary.LittleEndian.Uint32(buf[8:12]),
		Length:   binary.LittleEndian.Uint16(buf[12:14]),
		Flags:    binary.LittleEndian.Uint16(buf[14:16]),
	}
	end := HeaderLen + int(h.Length)
	if end > len(buf) {
		return Header{}, nil, fmt.Errorf("rpmsg: %w: length %d exceeds buffer", ErrMalformedHeader, h.Length)
	}
	return h, buf[HeaderLen:end], nil
}
