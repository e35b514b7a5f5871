package rsctab

import (
	"encoding/binary"
	"fmt"
)

// eptInfoLen is name[NameSize] + addr(u32) + dest_addr(u32).
const eptInfoLen = NameSize + 4 + 4

// eptTableFixedLen is type(u32) + num_of_epts(u32), before the endpoint array.
const eptTableFixedLen = 8

// EptInfo is one record of the EPT_TABLE vendor resource entry, mirroring
// struct ept_info in mica_rsc.h.
type EptInfo struct {
	Name     string
	Addr     uint32
	DestAddr uint32
}

// Binding is the host's own view of a bound endpoint, as supplied by the
// rpmsg endpoint/service registry when the resource-table engine
// regenerates EPT_TABLE (spec §4.5/§4.8).
type Binding struct {
	Name     string
	Addr     uint32 // host local address
	DestAddr uint32 // remote address
}

// ParseEptTable decodes the EPT_TABLE entry at offset.
func ParseEptTable(buf []byte, offset uint32) ([]EptInfo, error) {
	if int(offset)+eptTableFixedLen > len(buf) {
		return nil, fmt.Errorf("rsctab: %w: EPT_TABLE entry truncated", ErrMalformed)
	}
	num := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
	if num > MaxNumOfEpts {
		return nil, fmt.Errorf("rsctab: %w: EPT_TABLE num_of_epts %d exceeds max %d", ErrMalformed, num, MaxNumOfEpts)
	}
	need := eptTableFixedLen + int(num)*eptInfoLen
	if int(offset)+need > len(buf) {
		return nil, fmt.Errorf("rsctab: %w: EPT_TABLE endpoint array truncated", ErrMalformed)
	}

	out := make([]EptInfo, 0, num)
	for i := uint32(0); i < num; i++ {
		eo := offset + eptTableFixedLen + i*eptInfoLen
		eb := buf[eo:]
		out = append(out, EptInfo{
			Name:     decodeName(eb[0:NameSize]),
			Addr:     binary.LittleEndian.Uint32(eb[NameSize : NameSize+4]),
			DestAddr: binary.LittleEndian.Uint32(eb[NameSize+4 : NameSize+8]),
		})
	}
	return out, nil
}

func decodeName(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func encodeName(dst []byte, name string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, name)
}

// PendingEndpoint is a remote endpoint the resource table recorded before
// this boot of the host — discovered at start and pushed into the
// per-client pending queue (spec §4.5 "on start, treat entries with
// nonzero address as pre-bound remote endpoints"; supplemented feature,
// see SPEC_FULL.md §12, grounded on handle_mica_rsc in mica_rsc_table.c).
type PendingEndpoint struct {
	Name string
	Addr uint32
}

// PreBoundEndpoints extracts the pre-bound endpoints from the EPT_TABLE
// entry at offset, mirroring handle_mica_rsc's RSC_VENDOR_EPT_TABLE case:
// any entry with a nonzero Addr is pre-bound and should be restored.
func PreBoundEndpoints(buf []byte, offset uint32) ([]PendingEndpoint, error) {
	entries, err := ParseEptTable(buf, offset)
	if err != nil {
		return nil, err
	}
	var out []PendingEndpoint
	for _, e := range entries {
		if e.Addr != 0 {
			out = append(out, PendingEndpoint{Name: e.Name, Addr: e.Addr})
		}
	}
	return out, nil
}

// EncodeEPTTable regenerates the EPT_TABLE entry at offset from the
// current set of bound endpoints, mirroring rsc_update_ept_table in
// mica_rsc_table.c exactly, including its most surprising detail: the
// host's own (Addr, DestAddr) pair is written *swapped*, because the table
// records what the remote side's addressing looks like — the remote reads
// this table after a host restart and needs its own local/remote view,
// which is the mirror image of the host's.
//
// The caller is responsible for cache-flushing buf[offset:offset+size]
// afterward (spec §5); this function only updates memory.
func EncodeEPTTable(buf []byte, offset uint32, bound []Binding) error {
	if int(offset)+eptTableFixedLen > len(buf) {
		return fmt.Errorf("rsctab: %w: EPT_TABLE entry truncated", ErrMalformed)
	}

	entryLen := eptTableFixedLen + MaxNumOfEpts*eptInfoLen
	if int(offset)+entryLen > len(buf) {
		return fmt.Errorf("rsctab: %w: EPT_TABLE region too small", ErrMalformed)
	}
	region := buf[offset : offset+uint32(entryLen)]
	for i := range region {
		region[i] = 0
	}
	binary.LittleEndian.PutUint32(region[0:4], TypeVendorEptTable)

	n := 0
	for _, b := range bound {
		// Only fully-bound endpoints are persisted (both addresses
		// resolved), matching the original's ANY-address skip.
		if b.Addr == AddrAny || b.DestAddr == AddrAny {
			continue
		}
		if n >= MaxNumOfEpts {
			return ErrNoSpace
		}
		eo := eptTableFixedLen + n*eptInfoLen
		eb := region[eo:]
		encodeName(eb[0:NameSize], b.Name)
		// Swapped: the table's "addr" is the host's DestAddr (what the
		// remote calls its own local address) and its "dest_addr" is the
		// host's Addr (what the remote calls the host's address).
		binary.LittleEndian.PutUint32(eb[NameSize:NameSize+4], b.DestAddr)
		binary.LittleEndian.PutUint32(eb[NameSize+4:NameSize+8], b.Addr)
		n++
	}
	binary.LittleEndian.PutUint32(region[4:8], uint32(n))
	return nil
}
