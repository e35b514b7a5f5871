package rsctab

import (
	"encoding/binary"
	"fmt"
)

// AddrAny is the "unallocated, allocate me a device address" sentinel
// FW_RSC_U32_ADDR_ANY.
const AddrAny uint32 = 0xFFFFFFFF

// vdevFixedLen covers type,id,notifyid,dfeatures,gfeatures,config_len,
// status,num_of_vrings (one u32 each; status at offset 24, num_of_vrings
// at 28) and three reserved words — 11 x u32 — before the vring array.
const vdevFixedLen = 11 * 4

// vringEntryLen covers da,align,num,notifyid,reserved — 5 x u32.
const vringEntryLen = 5 * 4

// VdevVring is one vring descriptor embedded in a VDEV entry.
type VdevVring struct {
	DA       uint32 // device address, or AddrAny to request allocation
	Align    uint32
	Num      uint32
	NotifyID uint32
}

// Vdev is a parsed VDEV resource-table entry (spec §3 "Resource table").
type Vdev struct {
	Offset     uint32
	ID         uint32
	Status     uint32
	NumVrings  uint32
	Vrings     []VdevVring
	vringsOffs []uint32 // table-relative offsets of each vring's DA field, for WriteBack
}

// ParseVdev decodes the VDEV entry at offset.
func ParseVdev(buf []byte, offset uint32) (*Vdev, error) {
	if int(offset)+vdevFixedLen > len(buf) {
		return nil, fmt.Errorf("rsctab: %w: VDEV entry truncated", ErrMalformed)
	}
	b := buf[offset:]
	v := &Vdev{
		Offset:    offset,
		ID:        binary.LittleEndian.Uint32(b[4:8]),
		Status:    binary.LittleEndian.Uint32(b[24:28]),
		NumVrings: binary.LittleEndian.Uint32(b[28:32]),
	}
	need := vdevFixedLen + int(v.NumVrings)*vringEntryLen
	if int(offset)+need > len(buf) {
		return nil, fmt.Errorf("rsctab: %w: VDEV vring array truncated", ErrMalformed)
	}
	for i := uint32(0); i < v.NumVrings; i++ {
		vo := offset + vdevFixedLen + i*vringEntryLen
		vb := buf[vo:]
		v.Vrings = append(v.Vrings, VdevVring{
			DA:       binary.LittleEndian.Uint32(vb[0:4]),
			Align:    binary.LittleEndian.Uint32(vb[4:8]),
			Num:      binary.LittleEndian.Uint32(vb[8:12]),
			NotifyID: binary.LittleEndian.Uint32(vb[12:16]),
		})
		v.vringsOffs = append(v.vringsOffs, vo)
	}
	return v, nil
}

// WriteBackDA patches the device address of vring i back into the table,
// used after the resource-table engine allocates a device address for a
// vring that requested AddrAny (spec §4.5).
func (v *Vdev) WriteBackDA(buf []byte, i int, da uint32) error {
	if i < 0 || i >= len(v.vringsOffs) {
		return fmt.Errorf("rsctab: %w: vring index %d out of range", ErrMalformed, i)
	}
	binary.LittleEndian.PutUint32(buf[v.vringsOffs[i]:v.vringsOffs[i]+4], da)
	v.Vrings[i].DA = da
	return nil
}

// WriteStatus patches the VDEV's single-word status field, which per spec
// §5 must be followed by a cacheline flush by the caller since the remote
// may observe it without transport mediation once running.
func (v *Vdev) WriteStatus(buf []byte, status uint32) {
	binary.LittleEndian.PutUint32(buf[v.Offset+24:v.Offset+28], status)
	v.Status = status
}

// RbufPair is a paired ring-buffer vendor resource entry: allocate len
// bytes split in half for rx/tx.
type RbufPair struct {
	Offset uint32
	Len    uint32
	PA     uint32
	DA     uint32
	State  uint32
}

const rbufPairLen = 5 * 4 // type,len,pa,da,state

// RbufPairState values, mirroring the vendor entry's lifecycle.
const (
	RbufStateUninitialized uint32 = 0
	RbufStateInitialized   uint32 = 1
)

// ParseRbufPair decodes an RBUF_PAIR entry.
func ParseRbufPair(buf []byte, offset uint32) (*RbufPair, error) {
	if int(offset)+rbufPairLen > len(buf) {
		return nil, fmt.Errorf("rsctab: %w: RBUF_PAIR entry truncated", ErrMalformed)
	}
	b := buf[offset:]
	return &RbufPair{
		Offset: offset,
		Len:    binary.LittleEndian.Uint32(b[4:8]),
		PA:     binary.LittleEndian.Uint32(b[8:12]),
		DA:     binary.LittleEndian.Uint32(b[12:16]),
		State:  binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// WriteBack patches the PA/DA/state fields after allocation. The caller
// must cache-flush this range afterward (spec §5 cache-coherence note).
func (r *RbufPair) WriteBack(buf []byte, pa, da, state uint32) {
	binary.LittleEndian.PutUint32(buf[r.Offset+8:r.Offset+12], pa)
	binary.LittleEndian.PutUint32(buf[r.Offset+12:r.Offset+16], da)
	binary.LittleEndian.PutUint32(buf[r.Offset+16:r.Offset+20], state)
	r.PA, r.DA, r.State = pa, da, state
}
