package rsctab

import (
	"encoding/binary"
	"testing"

	"github.com/openeuler-mirror/coordinatord/internal/shmpool"
)

// buildVdevTable constructs a minimal table with one VDEV entry (2 vrings,
// both DA == AddrAny, num == 8) and returns a buffer sized exactly to the
// table: header, one entry offset, and the VDEV with its two vring
// descriptors.
func buildVdevTable(t *testing.T) []byte {
	t.Helper()
	const vdevOffset = headerFixedLen + 4 // one offset entry
	const vdevLen = vdevFixedLen + 2*vringEntryLen
	buf := make([]byte, vdevOffset+vdevLen)

	binary.LittleEndian.PutUint32(buf[0:4], 1)   // version
	binary.LittleEndian.PutUint32(buf[4:8], 1)   // num_entries
	binary.LittleEndian.PutUint32(buf[12:16], uint32(vdevOffset))

	v := buf[vdevOffset:]
	binary.LittleEndian.PutUint32(v[0:4], TypeVdev)
	binary.LittleEndian.PutUint32(v[28:32], 2) // num_of_vrings

	for i := 0; i < 2; i++ {
		vo := vdevFixedLen + i*vringEntryLen
		binary.LittleEndian.PutUint32(v[vo:vo+4], AddrAny) // da
		binary.LittleEndian.PutUint32(v[vo+8:vo+12], 8)    // num
	}
	return buf
}

func newTestPool(t *testing.T) *shmpool.Pool {
	t.Helper()
	p, err := shmpool.New(shmpool.BackingAnon, -1, 0x1000, 1<<20)
	if err != nil {
		t.Fatalf("shmpool.New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestWalkAllocatesVdevRingsAndBufferPool(t *testing.T) {
	buf := buildVdevTable(t)
	pool := newTestPool(t)

	res, err := Walk(buf, pool, 16)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(res.Vdevs) != 1 {
		t.Fatalf("Vdevs = %d, want 1", len(res.Vdevs))
	}
	vr := res.Vdevs[0]
	if len(vr.RingMem[0]) == 0 || len(vr.RingMem[1]) == 0 {
		t.Error("expected non-empty ring memory for both vrings")
	}
	wantBufLen := 2 * 8 * BufferSlotSize
	if len(vr.BufferMem) != wantBufLen {
		t.Errorf("BufferMem len = %d, want %d", len(vr.BufferMem), wantBufLen)
	}
	if vr.Vdev.Vrings[0].DA == AddrAny || vr.Vdev.Vrings[1].DA == AddrAny {
		t.Error("expected both vring DAs to be patched away from AddrAny")
	}
}

func TestWalkRejectsUnknownNonVendorType(t *testing.T) {
	buf := make([]byte, headerFixedLen+4+8)
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	binary.LittleEndian.PutUint32(buf[12:16], headerFixedLen+4)
	binary.LittleEndian.PutUint32(buf[headerFixedLen+4:headerFixedLen+8], 42) // not a known type, not vendor range

	pool := newTestPool(t)
	if _, err := Walk(buf, pool, 16); err == nil {
		t.Fatal("expected malformed-table error for unknown non-vendor type")
	}
}

func TestWalkSkipsUnknownVendorTypeWithoutError(t *testing.T) {
	buf := make([]byte, headerFixedLen+4+8)
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	binary.LittleEndian.PutUint32(buf[12:16], headerFixedLen+4)
	binary.LittleEndian.PutUint32(buf[headerFixedLen+4:headerFixedLen+8], 200) // vendor range, unrecognized

	pool := newTestPool(t)
	res, err := Walk(buf, pool, 16)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(res.Vdevs) != 0 || len(res.RbufPairs) != 0 {
		t.Errorf("unexpected allocations for unknown vendor type: %+v", res)
	}
}
