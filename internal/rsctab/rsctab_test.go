package rsctab

import (
	"errors"
	"testing"
)

func newEptTableBuffer(t *testing.T) ([]byte, uint32) {
	t.Helper()
	const offset = 16
	size := eptTableFixedLen + MaxNumOfEpts*eptInfoLen
	buf := make([]byte, int(offset)+size)
	return buf, offset
}

func TestEncodeDecodeEPTTableRoundTrip(t *testing.T) {
	buf, offset := newEptTableBuffer(t)

	bound := []Binding{
		{Name: "rpmsg-tty0", Addr: 1024, DestAddr: 42},
		{Name: "rpmsg-rpc", Addr: 1025, DestAddr: 43},
	}
	if err := EncodeEPTTable(buf, offset, bound); err != nil {
		t.Fatalf("EncodeEPTTable: %v", err)
	}

	entries, err := ParseEptTable(buf, offset)
	if err != nil {
		t.Fatalf("ParseEptTable: %v", err)
	}
	if len(entries) != len(bound) {
		t.Fatalf("got %d entries, want %d", len(entries), len(bound))
	}
	for i, e := range entries {
		want := bound[i]
		if e.Name != want.Name {
			t.Errorf("entry %d name = %q, want %q", i, e.Name, want.Name)
		}
		// The table stores the swapped pair: Addr <- host DestAddr, DestAddr <- host Addr.
		if e.Addr != want.DestAddr || e.DestAddr != want.Addr {
			t.Errorf("entry %d = (addr=%d,dest=%d), want swapped (addr=%d,dest=%d)",
				i, e.Addr, e.DestAddr, want.DestAddr, want.Addr)
		}
	}
}

func TestEncodeEPTTableSkipsUnboundEndpoints(t *testing.T) {
	buf, offset := newEptTableBuffer(t)
	bound := []Binding{
		{Name: "half-open", Addr: 10, DestAddr: AddrAny},
		{Name: "bound", Addr: 11, DestAddr: 99},
	}
	if err := EncodeEPTTable(buf, offset, bound); err != nil {
		t.Fatalf("EncodeEPTTable: %v", err)
	}
	entries, err := ParseEptTable(buf, offset)
	if err != nil {
		t.Fatalf("ParseEptTable: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "bound" {
		t.Fatalf("got %+v, want exactly the bound endpoint", entries)
	}
}

func TestEncodeEPTTableOverflow(t *testing.T) {
	buf, offset := newEptTableBuffer(t)
	var bound []Binding
	for i := 0; i < MaxNumOfEpts+1; i++ {
		bound = append(bound, Binding{Name: "x", Addr: uint32(i + 1), DestAddr: uint32(i + 1000)})
	}
	if err := EncodeEPTTable(buf, offset, bound); err != ErrNoSpace {
		t.Errorf("got %v, want ErrNoSpace", err)
	}
}

func TestPreBoundEndpointsExtractsNonzeroAddr(t *testing.T) {
	buf, offset := newEptTableBuffer(t)
	bound := []Binding{
		{Name: "restored", Addr: 5, DestAddr: 77},
	}
	if err := EncodeEPTTable(buf, offset, bound); err != nil {
		t.Fatalf("EncodeEPTTable: %v", err)
	}
	pending, err := PreBoundEndpoints(buf, offset)
	if err != nil {
		t.Fatalf("PreBoundEndpoints: %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "restored" {
		t.Fatalf("got %+v", pending)
	}
}

func TestParseHeaderRejectsTruncatedOffsets(t *testing.T) {
	buf := make([]byte, 12)
	buf[4] = 3 // num_entries = 3, but no offset bytes follow
	if _, err := ParseHeader(buf); !errors.Is(err, ErrMalformed) {
		t.Errorf("got %v, want ErrMalformed", err)
	}
}

func TestFindLocatesNthEntryOfType(t *testing.T) {
	// two entries: type 3 at offset 12, type 5 at offset 20
	buf := make([]byte, 40)
	h := Header{NumEntries: 2, Offsets: []uint32{12, 20}}
	putU32(buf, 12, 3)
	putU32(buf, 20, 5)

	off, err := Find(buf, h, 5, 0)
	if err != nil || off != 20 {
		t.Fatalf("Find(5,0) = %d,%v", off, err)
	}
	if _, err := Find(buf, h, 99, 0); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func putU32(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}
