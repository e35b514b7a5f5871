package imgload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"
)

// buildMiniELF assembles a minimal little-endian 64-bit ELF with a single
// PT_LOAD program header, enough for debug/elf to parse successfully.
func buildMiniELF(t *testing.T, paddr uint64, payload []byte, memsz uint64) []byte {
	t.Helper()

	const ehsize = 64
	const phsize = 56
	dataOff := uint64(ehsize + phsize)

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 1 /*ELFCLASS64*/, 1 /*ELFDATA2LSB*/, 1 /*EV_CURRENT*/}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_AARCH64))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.EV_CURRENT))
	binary.Write(&buf, binary.LittleEndian, uint64(paddr)) // e_entry == segment paddr
	binary.Write(&buf, binary.LittleEndian, uint64(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))

	binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, uint32(5)) // p_flags: R+X
	binary.Write(&buf, binary.LittleEndian, dataOff)    // p_offset
	binary.Write(&buf, binary.LittleEndian, uint64(0))  // p_vaddr
	binary.Write(&buf, binary.LittleEndian, paddr)       // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload))) // p_filesz
	binary.Write(&buf, binary.LittleEndian, memsz)       // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(8))   // p_align

	buf.Write(payload)
	return buf.Bytes()
}

func TestParseELFComputesRelocatedDestAndEntry(t *testing.T) {
	payload := []byte("firmware-bytes!!")
	const segPaddr = 0x40000000
	const loadBase = 0x80000000

	data := buildMiniELF(t, segPaddr, payload, uint64(len(payload)))

	img, err := ParseELF(data, loadBase)
	if err != nil {
		t.Fatalf("ParseELF: %v", err)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.DestPhys != loadBase {
		t.Errorf("DestPhys = %#x, want %#x", seg.DestPhys, uint64(loadBase))
	}
	if !bytes.Equal(seg.Data, payload) {
		t.Errorf("segment data = %q, want %q", seg.Data, payload)
	}
	if img.Entry != loadBase {
		t.Errorf("Entry = %#x, want %#x (entry == first segment paddr)", img.Entry, uint64(loadBase))
	}
	if img.RawBlob {
		t.Error("RawBlob should be false for a parsed ELF image")
	}
}

func TestParseELFZeroExtendsMemSize(t *testing.T) {
	payload := []byte("short")
	data := buildMiniELF(t, 0x1000, payload, 64)

	img, err := ParseELF(data, 0)
	if err != nil {
		t.Fatalf("ParseELF: %v", err)
	}
	if img.Segments[0].MemSize != 64 {
		t.Errorf("MemSize = %d, want 64", img.Segments[0].MemSize)
	}
}

func TestParseELFRejectsBadMagic(t *testing.T) {
	data := []byte("not an elf at all, just junk bytes")
	_, err := ParseELF(data, 0)
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
}

func TestLoadFallsBackToRawBlobOnBadMagic(t *testing.T) {
	data := []byte("raw firmware blob, no ELF header here")
	img, err := Load(data, 0x9000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !img.RawBlob {
		t.Fatal("expected RawBlob fallback")
	}
	if img.Entry != 0x9000 {
		t.Errorf("Entry = %#x, want %#x", img.Entry, uint64(0x9000))
	}
	if len(img.Segments) != 1 || !bytes.Equal(img.Segments[0].Data, data) {
		t.Errorf("unexpected raw-blob segment: %+v", img.Segments)
	}
}

func TestLoadPropagatesStructuralELFErrors(t *testing.T) {
	data := buildMiniELF(t, 0x1000, []byte("x"), 0) // memsz < filesz
	_, err := Load(data, 0)
	if err == nil {
		t.Fatal("expected error for memsz < filesz")
	}
	if errors.Is(err, ErrBadMagic) {
		t.Fatal("structural errors must not be mistaken for bad magic")
	}
}

func TestPlaceCopiesAndZeroExtends(t *testing.T) {
	img := &Image{Segments: []Segment{
		{DestPhys: 0x2000, Data: []byte("abc"), MemSize: 8},
	}}

	var placedAt uint64
	var placedSize int
	backing := make([]byte, 8)
	for i := range backing {
		backing[i] = 0xff
	}

	err := Place(img, func(destPhys uint64, size int) ([]byte, error) {
		placedAt, placedSize = destPhys, size
		return backing, nil
	})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if placedAt != 0x2000 || placedSize != 8 {
		t.Errorf("place called with (%#x, %d), want (0x2000, 8)", placedAt, placedSize)
	}
	want := []byte{'a', 'b', 'c', 0, 0, 0, 0, 0}
	if !bytes.Equal(backing, want) {
		t.Errorf("backing = %v, want %v", backing, want)
	}
}

func TestRawBlobEntryEqualsLoadBase(t *testing.T) {
	img := RawBlob([]byte{1, 2, 3}, 0x1234)
	if img.Entry != 0x1234 || img.Segments[0].DestPhys != 0x1234 {
		t.Errorf("unexpected raw blob image: %+v", img)
	}
}
