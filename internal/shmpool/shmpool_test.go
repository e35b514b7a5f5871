package shmpool

import "testing"

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := New(BackingAnon, -1, 0x1000, 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocAdvancesCursorAndStaysInRange(t *testing.T) {
	p := newTestPool(t)

	a, err := p.Alloc(256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != p.VirtBase() {
		t.Errorf("first alloc = %#x, want pool base %#x", a, p.VirtBase())
	}

	b, err := p.Alloc(256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b != a+256 {
		t.Errorf("second alloc = %#x, want %#x", b, a+256)
	}
}

func TestAllocFailsWhenExhaustedAndCursorUnchanged(t *testing.T) {
	p := newTestPool(t)

	if _, err := p.Alloc(4000); err != nil {
		t.Fatalf("Alloc(4000): %v", err)
	}
	before := p.unusedHigh

	if _, err := p.Alloc(200); err == nil {
		t.Fatal("expected exhaustion error")
	} else if err != ErrExhausted {
		t.Errorf("got %v, want ErrExhausted", err)
	}

	if p.unusedHigh != before {
		t.Errorf("cursor moved on failed alloc: %#x -> %#x", before, p.unusedHigh)
	}
}

func TestPhysVirtRoundTrip(t *testing.T) {
	p := newTestPool(t)

	phys := p.PhysBase() + 100
	virt, err := p.PhysToVirt(phys)
	if err != nil {
		t.Fatalf("PhysToVirt: %v", err)
	}
	back, err := p.VirtToPhys(virt)
	if err != nil {
		t.Fatalf("VirtToPhys: %v", err)
	}
	if back != phys {
		t.Errorf("round trip: got %#x, want %#x", back, phys)
	}
}

func TestPhysToVirtOutOfRange(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.PhysToVirt(p.PhysBase() + p.Size() + 1); err != ErrOutOfRange {
		t.Errorf("got %v, want ErrOutOfRange", err)
	}
}

func TestAllocAtRejectsOverlap(t *testing.T) {
	p := newTestPool(t)

	if _, err := p.AllocAt(p.PhysBase()+16, 64); err != nil {
		t.Fatalf("AllocAt: %v", err)
	}
	if _, err := p.AllocAt(p.PhysBase()+32, 64); err != ErrRegionTaken {
		t.Errorf("got %v, want ErrRegionTaken", err)
	}
	if _, err := p.AllocAt(p.PhysBase()+1000, p.Size()); err != ErrOutOfRange {
		t.Errorf("got %v, want ErrOutOfRange for region exceeding pool", err)
	}
}
