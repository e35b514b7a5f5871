package vring

import "testing"

func TestEnqueueAvailThenPopAvailRoundTrip(t *testing.T) {
	mem := make([]byte, Size(8, 16))
	q, err := New(mem, 8, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := q.EnqueueAvail(0x1000, 64, true)
	if err != nil {
		t.Fatalf("EnqueueAvail: %v", err)
	}

	entry, err := q.PopAvail()
	if err != nil {
		t.Fatalf("PopAvail: %v", err)
	}
	if entry.DescID != id || entry.Addr != 0x1000 || entry.Length != 64 || !entry.Writable {
		t.Errorf("got %+v", entry)
	}

	if _, err := q.PopAvail(); err != ErrEmpty {
		t.Errorf("second PopAvail = %v, want ErrEmpty", err)
	}
}

func TestPushUsedThenPopUsedFreesDescriptor(t *testing.T) {
	mem := make([]byte, Size(4, 16))
	q, err := New(mem, 4, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, err := q.EnqueueAvail(0x2000, 32, false)
	if err != nil {
		t.Fatalf("EnqueueAvail: %v", err)
	}
	if _, err := q.PopAvail(); err != nil {
		t.Fatalf("PopAvail: %v", err)
	}
	q.PushUsed(id, 16)

	elem, err := q.PopUsed()
	if err != nil {
		t.Fatalf("PopUsed: %v", err)
	}
	if elem.DescID != id || elem.Length != 16 {
		t.Errorf("got %+v", elem)
	}
	if q.freeCount != 4 {
		t.Errorf("freeCount = %d, want all 4 descriptors back", q.freeCount)
	}
}

func TestEnqueueAvailExhaustion(t *testing.T) {
	mem := make([]byte, Size(2, 16))
	q, err := New(mem, 2, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := q.EnqueueAvail(1, 1, false); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.EnqueueAvail(2, 1, false); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if _, err := q.EnqueueAvail(3, 1, false); err != ErrNoDescriptors {
		t.Errorf("got %v, want ErrNoDescriptors", err)
	}
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := New(make([]byte, 4096), 3, 16); err != ErrInvalidLength {
		t.Errorf("got %v, want ErrInvalidLength", err)
	}
}
