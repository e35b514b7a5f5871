package baremetal

import (
	"testing"

	"github.com/openeuler-mirror/coordinatord/internal/mcsdev"
	"github.com/openeuler-mirror/coordinatord/internal/rproc"
	"github.com/openeuler-mirror/coordinatord/internal/rsctab"
)

func TestStartPowersOnConfiguredCPU(t *testing.T) {
	dev := mcsdev.NewFake(3)
	b := New(Options{Dev: dev})
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Configure(rproc.BootConfig{CPU: 3, BootAddr: 0x80000000, StaticMemBase: 0x40000000, StaticMemSize: 1 << 20}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer b.Remove()

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if dev.PoweredOn[3] != 0x80000000 {
		t.Errorf("PoweredOn[3] = %#x, want %#x", dev.PoweredOn[3], uint64(0x80000000))
	}
}

func TestStopIsNotSupported(t *testing.T) {
	b := New(Options{Dev: mcsdev.NewFake()})
	if err := b.Stop(); err != rproc.ErrNotSupported {
		t.Errorf("got %v, want ErrNotSupported", err)
	}
}

func TestNotifySendsIPIToConfiguredCPU(t *testing.T) {
	dev := mcsdev.NewFake(5)
	b := New(Options{Dev: dev})
	b.Init()
	b.Configure(rproc.BootConfig{CPU: 5, BootAddr: 0x1000, StaticMemBase: 0x2000, StaticMemSize: 4096})
	defer b.Remove()

	if err := b.Notify(0); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if dev.IPIs[5] != 1 {
		t.Errorf("IPIs[5] = %d, want 1", dev.IPIs[5])
	}
}

func TestHandleVendorResourceEptTableInvokesCallback(t *testing.T) {
	buf := make([]byte, 8+2*40)
	// num_of_epts = 1
	buf[4] = 1
	copy(buf[8:8+32], []byte("svc"))
	// addr (nonzero, pre-bound)
	buf[8+32] = 7

	var got []rsctab.PendingEndpoint
	b := New(Options{
		Dev:        mcsdev.NewFake(),
		OnEptTable: func(bound []rsctab.PendingEndpoint) { got = bound },
	})

	if err := b.HandleVendorResource(rsctab.TypeVendorEptTable, buf); err != nil {
		t.Fatalf("HandleVendorResource: %v", err)
	}
	if len(got) != 1 || got[0].Name != "svc" || got[0].Addr != 7 {
		t.Errorf("got %+v", got)
	}
}

func TestHandleVendorResourceUnknownTypeErrors(t *testing.T) {
	b := New(Options{Dev: mcsdev.NewFake()})
	if err := b.HandleVendorResource(200, nil); err == nil {
		t.Fatal("expected error for unknown vendor resource type")
	}
}
