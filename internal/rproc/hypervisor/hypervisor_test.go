package hypervisor

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/openeuler-mirror/coordinatord/internal/rproc"
)

type fakeRunner struct {
	calls [][]string
	fail  bool
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail {
		return os.ErrInvalid
	}
	return nil
}

func newTestBackend(t *testing.T, runner *fakeRunner) (*Backend, *bytes.Buffer) {
	t.Helper()
	var doorbell bytes.Buffer
	b := New(Options{
		CellName: "client-os-1",
		Doorbell: &doorbell,
		Run:      runner.run,
	})
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	memFile, err := os.CreateTemp(t.TempDir(), "shm")
	if err != nil {
		t.Fatal(err)
	}
	if err := memFile.Truncate(1 << 20); err != nil {
		t.Fatal(err)
	}
	b.shmemFD = int(memFile.Fd())
	if err := b.Configure(rproc.BootConfig{StaticMemBase: 0x1000, StaticMemSize: 1 << 20}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return b, &doorbell
}

func TestStartRunsJailhouseCellStart(t *testing.T) {
	runner := &fakeRunner{}
	b, _ := newTestBackend(t, runner)
	defer b.pool.Close()

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "jailhouse" || runner.calls[0][2] != "start" {
		t.Errorf("unexpected calls: %+v", runner.calls)
	}
}

func TestShutdownRunsJailhouseCellShutdownAndClosesPool(t *testing.T) {
	runner := &fakeRunner{}
	b, _ := newTestBackend(t, runner)

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if b.pool != nil {
		t.Error("pool should be nil after Shutdown")
	}
	found := false
	for _, c := range runner.calls {
		if len(c) >= 3 && c[2] == "shutdown" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a jailhouse cell shutdown call, got %+v", runner.calls)
	}
}

func TestNotifyWritesDoorbellByte(t *testing.T) {
	runner := &fakeRunner{}
	b, doorbell := newTestBackend(t, runner)
	defer b.pool.Close()

	if err := b.Notify(0); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if doorbell.Len() != 1 {
		t.Errorf("doorbell buffer len = %d, want 1", doorbell.Len())
	}
}

func TestStopIsNotSupported(t *testing.T) {
	b := New(Options{CellName: "x", Run: (&fakeRunner{}).run})
	if err := b.Stop(); err != rproc.ErrNotSupported {
		t.Errorf("got %v, want ErrNotSupported", err)
	}
}
