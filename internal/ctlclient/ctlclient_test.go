package ctlclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/openeuler-mirror/coordinatord/internal/controlplane"
)

type fakeCoordinator struct {
	mu      sync.Mutex
	created map[string]uint32
	started map[string]bool
	stopped map[string]bool
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		created: make(map[string]uint32),
		started: make(map[string]bool),
		stopped: make(map[string]bool),
	}
}

func (f *fakeCoordinator) Create(name string, cpu uint32, firmwarePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[name] = cpu
	return nil
}

func (f *fakeCoordinator) Start(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started[name] = true
	return nil
}

func (f *fakeCoordinator) Stop(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[name] = true
	return nil
}

func (f *fakeCoordinator) Status(name string) (string, error) {
	return fmt.Sprintf("%s running", name), nil
}

func startTestServer(t *testing.T) (*controlplane.Server, *fakeCoordinator, string) {
	t.Helper()
	dir := t.TempDir()
	coord := newFakeCoordinator()
	s := controlplane.New(dir, coord, log.New(io.Discard, "", 0))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, coord, dir
}

func TestClientCreateStartStopStatus(t *testing.T) {
	_, coord, dir := startTestServer(t)

	fw := filepath.Join(dir, "firmware.bin")
	if err := os.WriteFile(fw, []byte("stub"), 0644); err != nil {
		t.Fatalf("write firmware: %v", err)
	}

	cl := New(dir)
	ctx := context.Background()

	if err := cl.Create(ctx, CreateRequest{CPU: 2, Name: "client-x", FirmwarePath: fw}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := cl.Start(ctx, "client-x"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	status, err := cl.Status(ctx, "client-x")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != "client-x running" {
		t.Errorf("Status = %q, want %q", status, "client-x running")
	}

	if err := cl.Stop(ctx, "client-x"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	coord.mu.Lock()
	defer coord.mu.Unlock()
	if coord.created["client-x"] != 2 {
		t.Errorf("created[client-x] = %d, want 2", coord.created["client-x"])
	}
	if !coord.started["client-x"] {
		t.Error("expected client-x to be started")
	}
	if !coord.stopped["client-x"] {
		t.Error("expected client-x to be stopped")
	}
}

func TestClientCreateMissingFirmware(t *testing.T) {
	_, _, dir := startTestServer(t)

	cl := New(dir)
	err := cl.Create(context.Background(), CreateRequest{
		CPU:          1,
		Name:         "client-y",
		FirmwarePath: filepath.Join(dir, "does-not-exist"),
	})
	if err == nil {
		t.Fatal("expected an error for missing firmware")
	}
}
