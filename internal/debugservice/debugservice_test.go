package debugservice

import (
	"bytes"
	"io"
	"log"
	"testing"
	"time"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
	"github.com/openeuler-mirror/coordinatord/internal/vring"
)

type fakeNotifier struct{}

func (f *fakeNotifier) Notify() error { return nil }

func newLoopbackDevice(t *testing.T) *rpmsg.Device {
	t.Helper()
	const num = 8
	const align = 16
	mem := make([]byte, vring.Size(num, align))
	q, err := vring.New(mem, num, align)
	if err != nil {
		t.Fatalf("vring.New: %v", err)
	}
	bufMem := make([]byte, 16*1024)
	pool := rpmsg.NewBufferPool(bufMem, 1024)
	dev := rpmsg.NewDevice(q, q, pool, &fakeNotifier{})
	dev.SetRunning(true)
	return dev
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestMatchRequiresExactName(t *testing.T) {
	s := New(discardLogger())
	svc := s.RpmsgService(newLoopbackDevice(t))

	if !svc.Match(ServiceName, 1) {
		t.Errorf("Match(%q) = false, want true", ServiceName)
	}
	if svc.Match("rpmsg-debug-extra", 1) {
		t.Error("Match(rpmsg-debug-extra) = true, want false")
	}
	if svc.Match("rpmsg-tty0", 1) {
		t.Error("Match(rpmsg-tty0) = true, want false")
	}
}

func TestBindForwardsRemoteToStub(t *testing.T) {
	dev := newLoopbackDevice(t)
	s := New(discardLogger())
	svc := s.RpmsgService(dev)

	svc.Bind(ServiceName, 777)

	s.mu.Lock()
	var ept *rpmsg.Endpoint
	for e := range s.stubs {
		ept = e
	}
	s.mu.Unlock()
	if ept == nil {
		t.Fatal("expected a bound endpoint after Bind")
	}

	// A real remote sends to this debug endpoint's address; a loopback
	// endpoint addressed at it stands in for that remote peer.
	src := dev.CreateEndpoint("remote-source", ept.Addr, nil, nil, nil)
	if err := dev.Send(src, []byte("hello from rtos")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	dev.DispatchAvailable(nil)

	stub := s.Stub(ept)
	if stub == nil {
		t.Fatal("Stub(ept) returned nil")
	}

	select {
	case got := <-stub.fromRemote:
		if !bytes.Equal(got, []byte("hello from rtos")) {
			t.Errorf("stub received %q, want %q", got, "hello from rtos")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message to reach the stub")
	}
}

func TestStubWriteReachesRemote(t *testing.T) {
	dev := newLoopbackDevice(t)
	s := New(discardLogger())
	svc := s.RpmsgService(dev)

	received := make(chan []byte, 1)
	client := dev.CreateEndpoint("client", rpmsg.AddrAny, func(payload []byte, src uint32) {
		got := make([]byte, len(payload))
		copy(got, payload)
		received <- got
	}, nil, nil)

	svc.Bind(ServiceName, client.Addr)

	s.mu.Lock()
	var ept *rpmsg.Endpoint
	for e := range s.stubs {
		ept = e
	}
	s.mu.Unlock()
	stub := s.Stub(ept)

	if !stub.Write([]byte("hello from server")) {
		t.Fatal("Write returned false")
	}

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		dev.DispatchAvailable(nil)
		select {
		case got := <-received:
			if !bytes.Equal(got, []byte("hello from server")) {
				t.Errorf("client received %q, want %q", got, "hello from server")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for the stub's message to reach the client")
		case <-tick.C:
		}
	}
}

func TestRemoveAllTearsDownStubs(t *testing.T) {
	dev := newLoopbackDevice(t)
	s := New(discardLogger())
	svc := s.RpmsgService(dev)

	svc.Bind(ServiceName, 5)
	s.mu.Lock()
	n := len(s.stubs)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 stub after bind, got %d", n)
	}

	svc.Remove()

	s.mu.Lock()
	n = len(s.stubs)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("expected 0 stubs after Remove, got %d", n)
	}
}
