package ptyservice

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

func TestMatchAcceptsWildcardNames(t *testing.T) {
	s := New(discardLogger())
	svc := s.RpmsgService(newLoopbackDevice(t))

	for _, name := range []string{"rpmsg-tty", "rpmsg-tty0", "rpmsg-tty12"} {
		if !svc.Match(name, 1) {
			t.Errorf("Match(%q) = false, want true", name)
		}
	}
	if svc.Match("rpmsg-rpc", 1) {
		t.Error("Match(rpmsg-rpc) = true, want false")
	}
}

// TestBindRoundTripsThroughMaster binds a terminal addressed to a client
// endpoint, writes to the pty master as the remote side would via
// terminal.write, and confirms the pty's own echo comes back out through
// the pump goroutine and over rpmsg to the client — end to end, without the
// test ever reading the master fd itself (that's the pump goroutine's job,
// and racing a second reader against it would be nondeterministic).
func TestBindRoundTripsThroughMaster(t *testing.T) {
	dev := newLoopbackDevice(t)
	s := New(discardLogger())
	svc := s.RpmsgService(dev)

	received := make(chan []byte, 1)
	client := dev.CreateEndpoint("client", rpmsg.AddrAny, func(payload []byte, src uint32) {
		got := make([]byte, len(payload))
		copy(got, payload)
		received <- got
	}, nil, nil)

	svc.Bind("rpmsg-tty0", client.Addr)

	s.mu.Lock()
	n := len(s.terminals)
	var term *terminal
	for _, tm := range s.terminals {
		term = tm
	}
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 terminal after bind, got %d", n)
	}

	term.write([]byte("hello\n"), discardLogger(), "rpmsg-tty0")

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		dev.DispatchAvailable(nil)
		select {
		case got := <-received:
			if !bytes.Equal(got, []byte("hello\n")) {
				t.Errorf("client received %q, want %q", got, "hello\n")
			}
			goto done
		case <-deadline:
			t.Fatal("timed out waiting for echoed bytes to reach the client endpoint")
		case <-tick.C:
		}
	}
done:

	s.removeAll()
	s.mu.Lock()
	n = len(s.terminals)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("expected 0 terminals after removeAll, got %d", n)
	}
}
