package rpcserver

import (
	"encoding/binary"
	"io"
	"log"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
	"github.com/openeuler-mirror/coordinatord/internal/vring"
)

type fakeNotifier struct{ calls int }

func (f *fakeNotifier) Notify() error { f.calls++; return nil }

// newLoopbackDevice mirrors internal/rpmsg's own test helper: tx and rx
// share one vring.Queue so a Send() is immediately visible to
// DispatchAvailable().
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

func frame(id FuncID, traceID uint32, rest []byte) []byte {
	out := make([]byte, idLen+requestHeaderLen+len(rest))
	binary.LittleEndian.PutUint64(out[0:idLen], uint64(id))
	binary.LittleEndian.PutUint32(out[idLen:idLen+requestHeaderLen], traceID)
	copy(out[idLen+requestHeaderLen:], rest)
	return out
}

func decodeReply(t *testing.T, data []byte) (replyEnvelope, []byte) {
	t.Helper()
	if len(data) < replyEnvelopeLen {
		t.Fatalf("reply shorter than envelope: %d bytes", len(data))
	}
	env := replyEnvelope{
		FuncID:  binary.LittleEndian.Uint32(data[0:4]),
		Status:  int32(binary.LittleEndian.Uint32(data[4:8])),
		TraceID: binary.LittleEndian.Uint32(data[8:12]),
		Errno:   int32(binary.LittleEndian.Uint32(data[12:16])),
	}
	return env, data[replyEnvelopeLen:]
}

// driveRequest exercises the dispatcher exactly as its endpoint callback
// would: an endpoint bound back to the client's receiving address stands
// in for the one Service()/Bind creates internally.
func driveRequest(t *testing.T, d *Dispatcher, dev *rpmsg.Device, req []byte) replyEnvelope {
	t.Helper()
	var replyPayload []byte
	client := dev.CreateEndpoint("client", rpmsg.AddrAny, func(payload []byte, src uint32) {
		replyPayload = append([]byte(nil), payload...)
	}, nil, nil)
	replyTo := dev.CreateEndpoint("dispatcher-side", client.Addr, nil, nil, nil)

	d.handle(replyTo, req)
	dev.DispatchAvailable(nil)

	env, _ := decodeReply(t, replyPayload)
	return env
}

func driveRequestBody(t *testing.T, d *Dispatcher, dev *rpmsg.Device, req []byte) (replyEnvelope, []byte) {
	t.Helper()
	var replyPayload []byte
	client := dev.CreateEndpoint("client", rpmsg.AddrAny, func(payload []byte, src uint32) {
		replyPayload = append([]byte(nil), payload...)
	}, nil, nil)
	replyTo := dev.CreateEndpoint("dispatcher-side", client.Addr, nil, nil, nil)

	d.handle(replyTo, req)
	dev.DispatchAvailable(nil)

	return decodeReply(t, replyPayload)
}

func TestServiceMatchesOwnName(t *testing.T) {
	dev := newLoopbackDevice(t)
	d := New(dev, Options{})
	svc := d.Service()
	if !svc.Match(ServiceName, 1) {
		t.Errorf("Match(%q) = false, want true", ServiceName)
	}
	if svc.Match("other", 1) {
		t.Errorf("Match(%q) = true, want false", "other")
	}
}

func TestUnknownFuncIDRepliesInvalidID(t *testing.T) {
	dev := newLoopbackDevice(t)
	d := New(dev, Options{})

	env := driveRequest(t, d, dev, frame(FuncID(9999), 42, nil))
	if Status(env.Status) != StatusInvalidID {
		t.Errorf("status = %d, want StatusInvalidID", env.Status)
	}
	if env.TraceID != 42 {
		t.Errorf("trace id = %d, want 42", env.TraceID)
	}
}

func TestOverlongFrameRejected(t *testing.T) {
	dev := newLoopbackDevice(t)
	d := New(dev, Options{MaxSize: 16})

	env := driveRequest(t, d, dev, frame(FuncClose, 1, make([]byte, 64)))
	if Status(env.Status) != StatusOverlong {
		t.Errorf("status = %d, want StatusOverlong", env.Status)
	}
}

func TestPipeRoundTrip(t *testing.T) {
	dev := newLoopbackDevice(t)
	d := New(dev, Options{})

	env, body := driveRequestBody(t, d, dev, frame(FuncPipe, 7, nil))
	if Status(env.Status) != StatusOK {
		t.Fatalf("status = %d, want StatusOK (errno %d)", env.Status, env.Errno)
	}
	if env.TraceID != 7 {
		t.Errorf("trace id = %d, want 7", env.TraceID)
	}
	if len(body) != 8 {
		t.Fatalf("pipe reply body = %d bytes, want 8", len(body))
	}
	r := int32(binary.LittleEndian.Uint32(body[0:4]))
	w := int32(binary.LittleEndian.Uint32(body[4:8]))
	if r < 0 || w < 0 {
		t.Fatalf("pipe fds = (%d, %d), want both >= 0", r, w)
	}
	unix.Close(int(r))
	unix.Close(int(w))
}

func TestGetcwdRoundTrip(t *testing.T) {
	dev := newLoopbackDevice(t)
	d := New(dev, Options{})

	env, body := driveRequestBody(t, d, dev, frame(FuncGetcwd, 3, nil))
	if Status(env.Status) != StatusOK {
		t.Fatalf("status = %d, want StatusOK (errno %d)", env.Status, env.Errno)
	}
	if len(body) != maxPathLen {
		t.Fatalf("getcwd reply body = %d bytes, want %d", len(body), maxPathLen)
	}
}

func TestWorkerModeEnqueueAndNoMemoryWhenQueueFull(t *testing.T) {
	p := newWorkerPool(1, 1)
	defer p.stop()

	block := make(chan struct{})
	started := make(chan struct{})
	if !p.enqueue(func() {
		close(started)
		<-block
	}) {
		t.Fatal("first enqueue should succeed")
	}
	<-started

	if !p.enqueue(func() {}) {
		t.Fatal("second enqueue should succeed: one job running, queue depth 1 still free")
	}
	if p.enqueue(func() {}) {
		t.Fatal("third enqueue should fail: running job plus a full depth-1 queue")
	}
	close(block)
}

func TestDispatcherWorkerModeRepliesAsynchronously(t *testing.T) {
	dev := newLoopbackDevice(t)
	d := New(dev, Options{Mode: ModeWorker, Workers: 1, QueueDepth: 4})

	var replyPayload []byte
	client := dev.CreateEndpoint("client", rpmsg.AddrAny, func(payload []byte, src uint32) {
		replyPayload = append([]byte(nil), payload...)
	}, nil, nil)
	replyTo := dev.CreateEndpoint("dispatcher-side", client.Addr, nil, nil, nil)

	d.handle(replyTo, frame(FuncGetcwd, 11, nil))
	// Stop() joins every worker goroutine, which is also how a real
	// shutdown guarantees the reply for an in-flight request has already
	// been posted before the device itself is torn down.
	d.Stop()
	dev.DispatchAvailable(nil)

	env, _ := decodeReply(t, replyPayload)
	if Status(env.Status) != StatusOK {
		t.Fatalf("status = %d, want StatusOK", env.Status)
	}
	if env.TraceID != 11 {
		t.Errorf("trace id = %d, want 11", env.TraceID)
	}
}

func TestStdioSentinelHandlesShareLogFixture(t *testing.T) {
	tbl := newStdioTable(discardLogger())
	defer tbl.sentinel.f.Close()

	for h := uint64(stdioBase); h < stdioBase+3; h++ {
		fs := tbl.resolve(h)
		if fs != tbl.sentinel {
			t.Errorf("handle %d did not resolve to the shared sentinel", h)
		}
	}
	if released := tbl.release(stdioBase); released != nil {
		t.Errorf("releasing a sentinel handle should be a no-op, got %v", released)
	}
}

func TestStdioTrackedHandleIsReleasedOnce(t *testing.T) {
	tbl := newStdioTable(discardLogger())
	defer tbl.sentinel.f.Close()

	h := tbl.track(tbl.sentinel.f)
	if tbl.resolve(h) == nil {
		t.Fatalf("tracked handle %d did not resolve", h)
	}
	if tbl.release(h) == nil {
		t.Fatalf("release of a real handle should return its fileState")
	}
	if tbl.resolve(h) != nil {
		t.Errorf("handle %d still resolves after release", h)
	}
}
