// Package debugservice implements the debug ring-buffer service: a second
// concrete rpmsg.Service alongside internal/ptyservice, grounded on
// original_source/mica/micad/services/debug/mica_debug_ring_buffer.c. The
// original ferries messages between a POSIX message queue (the "server"
// side, mq_receive/mq_send) and a pair of shared-memory ring buffers mapped
// from a separate /dev/rbuf_dev character device (ring_buffer_read/write) on
// two dedicated threads, data_to_rtos_thread and data_to_server_thread. That
// device and its message-queue peer have no counterpart to wire to here, so
// this port gives the service a minimal real body: the message-queue/RTOS
// side becomes an in-memory Stub, and the two worker threads become one
// pump goroutine per bound endpoint, forwarding Stub writes out over rpmsg
// and rpmsg payloads into the Stub for an attached debug console to read.
package debugservice

import (
	"log"
	"sync"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
)

// ServiceName is the exact name a remote side announces to bind the debug
// channel (unlike the pty service there is exactly one of these per client,
// so there is no wildcard match).
const ServiceName = "rpmsg-debug"

// queueDepth bounds how many undelivered messages either direction holds,
// standing in for the original's fixed-size ring_buffer capacity. Nothing
// blocks on a full queue: Stub.Write reports false and an incoming remote
// payload is dropped.
const queueDepth = 32

// Stub is the in-memory stand-in for the original's message-queue/RTOS
// shared-memory pairing: a debug console (or a test) reads what the remote
// sent via Read, and injects data for the remote via Write, the same
// message-boundary shape as the original's mq_receive/mq_send (one []byte
// per call, not a continuous byte stream).
type Stub struct {
	toRemote   chan []byte // data_to_server_thread's counterpart: queued for delivery to the remote
	fromRemote chan []byte // data_to_rtos_thread's counterpart: arrived from the remote, awaiting a reader
	closed     chan struct{}
	closeOnce  sync.Once
}

func newStub() *Stub {
	return &Stub{
		toRemote:   make(chan []byte, queueDepth),
		fromRemote: make(chan []byte, queueDepth),
		closed:     make(chan struct{}),
	}
}

// Read blocks until a message the remote sent is available, or the stub is
// torn down (ok is false in that case).
func (s *Stub) Read() (data []byte, ok bool) {
	select {
	case data = <-s.fromRemote:
		return data, true
	case <-s.closed:
		return nil, false
	}
}

// Write queues a message for delivery to the remote. Reports false if the
// stub has been torn down or the queue is full (mirroring ring_buffer_write
// returning an error rather than blocking the caller indefinitely).
func (s *Stub) Write(data []byte) bool {
	msg := append([]byte(nil), data...)
	select {
	case s.toRemote <- msg:
		return true
	case <-s.closed:
		return false
	default:
		return false
	}
}

func (s *Stub) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Service implements the debug ring-buffer rpmsg service, one Stub per
// bound client.
type Service struct {
	mu    sync.Mutex
	stubs map[*rpmsg.Endpoint]*Stub
	log   *log.Logger
}

// New constructs a debug Service. logger defaults to log.Default().
func New(logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{stubs: make(map[*rpmsg.Endpoint]*Stub), log: logger}
}

// RpmsgService builds the rpmsg.Service this debug service answers as.
func (s *Service) RpmsgService(dev *rpmsg.Device) *rpmsg.Service {
	return &rpmsg.Service{
		Name: ServiceName,
		Match: func(name string, src uint32) bool {
			return name == ServiceName
		},
		Bind: func(name string, src uint32) {
			s.bind(dev, name, src)
		},
		Remove: func() {
			s.removeAll()
		},
	}
}

// Stub returns the in-memory stub backing ept, or nil if ept isn't bound
// through this service. A debug console attaches here to talk to the
// client.
func (s *Service) Stub(ept *rpmsg.Endpoint) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stubs[ept]
}

func (s *Service) bind(dev *rpmsg.Device, name string, src uint32) {
	stub := newStub()

	var ept *rpmsg.Endpoint
	ept = dev.CreateEndpoint(name, src, func(payload []byte, from uint32) {
		msg := append([]byte(nil), payload...)
		select {
		case stub.fromRemote <- msg:
		default:
			s.log.Printf("debugservice: %s: fromRemote queue full, dropping %d bytes", name, len(msg))
		}
	}, func() {
		s.unbind(ept)
	}, stub)

	s.mu.Lock()
	s.stubs[ept] = stub
	s.mu.Unlock()

	go s.pump(dev, ept, stub, name)

	s.log.Printf("debugservice: %s bound", name)
}

// pump is the Go counterpart of data_to_server_thread: drain whatever the
// stub has queued for the remote and send it over rpmsg.
func (s *Service) pump(dev *rpmsg.Device, ept *rpmsg.Endpoint, stub *Stub, name string) {
	for {
		select {
		case msg := <-stub.toRemote:
			if err := dev.Send(ept, msg); err != nil {
				s.log.Printf("debugservice: send %s: %v", name, err)
				return
			}
		case <-stub.closed:
			return
		}
	}
}

func (s *Service) unbind(ept *rpmsg.Endpoint) {
	s.mu.Lock()
	stub, ok := s.stubs[ept]
	if ok {
		delete(s.stubs, ept)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	stub.close()
}

// removeAll tears down every live stub, mirroring
// free_resources_for_ring_buffer_module running at service teardown.
func (s *Service) removeAll() {
	s.mu.Lock()
	stubs := make([]*Stub, 0, len(s.stubs))
	for ept, stub := range s.stubs {
		stubs = append(stubs, stub)
		delete(s.stubs, ept)
	}
	s.mu.Unlock()
	for _, stub := range stubs {
		stub.close()
	}
}
