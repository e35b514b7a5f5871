// Package rpcserver implements the RPC-server dispatcher (spec §4.10,
// component K): a registered rpmsg.Service named "rpmsg-rpc" whose callback
// treats every incoming message as (u64 function_id, packed_args), looks up
// a handler in a static function-ID table, and replies with a trace_id/errno
// envelope. Grounded on
// original_source/mica/micad/services/rpc/rpc_backend.c (service table
// shape, DEFINE_VARS reply-envelope pattern, rpmsg_rpc_server_cb's overlong
// check and MULTI_WORKERS branch, set_rsp_base's trace_id/errno capture,
// handle2file's STDFILE_BASE sentinel mapping) and the teacher's
// internal/harness/rpc.go for the Go dispatch-loop shape (the JSON-RPC
// envelope itself is not reused — the wire format here is the spec's binary
// function-ID frame).
package rpcserver

import (
	"encoding/binary"
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
)

// ServiceName is the fixed rpmsg service/endpoint name this dispatcher binds
// (spec §4.10 "creates an endpoint named rpmsg-rpc").
const ServiceName = "rpmsg-rpc"

// idLen is the width of the leading function-id field, matching the
// original's `*(unsigned long *)data` read on a 64-bit host.
const idLen = 8

// FuncID identifies one remote procedure in the static dispatch table.
type FuncID uint32

// Status is the outcome the reply envelope carries, independent of the
// handler's own captured errno (spec §4.10 "status overlong/invalid-id",
// §7 "every error produces a reply that echoes the function ID and carries
// the status").
type Status int32

const (
	StatusOK Status = iota
	StatusInvalidID
	StatusOverlong
	StatusNoMemory
)

// The function-ID table (spec §4.10 "the function-ID table covers: ...").
// Every id the spec names gets a slot, and New registers a handler for
// each: the POSIX file/socket surface (posix.go, with the name-resolution
// and interface-list ids in dns.go), the buffered-stdio surface
// (stdio.go), and a small log sink for printf/putchar.
const (
	FuncOpen FuncID = iota + 1
	FuncClose
	FuncRead
	FuncWrite
	FuncLseek
	FuncFcntl
	FuncIoctl
	FuncUnlink
	FuncGetdents64

	FuncStat
	FuncFstat
	FuncLstat
	FuncReadlink
	FuncAccess
	FuncChmod
	FuncChdir
	FuncMkdir
	FuncRmdir
	FuncRename
	FuncRemove
	FuncMkstemp
	FuncMkfifo
	FuncDup2
	FuncPipe
	FuncGetcwd

	FuncFopen
	FuncFclose
	FuncFread
	FuncFwrite
	FuncFreopen
	FuncFputs
	FuncFgets
	FuncFeof
	FuncFprintf
	FuncGetc
	FuncFerror
	FuncGetcUnlocked
	FuncPclose
	FuncTmpfile
	FuncClearerr
	FuncPopen
	FuncUngetc
	FuncFseeko
	FuncFtello
	FuncFseek
	FuncFtell
	FuncFflush
	FuncGetwc
	FuncPutwc
	FuncPutc
	FuncUngetwc
	FuncFdopen
	FuncFileno
	FuncSetvbuf
	FuncFscanfx

	FuncSocket
	FuncBind
	FuncConnect
	FuncListen
	FuncAccept
	FuncAccept4
	FuncSend
	FuncSendto
	FuncRecv
	FuncRecvfrom
	FuncShutdown
	FuncSetsockopt
	FuncGetsockopt
	FuncGetpeername
	FuncGetsockname
	FuncGethostname
	FuncGethostbyaddr
	FuncGethostbyname
	FuncFreeaddrinfo
	FuncGetaddrinfo
	FuncGaistrerror
	FuncIfnameindex
	FuncSelect
	FuncPoll
	FuncWritev

	FuncPrintf
	FuncPutchar
)

// HandlerFunc implements one function-id's host-kernel operation (spec
// §4.10 "handler contract"): decode the request, call the corresponding
// host operation, and return the reply body plus the errno to report.
// traceID is echoed back from the request verbatim. A non-nil err aborts
// the reply entirely (a transport-level failure, logged and dropped — spec
// §7 "the client thus distinguishes transport failure... from logical
// failure").
type HandlerFunc func(traceID uint32, body []byte, ept *rpmsg.Endpoint) (respBody []byte, errno int32, err error)

// Mode selects how handlers run relative to the receive loop (spec §4.10
// "concurrency mode").
type Mode int

const (
	// ModeInline runs every handler synchronously on the receive loop.
	ModeInline Mode = iota
	// ModeWorker dispatches to the bounded worker pool (see workerpool.go).
	ModeWorker
)

// Dispatcher owns the static function table and replies to incoming RPC
// frames over one client's "rpmsg-rpc" endpoint. One Dispatcher serves
// exactly one client's rpmsg device.
type Dispatcher struct {
	dev     *rpmsg.Device
	table   map[FuncID]HandlerFunc
	maxSize int

	mode Mode
	pool *workerPool

	stdio *stdioTable
	log   *log.Logger
}

// Options configures a Dispatcher at construction.
type Options struct {
	// Mode selects inline vs worker-pool dispatch.
	Mode Mode
	// Workers and QueueDepth size the worker pool; ignored in ModeInline.
	Workers    int
	QueueDepth int
	// MaxSize bounds an incoming frame before it's rejected as overlong;
	// callers pass the owning rpmsg device's buffer-pool payload cap.
	MaxSize int
	// Log receives per-call trace lines; defaults to log.Default() like
	// the rest of this module's ambient logging.
	Log *log.Logger
}

// New builds a Dispatcher bound to dev, with the full POSIX/stdio/printf
// handler set wired in (see posix.go, stdio.go).
func New(dev *rpmsg.Device, opts Options) *Dispatcher {
	logger := opts.Log
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		dev:     dev,
		table:   make(map[FuncID]HandlerFunc),
		maxSize: opts.MaxSize,
		mode:    opts.Mode,
		stdio:   newStdioTable(logger),
		log:     logger,
	}
	registerPosixHandlers(d)
	registerStdioHandlers(d)
	registerPrintHandlers(d)
	if opts.Mode == ModeWorker {
		workers := opts.Workers
		if workers <= 0 {
			workers = 4
		}
		depth := opts.QueueDepth
		if depth <= 0 {
			depth = 64
		}
		d.pool = newWorkerPool(workers, depth)
	}
	return d
}

// register adds or overwrites the handler for id.
func (d *Dispatcher) register(id FuncID, fn HandlerFunc) {
	d.table[id] = fn
}

// Service builds the rpmsg.Service this dispatcher answers as, binding
// ServiceName to a single endpoint at Bind time (spec §4.10 "on bind,
// creates an endpoint named rpmsg-rpc").
func (d *Dispatcher) Service() *rpmsg.Service {
	svc := &rpmsg.Service{Name: ServiceName}
	svc.Match = func(name string, src uint32) bool { return name == ServiceName }
	svc.Bind = func(name string, src uint32) {
		var ept *rpmsg.Endpoint
		ept = d.dev.CreateEndpoint(ServiceName, src, func(payload []byte, from uint32) {
			d.handle(ept, payload)
		}, nil, nil)
	}
	return svc
}

// Stop removes the worker pool, joining every in-flight worker goroutine
// (spec §5 "worker threads are joined; the queue is drained" on stop).
func (d *Dispatcher) Stop() {
	if d.pool != nil {
		d.pool.stop()
	}
}

// decodeFrame reads the leading 8-byte function id and returns the
// remaining bytes as the request body.
func decodeFrame(data []byte) (FuncID, []byte, error) {
	if len(data) < idLen {
		return 0, nil, fmt.Errorf("rpcserver: frame shorter than function id field")
	}
	return FuncID(binary.LittleEndian.Uint64(data[0:idLen])), data[idLen:], nil
}

// replyEnvelope is the fixed header every reply carries ahead of the
// handler's own response body (spec §4.10 "a reply struct including a
// trace_id echoed from the request and the captured errno").
type replyEnvelope struct {
	FuncID  uint32
	Status  int32
	TraceID uint32
	Errno   int32
}

const replyEnvelopeLen = 16

func encodeReply(env replyEnvelope, body []byte) []byte {
	out := make([]byte, replyEnvelopeLen+len(body))
	binary.LittleEndian.PutUint32(out[0:4], env.FuncID)
	binary.LittleEndian.PutUint32(out[4:8], uint32(env.Status))
	binary.LittleEndian.PutUint32(out[8:12], env.TraceID)
	binary.LittleEndian.PutUint32(out[12:16], uint32(env.Errno))
	copy(out[replyEnvelopeLen:], body)
	return out
}

// requestHeader mirrors the fixed prefix every request struct in the
// original carries ahead of its own fields (spec §4.10 "populates a reply
// struct including a trace_id echoed from the request"): a trace id the
// client chose, echoed back verbatim.
const requestHeaderLen = 4

func requestTraceID(body []byte) uint32 {
	if len(body) < requestHeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(body[0:requestHeaderLen])
}

// handle is the rpmsg endpoint callback: size check, dispatch, reply (spec
// §4.10, grounded directly on rpmsg_rpc_server_cb).
func (d *Dispatcher) handle(ept *rpmsg.Endpoint, data []byte) {
	id, body, err := decodeFrame(data)
	if err != nil {
		d.log.Printf("rpcserver: %v", err)
		return
	}

	if d.maxSize > 0 && len(data) > d.maxSize {
		d.reply(ept, id, 0, StatusOverlong, 0, nil)
		return
	}

	fn, ok := d.table[id]
	if !ok {
		d.reply(ept, id, requestTraceID(body), StatusInvalidID, 0, nil)
		return
	}

	if d.mode == ModeWorker && d.pool != nil {
		// The callback duplicates the buffer and hands ownership to a
		// worker (spec §4.10 "duplicates the message buffer, pushes
		// (buffer, handler, priv) onto a bounded queue, and returns").
		cp := append([]byte(nil), body...)
		if !d.pool.enqueue(func() {
			d.run(ept, id, fn, cp)
		}) {
			d.reply(ept, id, requestTraceID(body), StatusNoMemory, 0, nil)
		}
		return
	}

	d.run(ept, id, fn, body)
}

func (d *Dispatcher) run(ept *rpmsg.Endpoint, id FuncID, fn HandlerFunc, body []byte) {
	traceID := requestTraceID(body)

	// A malformed frame from an untrusted remote must not take the whole
	// dispatcher down (spec §7 "it never aborts the process"); the reader
	// helpers in wire.go panic on short input, so recover here rather than
	// bounds-check every field in every handler.
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("rpcserver: handler for id %d panicked: %v", id, r)
			d.reply(ept, id, traceID, StatusInvalidID, int32(unix.EINVAL), nil)
		}
	}()

	resp, errno, err := fn(traceID, body, ept)
	if err != nil {
		d.log.Printf("rpcserver: handler for id %d failed: %v", id, err)
		return
	}
	d.reply(ept, id, traceID, StatusOK, errno, resp)
}

func (d *Dispatcher) reply(ept *rpmsg.Endpoint, id FuncID, traceID uint32, status Status, errno int32, body []byte) {
	env := replyEnvelope{FuncID: uint32(id), Status: int32(status), TraceID: traceID, Errno: errno}
	frame := encodeReply(env, body)
	if err := d.dev.Send(ept, frame); err != nil {
		d.log.Printf("rpcserver: reply send for id %d failed: %v", id, err)
	}
}
