package rpcserver

import (
	"bufio"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
)

// stdioBase mirrors the original's STDFILE_BASE: remote file handles
// stdioBase..stdioBase+2 are not real open files, they're sentinels for
// the remote's stdin/stdout/stderr, routed to one host-owned log fixture
// instead of the host process's own standard streams (spec §4.10 "stdio
// sentinel handles ... map to a shared host-side log fixture").
const stdioBase = 1

// fileState tracks the bits of C stdio state that don't map onto
// *os.File directly: the feof()/ferror() sticky flags, and the child
// process behind a popen handle. There is no pushback byte; ungetc seeks
// the file back instead.
type fileState struct {
	mu     sync.Mutex
	f      *os.File
	cmd    *exec.Cmd // set only for popen handles
	eof    bool
	hadErr bool
}

// stdioTable is the per-dispatcher handle table for the buffered-stdio
// call family (fopen/fread/fwrite/...), grounded on handle2file's handle
// arithmetic in rpc_backend.c. One table per Dispatcher, so one per
// client's rpmsg device.
type stdioTable struct {
	mu       sync.Mutex
	sentinel *fileState
	files    map[uint64]*fileState
	next     uint64
}

func newStdioTable(logger *log.Logger) *stdioTable {
	f, err := os.CreateTemp("", "rpcserver-log-*.txt")
	if err != nil {
		logger.Printf("rpcserver: stdio log fixture: %v", err)
	}
	return &stdioTable{
		sentinel: &fileState{f: f},
		files:    make(map[uint64]*fileState),
		next:     stdioBase + 3,
	}
}

func (t *stdioTable) isSentinel(handle uint64) bool {
	return handle >= stdioBase && handle < stdioBase+3
}

func (t *stdioTable) resolve(handle uint64) *fileState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isSentinel(handle) {
		return t.sentinel
	}
	return t.files[handle]
}

func (t *stdioTable) track(f *os.File) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.files[h] = &fileState{f: f}
	return h
}

func (t *stdioTable) trackCmd(f *os.File, cmd *exec.Cmd) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.files[h] = &fileState{f: f, cmd: cmd}
	return h
}

// release drops a handle from the table. Closing a sentinel is a no-op —
// the shared log fixture outlives any one client call and must keep
// serving the other two sentinel handles.
func (t *stdioTable) release(handle uint64) *fileState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isSentinel(handle) {
		return nil
	}
	fs := t.files[handle]
	delete(t.files, handle)
	return fs
}

// registerStdioHandlers wires the buffered-stdio function-id family (spec
// §4.10's fopen/fclose/... group) onto Dispatcher methods that share
// d.stdio. A handful of C-only notions without a Go equivalent (setvbuf's
// buffering mode, wide-char getwc/putwc/ungetwc) degrade to a best-effort
// byte-oriented implementation, noted inline.
func registerStdioHandlers(d *Dispatcher) {
	d.register(FuncFopen, d.handleFopen)
	d.register(FuncFclose, d.handleFclose)
	d.register(FuncFread, d.handleFread)
	d.register(FuncFwrite, d.handleFwrite)
	d.register(FuncFreopen, d.handleFreopen)
	d.register(FuncFputs, d.handleFputs)
	d.register(FuncFgets, d.handleFgets)
	d.register(FuncFeof, d.handleFeof)
	d.register(FuncFprintf, d.handleFprintf)
	d.register(FuncGetc, d.handleGetc)
	d.register(FuncFerror, d.handleFerror)
	d.register(FuncGetcUnlocked, d.handleGetc)
	d.register(FuncPclose, d.handlePclose)
	d.register(FuncTmpfile, d.handleTmpfile)
	d.register(FuncClearerr, d.handleClearerr)
	d.register(FuncPopen, d.handlePopen)
	d.register(FuncUngetc, d.handleUngetc)
	d.register(FuncFseeko, d.handleFseek)
	d.register(FuncFtello, d.handleFtell)
	d.register(FuncFseek, d.handleFseek)
	d.register(FuncFtell, d.handleFtell)
	d.register(FuncFflush, d.handleFflush)
	d.register(FuncGetwc, d.handleGetc)
	d.register(FuncPutwc, d.handlePutc)
	d.register(FuncPutc, d.handlePutc)
	d.register(FuncUngetwc, d.handleUngetc)
	d.register(FuncFdopen, d.handleFdopen)
	d.register(FuncFileno, d.handleFileno)
	d.register(FuncSetvbuf, d.handleSetvbuf)
	d.register(FuncFscanfx, d.handleFscanfx)
}

// registerPrintHandlers wires the printf/putchar log sink: the remote's
// two logging primitives, both routed to the same log fixture the stdio
// sentinel handles use (spec §4.10 "a printf/putchar log-sink pair"),
// grounded on rpmsg_handle_printf's \n -> \r\n translation.
func registerPrintHandlers(d *Dispatcher) {
	d.register(FuncPrintf, d.handlePrintf)
	d.register(FuncPutchar, d.handlePutchar)
}

func fdFlagsToOpenFlags(mode string) int {
	switch mode {
	case "r":
		return os.O_RDONLY
	case "r+":
		return os.O_RDWR
	case "w":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case "w+":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case "a":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case "a+":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND
	default:
		return os.O_RDONLY
	}
}

func (d *Dispatcher) handleFopen(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	mode := r.cstring(8)

	f, err := os.OpenFile(path, fdFlagsToOpenFlags(mode), 0o644)
	w := &writer{}
	if err != nil {
		w.u64(0)
		return w.buf, errnoOf(err), nil
	}
	w.u64(d.stdio.track(f))
	return w.buf, 0, nil
}

func (d *Dispatcher) handleFclose(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.release(handle)
	if fs == nil {
		return nil, 0, nil
	}
	if fs.cmd != nil {
		fs.f.Close()
		fs.cmd.Wait()
		return nil, 0, nil
	}
	return nil, errnoOf(fs.f.Close()), nil
}

func (d *Dispatcher) handleFread(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	count := r.u32()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	buf := make([]byte, count)
	n, err := fs.f.Read(buf)
	if err == io.EOF {
		fs.eof = true
		err = nil
	} else if err != nil {
		fs.hadErr = true
	}
	w := &writer{}
	w.u32(uint32(n))
	if n > 0 {
		w.bytes(buf[:n])
	}
	return w.buf, errnoOf(err), nil
}

func (d *Dispatcher) handleFwrite(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	data := r.rest()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.f.Write(data)
	if err != nil {
		fs.hadErr = true
	}
	w := &writer{}
	w.u32(uint32(n))
	return w.buf, errnoOf(err), nil
}

func (d *Dispatcher) handleFreopen(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	path := r.cstring(maxPathLen)
	mode := r.cstring(8)

	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	f, err := os.OpenFile(path, fdFlagsToOpenFlags(mode), 0o644)
	w := &writer{}
	if err != nil {
		w.u64(0)
		return w.buf, errnoOf(err), nil
	}
	fs.mu.Lock()
	old := fs.f
	fs.f = f
	fs.eof, fs.hadErr = false, false
	fs.mu.Unlock()
	if old != nil && d.stdio.sentinel != fs {
		old.Close()
	}
	w.u64(handle)
	return w.buf, 0, nil
}

func (d *Dispatcher) handleFputs(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	s := r.rest()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.f.Write(s)
	return nil, errnoOf(err), nil
}

func (d *Dispatcher) handleFgets(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	max := r.u32()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	line := make([]byte, 0, max)
	buf := make([]byte, 1)
	for uint32(len(line)) < max {
		n, err := fs.f.Read(buf)
		if n == 1 {
			line = append(line, buf[0])
			if buf[0] == '\n' {
				break
			}
			continue
		}
		if err == io.EOF {
			fs.eof = true
		} else if err != nil {
			fs.hadErr = true
		}
		break
	}
	w := &writer{}
	w.u32(uint32(len(line)))
	w.bytes(line)
	return w.buf, 0, nil
}

func (d *Dispatcher) handleFeof(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i32(0)
		return w.buf, 0, nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.eof {
		w.i32(1)
	} else {
		w.i32(0)
	}
	return w.buf, 0, nil
}

func (d *Dispatcher) handleFerror(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i32(0)
		return w.buf, 0, nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.hadErr {
		w.i32(1)
	} else {
		w.i32(0)
	}
	return w.buf, 0, nil
}

func (d *Dispatcher) handleClearerr(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	if fs != nil {
		fs.mu.Lock()
		fs.eof, fs.hadErr = false, false
		fs.mu.Unlock()
	}
	return nil, 0, nil
}

// handleFprintf writes an already-formatted buffer as-is: the remote's
// libc has already expanded its own format string and variadic args
// before the call crosses the transport.
func (d *Dispatcher) handleFprintf(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	text := r.rest()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.f.Write(text)
	w := &writer{}
	w.i32(int32(n))
	return w.buf, errnoOf(err), nil
}

func (d *Dispatcher) handleGetc(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i32(-1)
		return w.buf, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var b [1]byte
	n, err := fs.f.Read(b[:])
	if n == 0 {
		if err == io.EOF {
			fs.eof = true
		}
		w.i32(-1)
		return w.buf, 0, nil
	}
	w.i32(int32(b[0]))
	return w.buf, 0, nil
}

func (d *Dispatcher) handlePutc(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	ch := r.i32()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i32(-1)
		return w.buf, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.f.Write([]byte{byte(ch)})
	if err != nil {
		w.i32(-1)
		return w.buf, errnoOf(err), nil
	}
	w.i32(ch)
	return w.buf, 0, nil
}

// handleUngetc seeks back one byte rather than maintaining a true
// one-byte pushback buffer; sufficient for the read-one-push-back-one
// pattern the remote libc actually uses it for.
func (d *Dispatcher) handleUngetc(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	ch := r.i32()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i32(-1)
		return w.buf, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.f.Seek(-1, io.SeekCurrent)
	if err != nil {
		w.i32(-1)
		return w.buf, errnoOf(err), nil
	}
	w.i32(ch)
	return w.buf, 0, nil
}

func (d *Dispatcher) handlePclose(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	return d.handleFclose(traceID, body, ept)
}

func (d *Dispatcher) handleTmpfile(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	f, err := os.CreateTemp("", "rpc-tmpfile-*")
	w := &writer{}
	if err != nil {
		w.u64(0)
		return w.buf, errnoOf(err), nil
	}
	os.Remove(f.Name()) // unlink-on-create mirrors C tmpfile()'s auto-delete semantics
	w.u64(d.stdio.track(f))
	return w.buf, 0, nil
}

// handlePopen runs the remote-supplied command line through the host
// shell and hands back a handle over its standard output pipe (stderr is
// not captured); Pclose waits for the child.
func (d *Dispatcher) handlePopen(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	cmdline := r.cstring(maxPathLen)
	r.cstring(8) // mode; only the read side is supported

	cmd := exec.Command("/bin/sh", "-c", cmdline)
	pipe, err := cmd.StdoutPipe()
	w := &writer{}
	if err != nil {
		w.u64(0)
		return w.buf, errnoOf(err), nil
	}
	if err := cmd.Start(); err != nil {
		w.u64(0)
		return w.buf, errnoOf(err), nil
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		w.u64(0)
		return w.buf, errnoOf(err), nil
	}
	go func() {
		io.Copy(pw, pipe)
		pw.Close()
	}()
	w.u64(d.stdio.trackCmd(pr, cmd))
	return w.buf, 0, nil
}

func (d *Dispatcher) handleFseek(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	offset := r.i64()
	whence := r.i32()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.f.Seek(offset, int(whence))
	return nil, errnoOf(err), nil
}

func (d *Dispatcher) handleFtell(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i64(-1)
		return w.buf, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	off, err := fs.f.Seek(0, io.SeekCurrent)
	w.i64(off)
	return w.buf, errnoOf(err), nil
}

func (d *Dispatcher) handleFflush(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, 0, nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return nil, errnoOf(fs.f.Sync()), nil
}

func (d *Dispatcher) handleFdopen(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	r.cstring(8) // mode, unused: os.NewFile doesn't distinguish
	f := os.NewFile(uintptr(fd), "fdopen")
	w := &writer{}
	w.u64(d.stdio.track(f))
	return w.buf, 0, nil
}

func (d *Dispatcher) handleFileno(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	w := &writer{}
	if fs == nil {
		w.i32(-1)
		return w.buf, int32(unix.EBADF), nil
	}
	w.i32(int32(fs.f.Fd()))
	return w.buf, 0, nil
}

// handleSetvbuf always reports success without changing anything: os.File
// has no user-selectable buffering mode to set, and every other stdio
// handler here already operates unbuffered.
func (d *Dispatcher) handleSetvbuf(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	return nil, 0, nil
}

// handleFscanfx answers the "read one whitespace-delimited token" case of
// fscanf that the remote actually uses this id for (spec §4.10 groups it
// as "fscanf-one-arg"); general format-string interpretation stays on the
// remote side.
func (d *Dispatcher) handleFscanfx(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	handle := r.u64()
	fs := d.stdio.resolve(handle)
	if fs == nil {
		return nil, int32(unix.EBADF), nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	br := bufio.NewReader(fs.f)
	for {
		b, err := br.ReadByte()
		if err != nil {
			fs.eof = err == io.EOF
			break
		}
		if b != ' ' && b != '\t' && b != '\n' {
			br.UnreadByte()
			break
		}
	}
	var tok []byte
	var err error
	for {
		var b byte
		if b, err = br.ReadByte(); err != nil {
			break
		}
		if b == ' ' || b == '\t' || b == '\n' {
			break
		}
		tok = append(tok, b)
	}
	token := trimTrailingSep(string(tok))

	w := &writer{}
	w.cstring(token, maxPathLen)
	if err != nil && err != io.EOF {
		return w.buf, errnoOf(err), nil
	}
	return w.buf, 0, nil
}

func trimTrailingSep(s string) string {
	for len(s) > 0 {
		c := s[len(s)-1]
		if c == ' ' || c == '\t' || c == '\n' {
			s = s[:len(s)-1]
			continue
		}
		break
	}
	return s
}

// handlePrintf is the remote's printf sink: the formatted text already
// crosses the wire as a flat buffer, so this just writes it to the log
// fixture with \n translated to \r\n, matching rpmsg_handle_printf.
func (d *Dispatcher) handlePrintf(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	text := r.rest()
	d.writeLogFixture(translateNewlines(text))
	return nil, 0, nil
}

func (d *Dispatcher) handlePutchar(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	ch := r.i32()
	d.writeLogFixture(translateNewlines([]byte{byte(ch)}))
	w := &writer{}
	w.i32(ch)
	return w.buf, 0, nil
}

func (d *Dispatcher) writeLogFixture(b []byte) {
	d.stdio.sentinel.mu.Lock()
	defer d.stdio.sentinel.mu.Unlock()
	if d.stdio.sentinel.f == nil {
		return
	}
	if _, err := d.stdio.sentinel.f.Write(b); err != nil {
		d.log.Printf("rpcserver: log fixture write: %v", err)
	}
}

func translateNewlines(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '\n' {
			out = append(out, '\r', '\n')
			continue
		}
		out = append(out, c)
	}
	return out
}
