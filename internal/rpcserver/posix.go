package rpcserver

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
)

// registerPosixHandlers wires the POSIX filesystem and socket surface
// (spec §4.10's function table), forwarding each call directly to
// golang.org/x/sys/unix for raw-flag/raw-errno fidelity rather than the
// narrower os package. Grounded on rpc_backend.c's per-call handlers
// (do_open/do_close/do_read/... do_writev), reshaped from its
// DEFINE_VARS/set_rsp_base macro pattern into ordinary Go functions
// returning (body, errno, err).
func registerPosixHandlers(d *Dispatcher) {
	d.register(FuncOpen, handleOpen)
	d.register(FuncClose, handleClose)
	d.register(FuncRead, handleRead)
	d.register(FuncWrite, handleWrite)
	d.register(FuncLseek, handleLseek)
	d.register(FuncFcntl, handleFcntl)
	d.register(FuncIoctl, handleIoctl)
	d.register(FuncUnlink, handleUnlink)
	d.register(FuncGetdents64, handleGetdents64)

	d.register(FuncStat, handleStat)
	d.register(FuncFstat, handleFstat)
	d.register(FuncLstat, handleLstat)
	d.register(FuncReadlink, handleReadlink)
	d.register(FuncAccess, handleAccess)
	d.register(FuncChmod, handleChmod)
	d.register(FuncChdir, handleChdir)
	d.register(FuncMkdir, handleMkdir)
	d.register(FuncRmdir, handleRmdir)
	d.register(FuncRename, handleRename)
	d.register(FuncRemove, handleRemove)
	d.register(FuncMkstemp, handleMkstemp)
	d.register(FuncMkfifo, handleMkfifo)
	d.register(FuncDup2, handleDup2)
	d.register(FuncPipe, handlePipe)
	d.register(FuncGetcwd, handleGetcwd)

	d.register(FuncSocket, handleSocket)
	d.register(FuncBind, handleBind)
	d.register(FuncConnect, handleConnect)
	d.register(FuncListen, handleListen)
	d.register(FuncAccept, handleAccept)
	d.register(FuncAccept4, handleAccept4)
	d.register(FuncSend, handleSend)
	d.register(FuncSendto, handleSendto)
	d.register(FuncRecv, handleRecv)
	d.register(FuncRecvfrom, handleRecvfrom)
	d.register(FuncShutdown, handleShutdown)
	d.register(FuncSetsockopt, handleSetsockopt)
	d.register(FuncGetsockopt, handleGetsockopt)
	d.register(FuncGetpeername, handleGetpeername)
	d.register(FuncGetsockname, handleGetsockname)
	d.register(FuncGethostname, handleGethostname)
	d.register(FuncSelect, handleSelect)
	d.register(FuncPoll, handlePoll)
	d.register(FuncWritev, handleWritev)

	// DNS-resolution and interface-enumeration calls without a clean
	// direct unix equivalent go through net instead (see dns.go); the
	// remaining few (freeaddrinfo, gai_strerror, if_nameindex) either
	// have no host-side state to free or are simple enough to answer
	// inline and are also registered there.
	registerDNSHandlers(d)
}

func handleOpen(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32() // trace id already consumed by caller's requestTraceID; re-read to advance cursor
	path := r.cstring(maxPathLen)
	flags := r.i32()
	mode := r.u32()

	fd, err := unix.Open(path, int(flags), mode)
	w := &writer{}
	w.i32(int32(fd))
	return w.buf, errnoOf(err), nil
}

func handleClose(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	err := unix.Close(int(fd))
	return nil, errnoOf(err), nil
}

func handleRead(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	count := r.u32()

	buf := make([]byte, count)
	n, err := unix.Read(int(fd), buf)
	w := &writer{}
	w.i32(int32(n))
	if n > 0 {
		w.bytes(buf[:n])
	}
	return w.buf, errnoOf(err), nil
}

func handleWrite(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	r.u32() // count; redundant with rest() but present on the wire for symmetry with read
	data := r.rest()

	n, err := unix.Write(int(fd), data)
	w := &writer{}
	w.i32(int32(n))
	return w.buf, errnoOf(err), nil
}

func handleLseek(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	offset := r.i64()
	whence := r.i32()

	off, err := unix.Seek(int(fd), offset, int(whence))
	w := &writer{}
	w.i64(off)
	return w.buf, errnoOf(err), nil
}

func handleFcntl(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	cmd := r.i32()
	arg := r.i64()

	ret, err := unix.FcntlInt(uintptr(fd), int(cmd), int(arg))
	w := &writer{}
	w.i32(int32(ret))
	return w.buf, errnoOf(err), nil
}

func handleIoctl(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	request := r.u64()
	argLen := r.u32()
	arg := append([]byte(nil), r.bytes(int(argLen))...)

	err := rawIoctl(int(fd), request, arg)
	w := &writer{}
	w.u32(uint32(len(arg)))
	w.bytes(arg)
	return w.buf, errnoOf(err), nil
}

func handleUnlink(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	return nil, errnoOf(unix.Unlink(path)), nil
}

func handleGetdents64(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	count := r.u32()

	buf := make([]byte, count)
	n, err := unix.Getdents(int(fd), buf)
	w := &writer{}
	w.i32(int32(n))
	if n > 0 {
		w.bytes(buf[:n])
	}
	return w.buf, errnoOf(err), nil
}

// encodeStat is a reduced, fixed-width projection of unix.Stat_t — just
// enough for a remote libc stat() shim to populate its own struct stat.
func encodeStat(st *unix.Stat_t) []byte {
	w := &writer{}
	w.u32(st.Mode)
	w.i64(st.Size)
	w.u32(st.Uid)
	w.u32(st.Gid)
	w.i64(int64(st.Mtim.Sec))
	return w.buf
}

func handleStat(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	var st unix.Stat_t
	err := unix.Stat(path, &st)
	if err != nil {
		return nil, errnoOf(err), nil
	}
	return encodeStat(&st), 0, nil
}

func handleFstat(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	var st unix.Stat_t
	err := unix.Fstat(int(fd), &st)
	if err != nil {
		return nil, errnoOf(err), nil
	}
	return encodeStat(&st), 0, nil
}

func handleLstat(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	var st unix.Stat_t
	err := unix.Lstat(path, &st)
	if err != nil {
		return nil, errnoOf(err), nil
	}
	return encodeStat(&st), 0, nil
}

func handleReadlink(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	buf := make([]byte, 4096)
	n, err := unix.Readlink(path, buf)
	w := &writer{}
	w.i32(int32(n))
	if n > 0 {
		w.bytes(buf[:n])
	}
	return w.buf, errnoOf(err), nil
}

func handleAccess(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	mode := r.u32()
	return nil, errnoOf(unix.Access(path, mode)), nil
}

func handleChmod(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	mode := r.u32()
	return nil, errnoOf(unix.Chmod(path, mode)), nil
}

func handleChdir(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	return nil, errnoOf(unix.Chdir(path)), nil
}

func handleMkdir(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	mode := r.u32()
	return nil, errnoOf(unix.Mkdir(path, mode)), nil
}

func handleRmdir(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	return nil, errnoOf(unix.Rmdir(path)), nil
}

func handleRename(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	oldPath := r.cstring(maxPathLen)
	newPath := r.cstring(maxPathLen)
	return nil, errnoOf(unix.Rename(oldPath, newPath)), nil
}

func handleRemove(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	err := unix.Unlink(path)
	if err == unix.EISDIR {
		err = unix.Rmdir(path)
	}
	return nil, errnoOf(err), nil
}

func handleMkstemp(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	template := r.cstring(maxPathLen)

	f, err := os.CreateTemp(dirOf(template), "mkstemp-*")
	w := &writer{}
	if err != nil {
		w.i32(-1)
		w.cstring("", maxPathLen)
		return w.buf, errnoOf(err), nil
	}
	fd := int32(f.Fd())
	w.i32(fd)
	w.cstring(f.Name(), maxPathLen)
	return w.buf, 0, nil
}

func dirOf(template string) string {
	for i := len(template) - 1; i >= 0; i-- {
		if template[i] == '/' {
			return template[:i]
		}
	}
	return ""
}

func handleMkfifo(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	path := r.cstring(maxPathLen)
	mode := r.u32()
	return nil, errnoOf(unix.Mkfifo(path, mode)), nil
}

func handleDup2(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	oldFd := r.i32()
	newFd := r.i32()
	return nil, errnoOf(unix.Dup2(int(oldFd), int(newFd))), nil
}

func handlePipe(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	var fds [2]int
	err := unix.Pipe(fds[:])
	w := &writer{}
	w.i32(int32(fds[0]))
	w.i32(int32(fds[1]))
	return w.buf, errnoOf(err), nil
}

func handleGetcwd(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errnoOf(err), nil
	}
	w := &writer{}
	w.cstring(cwd, maxPathLen)
	return w.buf, 0, nil
}

func handleSocket(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	domain := r.i32()
	typ := r.i32()
	proto := r.i32()
	fd, err := unix.Socket(int(domain), int(typ), int(proto))
	w := &writer{}
	w.i32(int32(fd))
	return w.buf, errnoOf(err), nil
}

func handleBind(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	addr := r.bytes(sockaddrWireLen)
	sa, err := decodeSockaddr(addr)
	if err != nil {
		return nil, 0, err
	}
	return nil, errnoOf(unix.Bind(int(fd), sa)), nil
}

func handleConnect(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	addr := r.bytes(sockaddrWireLen)
	sa, err := decodeSockaddr(addr)
	if err != nil {
		return nil, 0, err
	}
	return nil, errnoOf(unix.Connect(int(fd), sa)), nil
}

func handleListen(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	backlog := r.i32()
	return nil, errnoOf(unix.Listen(int(fd), int(backlog))), nil
}

func doAccept(fd int, flags int) ([]byte, int32) {
	var nfd int
	var sa unix.Sockaddr
	var err error
	if flags != 0 {
		nfd, sa, err = unix.Accept4(fd, flags)
	} else {
		nfd, sa, err = unix.Accept(fd)
	}
	w := &writer{}
	w.i32(int32(nfd))
	if sa != nil {
		w.bytes(encodeSockaddr(sa))
	} else {
		w.bytes(make([]byte, sockaddrWireLen))
	}
	return w.buf, errnoOf(err)
}

func handleAccept(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	resp, errno := doAccept(int(fd), 0)
	return resp, errno, nil
}

func handleAccept4(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	flags := r.i32()
	resp, errno := doAccept(int(fd), int(flags))
	return resp, errno, nil
}

func handleSend(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	flags := r.i32()
	data := r.rest()
	err := unix.Sendto(int(fd), data, int(flags), nil)
	w := &writer{}
	w.i32(int32(len(data)))
	return w.buf, errnoOf(err), nil
}

func handleSendto(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	flags := r.i32()
	addr := r.bytes(sockaddrWireLen)
	data := r.rest()
	sa, err := decodeSockaddr(addr)
	if err != nil {
		return nil, 0, err
	}
	err = unix.Sendto(int(fd), data, int(flags), sa)
	w := &writer{}
	w.i32(int32(len(data)))
	return w.buf, errnoOf(err), nil
}

func handleRecv(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	count := r.u32()
	flags := r.i32()
	buf := make([]byte, count)
	n, _, err := unix.Recvfrom(int(fd), buf, int(flags))
	w := &writer{}
	w.i32(int32(n))
	if n > 0 {
		w.bytes(buf[:n])
	}
	return w.buf, errnoOf(err), nil
}

func handleRecvfrom(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	count := r.u32()
	flags := r.i32()
	buf := make([]byte, count)
	n, from, err := unix.Recvfrom(int(fd), buf, int(flags))
	w := &writer{}
	w.i32(int32(n))
	if from != nil {
		w.bytes(encodeSockaddr(from))
	} else {
		w.bytes(make([]byte, sockaddrWireLen))
	}
	if n > 0 {
		w.bytes(buf[:n])
	}
	return w.buf, errnoOf(err), nil
}

func handleShutdown(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	how := r.i32()
	return nil, errnoOf(unix.Shutdown(int(fd), int(how))), nil
}

func handleSetsockopt(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	level := r.i32()
	optname := r.i32()
	optlen := r.u32()
	optval := r.bytes(int(optlen))

	err := rawSetsockopt(int(fd), int(level), int(optname), optval)
	return nil, errnoOf(err), nil
}

func handleGetsockopt(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	level := r.i32()
	optname := r.i32()
	optlen := r.u32()

	val, err := rawGetsockopt(int(fd), int(level), int(optname), int(optlen))
	w := &writer{}
	w.u32(uint32(len(val)))
	w.bytes(val)
	return w.buf, errnoOf(err), nil
}

func handleGetpeername(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	sa, err := unix.Getpeername(int(fd))
	w := &writer{}
	if sa != nil {
		w.bytes(encodeSockaddr(sa))
	} else {
		w.bytes(make([]byte, sockaddrWireLen))
	}
	return w.buf, errnoOf(err), nil
}

func handleGetsockname(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	sa, err := unix.Getsockname(int(fd))
	w := &writer{}
	if sa != nil {
		w.bytes(encodeSockaddr(sa))
	} else {
		w.bytes(make([]byte, sockaddrWireLen))
	}
	return w.buf, errnoOf(err), nil
}

func handleGethostname(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	name, err := os.Hostname()
	if err != nil {
		return nil, errnoOf(err), nil
	}
	w := &writer{}
	w.cstring(name, maxPathLen)
	return w.buf, 0, nil
}

func handleSelect(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	n := r.i32()
	readCount := r.u32()
	readFds := make([]int32, readCount)
	for i := range readFds {
		readFds[i] = r.i32()
	}
	timeoutUsec := r.i64()

	var set unix.FdSet
	for _, fd := range readFds {
		fdSetBit(&set, int(fd))
	}
	var tv *unix.Timeval
	if timeoutUsec >= 0 {
		t := unix.NsecToTimeval(timeoutUsec * 1000)
		tv = &t
	}
	ready, err := unix.Select(int(n), &set, nil, nil, tv)

	w := &writer{}
	w.i32(int32(ready))
	var readyFds []int32
	for _, fd := range readFds {
		if fdSetIsSet(&set, int(fd)) {
			readyFds = append(readyFds, fd)
		}
	}
	w.u32(uint32(len(readyFds)))
	for _, fd := range readyFds {
		w.i32(fd)
	}
	return w.buf, errnoOf(err), nil
}

func handlePoll(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	count := r.u32()
	timeoutMsec := r.i32()

	fds := make([]unix.PollFd, count)
	for i := range fds {
		fds[i].Fd = r.i32()
		fds[i].Events = int16(r.i32())
	}

	_, err := unix.Poll(fds, int(timeoutMsec))

	w := &writer{}
	w.u32(uint32(len(fds)))
	for _, pfd := range fds {
		w.i32(pfd.Fd)
		w.i32(int32(pfd.Revents))
	}
	return w.buf, errnoOf(err), nil
}

func handleWritev(traceID uint32, body []byte, ept *rpmsg.Endpoint) ([]byte, int32, error) {
	r := newReader(body)
	r.u32()
	fd := r.i32()
	count := r.u32()
	iovs := make([][]byte, count)
	for i := range iovs {
		n := r.u32()
		iovs[i] = r.bytes(int(n))
	}
	n, err := unix.Writev(int(fd), iovs)
	w := &writer{}
	w.i32(int32(n))
	return w.buf, errnoOf(err), nil
}

// rawIoctl forwards a fixed-size argument buffer through SYS_IOCTL, for
// requests the unix package has no typed wrapper for — mirrors mcsdev's
// own ioctl() forwarding helper.
func rawIoctl(fd int, request uint64, arg []byte) error {
	var argp uintptr
	if len(arg) > 0 {
		argp = uintptr(unixBytePtr(arg))
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), argp)
	if errno != 0 {
		return errno
	}
	return nil
}

func rawSetsockopt(fd, level, optname int, optval []byte) error {
	var ptr uintptr
	if len(optval) > 0 {
		ptr = uintptr(unixBytePtr(optval))
	}
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level), uintptr(optname), ptr, uintptr(len(optval)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func rawGetsockopt(fd, level, optname, wantLen int) ([]byte, error) {
	buf := make([]byte, wantLen)
	optlen := uint32(wantLen)
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(level), uintptr(optname), uintptr(unixBytePtr(buf)), uintptr(unixU32Ptr(&optlen)), 0)
	if errno != 0 {
		return nil, errno
	}
	return buf[:optlen], nil
}

func fdSetBit(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << (uint(fd) % 64)
}

func fdSetIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(int64(1)<<(uint(fd)%64)) != 0
}
