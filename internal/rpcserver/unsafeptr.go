package rpcserver

import "unsafe"

// unixBytePtr and unixU32Ptr give rawIoctl/rawSetsockopt/rawGetsockopt a
// pointer to pass through unix.Syscall/Syscall6, matching the original's
// direct pointer-argument ioctl/setsockopt/getsockopt forwarding. Safe
// here because the call is synchronous: the pointee is not touched again
// until the syscall returns.
func unixBytePtr(b []byte) unsafe.Pointer { return unsafe.Pointer(&b[0]) }

func unixU32Ptr(v *uint32) unsafe.Pointer { return unsafe.Pointer(v) }
