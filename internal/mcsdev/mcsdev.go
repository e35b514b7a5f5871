// Package mcsdev models the /dev/mcs kernel driver's ioctl contract (spec
// §4.3, bare-metal backend): PSCI CPU_ON to boot a remote core, SGI/IPI
// delivery, and affinity-info polling to confirm a core reached OFF before
// boot. Grounded on original_source/mcs_km/mcs_km.c's mcs_ioctl switch.
package mcsdev

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const magicNumber = 'A'

// ioctl command numbers, computed the same way the kernel header does via
// _IOW(MAGIC_NUMBER, nr, int) — direction write, size of a C `int` (4
// bytes), carried here as pre-computed constants since Go has no _IOW macro.
var (
	iocSendIPI       = iow(magicNumber, 0, 4)
	iocCPUOn         = iow(magicNumber, 1, 4)
	iocAffinityInfo  = iow(magicNumber, 2, 4)
)

func iow(typ, nr, size uintptr) uintptr {
	const iocWrite = 1
	const sizeBits = 14
	const sizeShift = 16
	const dirShift = 30
	return (iocWrite << dirShift) | (size << sizeShift) | (typ << 8) | nr
}

// cpuInfo mirrors struct cpu_info { u32 cpu; u64 boot_addr; } from
// mcs_km.c, packed with explicit padding to match the C struct's layout.
type cpuInfo struct {
	CPU      uint32
	_        uint32 // padding to align boot_addr on an 8-byte boundary
	BootAddr uint64
}

func (c cpuInfo) bytes() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], c.CPU)
	binary.LittleEndian.PutUint64(buf[8:16], c.BootAddr)
	return buf
}

// AffinityState mirrors the PSCI AFFINITY_INFO return values the driver
// checks for: 0 means the target is ON, 1 means OFF.
type AffinityState int

const (
	AffinityOn AffinityState = iota
	AffinityOff
)

// ErrNotOff is returned by AffinityInfo when the target core isn't OFF.
var ErrNotOff = fmt.Errorf("mcsdev: core is not in PSCI OFF state")

// Device is the host-side handle to a remote core, modeling the subset of
// /dev/mcs's ioctl surface the coordinator needs (spec §4.3 "power control
// primitive"). Implementations other than *File exist for testing.
type Device interface {
	// PowerOn issues PSCI CPU_ON for cpu with the given boot address
	// (IOC_CPUON).
	PowerOn(cpu uint32, bootAddr uint64) error
	// SendIPI raises the MCS-reserved SGI on cpu (IOC_SENDIPI), used as
	// the vring kick / doorbell on the bare-metal backend.
	SendIPI(cpu uint32) error
	// AffinityInfo returns whether cpu is currently OFF (IOC_AFFINITY_INFO),
	// used before PowerOn to confirm the target can be booted.
	AffinityInfo(cpu uint32) (AffinityState, error)
}

// File is the real Device backed by an open /dev/mcs file descriptor.
type File struct {
	f *os.File
}

// Open opens the mcs character device at path (conventionally
// original_source's MCS_DEVICE_NAME, "/dev/mcs").
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("mcsdev: open %s: %w", path, err)
	}
	return &File{f: f}, nil
}

func (d *File) Close() error { return d.f.Close() }

// Fd returns the underlying file descriptor, for a caller's own poll(2)
// loop to arm a notify.PipeChannel's Raise on doorbell activity (there is
// no async-signal-safe way for this package to do that on the caller's
// behalf).
func (d *File) Fd() uintptr { return d.f.Fd() }

func (d *File) PowerOn(cpu uint32, bootAddr uint64) error {
	info := cpuInfo{CPU: cpu, BootAddr: bootAddr}
	return d.ioctl(iocCPUOn, info.bytes())
}

func (d *File) SendIPI(cpu uint32) error {
	info := cpuInfo{CPU: cpu}
	return d.ioctl(iocSendIPI, info.bytes())
}

func (d *File) AffinityInfo(cpu uint32) (AffinityState, error) {
	info := cpuInfo{CPU: cpu}
	if err := d.ioctl(iocAffinityInfo, info.bytes()); err != nil {
		return AffinityOn, ErrNotOff
	}
	return AffinityOff, nil
}

func (d *File) ioctl(cmd uintptr, arg []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), cmd, uintptr(unsafe.Pointer(&arg[0])))
	if errno != 0 {
		return fmt.Errorf("mcsdev: ioctl %#x: %w", cmd, errno)
	}
	return nil
}
