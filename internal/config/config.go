// Package config holds coordinatord's runtime configuration: a
// struct-of-paths-and-tunables plus a binary search order, adapted
// directly from internal/config/config.go's DefaultConfig/EnsureDirs/
// FindBinary shape.
package config

import (
	"os"
	"os/exec"
	"path/filepath"
)

// Config holds coordinatord runtime configuration.
type Config struct {
	// DataDir is the base directory for coordinatord runtime data.
	DataDir string

	// BinDir is the directory containing coordinatord-adjacent binaries.
	BinDir string

	// SocketDir is the directory the control plane's well-known create
	// socket and per-client verb sockets live under (spec §6 "sockets
	// live under a fixed directory; removed on daemon exit").
	SocketDir string

	// FirmwareDir is the firmware image directory. Firmware paths given at
	// create time are used as given; nothing resolves a bare filename
	// against this directory.
	FirmwareDir string

	// DBPath is the path to the SQLite client registry database.
	DBPath string

	// PIDFile is the path coordinatord writes its pid to when daemonized.
	PIDFile string

	// LogDir is the log directory. Nothing in the daemon writes log files
	// there; its log output goes to stdout.
	LogDir string

	// DefaultPoolSize is the shared-memory pool size (bytes) used when a
	// client is created without an explicit override.
	DefaultPoolSize uintptr

	// DefaultBackendKind selects "baremetal" or "hypervisor" when a
	// client is created without an explicit backend kind.
	DefaultBackendKind string

	// McsDevicePath is the bare-metal backend's control device node.
	McsDevicePath string

	// JailhouseBin is the path to the partitioning-hypervisor CLI.
	// Empty means search PATH.
	JailhouseBin string

	// VsockCID is the AF_VSOCK context ID of the hypervisor cell's peer
	// device; 0 (the default) means the hypervisor backend is disabled.
	VsockCID uint32

	// VsockPort is the AF_VSOCK port the cell's doorbell and waiter
	// connections are dialed against.
	VsockPort uint32
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".coordinatord")
	execDir := executableDir()

	return &Config{
		DataDir:            filepath.Join(baseDir, "data"),
		BinDir:             execDir,
		SocketDir:          filepath.Join(baseDir, "sockets"),
		FirmwareDir:        filepath.Join(baseDir, "firmware"),
		DBPath:             filepath.Join(baseDir, "data", "coordinatord.db"),
		PIDFile:            filepath.Join(baseDir, "coordinatord.pid"),
		LogDir:             filepath.Join(baseDir, "data", "logs"),
		DefaultPoolSize:    4 << 20, // 4 MiB, matching the resource table's typical VDEV region size
		DefaultBackendKind: "baremetal",
		McsDevicePath:      "/dev/mcs",
		VsockPort:          9999,
	}
}

// EnsureDirs creates all required directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.SocketDir,
		c.FirmwareDir,
		c.LogDir,
		filepath.Dir(c.DBPath),
		filepath.Dir(c.PIDFile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ResolveBinaries eagerly resolves JailhouseBin if empty, so the
// hypervisor backend and any preflight tooling share one discovery
// result (mirrors ResolveBinaries in the teacher's config.go).
func (c *Config) ResolveBinaries() {
	if c.JailhouseBin == "" {
		c.JailhouseBin = FindBinary("jailhouse", c.BinDir)
	}
}

// FindBinary locates a binary by name. Search order:
//  1. PATH (exec.LookPath)
//  2. Sibling directory of the running executable (BinDir)
//  3. Known system paths
//
// Returns the absolute path, or "" if not found.
func FindBinary(name string, binDir string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	if binDir != "" {
		p := filepath.Join(binDir, name)
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	for _, dir := range []string{"/usr/lib/coordinatord", "/usr/libexec", "/usr/local/bin"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// executableDir returns the directory containing the current executable.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
