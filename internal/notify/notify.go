// Package notify implements the notification waiter (spec §4.3, component
// B): a single blocking Wait() that returns when the remote core has
// raised its doorbell, with an out-of-band Unblock used at shutdown. The
// channel is edge-triggered from the host's perspective — one Wait return
// only promises at least one pending message somewhere, never a count.
package notify

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Event is the result of a Wait call.
type Event int

const (
	// EventData indicates the remote raised the doorbell; the caller
	// should drain every virtqueue before calling Wait again.
	EventData Event = iota
	// EventCancel is the distinguished return used to unwind the receive
	// loop cleanly at shutdown.
	EventCancel
)

// Channel is implemented by each remote-processor backend; the receive
// loop (component I) only depends on this interface.
type Channel interface {
	Wait() (Event, error)
	Unblock()
	Close() error
}

// PipeChannel is a self-pipe-based Channel: Wait polls a read fd, Raise
// (called by whatever owns the real doorbell source — an interrupt handler
// goroutine, a vsock reader, a poll loop against a device fd) writes a
// data byte, and Unblock writes a distinct cancel byte. This is the same
// self-pipe idiom the bare-metal backend's poll(2) wait loop uses in
// baremetal_rproc.c, adapted to Go's lack of async-signal-safe channels.
type PipeChannel struct {
	r, w int
}

const (
	byteData   = 0
	byteCancel = 1
)

// NewPipeChannel creates a fresh self-pipe notification channel.
func NewPipeChannel() (*PipeChannel, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &PipeChannel{r: fds[0], w: fds[1]}, nil
}

// Raise signals that the remote has raised the doorbell. Safe to call from
// any goroutine, including a real interrupt-simulating poll loop.
func (c *PipeChannel) Raise() {
	var b [1]byte
	b[0] = byteData
	_, _ = unix.Write(c.w, b[:])
}

// Unblock causes a pending or future Wait to return EventCancel.
func (c *PipeChannel) Unblock() {
	var b [1]byte
	b[0] = byteCancel
	_, _ = unix.Write(c.w, b[:])
}

// Wait blocks until Raise or Unblock is called.
func (c *PipeChannel) Wait() (Event, error) {
	pfd := []unix.PollFd{{Fd: int32(c.r), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return EventData, err
		}
		if n == 0 {
			continue
		}
		if pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}

		var buf [64]byte
		nread, err := unix.Read(c.r, buf[:])
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			return EventData, err
		}

		cancel := false
		for i := 0; i < nread; i++ {
			if buf[i] == byteCancel {
				cancel = true
			}
		}
		if cancel {
			return EventCancel, nil
		}
		if nread > 0 {
			return EventData, nil
		}
	}
}

// Close releases the underlying pipe file descriptors.
func (c *PipeChannel) Close() error {
	err1 := unix.Close(c.r)
	err2 := unix.Close(c.w)
	if err1 != nil {
		return err1
	}
	return err2
}
