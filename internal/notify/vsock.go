package notify

import (
	"bufio"
	"fmt"
	"net"

	"github.com/mdlayher/vsock"
)

// VsockChannel turns doorbell writes arriving over an AF_VSOCK connection
// to the partitioning hypervisor's peer device into notify.Events. The
// hypervisor backend's "register page" doorbell (spec §4.6) is modeled
// here as a single byte written down this connection each time the remote
// kicks a virtqueue, matching the teacher's ControlChannel contract
// (message-oriented, backend-transport-agnostic) while using a real
// cross-process transport instead of an in-process callback.
type VsockChannel struct {
	conn   net.Conn
	r      *bufio.Reader
	cancel chan struct{}
}

// DialVsockChannel connects to the hypervisor cell's doorbell port on the
// given context ID, mirroring how gvisor-tap-vsock dials guest vsock ports
// for control traffic.
func DialVsockChannel(cid, port uint32) (*VsockChannel, error) {
	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("notify: vsock dial cid=%d port=%d: %w", cid, port, err)
	}
	return &VsockChannel{
		conn:   conn,
		r:      bufio.NewReader(conn),
		cancel: make(chan struct{}),
	}, nil
}

// Wait blocks until a doorbell byte arrives or Unblock/Close is called.
func (c *VsockChannel) Wait() (Event, error) {
	type result struct {
		b   byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := c.r.ReadByte()
		done <- result{b, err}
	}()

	select {
	case <-c.cancel:
		return EventCancel, nil
	case res := <-done:
		if res.err != nil {
			return EventData, res.err
		}
		return EventData, nil
	}
}

// Unblock causes the next (or a pending) Wait to return EventCancel. Note
// the reader goroutine spawned by an in-flight Wait may still be blocked
// in ReadByte after this returns; Close unblocks it by tearing down the
// connection.
func (c *VsockChannel) Unblock() {
	select {
	case <-c.cancel:
	default:
		close(c.cancel)
	}
}

// Close tears down the vsock connection.
func (c *VsockChannel) Close() error {
	c.Unblock()
	return c.conn.Close()
}
