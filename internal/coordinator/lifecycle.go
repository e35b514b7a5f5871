package coordinator

import (
	"fmt"
	"log"

	"github.com/openeuler-mirror/coordinatord/internal/rproc"
)

// Stop shuts the remote down, tears down the rpmsg device (running every
// bound service's Remove hook in reverse registration order), unmaps
// memory, and returns the client to Offline (spec §4.1 stop()).
func (m *Manager) Stop(c *Client) error {
	c.mu.Lock()
	if c.State != rproc.StateRunning && c.State != rproc.StateSuspended {
		state := c.State
		c.mu.Unlock()
		if state == rproc.StateOffline || state == rproc.StateConfigured {
			return nil
		}
		return fmt.Errorf("%w: client %s is %s", ErrWrongState, c.ID, state)
	}
	dev := c.Device
	c.mu.Unlock()

	c.stopReceiveLoop()

	if dev != nil {
		dev.Teardown()
	}

	if err := c.Backend.Shutdown(); err != nil {
		log.Printf("coordinator: client %s: backend shutdown: %v", c.ID, err)
	}

	c.mu.Lock()
	c.Device = nil
	c.ResourceTable = nil
	c.State = rproc.StateOffline
	c.mu.Unlock()
	m.notify(c.ID, rproc.StateOffline)
	return nil
}

// Destroy stops the client if it's running, then releases the backend's
// control-device resources. Idempotent (spec §4.1 destroy()).
func (m *Manager) Destroy(c *Client) error {
	c.mu.Lock()
	state := c.State
	c.mu.Unlock()

	if state == rproc.StateRunning || state == rproc.StateSuspended {
		if err := m.Stop(c); err != nil {
			return err
		}
	}

	if err := c.Backend.Remove(); err != nil {
		return fmt.Errorf("coordinator: client %s: backend remove: %w", c.ID, err)
	}

	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()
	return nil
}

// Shutdown stops and destroys every managed client, mirroring
// lifecycle.Manager.Shutdown's "stop every instance" sweep used during
// coordinatord's own graceful shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		if err := m.Destroy(c); err != nil {
			log.Printf("coordinator: shutdown client %s: %v", c.ID, err)
		}
	}
}
