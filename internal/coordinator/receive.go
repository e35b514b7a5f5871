package coordinator

import (
	"log"

	"github.com/openeuler-mirror/coordinatord/internal/notify"
)

// startReceiveLoop spins up the dedicated per-client goroutine (spec §4.9,
// component I): repeatedly call the backend's wait(), and on a data
// return drain every available buffer before waiting again, since the
// channel is edge-triggered and a burst of remote activity may coalesce
// into a single wake. Exits on the distinguished cancel return. Adapted
// from lifecycle.Manager's one-goroutine-per-instance idle/pause timers,
// retargeted at a blocking wait instead of a timer.
func (c *Client) startReceiveLoop() {
	c.mu.Lock()
	if c.receiveDone != nil {
		c.mu.Unlock()
		return
	}
	c.receiveDone = make(chan struct{})
	waiter := c.waiter
	dev := c.Device
	c.mu.Unlock()

	if waiter == nil || dev == nil {
		close(c.receiveDone)
		return
	}

	go func() {
		defer close(c.receiveDone)
		for {
			event, err := waiter.Wait()
			if err != nil {
				log.Printf("coordinator: client %s: wait error: %v", c.ID, err)
				continue
			}
			if event == notify.EventCancel {
				return
			}
			// Drain everything available this wake; never hold the
			// client lock across a service callback (spec §4.9).
			dev.DispatchAvailable(func(dispatchErr error) {
				log.Printf("coordinator: client %s: dispatch error: %v", c.ID, dispatchErr)
			})
		}
	}()
}

// stopReceiveLoop unblocks the waiter and waits for the goroutine to
// observe the cancel event and exit.
func (c *Client) stopReceiveLoop() {
	c.mu.Lock()
	waiter := c.waiter
	done := c.receiveDone
	c.receiveDone = nil
	c.mu.Unlock()

	if waiter == nil || done == nil {
		return
	}
	waiter.Unblock()
	<-done
}
