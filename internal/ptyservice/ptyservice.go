// Package ptyservice implements the pseudo-terminal service (spec §1
// "interactive terminals"): a concrete rpmsg.Service, grounded on
// original_source/mica/micad/services/rpmsg_pty.c, that opens a pty pair
// per bound endpoint, symlinks the slave to a well-known path so an
// operator can "open /dev/pts/N to talk with the client", and ferries
// bytes in both directions — master reads go out over rpmsg, incoming
// rpmsg payloads are written to the master. Uses github.com/creack/pty
// for master/slave allocation (posix_openpt/grantpt/unlockpt/ptsname
// wrapped in one call), the idiomatic Go replacement for the original's
// raw posix_openpt sequence — no library in the pack wraps this, but the
// pattern (pty.Open(), raw-mode slave, non-blocking master) is the one
// other_examples/d9b25888_srgg-blecli shows for the same primitive.
package ptyservice

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/creack/pty"

	"github.com/openeuler-mirror/coordinatord/internal/rpmsg"
)

// ServiceNamePrefix is the wildcard name every rpmsg-tty* announcement is
// matched against (spec grounded on rpmsg_tty_match's strncmp-up-to-the-
// shorter-name wildcard).
const ServiceNamePrefix = "rpmsg-tty"

// LinkDir is the directory symlinks to the allocated pty slave are
// created under, mirroring RPMSG_TTY_DEV's /dev/ttyRPMSG<n> convention
// without requiring write access to /dev itself.
const LinkDir = "/tmp/coordinatord-tty"

// terminal is the per-endpoint state: one pty pair plus the goroutine
// ferrying master reads out over rpmsg (rpmsg_tty_tx_task's Go
// counterpart). The rx path (rpmsg payload -> pty master) runs directly
// on the endpoint's Callback, same as rpmsg_rx_tty_callback.
type terminal struct {
	mu     sync.Mutex
	master *os.File
	link   string
	active bool
	done   chan struct{}
}

// Service implements the pty-backed rpmsg service, one per coordinator
// client (the teacher's tty_dev_list is this struct's terminals map).
type Service struct {
	mu        sync.Mutex
	terminals map[*rpmsg.Endpoint]*terminal
	nextIndex int
	log       *log.Logger
}

// New constructs a pty Service. logger defaults to log.Default().
func New(logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{terminals: make(map[*rpmsg.Endpoint]*terminal), log: logger}
}

// RpmsgService builds the rpmsg.Service this pty service answers as.
func (s *Service) RpmsgService(dev *rpmsg.Device) *rpmsg.Service {
	return &rpmsg.Service{
		Name: ServiceNamePrefix,
		Match: func(name string, src uint32) bool {
			// Matches up to the shorter of the two names, allowing
			// rpmsg-tty0, rpmsg-tty1, ... to announce distinct pty
			// instances under one service (rpmsg_tty_match's
			// strncmp-to-min-length wildcard).
			n := len(name)
			if len(ServiceNamePrefix) < n {
				n = len(ServiceNamePrefix)
			}
			return name[:n] == ServiceNamePrefix[:n]
		},
		Bind: func(name string, src uint32) {
			s.bind(dev, name, src)
		},
		Remove: func() {
			s.removeAll()
		},
	}
}

func (s *Service) bind(dev *rpmsg.Device, name string, src uint32) {
	master, slave, err := pty.Open()
	if err != nil {
		s.log.Printf("ptyservice: open pty for %s: %v", name, err)
		return
	}
	slaveName := slave.Name()
	slave.Close()

	s.mu.Lock()
	idx := s.nextIndex
	s.nextIndex++
	s.mu.Unlock()

	if err := os.MkdirAll(LinkDir, 0755); err != nil {
		s.log.Printf("ptyservice: mkdir %s: %v", LinkDir, err)
	}
	link := fmt.Sprintf("%s/%d", LinkDir, idx)
	os.Remove(link)
	if err := os.Symlink(slaveName, link); err != nil {
		s.log.Printf("ptyservice: symlink %s -> %s: %v", link, slaveName, err)
	}

	term := &terminal{master: master, link: link, active: true, done: make(chan struct{})}

	var ept *rpmsg.Endpoint
	ept = dev.CreateEndpoint(name, src, func(payload []byte, from uint32) {
		term.write(payload, s.log, name)
	}, func() {
		s.unbind(ept)
	}, term)

	s.mu.Lock()
	s.terminals[ept] = term
	s.mu.Unlock()

	go term.pump(dev, ept, s.log, name)

	s.log.Printf("ptyservice: %s bound, talk to the client via %s", name, link)
}

// write forwards an rpmsg payload to the pty master, matching
// rpmsg_rx_tty_callback's retry-until-fully-written loop.
func (t *terminal) write(data []byte, logger *log.Logger, name string) {
	t.mu.Lock()
	master, active := t.master, t.active
	t.mu.Unlock()
	if !active {
		return
	}
	for len(data) > 0 {
		n, err := master.Write(data)
		if err != nil {
			logger.Printf("ptyservice: write %s: %v", name, err)
			return
		}
		data = data[n:]
	}
}

// pump reads from the pty master and forwards to the remote over rpmsg,
// the Go counterpart of rpmsg_tty_tx_task's poll/read/rpmsg_send loop.
func (t *terminal) pump(dev *rpmsg.Device, ept *rpmsg.Endpoint, logger *log.Logger, name string) {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		t.mu.Lock()
		active := t.active
		t.mu.Unlock()
		if !active {
			return
		}

		n, err := t.master.Read(buf)
		if n > 0 {
			if sendErr := dev.Send(ept, buf[:n]); sendErr != nil {
				logger.Printf("ptyservice: send %s: %v", name, sendErr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Printf("ptyservice: read %s: %v", name, err)
			}
			return
		}
	}
}

// unbind tears down one terminal: stop the pump, close the master,
// remove the symlink. Mirrors rpmsg_tty_unbind.
func (s *Service) unbind(ept *rpmsg.Endpoint) {
	s.mu.Lock()
	term, ok := s.terminals[ept]
	if ok {
		delete(s.terminals, ept)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	term.close()
}

func (t *terminal) close() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	master := t.master
	link := t.link
	t.mu.Unlock()

	master.Close()
	os.Remove(link)
}

// removeAll tears down every live terminal, mirroring
// remove_tty_dev_lists's unbind-everything sweep on service removal.
func (s *Service) removeAll() {
	s.mu.Lock()
	terms := make([]*terminal, 0, len(s.terminals))
	for ept, term := range s.terminals {
		terms = append(terms, term)
		delete(s.terminals, ept)
	}
	s.mu.Unlock()
	for _, term := range terms {
		term.close()
	}
}
