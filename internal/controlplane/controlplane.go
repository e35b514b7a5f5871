// Package controlplane implements the UNIX-socket control plane (spec §6
// "Control-plane UNIX socket"), grounded on
// original_source/mica/micad/socket_listener.c: a well-known "create"
// socket that accepts a new client's {cpu, name, firmware_path} and
// replies success/failure, plus one additional socket per live client
// accepting the verbs {start, stop, status} and replying with a single
// line. The original frames each request as one fixed-size struct/buffer
// per accept()ed connection and multiplexes every socket's fd on one
// epoll loop; this port keeps the one-request-per-connection shape (dial,
// send, read one reply, close) but gives each socket its own accept-loop
// goroutine instead of a central epoll loop — the same trade the teacher's
// own internal/api/server.go makes, one goroutine per net.Listener rather
// than a reactor.
package controlplane

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// CreateSocketName is the well-known socket every "mica-create" equivalent
// request arrives on.
const CreateSocketName = "create"

// Coordinator is the narrow surface controlplane needs from the lifecycle
// orchestrator (spec §4.1); cmd/coordinatord supplies the concrete
// implementation that also resolves firmware paths, backend kind and boot
// addresses from internal/config.
type Coordinator interface {
	// Create configures a new client (Manager.Create) without booting it,
	// mirroring create_mica_client's mica_create-only behavior.
	Create(name string, cpu uint32, firmwarePath string) error
	// Start boots a previously created client (Manager.Start), mirroring
	// client_ctrl_handler's "start" branch.
	Start(name string) error
	// Stop shuts a client down (Manager.Stop).
	Stop(name string) error
	// Status returns a single human-readable line describing the client,
	// mirroring show_status's name/cpu/state/services line.
	Status(name string) (line string, err error)
}

// Server listens on the well-known create socket and on one socket per
// live client.
type Server struct {
	socketDir string
	coord     Coordinator
	log       *log.Logger

	mu        sync.Mutex
	clientLns map[string]net.Listener
	createLn  net.Listener

	wg sync.WaitGroup
}

// New constructs a Server. logger defaults to log.Default().
func New(socketDir string, coord Coordinator, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		socketDir: socketDir,
		coord:     coord,
		log:       logger,
		clientLns: make(map[string]net.Listener),
	}
}

func (s *Server) socketPath(name string) string {
	return filepath.Join(s.socketDir, name+".socket")
}

// Start removes any stale sockets under socketDir and begins listening on
// the well-known create socket (mirrors register_socket_listener's
// rmrf-then-add_listener("mica-create", ...) sequence).
func (s *Server) Start() error {
	if err := os.MkdirAll(s.socketDir, 0755); err != nil {
		return fmt.Errorf("controlplane: create socket dir: %w", err)
	}

	ln, err := s.listen(CreateSocketName)
	if err != nil {
		return err
	}
	s.createLn = ln

	s.wg.Add(1)
	go s.acceptLoop(ln, s.handleCreateConn)
	return nil
}

func (s *Server) listen(name string) (net.Listener, error) {
	path := s.socketPath(name)
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("controlplane: listen %s: %w", path, err)
	}
	return ln, nil
}

// RegisterClient adds a per-client listener, called after a successful
// create (mirrors add_listener being called from create_mica_client once
// mica_create succeeds).
func (s *Server) RegisterClient(name string) error {
	ln, err := s.listen(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.clientLns[name] = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln, func(c net.Conn) { s.handleClientConn(name, c) })
	return nil
}

// UnregisterClient closes and removes a client's socket (mirrors
// free_listener's per-unit close+unlink, scoped to one client rather than
// the whole list since this port tears a client's socket down on its own
// schedule rather than only at daemon exit).
func (s *Server) UnregisterClient(name string) {
	s.mu.Lock()
	ln, ok := s.clientLns[name]
	delete(s.clientLns, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	ln.Close()
	os.Remove(s.socketPath(name))
}

func (s *Server) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			handle(conn)
		}()
	}
}

// Stop closes every listener and removes its socket file (mirrors
// free_listener's sweep over the listener list at daemon exit).
func (s *Server) Stop() {
	if s.createLn != nil {
		s.createLn.Close()
		os.Remove(s.socketPath(CreateSocketName))
	}

	s.mu.Lock()
	lns := make(map[string]net.Listener, len(s.clientLns))
	for name, ln := range s.clientLns {
		lns[name] = ln
	}
	s.clientLns = make(map[string]net.Listener)
	s.mu.Unlock()

	for name, ln := range lns {
		ln.Close()
		os.Remove(s.socketPath(name))
	}

	s.wg.Wait()
}

// createRequest is the create socket's request body (spec §6: "accepts
// {cpu, name, firmware_path}"). JSON, one object per line, matching the
// teacher's JSON-everywhere convention rather than the original's raw
// fixed-size C struct.
type createRequest struct {
	CPU          uint32 `json:"cpu"`
	Name         string `json:"name"`
	FirmwarePath string `json:"firmware_path"`
}

func (s *Server) handleCreateConn(conn net.Conn) {
	reply := func(ok bool, msg string) {
		if ok {
			fmt.Fprintf(conn, "OK\n")
			return
		}
		fmt.Fprintf(conn, "ERROR: %s\n", msg)
	}

	dec := json.NewDecoder(conn)
	var req createRequest
	if err := dec.Decode(&req); err != nil {
		reply(false, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Name == "" {
		reply(false, "name is required")
		return
	}
	if _, err := os.Stat(req.FirmwarePath); err != nil {
		s.log.Printf("controlplane: create %s: firmware path: %v", req.Name, err)
		reply(false, fmt.Sprintf("no such file: %s", req.FirmwarePath))
		return
	}

	if err := s.coord.Create(req.Name, req.CPU, req.FirmwarePath); err != nil {
		s.log.Printf("controlplane: create %s: %v", req.Name, err)
		reply(false, err.Error())
		return
	}

	if err := s.RegisterClient(req.Name); err != nil {
		s.log.Printf("controlplane: register client socket %s: %v", req.Name, err)
		reply(false, err.Error())
		return
	}

	s.log.Printf("controlplane: created client %s (cpu %d, firmware %s)", req.Name, req.CPU, req.FirmwarePath)
	reply(true, "")
}

func (s *Server) handleClientConn(name string, conn net.Conn) {
	reply := func(ok bool, line string) {
		if line != "" {
			fmt.Fprintf(conn, "%s\n", line)
			return
		}
		if ok {
			fmt.Fprintf(conn, "OK\n")
			return
		}
		fmt.Fprintf(conn, "ERROR\n")
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	verb := scanner.Text()

	switch verb {
	case "start":
		if err := s.coord.Start(name); err != nil {
			s.log.Printf("controlplane: start %s: %v", name, err)
			reply(false, fmt.Sprintf("ERROR: %v", err))
			return
		}
		reply(true, "")
	case "stop":
		if err := s.coord.Stop(name); err != nil {
			s.log.Printf("controlplane: stop %s: %v", name, err)
			reply(false, fmt.Sprintf("ERROR: %v", err))
			return
		}
		reply(true, "")
	case "status":
		line, err := s.coord.Status(name)
		if err != nil {
			s.log.Printf("controlplane: status %s: %v", name, err)
			reply(false, fmt.Sprintf("ERROR: %v", err))
			return
		}
		reply(true, line)
	default:
		reply(false, fmt.Sprintf("ERROR: invalid command: %s", verb))
	}
}
