// Package ctlclient is the control-plane counterpart to
// internal/client/client.go: a shared Go client used by cmd/coordctl (and
// any future caller) instead of hand-rolling unix-socket dialing per
// binary. Where the teacher's Client wraps an http.Client dialing a unix
// socket and speaks JSON-over-HTTP, this Client dials fresh per request
// and speaks the control plane's line protocol directly (spec §6): one
// connection, one request, one newline-terminated reply, close.
package ctlclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// defaultDialTimeout matches the teacher's 5s unix-socket dial timeout.
const defaultDialTimeout = 5 * time.Second

// Client talks to coordinatord's control plane over its UNIX sockets.
type Client struct {
	socketDir string
	timeout   time.Duration
}

// New creates a Client pointed at the control-plane socket directory.
func New(socketDir string) *Client {
	return &Client{socketDir: socketDir, timeout: defaultDialTimeout}
}

func (c *Client) socketPath(name string) string {
	return c.socketDir + "/" + name + ".socket"
}

func (c *Client) dial(ctx context.Context, socketName string) (net.Conn, error) {
	var d net.Dialer
	d.Timeout = c.timeout
	conn, err := d.DialContext(ctx, "unix", c.socketPath(socketName))
	if err != nil {
		return nil, fmt.Errorf("ctlclient: dial %s: %w", socketName, err)
	}
	return conn, nil
}

// readReply reads exactly one newline-terminated line, trimming the
// trailing newline.
func readReply(conn net.Conn) (string, error) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("ctlclient: read reply: %w", err)
	}
	return strings.TrimRight(line, "\n"), nil
}

// replyError turns a non-OK reply line into an error, mirroring
// controlplane's "OK" vs "ERROR: ..." convention.
func replyError(line string) error {
	if line == "OK" {
		return nil
	}
	return fmt.Errorf("ctlclient: %s", strings.TrimPrefix(line, "ERROR: "))
}

// CreateRequest is the well-known create socket's request body.
type CreateRequest struct {
	CPU          uint32 `json:"cpu"`
	Name         string `json:"name"`
	FirmwarePath string `json:"firmware_path"`
}

// Create configures a new client (spec §6 "well-known create socket that
// accepts {cpu, name, firmware_path}").
func (c *Client) Create(ctx context.Context, req CreateRequest) error {
	conn, err := c.dial(ctx, "create")
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("ctlclient: encode create request: %w", err)
	}
	line, err := readReply(conn)
	if err != nil {
		return err
	}
	return replyError(line)
}

func (c *Client) verb(ctx context.Context, name, verb string) (string, error) {
	conn, err := c.dial(ctx, name)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", verb); err != nil {
		return "", fmt.Errorf("ctlclient: send %s: %w", verb, err)
	}
	return readReply(conn)
}

// Start boots a previously created client.
func (c *Client) Start(ctx context.Context, name string) error {
	line, err := c.verb(ctx, name, "start")
	if err != nil {
		return err
	}
	return replyError(line)
}

// Stop shuts a client down.
func (c *Client) Stop(ctx context.Context, name string) error {
	line, err := c.verb(ctx, name, "stop")
	if err != nil {
		return err
	}
	return replyError(line)
}

// Status returns the client's single-line status (spec §6 "reply with a
// single line"). Unlike Start/Stop, a successful call's reply line isn't
// the literal "OK" — it's the status text itself — so Status doesn't run
// it through replyError.
func (c *Client) Status(ctx context.Context, name string) (string, error) {
	line, err := c.verb(ctx, name, "status")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "ERROR") {
		return "", replyError(line)
	}
	return line, nil
}
