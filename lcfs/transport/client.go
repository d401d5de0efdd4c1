// Package transport is the client side of the device bus: one lazily opened
// byte stream carrying frames and block payloads in network byte order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rarydzu/lcfs/lcfs/frame"
	"go.uber.org/zap"
)

var (
	ErrConnection  = errors.New("bus connection failed")
	ErrIO          = errors.New("bus i/o failed")
	ErrPayloadSize = errors.New("block payload must be 256 bytes")
)

// State of the bus connection.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Client sends register frames to a device executor.
type Client struct {
	address     string
	dialTimeout time.Duration
	log         *zap.SugaredLogger

	mu    sync.Mutex
	conn  net.Conn
	state State
}

// New creates a client for the executor listening on address. Nothing is
// dialed until the first request.
func New(address string, dialTimeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		address:     address,
		dialTimeout: dialTimeout,
		log:         log,
		state:       Disconnected,
	}
}

// Address returns the executor endpoint.
func (c *Client) Address() string {
	return c.address
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.state == Connected {
		return nil
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("dial %s: %v: %w", c.address, err, ErrConnection)
	}
	c.log.Debugf("connected to device bus %s", c.address)
	c.conn = conn
	c.state = Connected
	return nil
}

// Send issues req and returns the response frame. For block writes buf is
// the payload sent after the frame; for block reads the payload following
// the response is stored in buf. buf is ignored for other opcodes.
func (c *Client) Send(ctx context.Context, req frame.Frame, buf []byte) (frame.Frame, error) {
	if (req.IsWrite() || req.IsRead()) && len(buf) != frame.BlockSize {
		return 0, fmt.Errorf("%s with %d bytes: %w", req, len(buf), ErrPayloadSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(ctx); err != nil {
		return 0, err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set deadline: %v: %w", err, ErrConnection)
	}

	if err := c.write(req.Bytes()); err != nil {
		return 0, fmt.Errorf("send %s: %w", req, err)
	}
	if req.IsWrite() {
		if err := c.write(buf); err != nil {
			return 0, fmt.Errorf("send payload of %s: %w", req, err)
		}
	}
	var raw [frame.Size]byte
	if err := c.read(raw[:]); err != nil {
		return 0, fmt.Errorf("receive response to %s: %w", req, err)
	}
	resp := frame.FromBytes(raw[:])
	if req.IsRead() {
		if err := c.read(buf); err != nil {
			return 0, fmt.Errorf("receive payload of %s: %w", req, err)
		}
	}
	c.log.Debugf("bus %s -> %s", req, resp)

	if req.Opcode() == frame.PowerOff {
		c.disconnect()
	}
	return resp, nil
}

func (c *Client) write(b []byte) error {
	n, err := c.conn.Write(b)
	if err != nil {
		return fmt.Errorf("wrote %d of %d bytes: %v: %w", n, len(b), err, ErrIO)
	}
	if n != len(b) {
		return fmt.Errorf("short write %d of %d bytes: %w", n, len(b), ErrIO)
	}
	return nil
}

func (c *Client) read(b []byte) error {
	n, err := io.ReadFull(c.conn, b)
	if err != nil {
		return fmt.Errorf("read %d of %d bytes: %v: %w", n, len(b), err, ErrIO)
	}
	return nil
}

func (c *Client) disconnect() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Warnf("closing bus connection: %v", err)
		}
	}
	c.conn = nil
	c.state = Disconnected
}

// Close drops the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connected {
		c.disconnect()
	}
	return nil
}
