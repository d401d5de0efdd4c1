package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rarydzu/lcfs/lcfs/frame"
	"github.com/rarydzu/lcfs/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBus answers every request with a success response and echoes the
// last written block on reads.
type fakeBus struct {
	ln       net.Listener
	accepted chan struct{}
	received chan frame.Frame
}

func newFakeBus(t *testing.T) *fakeBus {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b := &fakeBus{
		ln:       ln,
		accepted: make(chan struct{}, 16),
		received: make(chan frame.Frame, 64),
	}
	go b.serve()
	t.Cleanup(func() { ln.Close() })
	return b
}

func (b *fakeBus) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.accepted <- struct{}{}
		go b.handle(conn)
	}
}

func (b *fakeBus) handle(conn net.Conn) {
	defer conn.Close()
	last := make([]byte, frame.BlockSize)
	raw := make([]byte, frame.Size)
	for {
		if _, err := io.ReadFull(conn, raw); err != nil {
			return
		}
		req := frame.FromBytes(raw)
		b.received <- req
		if req.IsWrite() {
			if _, err := io.ReadFull(conn, last); err != nil {
				return
			}
		}
		resp := frame.Response(req, true, req.Sector(), req.Block())
		if req.Opcode() == frame.DevProbe {
			resp = frame.Response(req, true, 0x5, 0)
		}
		if _, err := conn.Write(resp.Bytes()); err != nil {
			return
		}
		if req.IsRead() {
			if _, err := conn.Write(last); err != nil {
				return
			}
		}
		if req.Opcode() == frame.PowerOff {
			return
		}
	}
}

func newTestClient(t *testing.T, addr string) *Client {
	c := New(addr, time.Second, zap.NewNop().Sugar())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLazyConnect(t *testing.T) {
	bus := newFakeBus(t)
	c := newTestClient(t, bus.ln.Addr().String())
	assert.Equal(t, Disconnected, c.State())

	resp, err := c.Send(context.Background(), frame.NewPowerOn(), nil)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.PowerOn))
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, frame.NewPowerOn(), <-bus.received)

	resp, err = c.Send(context.Background(), frame.NewProbe(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x5), resp.Sector())
	assert.Len(t, bus.accepted, 1)
}

func TestBlockTransfer(t *testing.T) {
	bus := newFakeBus(t)
	c := newTestClient(t, bus.ln.Addr().String())
	ctx := context.Background()

	payload := utils.Pattern(0, frame.BlockSize)
	resp, err := c.Send(ctx, frame.NewXfer(1, frame.XferWrite, 2, 3), payload)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.BlockXfer))

	buf := make([]byte, frame.BlockSize)
	resp, err = c.Send(ctx, frame.NewXfer(1, frame.XferRead, 2, 3), buf)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.BlockXfer))
	assert.Equal(t, payload, buf)
}

func TestPayloadSize(t *testing.T) {
	c := newTestClient(t, "127.0.0.1:1")
	_, err := c.Send(context.Background(), frame.NewXfer(0, frame.XferWrite, 0, 0), make([]byte, 10))
	assert.True(t, errors.Is(err, ErrPayloadSize))
	assert.Equal(t, Disconnected, c.State())
}

func TestPowerOffDisconnects(t *testing.T) {
	bus := newFakeBus(t)
	c := newTestClient(t, bus.ln.Addr().String())
	ctx := context.Background()

	_, err := c.Send(ctx, frame.NewPowerOn(), nil)
	require.NoError(t, err)
	resp, err := c.Send(ctx, frame.NewPowerOff(), nil)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.PowerOff))
	assert.Equal(t, Disconnected, c.State())

	// next request dials again
	_, err = c.Send(ctx, frame.NewPowerOn(), nil)
	require.NoError(t, err)
	assert.Equal(t, Connected, c.State())
	assert.Len(t, bus.accepted, 2)
}

func TestConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(t, addr)
	_, err = c.Send(context.Background(), frame.NewPowerOn(), nil)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Equal(t, Disconnected, c.State())
}

func TestShortResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		raw := make([]byte, frame.Size)
		io.ReadFull(conn, raw)
		conn.Write(raw[:3])
		conn.Close()
	}()

	c := newTestClient(t, ln.Addr().String())
	_, err = c.Send(context.Background(), frame.NewPowerOn(), nil)
	assert.True(t, errors.Is(err, ErrIO))
}
