package device

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rarydzu/lcfs/lcfs/config"
	"github.com/rarydzu/lcfs/lcfs/frame"
	"github.com/rarydzu/lcfs/lcfs/transport"
	"github.com/rarydzu/lcfs/lcserver/blockstore"
	"github.com/rarydzu/lcfs/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testDevices = []config.Device{
	{ID: 1, Sectors: 2, Blocks: 4},
	{ID: 4, Sectors: 3, Blocks: 2},
}

func startServer(t *testing.T) (*Server, *transport.Client) {
	log := zap.NewNop().Sugar()
	s, err := New(testDevices, blockstore.NewBlockStore(blockstore.NewMemory(), frame.BlockSize), log)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	c := transport.New(ln.Addr().String(), time.Second, log)
	t.Cleanup(func() {
		c.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return s, c
}

func TestPowerAndProbe(t *testing.T) {
	s, c := startServer(t)
	ctx := context.Background()

	resp, err := c.Send(ctx, frame.NewProbe(), nil)
	require.NoError(t, err)
	assert.False(t, resp.Succeeded(frame.DevProbe))

	resp, err = c.Send(ctx, frame.NewPowerOn(), nil)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.PowerOn))
	assert.True(t, s.Powered())

	resp, err = c.Send(ctx, frame.NewProbe(), nil)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.DevProbe))
	assert.Equal(t, uint16(0x12), resp.Sector())

	resp, err = c.Send(ctx, frame.NewDevInit(4), nil)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.DevInit))
	assert.Equal(t, uint16(3), resp.Sector())
	assert.Equal(t, uint16(2), resp.Block())

	resp, err = c.Send(ctx, frame.NewDevInit(2), nil)
	require.NoError(t, err)
	assert.False(t, resp.Succeeded(frame.DevInit))

	resp, err = c.Send(ctx, frame.NewPowerOff(), nil)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.PowerOff))
	assert.False(t, s.Powered())
	assert.Equal(t, transport.Disconnected, c.State())
}

func TestTransfer(t *testing.T) {
	s, c := startServer(t)
	ctx := context.Background()
	_, err := c.Send(ctx, frame.NewPowerOn(), nil)
	require.NoError(t, err)

	buf := make([]byte, frame.BlockSize)
	resp, err := c.Send(ctx, frame.NewXfer(1, frame.XferRead, 1, 3), buf)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.BlockXfer))
	assert.Equal(t, make([]byte, frame.BlockSize), buf)

	data := utils.Pattern(3, frame.BlockSize)
	resp, err = c.Send(ctx, frame.NewXfer(1, frame.XferWrite, 1, 3), data)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.BlockXfer))

	resp, err = c.Send(ctx, frame.NewXfer(1, frame.XferRead, 1, 3), buf)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.BlockXfer))
	assert.Equal(t, data, buf)

	// out of range transfers fail but keep the stream in sync
	resp, err = c.Send(ctx, frame.NewXfer(1, frame.XferRead, 2, 0), buf)
	require.NoError(t, err)
	assert.False(t, resp.Succeeded(frame.BlockXfer))
	assert.Equal(t, make([]byte, frame.BlockSize), buf)
	resp, err = c.Send(ctx, frame.NewXfer(7, frame.XferWrite, 0, 0), data)
	require.NoError(t, err)
	assert.False(t, resp.Succeeded(frame.BlockXfer))

	resp, err = c.Send(ctx, frame.NewXfer(1, frame.XferRead, 1, 3), buf)
	require.NoError(t, err)
	assert.True(t, resp.Succeeded(frame.BlockXfer))
	assert.Equal(t, data, buf)

	counters := s.Counters()
	assert.Equal(t, uint64(7), counters.Frames)
	assert.Equal(t, uint64(2), counters.Failures)
	assert.Equal(t, uint64(1), counters.Writes)
	assert.Equal(t, uint64(3), counters.Reads)
}

func TestExecuteUnknownOpcode(t *testing.T) {
	s, _ := startServer(t)
	payload := make([]byte, frame.BlockSize)
	s.Execute(frame.NewPowerOn(), payload)
	resp := s.Execute(frame.Pack(0, 0, 9, 0, 0, 0, 0), payload)
	assert.Equal(t, uint8(1), resp.B0())
	assert.Equal(t, uint8(0), resp.B1())
	resp = s.Execute(frame.Pack(0, 0, uint64(frame.BlockXfer), 1, 5, 0, 0), payload)
	assert.False(t, resp.Succeeded(frame.BlockXfer))
}

func TestNewRejectsDuplicates(t *testing.T) {
	store := blockstore.NewBlockStore(blockstore.NewMemory(), frame.BlockSize)
	_, err := New([]config.Device{{ID: 1, Sectors: 1, Blocks: 1}, {ID: 1, Sectors: 1, Blocks: 1}}, store, zap.NewNop().Sugar())
	assert.Error(t, err)
	_, err = New([]config.Device{{ID: 16, Sectors: 1, Blocks: 1}}, store, zap.NewNop().Sugar())
	assert.Error(t, err)
}
