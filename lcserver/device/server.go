// Package device is a device executor: it powers a bus of block devices and
// serves register frames over TCP.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rarydzu/lcfs/lcfs/config"
	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/frame"
	"github.com/rarydzu/lcfs/lcserver/blockstore"
	"github.com/rarydzu/lcfs/lcserver/stripe"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const lockStripes = 64

// Counters of served requests.
type Counters struct {
	Frames   uint64
	Failures uint64
	Reads    uint64
	Writes   uint64
}

type Server struct {
	log     *zap.SugaredLogger
	store   *blockstore.BlockStore
	devices map[uint8]config.Device
	bitmap  uint16
	locks   *stripe.Locks

	mu       sync.Mutex
	powered  bool
	counters Counters
	conns    map[net.Conn]struct{}
}

// New creates an executor serving the given devices from store.
func New(devices []config.Device, store *blockstore.BlockStore, log *zap.SugaredLogger) (*Server, error) {
	s := &Server{
		log:     log,
		store:   store,
		devices: make(map[uint8]config.Device),
		conns:   make(map[net.Conn]struct{}),
		locks:   stripe.New(lockStripes),
	}
	for _, d := range devices {
		if d.ID >= devreg.MaxDevices {
			return nil, fmt.Errorf("device id %d out of range", d.ID)
		}
		if _, ok := s.devices[d.ID]; ok {
			return nil, fmt.Errorf("device %d defined twice", d.ID)
		}
		s.devices[d.ID] = d
		s.bitmap |= 1 << d.ID
	}
	return s, nil
}

// Serve accepts connections on ln until ctx is done or ln fails. Every
// connection is served by its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		s.closeConns()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %v", err)
			}
			s.track(conn, true)
			g.Go(func() error {
				defer s.track(conn, false)
				s.handle(conn)
				return nil
			})
		}
	})
	s.log.Infof("device bus listening on %s, devices bitmap %#04x", ln.Addr(), s.bitmap)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()
	s.log.Debugf("bus client %s connected", remote)
	raw := make([]byte, frame.Size)
	payload := make([]byte, frame.BlockSize)
	for {
		if _, err := io.ReadFull(conn, raw); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugf("bus client %s: %v", remote, err)
			}
			return
		}
		req := frame.FromBytes(raw)
		if req.IsWrite() {
			if _, err := io.ReadFull(conn, payload); err != nil {
				s.log.Debugf("bus client %s payload of %s: %v", remote, req, err)
				return
			}
		}
		resp := s.Execute(req, payload)
		s.log.Debugf("bus %s -> %s", req, resp)
		if _, err := conn.Write(resp.Bytes()); err != nil {
			s.log.Debugf("bus client %s: %v", remote, err)
			return
		}
		if req.IsRead() {
			if _, err := conn.Write(payload); err != nil {
				s.log.Debugf("bus client %s: %v", remote, err)
				return
			}
		}
		if req.Opcode() == frame.PowerOff {
			s.log.Debugf("bus client %s powered off", remote)
			return
		}
	}
}

// Execute runs one request. For block writes payload holds the data, for
// block reads it receives the block, zeroed when the read fails.
func (s *Server) Execute(req frame.Frame, payload []byte) frame.Frame {
	resp, err := s.execute(req, payload)
	s.mu.Lock()
	s.counters.Frames++
	if err != nil {
		s.counters.Failures++
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warnf("bus %s failed: %v", req, err)
		if req.IsRead() {
			for i := range payload {
				payload[i] = 0
			}
		}
		return frame.Response(req, false, req.Sector(), req.Block())
	}
	return resp
}

var (
	errPowered   = errors.New("bus is powered off")
	errUnknown   = errors.New("unknown device")
	errAddress   = errors.New("address out of range")
	errOpcode    = errors.New("unknown opcode")
	errDirection = errors.New("unknown transfer direction")
)

func (s *Server) execute(req frame.Frame, payload []byte) (frame.Frame, error) {
	s.mu.Lock()
	op := req.Opcode()
	if op == frame.PowerOn {
		s.powered = true
		s.mu.Unlock()
		return frame.Response(req, true, 0, 0), nil
	}
	powered := s.powered
	if powered && op == frame.PowerOff {
		s.powered = false
	}
	s.mu.Unlock()
	if !powered {
		return 0, errPowered
	}
	switch op {
	case frame.PowerOff:
		return frame.Response(req, true, 0, 0), nil
	case frame.DevProbe:
		return frame.Response(req, true, s.bitmap, 0), nil
	case frame.DevInit:
		d, ok := s.devices[req.Device()]
		if !ok {
			return 0, fmt.Errorf("device %d: %w", req.Device(), errUnknown)
		}
		return frame.Response(req, true, d.Sectors, d.Blocks), nil
	case frame.BlockXfer:
		return s.transfer(req, payload)
	}
	return 0, fmt.Errorf("%d: %w", op, errOpcode)
}

// transfer moves one block under its stripe lock.
func (s *Server) transfer(req frame.Frame, payload []byte) (frame.Frame, error) {
	d, ok := s.devices[req.Device()]
	if !ok {
		return 0, fmt.Errorf("device %d: %w", req.Device(), errUnknown)
	}
	addr := devreg.Address{Device: req.Device(), Sector: req.Sector(), Block: req.Block()}
	if addr.Sector >= d.Sectors || addr.Block >= d.Blocks {
		return 0, fmt.Errorf("%s: %w", addr, errAddress)
	}
	key := addr.Key()
	switch req.Direction() {
	case frame.XferWrite:
		s.locks.Lock(key)
		err := s.store.WriteBlock(addr, payload)
		s.locks.Unlock(key)
		if err != nil {
			s.log.Errorf("store write %s: %s", addr, tracerr.Sprint(err))
			return 0, err
		}
		s.count(&s.counters.Writes)
	case frame.XferRead:
		s.locks.RLock(key)
		data, err := s.store.ReadBlock(addr)
		s.locks.RUnlock(key)
		if err != nil {
			s.log.Errorf("store read %s: %s", addr, tracerr.Sprint(err))
			return 0, err
		}
		copy(payload, data)
		s.count(&s.counters.Reads)
	default:
		return 0, fmt.Errorf("%d: %w", req.Direction(), errDirection)
	}
	return frame.Response(req, true, req.Sector(), req.Block()), nil
}

func (s *Server) count(c *uint64) {
	s.mu.Lock()
	*c++
	s.mu.Unlock()
}

// Powered reports the bus power state.
func (s *Server) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

// Counters returns the request counters.
func (s *Server) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Bitmap returns the probe bitmap of the attached devices.
func (s *Server) Bitmap() uint16 {
	return s.bitmap
}
