// Package lcfs is a flat filesystem stored in 256-byte blocks on devices
// reached through a register frame bus.
package lcfs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/lcfs/lcfs/blockcache"
	"github.com/rarydzu/lcfs/lcfs/config"
	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/filetable"
	"github.com/rarydzu/lcfs/lcfs/frame"
	"go.uber.org/zap"
)

// Bus carries one request frame and its payload to the devices.
type Bus interface {
	Send(ctx context.Context, req frame.Frame, buf []byte) (frame.Frame, error)
}

// Stats is a snapshot of the filesystem state.
type Stats struct {
	Session      string
	Bootstrapped bool
	Cache        blockcache.Stats
	CachedBlocks int
	CacheSize    int
	Devices      []devreg.Device
	TotalBlocks  uint64
	UnusedBlocks uint64
	OpenFiles    []filetable.FileInfo
}

type Lcfs struct {
	log            *zap.SugaredLogger
	bus            Bus
	cacheCapacity  int
	requestTimeout time.Duration
	Clock          timeutil.Clock

	// guards everything below
	mu           sync.Mutex
	bootstrapped bool
	session      string
	registry     *devreg.Registry
	cache        *blockcache.CacheTable
	files        *filetable.Table
}

// New creates a filesystem talking to the devices through bus. The bus is
// not touched until the first Open.
func New(cfg *config.Config, bus Bus, log *zap.SugaredLogger) *Lcfs {
	return &Lcfs{
		log:            log,
		bus:            bus,
		cacheCapacity:  cfg.CacheCapacity,
		requestTimeout: cfg.RequestTimeout,
		Clock:          timeutil.RealClock(),
	}
}

// send issues one request and checks that the bus answered it successfully.
func (fs *Lcfs) send(ctx context.Context, req frame.Frame, buf []byte) (frame.Frame, error) {
	if fs.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fs.requestTimeout)
		defer cancel()
	}
	resp, err := fs.bus.Send(ctx, req, buf)
	if err != nil {
		return 0, err
	}
	if !resp.Succeeded(req.Opcode()) {
		return resp, fmt.Errorf("%s answered with %s: %w", req, resp, ErrDeviceFailure)
	}
	return resp, nil
}

// bootstrap powers the bus on, discovers the devices and starts a session.
func (fs *Lcfs) bootstrap(ctx context.Context) error {
	if fs.bootstrapped {
		return nil
	}
	if _, err := fs.send(ctx, frame.NewPowerOn(), nil); err != nil {
		return fmt.Errorf("power on: %w", err)
	}
	resp, err := fs.send(ctx, frame.NewProbe(), nil)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	registry := devreg.New()
	ids := registry.Discover(resp.Sector())
	for _, id := range ids {
		resp, err := fs.send(ctx, frame.NewDevInit(id), nil)
		if err != nil {
			return fmt.Errorf("init device %d: %w", id, err)
		}
		if err := registry.InitGeometry(id, resp.Sector(), resp.Block()); err != nil {
			return fmt.Errorf("init device %d: %v: %w", id, err, ErrDeviceFailure)
		}
		fs.log.Debugf("device %d: %d sectors x %d blocks", id, resp.Sector(), resp.Block())
	}
	fs.registry = registry
	fs.cache = blockcache.New(fs.cacheCapacity)
	fs.files = filetable.New(&cachedBlocks{fs: fs}, registry, fs.Clock, fs.log)
	fs.session = uuid.NewString()
	fs.bootstrapped = true
	fs.log.Infof("session %s started with devices %v, cache of %d blocks", fs.session, ids, fs.cacheCapacity)
	return nil
}

// Shutdown ends the session: the cache is dropped, the bus is powered off
// and every file is forgotten without reclaiming its blocks. A later Open
// starts a new session.
func (fs *Lcfs) Shutdown(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return nil
	}
	stats := fs.cache.Close()
	fs.log.Infof("session %s cache %s", fs.session, stats)
	n := fs.files.CloseAll()
	_, err := fs.send(ctx, frame.NewPowerOff(), nil)
	fs.log.Infof("session %s shut down, %d files dropped", fs.session, n)
	fs.bootstrapped = false
	fs.session = ""
	fs.registry = nil
	fs.cache = nil
	fs.files = nil
	if err != nil {
		return fmt.Errorf("power off: %w", err)
	}
	return nil
}

// Stats returns a snapshot of cache and device usage.
func (fs *Lcfs) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	s := Stats{
		Session:      fs.session,
		Bootstrapped: fs.bootstrapped,
		CacheSize:    fs.cacheCapacity,
	}
	if !fs.bootstrapped {
		return s
	}
	s.Cache = fs.cache.Stats()
	s.CachedBlocks = fs.cache.Len()
	s.Devices = fs.registry.Devices()
	s.TotalBlocks, s.UnusedBlocks = fs.registry.Capacity()
	s.OpenFiles = fs.files.List()
	return s
}

// Session returns the id of the running session, empty before bootstrap.
func (fs *Lcfs) Session() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.session
}
