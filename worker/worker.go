package worker

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/rarydzu/lcfs/lcfs"
	"github.com/rarydzu/lcfs/lcfs/config"
	"github.com/rarydzu/lcfs/lcfs/transport"
	"github.com/rarydzu/lcfs/lcserver/blockstore"
	"github.com/rarydzu/lcfs/lcserver/device"
	"github.com/rarydzu/lcfs/lcserver/stat"
	"github.com/rarydzu/lcfs/processor"
	"github.com/rarydzu/lcfs/workload"
	"go.uber.org/zap"
)

type Worker struct {
	active bool
	sync.RWMutex
	Processor *processor.Processor
	log       *zap.SugaredLogger
	cfg       *config.Config
	bus       *transport.Client
	fs        *lcfs.Lcfs
	stat      *stat.Server
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*Worker, error) {
	w := &Worker{
		log: log,
		cfg: &config.Config{},
	}
	if err := copier.CopyWithOption(w.cfg, cfg, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	if err := w.cfg.Validate(); err != nil {
		return nil, err
	}
	w.bus = transport.New(w.cfg.Address(), w.cfg.DialTimeout, log)
	w.fs = lcfs.New(w.cfg, w.bus, log)
	return w, nil
}

// FS returns the filesystem driven by the worker.
func (w *Worker) FS() *lcfs.Lcfs {
	return w.fs
}

// Start wires the shutdown hooks and the stat service. Shutdown runs on a
// signal or once ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.Lock()
	defer w.Unlock()
	if w.active {
		return fmt.Errorf("Worker already active")
	}
	w.active = true
	w.Processor = processor.New(w.cfg.ShutdownTimeout, w.log)
	if err := w.Processor.Register(processor.Shutdown, "filesystem", w.shutdownFS); err != nil {
		return err
	}
	if err := w.Processor.Register(processor.Reload, "stats", w.logStats); err != nil {
		return err
	}
	if w.cfg.StatAddress != "" {
		lis, err := net.Listen("tcp", w.cfg.StatAddress)
		if err != nil {
			return fmt.Errorf("stat listen %s: %v", w.cfg.StatAddress, err)
		}
		w.stat = stat.New(w.fs, w.log)
		go func() {
			if err := w.stat.Serve(lis); err != nil {
				w.log.Errorf("stat service: %v", err)
			}
		}()
		if err := w.Processor.Register(processor.Shutdown, "stat", w.stopStat); err != nil {
			return err
		}
	}
	return w.Processor.Run(ctx)
}

// Run replays ops on the filesystem.
func (w *Worker) Run(ctx context.Context, ops []workload.Op) (workload.Summary, error) {
	return workload.NewRunner(w.fs, w.log).Run(ctx, ops)
}

func (w *Worker) shutdownFS() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
	defer cancel()
	err := w.fs.Shutdown(ctx)
	if cerr := w.bus.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (w *Worker) stopStat() error {
	w.stat.Stop()
	return nil
}

func (w *Worker) logStats() error {
	s := w.fs.Stats()
	w.log.Infof("session %q cache %s, %d of %d blocks unused, %d files open",
		s.Session, s.Cache, s.UnusedBlocks, s.TotalBlocks, len(s.OpenFiles))
	return nil
}

func (w *Worker) Wait() {
	w.RLock()
	p := w.Processor
	w.RUnlock()
	if p != nil {
		p.Wait()
	}
}

// Daemon runs the device executor until a signal arrives or ctx is done.
type Daemon struct {
	Processor *processor.Processor
	log       *zap.SugaredLogger
	cfg       *config.Config
	store     *blockstore.BlockStore
	server    *device.Server
}

func NewDaemon(cfg *config.Config, log *zap.SugaredLogger) (*Daemon, error) {
	d := &Daemon{
		log: log,
		cfg: &config.Config{},
	}
	if err := copier.CopyWithOption(d.cfg, cfg, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := blockstore.Open(d.cfg.Server.Store, d.cfg.Server.StorePath)
	if err != nil {
		return nil, err
	}
	server, err := device.New(d.cfg.Server.Devices, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	d.store = store
	d.server = server
	return d, nil
}

// Server returns the executor served by the daemon.
func (d *Daemon) Server() *device.Server {
	return d.server
}

// Serve listens on the configured address and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", d.cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("listen %s: %v", d.cfg.ListenAddress(), err)
	}
	return d.ServeListener(ctx, lis)
}

// ServeListener serves the executor on lis until a signal arrives or ctx
// is done, then closes the block store.
func (d *Daemon) ServeListener(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.Processor = processor.New(d.cfg.ShutdownTimeout, d.log)
	if err := d.Processor.Register(processor.Shutdown, "device bus", func() error {
		cancel()
		return nil
	}); err != nil {
		return err
	}
	if err := d.Processor.Register(processor.Reload, "counters", func() error {
		c := d.server.Counters()
		d.log.Infof("bus served %d frames, %d failed, %d reads, %d writes", c.Frames, c.Failures, c.Reads, c.Writes)
		return nil
	}); err != nil {
		return err
	}
	if err := d.Processor.Run(ctx); err != nil {
		return err
	}
	err := d.server.Serve(ctx, lis)
	cancel()
	d.Processor.Wait()
	if cerr := d.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
