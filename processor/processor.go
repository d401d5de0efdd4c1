package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	Reload   = "reload"
	Shutdown = "shutdown"
)

type Processor struct {
	ForceShutdownTimeout time.Duration // force shudown timeout
	rChan                chan os.Signal
	shutOps              map[string]func() error
	reloadOps            map[string]func() error
	wg                   sync.WaitGroup
	mu                   sync.Mutex
	log                  *zap.SugaredLogger
	exit                 func(code int)
}

// New - creates new processor
func New(timeout time.Duration, log *zap.SugaredLogger) *Processor {
	return &Processor{
		ForceShutdownTimeout: timeout,
		rChan:                make(chan os.Signal, 1),
		shutOps:              map[string]func() error{},
		reloadOps:            map[string]func() error{},
		log:                  log,
		exit:                 os.Exit,
	}
}

// Run assigns signals and starts processing. Shutdown operations run on
// SIGINT, SIGTERM or when ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	p.spinup(ctx)
	return nil
}

// spinup - assigns signals to proper process... calls
func (p *Processor) spinup(parent context.Context) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(p.rChan, syscall.SIGHUP)
	ctxReload, cancel := context.WithCancel(context.Background())
	p.wg.Add(2)
	go p.processReloadSignal(ctxReload, stop)
	go p.processStopSignal(ctx, cancel)
}

// processReloadSignal reload all operations assigned to Reload
func (p *Processor) processReloadSignal(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.log.Infof("shutdown reload")
			signal.Stop(p.rChan)
			cancel() // release the stop signal context
			return
		case <-p.rChan:
			p.callProcess(p.ops(Reload), Reload)
		}
	}
}

// processStopSignal executes Shutdown and forces exit after ForceShutdownTimeout
func (p *Processor) processStopSignal(ctx context.Context, cancel context.CancelFunc) {
	defer p.wg.Done()
	<-ctx.Done()
	tF := time.AfterFunc(p.ForceShutdownTimeout, func() {
		p.log.Warnf("timeout %d ms has been elapsed, force exit, bus may still be powered", p.ForceShutdownTimeout.Milliseconds())
		p.exit(1)
	})
	defer tF.Stop()
	p.Shutdown()
	cancel() // cancel processReloadSignal
}

// callProcess runs the operations in name order
func (p *Processor) callProcess(oper map[string]func() error, process string) {
	names := make([]string, 0, len(oper))
	for key := range oper {
		names = append(names, key)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := oper[name](); err != nil {
			p.log.Warnf("%s %s: failed (%s)", process, name, err.Error())
			continue
		}
		p.log.Infof("%s %s: succeeded", process, name)
	}
	p.log.Infof("%s sequence completed", process)
}

func (p *Processor) ops(process string) map[string]func() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.shutOps
	if process == Reload {
		src = p.reloadOps
	}
	out := make(map[string]func() error, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Register register shutdown and reload operation
func (p *Processor) Register(process, operationName string, operationFunction func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch process {
	case Shutdown:
		p.shutOps[operationName] = operationFunction
	case Reload:
		p.reloadOps[operationName] = operationFunction
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Shutdown - runs all shutdown operations
func (p *Processor) Shutdown() {
	p.callProcess(p.ops(Shutdown), Shutdown)
}

// Reload - runs all reload operations
func (p *Processor) Reload() {
	p.callProcess(p.ops(Reload), Reload)
}

func (p *Processor) Wait() {
	p.wg.Wait()
}
