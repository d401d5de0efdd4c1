package processor

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type Caller struct {
	calls []string
}

func (c *Caller) Op(name string) func() error {
	return func() error {
		c.calls = append(c.calls, name)
		return nil
	}
}

func (c *Caller) Fail() error {
	c.calls = append(c.calls, "fail")
	return fmt.Errorf("operation failed")
}

func newProcessor(t *testing.T) *Processor {
	logger, err := zap.NewDevelopment()
	assert.NoError(t, err)
	return New(time.Minute*1, logger.Sugar())
}

func TestProcessStopSignal(t *testing.T) {
	c := &Caller{}
	p := newProcessor(t)
	assert.NoError(t, p.Register(Shutdown, "b-bus", c.Op("bus")))
	assert.NoError(t, p.Register(Shutdown, "a-failed", c.Fail))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.wg.Add(1)
	p.processStopSignal(ctx, cancel)
	// a failing operation does not stop the sequence
	assert.Equal(t, []string{"fail", "bus"}, c.calls)
}

func TestProcessReloadSignal(t *testing.T) {
	c := &Caller{}
	p := newProcessor(t)
	assert.NoError(t, p.Register(Reload, "flip", c.Op("flip")))
	ctx, cancel := context.WithCancel(context.Background())
	tf := time.AfterFunc(1*time.Second, func() {
		cancel()
	})
	defer tf.Stop()
	signal.Notify(p.rChan, syscall.SIGHUP)
	syscall.Kill(syscall.Getpid(), syscall.SIGHUP)
	p.wg.Add(1)
	p.processReloadSignal(ctx, context.CancelFunc(func() {}))
	assert.Equal(t, []string{"flip"}, c.calls)
}

func TestRunStopsWithContext(t *testing.T) {
	c := &Caller{}
	p := newProcessor(t)
	assert.NoError(t, p.Register(Shutdown, "bus", c.Op("bus")))
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, p.Run(ctx))
	cancel()
	p.Wait()
	assert.Equal(t, []string{"bus"}, c.calls)
}

func TestForcedExit(t *testing.T) {
	p := newProcessor(t)
	p.ForceShutdownTimeout = 10 * time.Millisecond
	exited := make(chan int, 1)
	p.exit = func(code int) { exited <- code }
	release := make(chan struct{})
	assert.NoError(t, p.Register(Shutdown, "stuck", func() error {
		<-release
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.wg.Add(1)
	go p.processStopSignal(ctx, cancel)
	assert.Equal(t, 1, <-exited)
	close(release)
	p.Wait()
}

func TestProcessRegister(t *testing.T) {
	c := &Caller{}
	p := newProcessor(t)
	assert.NoError(t, p.Register(Reload, "flip", c.Op("flip")))
	assert.NoError(t, p.Register(Shutdown, "flip", c.Op("flip")))
	assert.Error(t, p.Register("foo", "flip", c.Op("flip")))
	p.Reload()
	assert.Equal(t, []string{"flip"}, c.calls)
}
