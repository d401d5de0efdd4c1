package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func hold(l *Locks, d time.Duration, endSignal chan<- bool) {
	l.Lock(1)
	defer l.Unlock(1)
	l.Lock(2)
	defer l.Unlock(2)
	time.Sleep(d)
	endSignal <- true
}

func TestLocks(t *testing.T) {
	l := New(10)
	endSignal := make(chan bool, 1)
	go hold(l, 100*time.Millisecond, endSignal)
	select {
	case <-endSignal:
	case <-time.After(2 * time.Second):
		t.Error("locks not released")
	}
}

func TestSameStripeExcludes(t *testing.T) {
	l := New(4)
	l.Lock(3)
	acquired := make(chan struct{})
	go func() {
		// 7 % 4 == 3
		l.RLock(7)
		close(acquired)
		l.RUnlock(7)
	}()
	select {
	case <-acquired:
		t.Fatal("stripe shared by 3 and 7 was not exclusive")
	case <-time.After(50 * time.Millisecond):
	}
	l.Unlock(3)
	<-acquired

	// other stripes stay free
	l.Lock(0)
	l.RLock(1)
	l.RUnlock(1)
	l.Unlock(0)
	assert.Equal(t, uint64(4), l.size)
	assert.Equal(t, uint64(1), New(0).size)
}
