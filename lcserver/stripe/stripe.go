// Package stripe hands out read-write locks by key from a fixed pool.
package stripe

import "sync"

type Locks struct {
	locks []sync.RWMutex
	size  uint64
}

func New(size uint64) *Locks {
	if size == 0 {
		size = 1
	}
	return &Locks{
		locks: make([]sync.RWMutex, size),
		size:  size,
	}
}

func (l *Locks) Lock(key uint64) {
	l.locks[key%l.size].Lock()
}

func (l *Locks) Unlock(key uint64) {
	l.locks[key%l.size].Unlock()
}

func (l *Locks) RLock(key uint64) {
	l.locks[key%l.size].RLock()
}

func (l *Locks) RUnlock(key uint64) {
	l.locks[key%l.size].RUnlock()
}
