// Package blockstore keeps device blocks in one of several key-value
// engines. Every value is a CRC protected record.
package blockstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/ztrue/tracerr"
)

var (
	ErrNotFound = errors.New("block not found")
	ErrCorrupt  = errors.New("block record corrupt")
)

// Store is a key-value engine holding encoded records.
type Store interface {
	Get(key uint64) ([]byte, error)
	Set(key uint64, value []byte) error
	Delete(key uint64) error
	Close() error
}

// BlockStore stores 256-byte blocks on top of a Store.
type BlockStore struct {
	Store
	blockSize int
}

func NewBlockStore(store Store, blockSize int) *BlockStore {
	return &BlockStore{Store: store, blockSize: blockSize}
}

// Open creates the named engine. Persistent engines keep their files
// under path.
func Open(kind, path string) (*BlockStore, error) {
	var (
		s   Store
		err error
	)
	if kind != "memory" {
		if path == "" {
			return nil, fmt.Errorf("%s store needs a path", kind)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
	}
	switch kind {
	case "memory":
		s = NewMemory()
	case "badger":
		s, err = NewBadger(path)
	case "leveldb":
		s, err = NewLevelDB(path)
	case "nutsdb":
		s, err = NewNutsDB(path)
	default:
		return nil, fmt.Errorf("unknown block store %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %v", kind, err)
	}
	return NewBlockStore(s, 256), nil
}

// ReadBlock returns the block at addr. Blocks never written read as zeros.
func (bs *BlockStore) ReadBlock(addr devreg.Address) ([]byte, error) {
	data, err := bs.Store.Get(addr.Key())
	if errors.Is(err, ErrNotFound) {
		return make([]byte, bs.blockSize), nil
	}
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	r := &Record{}
	if err := r.Decode(data); err != nil {
		return nil, fmt.Errorf("block %s: %w", addr, err)
	}
	if r.Key != addr.Key() || len(r.Value) != bs.blockSize {
		return nil, fmt.Errorf("block %s holds record of %s with %d bytes: %w",
			addr, devreg.AddressFromKey(r.Key), len(r.Value), ErrCorrupt)
	}
	return r.Value, nil
}

// WriteBlock stores data at addr. An all zero block is dropped from the
// engine since it reads back the same.
func (bs *BlockStore) WriteBlock(addr devreg.Address, data []byte) error {
	if len(data) != bs.blockSize {
		return fmt.Errorf("block %s with %d bytes", addr, len(data))
	}
	if isZero(data) {
		if err := bs.Store.Delete(addr.Key()); err != nil && !errors.Is(err, ErrNotFound) {
			return tracerr.Wrap(err)
		}
		return nil
	}
	if err := bs.Store.Set(addr.Key(), NewRecord(addr.Key(), data).Encode()); err != nil {
		return tracerr.Wrap(err)
	}
	return nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
