package blockstore

import (
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/rarydzu/lcfs/utils"
)

// Badger keeps records in a badger database. An empty path keeps the
// database in memory.
type Badger struct {
	db *badger.DB
}

func NewBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(key uint64) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(utils.Uint64ToBytes(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (b *Badger) Set(key uint64, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(utils.Uint64ToBytes(key), value)
	})
}

func (b *Badger) Delete(key uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(utils.Uint64ToBytes(key))
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}
