package blockstore

import (
	"errors"

	"github.com/rarydzu/lcfs/utils"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB keeps records in a goleveldb database. An empty path keeps the
// database in memory.
type LevelDB struct {
	db *leveldb.DB
}

func NewLevelDB(path string) (*LevelDB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key uint64) ([]byte, error) {
	value, err := l.db.Get(utils.Uint64ToBytes(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (l *LevelDB) Set(key uint64, value []byte) error {
	return l.db.Put(utils.Uint64ToBytes(key), value, nil)
}

func (l *LevelDB) Delete(key uint64) error {
	return l.db.Delete(utils.Uint64ToBytes(key), nil)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
