package blockstore

import (
	"strings"

	"github.com/nutsdb/nutsdb"
	"github.com/rarydzu/lcfs/utils"
)

const (
	bucket      = "blocks"
	segmentSize = 8 << 20
)

// NutsDB keeps records in a nutsdb bucket.
type NutsDB struct {
	db *nutsdb.DB
}

func NewNutsDB(path string) (*NutsDB, error) {
	db, err := nutsdb.Open(nutsdb.DefaultOptions,
		nutsdb.WithDir(path),
		nutsdb.WithSegmentSize(segmentSize),
	)
	if err != nil {
		return nil, err
	}
	return &NutsDB{db: db}, nil
}

func missing(err error) bool {
	return nutsdb.IsBucketNotFound(err) || strings.Contains(err.Error(), "not found")
}

func (n *NutsDB) Get(key uint64) ([]byte, error) {
	var value []byte
	err := n.db.View(func(tx *nutsdb.Tx) error {
		e, err := tx.Get(bucket, utils.Uint64ToBytes(key))
		if err != nil {
			return err
		}
		value = append([]byte(nil), e.Value...)
		return nil
	})
	if err != nil {
		if missing(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (n *NutsDB) Set(key uint64, value []byte) error {
	return n.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucket, utils.Uint64ToBytes(key), value, 0)
	})
}

func (n *NutsDB) Delete(key uint64) error {
	err := n.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Delete(bucket, utils.Uint64ToBytes(key))
	})
	if err != nil && missing(err) {
		return nil
	}
	return err
}

func (n *NutsDB) Close() error {
	return n.db.Close()
}
