package lcfs

import (
	"context"
	"fmt"

	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/frame"
)

// cachedBlocks moves blocks through the cache. Writes go to the cache and
// the device synchronously, reads only reach the device on a miss.
type cachedBlocks struct {
	fs *Lcfs
}

func (b *cachedBlocks) ReadBlock(ctx context.Context, addr devreg.Address, buf []byte) error {
	if data, ok := b.fs.cache.Get(addr); ok {
		copy(buf, data)
		return nil
	}
	req := frame.NewXfer(addr.Device, frame.XferRead, addr.Sector, addr.Block)
	if _, err := b.fs.send(ctx, req, buf); err != nil {
		return fmt.Errorf("read block %s: %w", addr, err)
	}
	return b.fs.cache.Put(addr, buf)
}

func (b *cachedBlocks) WriteBlock(ctx context.Context, addr devreg.Address, data []byte) error {
	req := frame.NewXfer(addr.Device, frame.XferWrite, addr.Sector, addr.Block)
	if _, err := b.fs.send(ctx, req, data); err != nil {
		return fmt.Errorf("write block %s: %w", addr, err)
	}
	return b.fs.cache.Put(addr, data)
}
