package blockcache

import "github.com/rarydzu/lcfs/lcfs/devreg"

type CacheItem struct {
	// addr identifies the cached block
	Addr devreg.Address
	// data is a private copy of the block payload
	Data []byte
	// lastUsed is the cache clock value of the last put or hit
	LastUsed uint64
	// accessCount is number of hits served from this slot
	AccessCount uint64
}

// NewCacheItem creates new cache item holding a copy of data
func NewCacheItem(addr devreg.Address, data []byte, clock uint64) *CacheItem {
	return &CacheItem{
		Addr:     addr,
		Data:     copyBlock(data),
		LastUsed: clock,
	}
}

// GetData returns a copy of the cached payload and records the access
func (item *CacheItem) GetData(clock uint64) []byte {
	item.LastUsed = clock
	item.AccessCount++
	return copyBlock(item.Data)
}

// SetData replaces the payload in place
func (item *CacheItem) SetData(data []byte, clock uint64) {
	copy(item.Data, data)
	item.LastUsed = clock
}

// Reset reuses the slot for another block
func (item *CacheItem) Reset(addr devreg.Address, data []byte, clock uint64) {
	item.Addr = addr
	copy(item.Data, data)
	item.LastUsed = clock
	item.AccessCount = 0
}

func copyBlock(data []byte) []byte {
	b := make([]byte, len(data))
	copy(b, data)
	return b
}
