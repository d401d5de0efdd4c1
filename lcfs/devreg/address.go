package devreg

import (
	"fmt"

	"github.com/rarydzu/lcfs/utils"
)

// Address identifies one 256-byte block on the bus.
type Address struct {
	Device uint8
	Sector uint16
	Block  uint16
}

// Key packs the address into a sortable integer.
func (a Address) Key() uint64 {
	return utils.BlockKey(a.Device, a.Sector, a.Block)
}

// AddressFromKey is the inverse of Address.Key.
func AddressFromKey(key uint64) Address {
	dev, sec, blk := utils.SplitBlockKey(key)
	return Address{Device: dev, Sector: sec, Block: blk}
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Device, a.Sector, a.Block)
}
