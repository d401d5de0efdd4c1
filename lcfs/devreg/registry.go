// Package devreg tracks the devices discovered on the bus, their geometry
// and the allocation state of their blocks.
package devreg

import (
	"errors"
	"fmt"
	"sort"
)

// MaxDevices is the width of the probe bitmap.
const MaxDevices = 16

var (
	ErrOutOfSpace    = errors.New("no free blocks left")
	ErrUnknownDevice = errors.New("unknown device")
	ErrGeometry      = errors.New("invalid device geometry")
	ErrAlreadyFree   = errors.New("block is already free")
)

// Device is the allocation state of one device.
type Device struct {
	ID              uint8
	SectorCount     uint16
	BlocksPerSector uint16
	// next block handed out when the free list is empty
	CursorSector uint16
	CursorBlock  uint16
	// set once the cursor has walked past the last sector
	Full bool
	// FIFO of reclaimed blocks
	free   []Address
	queued map[Address]struct{}
}

// FreeLen returns the number of reclaimed blocks waiting for reuse.
func (d *Device) FreeLen() int {
	return len(d.free)
}

func (d *Device) initialized() bool {
	return d.SectorCount > 0 && d.BlocksPerSector > 0
}

// Registry owns every known device. It is not safe for concurrent use.
type Registry struct {
	devices []*Device
	byID    map[uint8]*Device
	current int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byID: make(map[uint8]*Device),
	}
}

// Discover registers every device whose bit is set in bitmap and returns
// their ids from bit 0 upwards. Previously known devices are forgotten.
func (r *Registry) Discover(bitmap uint16) []uint8 {
	r.devices = r.devices[:0]
	r.byID = make(map[uint8]*Device)
	r.current = 0
	var ids []uint8
	for bit := uint8(0); bit < MaxDevices; bit++ {
		if bitmap&(1<<bit) == 0 {
			continue
		}
		d := &Device{ID: bit}
		r.devices = append(r.devices, d)
		r.byID[bit] = d
		ids = append(ids, bit)
	}
	return ids
}

// InitGeometry records the geometry reported by the device.
func (r *Registry) InitGeometry(id uint8, sectors, blocks uint16) error {
	d, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("device %d: %w", id, ErrUnknownDevice)
	}
	if sectors == 0 || blocks == 0 {
		return fmt.Errorf("device %d reports %dx%d: %w", id, sectors, blocks, ErrGeometry)
	}
	d.SectorCount = sectors
	d.BlocksPerSector = blocks
	d.CursorSector = 0
	d.CursorBlock = 0
	d.Full = false
	d.free = nil
	d.queued = make(map[Address]struct{})
	return nil
}

// Allocate hands out a block. Reclaimed blocks are preferred, taken from
// the first device in discovery order that has any. Otherwise the block
// under the current device's cursor is used; when the current device is
// full the next device with room becomes current.
func (r *Registry) Allocate() (Address, error) {
	for _, d := range r.devices {
		if len(d.free) > 0 {
			addr := d.free[0]
			d.free = d.free[1:]
			delete(d.queued, addr)
			return addr, nil
		}
	}
	if len(r.devices) == 0 {
		return Address{}, ErrOutOfSpace
	}
	for i := 0; i < len(r.devices); i++ {
		d := r.devices[r.current]
		if d.initialized() && !d.Full {
			addr := Address{Device: d.ID, Sector: d.CursorSector, Block: d.CursorBlock}
			d.advance()
			return addr, nil
		}
		r.current = (r.current + 1) % len(r.devices)
	}
	return Address{}, ErrOutOfSpace
}

func (d *Device) advance() {
	d.CursorBlock++
	if d.CursorBlock < d.BlocksPerSector {
		return
	}
	d.CursorBlock = 0
	if uint32(d.CursorSector)+1 >= uint32(d.SectorCount) {
		d.Full = true
		return
	}
	d.CursorSector++
}

// Reclaim queues addr for reuse on its owning device. A block already
// waiting in the queue is rejected with ErrAlreadyFree.
func (r *Registry) Reclaim(addr Address) error {
	d, ok := r.byID[addr.Device]
	if !ok {
		return fmt.Errorf("reclaim %s: %w", addr, ErrUnknownDevice)
	}
	if d.queued == nil {
		d.queued = make(map[Address]struct{})
	}
	if _, ok := d.queued[addr]; ok {
		return fmt.Errorf("reclaim %s: %w", addr, ErrAlreadyFree)
	}
	d.queued[addr] = struct{}{}
	d.free = append(d.free, addr)
	return nil
}

// Valid reports whether addr lies within the geometry of a known device.
func (r *Registry) Valid(addr Address) bool {
	d, ok := r.byID[addr.Device]
	if !ok || !d.initialized() {
		return false
	}
	return addr.Sector < d.SectorCount && addr.Block < d.BlocksPerSector
}

// Devices returns a copy of the device states in discovery order.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		c := *d
		c.free = append([]Address(nil), d.free...)
		c.queued = nil
		out = append(out, c)
	}
	return out
}

// FreeCount returns the number of reclaimed blocks across all devices.
func (r *Registry) FreeCount() int {
	n := 0
	for _, d := range r.devices {
		n += len(d.free)
	}
	return n
}

// Capacity returns the total and the not yet handed out number of blocks.
func (r *Registry) Capacity() (total, unused uint64) {
	for _, d := range r.devices {
		size := uint64(d.SectorCount) * uint64(d.BlocksPerSector)
		total += size
		if d.Full {
			continue
		}
		used := uint64(d.CursorSector)*uint64(d.BlocksPerSector) + uint64(d.CursorBlock)
		unused += size - used
	}
	unused += uint64(r.FreeCount())
	return total, unused
}

// IDs returns the known device ids in ascending order.
func (r *Registry) IDs() []uint8 {
	ids := make([]uint8, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
