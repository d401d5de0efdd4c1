// Package frame packs and unpacks the 64-bit register frames exchanged with
// the device bus.
package frame

import (
	"errors"
	"fmt"

	"github.com/rarydzu/lcfs/utils"
)

// Size is the size of an encoded frame on the wire.
const Size = 8

// BlockSize is the size of every block transferred over the bus.
const BlockSize = 256

// Opcodes carried in the c0 register.
const (
	PowerOn   uint8 = 0
	PowerOff  uint8 = 1
	DevProbe  uint8 = 2
	DevInit   uint8 = 3
	BlockXfer uint8 = 4
)

// Transfer directions carried in the c2 register of a BlockXfer frame.
const (
	XferWrite uint8 = 0
	XferRead  uint8 = 1
)

const (
	b0Shift = 60
	b1Shift = 56
	c0Shift = 48
	c1Shift = 40
	c2Shift = 32
	d0Shift = 16

	nibbleMask = 0xF
	byteMask   = 0xFF
	wordMask   = 0xFFFF
)

var ErrFieldRange = errors.New("frame field out of range")

// Frame is a packed register frame, b0 in the most significant bits and
// the block register (d1) in the least significant ones.
type Frame uint64

// Fields is the unpacked form of a Frame.
type Fields struct {
	B0     uint8
	B1     uint8
	Opcode uint8
	Arg1   uint8
	Arg2   uint8
	Sector uint16
	Block  uint16
}

// Pack masks every register to its width and packs them into a frame.
// Bits beyond a register width are dropped silently; use New to reject them.
func Pack(b0, b1, opcode, arg1, arg2 uint64, sector, block uint64) Frame {
	return Frame((b0&nibbleMask)<<b0Shift |
		(b1&nibbleMask)<<b1Shift |
		(opcode&byteMask)<<c0Shift |
		(arg1&byteMask)<<c1Shift |
		(arg2&byteMask)<<c2Shift |
		(sector&wordMask)<<d0Shift |
		block&wordMask)
}

// New builds a frame from fields, rejecting values wider than their register.
func New(f Fields) (Frame, error) {
	if f.B0 > nibbleMask || f.B1 > nibbleMask {
		return 0, fmt.Errorf("b0=%d b1=%d: %w", f.B0, f.B1, ErrFieldRange)
	}
	return f.Frame(), nil
}

// Frame packs the fields. B0 and B1 are masked to four bits.
func (f Fields) Frame() Frame {
	return Pack(uint64(f.B0), uint64(f.B1), uint64(f.Opcode), uint64(f.Arg1), uint64(f.Arg2), uint64(f.Sector), uint64(f.Block))
}

// Unpack returns the seven registers of the frame.
func (f Frame) Unpack() (b0, b1, opcode, arg1, arg2 uint8, sector, block uint16) {
	return f.B0(), f.B1(), f.Opcode(), f.Arg1(), f.Arg2(), f.Sector(), f.Block()
}

// Fields returns the unpacked registers.
func (f Frame) Fields() Fields {
	var fs Fields
	fs.B0, fs.B1, fs.Opcode, fs.Arg1, fs.Arg2, fs.Sector, fs.Block = f.Unpack()
	return fs
}

// B0 returns the direction flag: 0 on requests, 1 on responses.
func (f Frame) B0() uint8 { return uint8(f>>b0Shift) & nibbleMask }

// B1 returns the status flag, 1 on a successful response.
func (f Frame) B1() uint8 { return uint8(f>>b1Shift) & nibbleMask }

// Opcode returns the c0 register.
func (f Frame) Opcode() uint8 { return uint8(f >> c0Shift) }

// Arg1 returns the c1 register.
func (f Frame) Arg1() uint8 { return uint8(f >> c1Shift) }

// Arg2 returns the c2 register.
func (f Frame) Arg2() uint8 { return uint8(f >> c2Shift) }

// Sector returns the d0 register.
func (f Frame) Sector() uint16 { return uint16(f >> d0Shift) }

// Block returns the d1 register.
func (f Frame) Block() uint16 { return uint16(f) }

// Device returns the device id register of DevInit and BlockXfer frames.
func (f Frame) Device() uint8 { return f.Arg1() }

// Direction returns the transfer direction of a BlockXfer frame.
func (f Frame) Direction() uint8 { return f.Arg2() }

// IsWrite reports whether the frame is a block write.
func (f Frame) IsWrite() bool { return f.Opcode() == BlockXfer && f.Direction() == XferWrite }

// IsRead reports whether the frame is a block read.
func (f Frame) IsRead() bool { return f.Opcode() == BlockXfer && f.Direction() == XferRead }

// Bytes encodes the frame in network byte order.
func (f Frame) Bytes() []byte {
	return utils.Uint64ToBytes(uint64(f))
}

// FromBytes decodes a network byte order frame.
func FromBytes(b []byte) Frame {
	return Frame(utils.BytesToUint64(b))
}

// String formats the opcode name and every register.
func (f Frame) String() string {
	return fmt.Sprintf("%s[b0=%d b1=%d c1=%d c2=%d d0=%d d1=%d]",
		OpcodeName(f.Opcode()), f.B0(), f.B1(), f.Arg1(), f.Arg2(), f.Sector(), f.Block())
}

// OpcodeName returns a printable opcode name.
func OpcodeName(op uint8) string {
	switch op {
	case PowerOn:
		return "POWER_ON"
	case PowerOff:
		return "POWER_OFF"
	case DevProbe:
		return "DEVPROBE"
	case DevInit:
		return "DEVINIT"
	case BlockXfer:
		return "BLOCK_XFER"
	}
	return fmt.Sprintf("OP(%d)", op)
}

// Request constructors. Requests carry b0 = 0 and b1 = 0.

// NewPowerOn asks the bus to power up.
func NewPowerOn() Frame { return Pack(0, 0, uint64(PowerOn), 0, 0, 0, 0) }

// NewPowerOff asks the bus to power down. The bus closes the connection
// after answering.
func NewPowerOff() Frame { return Pack(0, 0, uint64(PowerOff), 0, 0, 0, 0) }

// NewProbe asks for the bitmap of present devices.
func NewProbe() Frame { return Pack(0, 0, uint64(DevProbe), 0, 0, 0, 0) }

// NewDevInit asks the bus for the geometry of device dev.
func NewDevInit(dev uint8) Frame {
	return Pack(0, 0, uint64(DevInit), uint64(dev), 0, 0, 0)
}

// NewXfer builds a block transfer request.
func NewXfer(dev, direction uint8, sector, block uint16) Frame {
	return Pack(0, 0, uint64(BlockXfer), uint64(dev), uint64(direction), uint64(sector), uint64(block))
}

// Response derives the reply to req: b0 is set, b1 carries the status and
// sector/block are replaced by the given values.
func Response(req Frame, ok bool, sector, block uint16) Frame {
	status := uint64(0)
	if ok {
		status = 1
	}
	return Pack(1, status, uint64(req.Opcode()), uint64(req.Arg1()), uint64(req.Arg2()), uint64(sector), uint64(block))
}

// Succeeded reports whether f is a successful response to a request with
// the given opcode.
func (f Frame) Succeeded(opcode uint8) bool {
	return f.B0() == 1 && f.B1() == 1 && f.Opcode() == opcode
}
