package utils

import "encoding/binary"

// Uint64ToBytes converts uint64 to its network byte order representation
func Uint64ToBytes(i uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return buf[:]
}

// BytesToUint64 converts network byte order bytes to uint64
func BytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Uint32ToBytes converts uint32 to its network byte order representation
func Uint32ToBytes(i uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], i)
	return buf[:]
}

// BytesToUint32 converts network byte order bytes to uint32
func BytesToUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// BlockKey packs a device/sector/block triple into a single sortable key
func BlockKey(device uint8, sector, block uint16) uint64 {
	return uint64(device)<<32 | uint64(sector)<<16 | uint64(block)
}

// SplitBlockKey is the inverse of BlockKey
func SplitBlockKey(key uint64) (uint8, uint16, uint16) {
	return uint8(key >> 32), uint16(key >> 16), uint16(key)
}

// Pattern returns n bytes of the repeating 0..255 sequence starting at offset
func Pattern(offset int64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((offset + int64(i)) % 256)
	}
	return b
}
