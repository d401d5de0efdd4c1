package blockstore

import (
	"fmt"
	"hash/crc32"

	"github.com/rarydzu/lcfs/utils"
)

const (
	recordVersion = 1
	headerSize    = 13
	metaSize      = 17
)

type Record struct {
	Flags int8
	Key   uint64
	Value []byte
}

func NewRecord(key uint64, value []byte) *Record {
	return &Record{Flags: recordVersion, Key: key, Value: value}
}

func (r *Record) CalculateCRC(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func (r *Record) Encode() []byte {
	buf := make([]byte, metaSize+len(r.Value)) // 1 + 8 + 4 + len(value) + 4
	buf[0] = byte(r.Flags)
	valueLen := uint32(len(r.Value))
	copy(buf[1:9], utils.Uint64ToBytes(r.Key))
	copy(buf[9:13], utils.Uint32ToBytes(valueLen))
	valEndPos := headerSize + valueLen
	copy(buf[headerSize:valEndPos], r.Value)
	crc := r.CalculateCRC(buf[0:valEndPos])
	copy(buf[valEndPos:], utils.Uint32ToBytes(crc))
	return buf
}

func (r *Record) Decode(data []byte) error {
	if len(data) < metaSize {
		return fmt.Errorf("record of %d bytes: %w", len(data), ErrCorrupt)
	}
	r.Flags = int8(data[0])
	if r.Flags != recordVersion {
		return fmt.Errorf("record version %d: %w", r.Flags, ErrCorrupt)
	}
	r.Key = utils.BytesToUint64(data[1:9])
	valueLen := utils.BytesToUint32(data[9:13])
	if uint64(valueLen)+metaSize != uint64(len(data)) {
		return fmt.Errorf("record value of %d bytes in %d: %w", valueLen, len(data), ErrCorrupt)
	}
	valEndPos := headerSize + valueLen
	r.Value = make([]byte, valueLen)
	copy(r.Value, data[headerSize:valEndPos])
	crc32 := utils.BytesToUint32(data[valEndPos : valEndPos+4])
	crc := r.CalculateCRC(data[0:valEndPos])
	if crc != crc32 {
		return fmt.Errorf("CRC check failed %d != %d: %w", crc, crc32, ErrCorrupt)
	}
	return nil
}
