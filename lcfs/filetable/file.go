package filetable

import (
	"time"

	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/frame"
)

// Handle identifies an open file.
type Handle int64

// Extent is one block of file data.
type Extent struct {
	Addr devreg.Address
	// bytes of the block holding file data
	Used int
	// file bytes up to and including this extent
	Cumulative int64
}

func (e Extent) partial() bool {
	return e.Used < frame.BlockSize
}

// FileInfo describes an open file.
type FileInfo struct {
	Handle   Handle
	Path     string
	Length   int64
	Position int64
	Extents  int
	Created  time.Time
	Modified time.Time
}

type lcFile struct {
	handle   Handle
	path     string
	position int64
	length   int64
	extents  []Extent
	created  time.Time
	modified time.Time
}

func newFile(h Handle, path string, now time.Time) *lcFile {
	return &lcFile{
		handle:   h,
		path:     path,
		created:  now,
		modified: now,
	}
}

// extentAt returns the index of the extent holding byte pos, or -1.
func (f *lcFile) extentAt(pos int64) int {
	for i, e := range f.extents {
		if e.Cumulative > pos {
			return i
		}
	}
	return -1
}

func (f *lcFile) appendExtent(addr devreg.Address, used int) {
	f.extents = append(f.extents, Extent{
		Addr:       addr,
		Used:       used,
		Cumulative: f.length + int64(used),
	})
	f.length += int64(used)
	f.position += int64(used)
}

// fileMark is the size of a file before a write.
type fileMark struct {
	extents  int
	lastUsed int
	length   int64
	position int64
}

func (f *lcFile) mark() fileMark {
	m := fileMark{extents: len(f.extents), length: f.length, position: f.position}
	if m.extents > 0 {
		m.lastUsed = f.extents[m.extents-1].Used
	}
	return m
}

// rollback forgets everything appended since m was taken.
func (f *lcFile) rollback(m fileMark) {
	f.extents = f.extents[:m.extents]
	if m.extents > 0 {
		last := &f.extents[m.extents-1]
		last.Cumulative -= int64(last.Used - m.lastUsed)
		last.Used = m.lastUsed
	}
	f.length = m.length
	f.position = m.position
}

func (f *lcFile) info() FileInfo {
	return FileInfo{
		Handle:   f.handle,
		Path:     f.path,
		Length:   f.length,
		Position: f.position,
		Extents:  len(f.extents),
		Created:  f.created,
		Modified: f.modified,
	}
}
