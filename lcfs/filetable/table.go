// Package filetable maps open files onto the blocks that hold their data.
package filetable

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/lcfs/lcfs/devreg"
	"github.com/rarydzu/lcfs/lcfs/frame"
	"go.uber.org/zap"
)

var (
	ErrNotOpen       = errors.New("file is not open")
	ErrAlreadyOpen   = errors.New("file is already open")
	ErrInvalidOffset = errors.New("offset beyond end of file")
)

// BlockIO moves whole blocks between the table and the bus.
type BlockIO interface {
	ReadBlock(ctx context.Context, addr devreg.Address, buf []byte) error
	WriteBlock(ctx context.Context, addr devreg.Address, data []byte) error
}

// Table holds every open file. It is not safe for concurrent use.
type Table struct {
	io     BlockIO
	reg    *devreg.Registry
	clock  timeutil.Clock
	log    *zap.SugaredLogger
	files  map[Handle]*lcFile
	byPath map[string]Handle
	next   Handle
}

// New creates an empty table allocating from reg and moving data through bio.
func New(bio BlockIO, reg *devreg.Registry, clock timeutil.Clock, log *zap.SugaredLogger) *Table {
	return &Table{
		io:     bio,
		reg:    reg,
		clock:  clock,
		log:    log,
		files:  make(map[Handle]*lcFile),
		byPath: make(map[string]Handle),
		next:   1,
	}
}

func (t *Table) get(h Handle) (*lcFile, error) {
	f, ok := t.files[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrNotOpen)
	}
	return f, nil
}

// Open creates an empty file at path and returns its handle.
func (t *Table) Open(path string) (Handle, error) {
	if _, ok := t.byPath[path]; ok {
		return 0, fmt.Errorf("%s: %w", path, ErrAlreadyOpen)
	}
	h := t.next
	t.next++
	t.files[h] = newFile(h, path, t.clock.Now())
	t.byPath[path] = h
	t.log.Debugf("open %s as %d", path, h)
	return h, nil
}

// Read copies up to n bytes from the current position and advances it by
// the number of bytes returned. Reading past the end returns what is there.
func (t *Table) Read(ctx context.Context, h Handle, n int) ([]byte, error) {
	f, err := t.get(h)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("read %d bytes: %w", n, ErrInvalidOffset)
	}
	if avail := f.length - f.position; int64(n) > avail {
		n = int(avail)
	}
	out := make([]byte, 0, n)
	i := f.extentAt(f.position)
	if n == 0 || i < 0 {
		return out, nil
	}
	buf := make([]byte, frame.BlockSize)
	pos := f.position
	for ; i < len(f.extents) && len(out) < n; i++ {
		e := f.extents[i]
		if err := t.io.ReadBlock(ctx, e.Addr, buf); err != nil {
			return nil, fmt.Errorf("read %s at %s: %w", f.path, e.Addr, err)
		}
		start := e.Used - int(e.Cumulative-pos)
		chunk := buf[start:e.Used]
		if rest := n - len(out); len(chunk) > rest {
			chunk = chunk[:rest]
		}
		out = append(out, chunk...)
		pos += int64(len(chunk))
	}
	f.position = pos
	return out, nil
}

// Write appends data to the file. A partially filled last block is topped
// off first, the rest goes to freshly allocated blocks. Either all of data
// is stored or none of it: on error the file is left as it was and the
// blocks allocated for the write are handed back.
func (t *Table) Write(ctx context.Context, h Handle, data []byte) (int, error) {
	f, err := t.get(h)
	if err != nil {
		return 0, err
	}
	undo := f.mark()
	var fresh []devreg.Address
	fail := func(err error) (int, error) {
		f.rollback(undo)
		t.release(ctx, fresh)
		return 0, err
	}

	written := 0
	buf := make([]byte, frame.BlockSize)
	if n := len(f.extents); n > 0 && len(data) > 0 {
		last := &f.extents[n-1]
		if last.partial() && t.reg.Valid(last.Addr) {
			if err := t.io.ReadBlock(ctx, last.Addr, buf); err != nil {
				return 0, fmt.Errorf("write %s at %s: %w", f.path, last.Addr, err)
			}
			k := copy(buf[last.Used:], data)
			if err := t.io.WriteBlock(ctx, last.Addr, buf); err != nil {
				return 0, fmt.Errorf("write %s at %s: %w", f.path, last.Addr, err)
			}
			last.Used += k
			last.Cumulative += int64(k)
			f.length += int64(k)
			f.position += int64(k)
			written += k
		}
	}
	for written < len(data) {
		addr, err := t.reg.Allocate()
		if err != nil {
			return fail(fmt.Errorf("write %s: %w", f.path, err))
		}
		fresh = append(fresh, addr)
		for i := range buf {
			buf[i] = 0
		}
		k := copy(buf, data[written:])
		if err := t.io.WriteBlock(ctx, addr, buf); err != nil {
			return fail(fmt.Errorf("write %s at %s: %w", f.path, addr, err))
		}
		f.appendExtent(addr, k)
		written += k
	}
	if written > 0 {
		f.modified = t.clock.Now()
	}
	return written, nil
}

// release zeroes blocks that no file refers to any more and queues them
// for reuse. A block that cannot be zeroed is still queued, it holds no
// bytes any file can reach.
func (t *Table) release(ctx context.Context, addrs []devreg.Address) error {
	var first error
	zero := make([]byte, frame.BlockSize)
	for _, addr := range addrs {
		if err := t.io.WriteBlock(ctx, addr, zero); err != nil {
			t.log.Warnf("zeroing %s: %v", addr, err)
			if first == nil {
				first = fmt.Errorf("zero %s: %w", addr, err)
			}
		}
		if err := t.reg.Reclaim(addr); err != nil {
			t.log.Errorf("returning %s: %v", addr, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Seek moves the position to off, which must not exceed the file length.
func (t *Table) Seek(h Handle, off int64) (int64, error) {
	f, err := t.get(h)
	if err != nil {
		return 0, err
	}
	if off < 0 || off > f.length {
		return 0, fmt.Errorf("seek %s to %d of %d: %w", f.path, off, f.length, ErrInvalidOffset)
	}
	f.position = off
	return off, nil
}

// Close destroys the file: its blocks are zeroed and handed back to the
// registry for reuse. The handle is gone even when zeroing fails.
func (t *Table) Close(ctx context.Context, h Handle) error {
	f, err := t.get(h)
	if err != nil {
		return err
	}
	delete(t.files, h)
	delete(t.byPath, f.path)
	addrs := make([]devreg.Address, len(f.extents))
	for i, e := range f.extents {
		addrs[i] = e.Addr
	}
	if err := t.release(ctx, addrs); err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	t.log.Debugf("closed %s (%d), %d blocks reclaimed", f.path, h, len(addrs))
	return nil
}

// CloseAll forgets every open file without touching its blocks.
func (t *Table) CloseAll() int {
	n := len(t.files)
	t.files = make(map[Handle]*lcFile)
	t.byPath = make(map[string]Handle)
	return n
}

// Stat describes an open file.
func (t *Table) Stat(h Handle) (FileInfo, error) {
	f, err := t.get(h)
	if err != nil {
		return FileInfo{}, err
	}
	return f.info(), nil
}

// Extents returns a copy of the file's block map.
func (t *Table) Extents(h Handle) ([]Extent, error) {
	f, err := t.get(h)
	if err != nil {
		return nil, err
	}
	return append([]Extent(nil), f.extents...), nil
}

// List describes every open file ordered by handle.
func (t *Table) List() []FileInfo {
	out := make([]FileInfo, 0, len(t.files))
	for _, f := range t.files {
		out = append(out, f.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
