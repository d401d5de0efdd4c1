package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rarydzu/lcfs/lcfs"
	"github.com/rarydzu/lcfs/utils"
	"go.uber.org/zap"
)

var (
	ErrMismatch = errors.New("read data does not match")
	ErrNotOpen  = errors.New("trace uses a file it did not open")
)

// FS is the filesystem API a trace runs against.
type FS interface {
	Open(ctx context.Context, path string) (lcfs.Handle, error)
	Read(ctx context.Context, h lcfs.Handle, n int) ([]byte, error)
	Write(ctx context.Context, h lcfs.Handle, data []byte) (int, error)
	Seek(ctx context.Context, h lcfs.Handle, off int64) (int64, error)
	Close(ctx context.Context, h lcfs.Handle) error
	Shutdown(ctx context.Context) error
}

// Summary counts what a trace did.
type Summary struct {
	Ops          int
	Opens        int
	Writes       int
	Reads        int
	Seeks        int
	Closes       int
	Shutdowns    int
	BytesWritten int64
	BytesRead    int64
	Duration     time.Duration
}

type shadow struct {
	handle lcfs.Handle
	data   []byte
	pos    int64
}

type Runner struct {
	fs    FS
	log   *zap.SugaredLogger
	files map[string]*shadow
}

func NewRunner(fs FS, log *zap.SugaredLogger) *Runner {
	return &Runner{
		fs:    fs,
		log:   log,
		files: make(map[string]*shadow),
	}
}

// Run replays ops in order and stops at the first failing one.
func (r *Runner) Run(ctx context.Context, ops []Op) (sum Summary, err error) {
	start := time.Now()
	defer func() { sum.Duration = time.Since(start) }()
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := r.apply(ctx, op, &sum); err != nil {
			return sum, fmt.Errorf("line %d %s: %w", op.Line, op, err)
		}
		sum.Ops++
	}
	r.log.Infof("workload done: %d ops, %d bytes written, %d bytes read verified",
		sum.Ops, sum.BytesWritten, sum.BytesRead)
	return sum, nil
}

func (r *Runner) file(name string) (*shadow, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotOpen)
	}
	return f, nil
}

func (r *Runner) apply(ctx context.Context, op Op, sum *Summary) error {
	switch op.Kind {
	case Open:
		h, err := r.fs.Open(ctx, op.Name)
		if err != nil {
			return err
		}
		r.files[op.Name] = &shadow{handle: h}
		sum.Opens++
	case Write:
		f, err := r.file(op.Name)
		if err != nil {
			return err
		}
		data := utils.Pattern(int64(len(f.data)), int(op.Arg))
		n, err := r.fs.Write(ctx, f.handle, data)
		if err != nil {
			return err
		}
		f.data = append(f.data, data...)
		f.pos += int64(n)
		sum.Writes++
		sum.BytesWritten += int64(n)
	case Read:
		f, err := r.file(op.Name)
		if err != nil {
			return err
		}
		got, err := r.fs.Read(ctx, f.handle, int(op.Arg))
		if err != nil {
			return err
		}
		end := f.pos + op.Arg
		if end > int64(len(f.data)) {
			end = int64(len(f.data))
		}
		var want []byte
		if f.pos < end {
			want = f.data[f.pos:end]
		}
		if !bytes.Equal(want, got) {
			return fmt.Errorf("got %d bytes at %d, want %d: %w", len(got), f.pos, len(want), ErrMismatch)
		}
		f.pos += int64(len(got))
		sum.Reads++
		sum.BytesRead += int64(len(got))
	case Seek:
		f, err := r.file(op.Name)
		if err != nil {
			return err
		}
		pos, err := r.fs.Seek(ctx, f.handle, op.Arg)
		if err != nil {
			return err
		}
		f.pos = pos
		sum.Seeks++
	case Close:
		f, err := r.file(op.Name)
		if err != nil {
			return err
		}
		if err := r.fs.Close(ctx, f.handle); err != nil {
			return err
		}
		delete(r.files, op.Name)
		sum.Closes++
	case Shutdown:
		if err := r.fs.Shutdown(ctx); err != nil {
			return err
		}
		r.files = make(map[string]*shadow)
		sum.Shutdowns++
	}
	return nil
}
