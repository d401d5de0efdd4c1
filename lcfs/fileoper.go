package lcfs

import (
	"context"

	"github.com/rarydzu/lcfs/lcfs/filetable"
)

// Handle identifies an open file.
type Handle = filetable.Handle

// FileInfo describes an open file.
type FileInfo = filetable.FileInfo

// Open creates an empty file at path. The first Open of a session brings
// the bus up.
func (fs *Lcfs) Open(ctx context.Context, path string) (Handle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.bootstrap(ctx); err != nil {
		fs.log.Errorf("Open(%s) bootstrap: %v", path, err)
		return 0, err
	}
	return fs.files.Open(path)
}

// Read returns up to n bytes from the current position of h.
func (fs *Lcfs) Read(ctx context.Context, h Handle, n int) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return nil, ErrNotOpen
	}
	data, err := fs.files.Read(ctx, h, n)
	if err != nil {
		fs.log.Debugf("Read(%d, %d): %v", h, n, err)
	}
	return data, err
}

// Write appends data to h and returns the number of bytes stored.
func (fs *Lcfs) Write(ctx context.Context, h Handle, data []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return 0, ErrNotOpen
	}
	n, err := fs.files.Write(ctx, h, data)
	if err != nil {
		fs.log.Errorf("Write(%d, %d bytes): %v", h, len(data), err)
	}
	return n, err
}

// Seek moves the position of h to off.
func (fs *Lcfs) Seek(ctx context.Context, h Handle, off int64) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return 0, ErrNotOpen
	}
	return fs.files.Seek(h, off)
}

// Close destroys the file behind h and frees its blocks.
func (fs *Lcfs) Close(ctx context.Context, h Handle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return ErrNotOpen
	}
	if err := fs.files.Close(ctx, h); err != nil {
		fs.log.Debugf("Close(%d): %v", h, err)
		return err
	}
	return nil
}

// Stat describes the open file h.
func (fs *Lcfs) Stat(h Handle) (FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return FileInfo{}, ErrNotOpen
	}
	return fs.files.Stat(h)
}

// Files lists the open files.
func (fs *Lcfs) Files() []FileInfo {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.bootstrapped {
		return nil
	}
	return fs.files.List()
}
