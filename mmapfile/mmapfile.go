// Package mmapfile provides a bounds-checked, byte-addressable view of a
// file's contents backed by a memory mapping, the storage primitive the
// sstable and recovery layers read through (sstable files themselves are
// written with ordinary file writes and then mapped read-only).
//
// Concurrent writers to the same file are undefined behavior; the engine's
// single-writer-per-table discipline is what makes that safe in practice,
// not anything enforced here.
package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/browserdb/browserdb/internal/errs"
)

// ErrReadOnly is returned by Write and Sync when the file was opened
// read-only.
var ErrReadOnly = errors.New("mmapfile: file is read-only")

// ErrOutOfBounds is returned by Read and Write when the requested range
// falls outside the mapped region.
var ErrOutOfBounds = errors.New("mmapfile: offset/length out of bounds")

// File is a memory-mapped view of a file on disk.
type File struct {
	f        *os.File
	data     []byte
	readOnly bool
}

// Create opens (creating if necessary) the file at path, sizes it to size
// bytes, and maps it into memory. If readOnly is true, the mapping is
// PROT_READ only and Write/Sync fail with ErrReadOnly.
func Create(path string, size int64, readOnly bool) (*File, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindOpenFailed, path, err)
	}

	if !readOnly {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, errs.Wrap(errs.KindOpenFailed, "truncate "+path, err)
		}
	}

	return mapOpenFile(f, size, readOnly)
}

// Open maps an existing file's full current size into memory.
func Open(path string, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindOpenFailed, path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errs.Wrap(errs.KindOpenFailed, "stat "+path, err)
	}
	return mapOpenFile(f, fi.Size(), readOnly)
}

func mapOpenFile(f *os.File, size int64, readOnly bool) (*File, error) {
	if size == 0 {
		// mmap of a zero-length region fails on most platforms; callers
		// that need an empty mapping should Create with a nonzero size
		// (e.g. HeaderSize) and grow it via Remap as content is written.
		_ = f.Close()
		return nil, errs.New(errs.KindMapFailed, "cannot map a zero-length file")
	}

	prot := syscall.PROT_READ
	if !readOnly {
		prot |= syscall.PROT_WRITE
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), prot, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, errs.Wrap(errs.KindMapFailed, f.Name(), err)
	}

	return &File{f: f, data: data, readOnly: readOnly}, nil
}

// Len returns the size of the mapped region in bytes.
func (m *File) Len() int { return len(m.data) }

// Read returns a copy of the len bytes starting at offset. Copying avoids
// handing callers a slice that aliases the mapping, which would turn a
// later Munmap or Remap into a use-after-free.
func (m *File) Read(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(m.data) {
		return nil, errs.Wrap(errs.KindReadFailed, "out of bounds read", ErrOutOfBounds)
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

// Write copies b into the mapping starting at offset.
func (m *File) Write(offset int, b []byte) error {
	if m.readOnly {
		return errs.Wrap(errs.KindWriteFailed, "read-only mapping", ErrReadOnly)
	}
	if offset < 0 || offset+len(b) > len(m.data) {
		return errs.Wrap(errs.KindWriteFailed, "out of bounds write", ErrOutOfBounds)
	}
	copy(m.data[offset:], b)
	return nil
}

// Sync flushes dirty mapped pages to disk with msync(MS_SYNC).
func (m *File) Sync() error {
	if m.readOnly {
		return errs.Wrap(errs.KindSyncFailed, "read-only mapping", ErrReadOnly)
	}
	if err := msync(m.data); err != nil {
		return errs.Wrap(errs.KindSyncFailed, m.f.Name(), err)
	}
	return nil
}

// Remap grows the mapping to newSize, extending the underlying file first.
// The previous mapping is unmapped; any []byte returned by a prior Read
// must not be used afterward (Read already copies, so this is safe for
// callers that follow that contract).
func (m *File) Remap(newSize int64) error {
	if m.readOnly {
		return errs.Wrap(errs.KindWriteFailed, "read-only mapping", ErrReadOnly)
	}
	if err := m.f.Truncate(newSize); err != nil {
		return errs.Wrap(errs.KindWriteFailed, fmt.Sprintf("truncate to %d", newSize), err)
	}
	if err := syscall.Munmap(m.data); err != nil {
		return errs.Wrap(errs.KindMapFailed, "unmap before remap", err)
	}
	data, err := syscall.Mmap(int(m.f.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return errs.Wrap(errs.KindMapFailed, "remap", err)
	}
	m.data = data
	return nil
}

// Close unmaps the file and closes the underlying descriptor.
func (m *File) Close() error {
	var firstErr error
	if err := syscall.Munmap(m.data); err != nil {
		firstErr = errs.Wrap(errs.KindMapFailed, "munmap", err)
	}
	if err := m.f.Close(); err != nil && firstErr == nil {
		firstErr = errs.Wrap(errs.KindOpenFailed, "close", err)
	}
	return firstErr
}
