package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a block of memory mapped into this process and shared with a
// peer. Bytes aliases the mapping; it is invalid after Close.
type Region interface {
	Bytes() []byte
	ID() string
	Close() error
}

type mapping struct {
	path string
	file *os.File
	mem  []byte
}

// createMapping creates (or truncates) path to size bytes and maps it.
// When exclusive is set the file must not exist yet.
func createMapping(path string, size int, exclusive bool) (*mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid region size %d", ErrLayout, size)
	}

	flags := os.O_CREATE | os.O_RDWR
	if exclusive {
		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrResource, path, err)
	}

	if err := file.Truncate(int64(size)); err != nil {
		file.Close()

		return nil, fmt.Errorf("%w: resize %s: %w", ErrResource, path, err)
	}

	return mapFile(path, file, size)
}

// openMapping maps an existing file that must be exactly size bytes long.
func openMapping(path string, size int) (*mapping, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrResource, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("%w: stat %s: %w", ErrResource, path, err)
	}

	if info.Size() != int64(size) {
		file.Close()

		return nil, fmt.Errorf("%w: %s is %d bytes, want %d",
			ErrLayout, path, info.Size(), size)
	}

	return mapFile(path, file, size)
}

func mapFile(path string, file *os.File, size int) (*mapping, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("%w: mmap %s: %w", ErrResource, path, err)
	}

	return &mapping{path: path, file: file, mem: mem}, nil
}

func (m *mapping) Bytes() []byte {
	return m.mem
}

func (m *mapping) close() error {
	if m.mem == nil {
		return nil
	}

	var errs []error
	if err := unix.Munmap(m.mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap %s: %w", m.path, err))
	}
	if err := m.file.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
		errs = append(errs, fmt.Errorf("close %s: %w", m.path, err))
	}

	m.mem = nil

	return errors.Join(errs...)
}

// File is a region backed by a memory-mapped file at a fixed path. Closing
// it unmaps the file but leaves it on disk; removing it is up to whoever
// created it.
type File struct {
	*mapping
}

var _ Region = (*File)(nil)

// CreateFile creates or truncates the file at path to size bytes and maps
// it.
func CreateFile(path string, size int) (*File, error) {
	m, err := createMapping(path, size, false)
	if err != nil {
		return nil, err
	}

	return &File{mapping: m}, nil
}

// OpenFile maps an existing file at path. It fails with ErrResource when
// the file does not exist and with ErrLayout when it is not size bytes.
func OpenFile(path string, size int) (*File, error) {
	m, err := openMapping(path, size)
	if err != nil {
		return nil, err
	}

	return &File{mapping: m}, nil
}

// ID returns the file path.
func (f *File) ID() string {
	return f.path
}

// Close unmaps the file.
func (f *File) Close() error {
	return f.close()
}
