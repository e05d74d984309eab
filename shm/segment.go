package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SegmentPrefix starts every segment handle created by CreateSegment.
const SegmentPrefix = "ipcbench_"

// Segment is a named OS shared-memory region. The owner generates the
// handle; a peer opens it by that handle. The owner unlinks the segment on
// Close, so its lifetime ends with the owner.
type Segment struct {
	*mapping
	id    string
	owner bool
}

var _ Region = (*Segment)(nil)

// CreateSegment creates a new segment of size bytes under a fresh handle.
func CreateSegment(size int) (*Segment, error) {
	id := SegmentPrefix + uuid.NewString()

	m, err := createMapping(SegmentPath(id), size, true)
	if err != nil {
		return nil, err
	}

	return &Segment{mapping: m, id: id, owner: true}, nil
}

// OpenSegment opens the segment named id, which must be size bytes.
func OpenSegment(id string, size int) (*Segment, error) {
	if id == "" || strings.ContainsRune(id, filepath.Separator) {
		return nil, fmt.Errorf("%w: invalid segment handle %q", ErrResource, id)
	}

	m, err := openMapping(SegmentPath(id), size)
	if err != nil {
		return nil, err
	}

	return &Segment{mapping: m, id: id}, nil
}

// SegmentPath returns where the segment named id lives. /dev/shm is used
// when present, the temp dir otherwise.
func SegmentPath(id string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", id)
	}

	return filepath.Join(os.TempDir(), id)
}

// ID returns the segment handle to pass to a peer.
func (s *Segment) ID() string {
	return s.id
}

// Owner reports whether this process created the segment.
func (s *Segment) Owner() bool {
	return s.owner
}

// Close unmaps the segment and, for the owner, unlinks it.
func (s *Segment) Close() error {
	err := s.close()

	if s.owner {
		rmErr := os.Remove(SegmentPath(s.id))
		if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("unlink %s: %w", s.id, rmErr))
		}
	}

	return err
}
