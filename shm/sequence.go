package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// SequenceSize is the number of bytes a Sequence occupies.
const SequenceSize = 8

// Sequence is a 64-bit counter in shared memory. Add publishes every write
// made before it to a peer whose Load observes the new value.
type Sequence struct {
	p *uint64
}

// SequenceAt returns the Sequence stored at offset in mem. The offset must
// be 8-byte aligned in memory.
func SequenceAt(mem []byte, offset int) (*Sequence, error) {
	if offset < 0 || offset+SequenceSize > len(mem) {
		return nil, fmt.Errorf("%w: no room for a sequence at offset %d",
			ErrLayout, offset)
	}

	ptr := unsafe.Pointer(&mem[offset])
	if uintptr(ptr)%8 != 0 {
		return nil, fmt.Errorf("%w: sequence at offset %d is not aligned",
			ErrLayout, offset)
	}

	return &Sequence{p: (*uint64)(ptr)}, nil
}

// Load returns the current value.
func (s *Sequence) Load() uint64 {
	return atomic.LoadUint64(s.p)
}

// Add increments the counter by delta and returns the new value.
func (s *Sequence) Add(delta uint64) uint64 {
	return atomic.AddUint64(s.p, delta)
}
