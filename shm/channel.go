// Package shm implements a request/response channel over memory shared
// between two processes, synchronized by a pair of busy-wait events.
//
// A channel region is laid out as
//
//	[owner event: 2 bytes][peer event: 2 bytes][payload: dataSize bytes]
//
// The owner creates the region and initializes both events to Clear before
// the peer attaches. To send, a side clears its own event, copies the
// payload and signals its event. To receive, a side waits on the other
// side's event and reads the payload in place.
//
// This package is the only one in the module that aliases shared memory.
package shm

import (
	"errors"
	"fmt"
	"time"
)

const (
	ownerEventOffset = 0
	peerEventOffset  = EventSize

	// HeaderSize is the number of bytes in front of the payload.
	HeaderSize = 2 * EventSize
)

// RegionSize returns the size of a region carrying dataSize payload bytes.
func RegionSize(dataSize int) int {
	return HeaderSize + dataSize
}

// Channel is one side of a shared-memory ping-pong channel.
//
// The two sides must strictly alternate: one Send, then the other side's
// Wait and Send, then this side's Wait. The payload buffer is reused for
// both directions, which is only safe because a side never writes again
// before it has been signaled by the peer's reply. Concurrent writers or
// skipped turns corrupt the channel without any error.
type Channel struct {
	region   Region
	owner    bool
	ours     *Event
	theirs   *Event
	dataSize int
}

// NewChannel lays a channel over region. The owner initializes both events;
// a non-owner attaches to the events the owner created. The region must be
// exactly RegionSize(dataSize) bytes.
func NewChannel(region Region, dataSize int, owner bool) (*Channel, error) {
	mem := region.Bytes()

	if dataSize < 0 || len(mem) != RegionSize(dataSize) {
		return nil, fmt.Errorf("%w: region %s is %d bytes, want %d",
			ErrLayout, region.ID(), len(mem), RegionSize(dataSize))
	}

	c := &Channel{region: region, owner: owner, dataSize: dataSize}

	var err error
	if owner {
		if c.ours, err = NewEvent(mem, ownerEventOffset, true); err != nil {
			return nil, err
		}
		if c.theirs, err = NewEvent(mem, peerEventOffset, true); err != nil {
			return nil, err
		}
	} else {
		// The owner already created both events.
		if c.ours, err = AttachEvent(mem, peerEventOffset); err != nil {
			return nil, err
		}
		if c.theirs, err = AttachEvent(mem, ownerEventOffset); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// CreateFileChannel creates the mmap file at path and owns a channel on it.
func CreateFileChannel(path string, dataSize int) (*Channel, error) {
	f, err := CreateFile(path, RegionSize(dataSize))
	if err != nil {
		return nil, err
	}

	return newOrClose(f, dataSize, true)
}

// OpenFileChannel attaches to a channel on an existing mmap file.
func OpenFileChannel(path string, dataSize int) (*Channel, error) {
	f, err := OpenFile(path, RegionSize(dataSize))
	if err != nil {
		return nil, err
	}

	return newOrClose(f, dataSize, false)
}

// CreateSegmentChannel creates a shared-memory segment and owns a channel
// on it. The segment handle is available from ID.
func CreateSegmentChannel(dataSize int) (*Channel, error) {
	s, err := CreateSegment(RegionSize(dataSize))
	if err != nil {
		return nil, err
	}

	return newOrClose(s, dataSize, true)
}

// OpenSegmentChannel attaches to a channel on the segment named id.
func OpenSegmentChannel(id string, dataSize int) (*Channel, error) {
	s, err := OpenSegment(id, RegionSize(dataSize))
	if err != nil {
		return nil, err
	}

	return newOrClose(s, dataSize, false)
}

func newOrClose(region Region, dataSize int, owner bool) (*Channel, error) {
	c, err := NewChannel(region, dataSize, owner)
	if err != nil {
		return nil, errors.Join(err, region.Close())
	}

	return c, nil
}

// ID returns the identifier a peer needs to open the region.
func (c *Channel) ID() string {
	return c.region.ID()
}

// Owner reports whether this side created the channel.
func (c *Channel) Owner() bool {
	return c.owner
}

// DataSize returns the payload capacity.
func (c *Channel) DataSize() int {
	return c.dataSize
}

// mapped returns the region, or an error once the channel is closed. The
// events point into the region, so nothing may touch them after Close.
func (c *Channel) mapped() ([]byte, error) {
	mem := c.region.Bytes()
	if len(mem) == 0 {
		return nil, fmt.Errorf("%w: channel %s is closed",
			ErrResource, c.region.ID())
	}

	return mem, nil
}

// SignalStart marks that this side is writing.
func (c *Channel) SignalStart() error {
	if _, err := c.mapped(); err != nil {
		return err
	}

	return c.ours.Set(Clear)
}

// SignalFinished marks that the payload is ready for the peer.
func (c *Channel) SignalFinished() error {
	if _, err := c.mapped(); err != nil {
		return err
	}

	return c.ours.Set(Signaled)
}

// Write copies p into the payload region.
func (c *Channel) Write(p []byte) error {
	mem, err := c.mapped()
	if err != nil {
		return err
	}

	if len(p) > c.dataSize {
		return fmt.Errorf("shm: payload of %d bytes exceeds channel size %d",
			len(p), c.dataSize)
	}

	copy(mem[HeaderSize:], p)

	return nil
}

// Read returns the payload region without copying. The slice aliases
// shared memory and is only stable until this side signals again. It
// returns nil once the channel is closed.
func (c *Channel) Read() []byte {
	mem := c.region.Bytes()
	if len(mem) == 0 {
		return nil
	}

	return mem[HeaderSize : HeaderSize+c.dataSize]
}

// Wait blocks until the peer signals. See Event.Wait for timeout handling.
func (c *Channel) Wait(timeout time.Duration) error {
	if _, err := c.mapped(); err != nil {
		return err
	}

	return c.theirs.Wait(timeout)
}

// Send performs one full write turn: SignalStart, Write, SignalFinished.
func (c *Channel) Send(p []byte) error {
	if err := c.SignalStart(); err != nil {
		return err
	}

	if err := c.Write(p); err != nil {
		return err
	}

	return c.SignalFinished()
}

// Close releases the region.
func (c *Channel) Close() error {
	return c.region.Close()
}
