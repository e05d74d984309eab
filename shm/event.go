package shm

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// EventState is the value held by an Event.
type EventState uint8

const (
	// Clear marks that the owning side is writing, or has nothing new.
	Clear EventState = 0

	// Signaled marks that the owning side finished writing.
	Signaled EventState = 1
)

func (s EventState) String() string {
	switch s {
	case Clear:
		return "clear"
	case Signaled:
		return "signaled"
	default:
		return fmt.Sprintf("EventState(%d)", uint8(s))
	}
}

// EventSize is the number of bytes an Event occupies: one state byte
// followed by one mode byte.
const EventSize = 2

const (
	modeManual    = 0
	modeAutoReset = 1
)

// Wait polls this many times before it starts yielding the processor
// between polls.
const spinLimit = 1 << 10

// Deadline is checked once per this many yields.
const deadlineStride = 64

var littleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Event is a binary flag shared between processes through a mapped region.
//
// An Event occupies two bytes at an even offset inside the first aligned
// 32-bit word of its region, so two Events can share one word. All access
// goes through atomic loads and compare-and-swap on that word: a store
// replaces only this Event's byte and publishes every write made before
// it, and a load that observes Signaled observes those writes too.
//
// An Event is not a mutex. It only works under strict ping-pong: exactly
// one side writes while the other waits, and a writer never issues its next
// write before it has been signaled back. Nothing detects a violation.
type Event struct {
	word       *uint32
	stateShift uint32
	autoReset  bool
}

// NewEvent creates an Event at offset in mem, initialized to Clear. Only
// the owner of the region calls it. An auto-reset event goes back to Clear
// when a Wait observes the signal.
func NewEvent(mem []byte, offset int, autoReset bool) (*Event, error) {
	e, err := eventAt(mem, offset)
	if err != nil {
		return nil, err
	}

	mode := uint32(modeManual)
	if autoReset {
		mode = modeAutoReset
	}

	e.autoReset = autoReset
	e.update(func(old uint32) uint32 {
		mask := uint32(0xffff) << e.lowShift()
		val := uint32(Clear)<<e.stateShift | mode<<e.modeShift()

		return old&^mask | val
	})

	return e, nil
}

// AttachEvent attaches to an Event a peer already created at offset in mem.
// It never rewrites the event and fails with ErrLayout when the bytes do not
// hold a valid state and mode.
func AttachEvent(mem []byte, offset int) (*Event, error) {
	e, err := eventAt(mem, offset)
	if err != nil {
		return nil, err
	}

	word := atomic.LoadUint32(e.word)
	state := EventState(word >> e.stateShift)
	mode := uint8(word >> e.modeShift())

	if state != Clear && state != Signaled {
		return nil, fmt.Errorf("%w: event at %d has state %d",
			ErrLayout, offset, uint8(state))
	}
	if mode != modeManual && mode != modeAutoReset {
		return nil, fmt.Errorf("%w: event at %d has mode %d",
			ErrLayout, offset, mode)
	}

	e.autoReset = mode == modeAutoReset

	return e, nil
}

func eventAt(mem []byte, offset int) (*Event, error) {
	if offset < 0 || offset%EventSize != 0 || offset+EventSize > 4 ||
		len(mem) < 4 {
		return nil, fmt.Errorf("%w: no room for an event at offset %d",
			ErrLayout, offset)
	}

	if uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		return nil, fmt.Errorf("%w: region is not 4-byte aligned", ErrLayout)
	}

	e := &Event{word: (*uint32)(unsafe.Pointer(&mem[0]))}
	e.stateShift = byteShift(offset)

	return e, nil
}

// byteShift returns the bit position of byte i of a native-endian word.
func byteShift(i int) uint32 {
	if littleEndian {
		return uint32(i) * 8
	}

	return uint32(3-i) * 8
}

func (e *Event) modeShift() uint32 {
	if littleEndian {
		return e.stateShift + 8
	}

	return e.stateShift - 8
}

func (e *Event) lowShift() uint32 {
	return min(e.stateShift, e.modeShift())
}

func (e *Event) update(f func(old uint32) uint32) {
	for {
		old := atomic.LoadUint32(e.word)
		if atomic.CompareAndSwapUint32(e.word, old, f(old)) {
			return
		}
	}
}

// AutoReset reports whether a successful Wait clears the event.
func (e *Event) AutoReset() bool {
	return e.autoReset
}

// State returns the current state.
func (e *Event) State() EventState {
	return EventState(atomic.LoadUint32(e.word) >> e.stateShift)
}

// Set stores state.
func (e *Event) Set(state EventState) error {
	if state != Clear && state != Signaled {
		return fmt.Errorf("shm: invalid event state %d", uint8(state))
	}

	e.update(func(old uint32) uint32 {
		return old&^(0xff<<e.stateShift) | uint32(state)<<e.stateShift
	})

	return nil
}

// poll reports whether the event is signaled, consuming the signal when
// the event auto-resets.
func (e *Event) poll() bool {
	for {
		old := atomic.LoadUint32(e.word)
		if EventState(old>>e.stateShift) != Signaled {
			return false
		}

		if !e.autoReset {
			return true
		}

		cleared := old &^ (0xff << e.stateShift)
		if atomic.CompareAndSwapUint32(e.word, old, cleared) {
			return true
		}
	}
}

// Wait blocks until the event is Signaled. A timeout of zero or less waits
// forever; otherwise ErrTimeout is returned once it elapses.
//
// Wait never sleeps in the kernel. It spins on atomic loads for a while and
// then calls runtime.Gosched between polls, trading CPU for latency.
func (e *Event) Wait(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for i := 0; ; i++ {
		if e.poll() {
			return nil
		}

		if i < spinLimit {
			continue
		}

		if timeout > 0 && i%deadlineStride == 0 && time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		runtime.Gosched()
	}
}
