// Package bus is a small zero-copy publish/subscribe bus over shared
// memory. A service is one named region holding a sequence number and a
// single payload slot. A publisher writes the slot in place and bumps the
// sequence; a subscriber sees each new sequence number once and reads the
// slot in place.
//
// A service holds one sample at a time. Publishers must not overwrite the
// slot before the subscriber has consumed it, which the benchmark's
// request/response alternation guarantees.
package bus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/weiihann/ipcbench/shm"
)

const servicePrefix = shm.SegmentPrefix + "bus_"

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Service is a named publish/subscribe topic.
type Service struct {
	name string
	file *shm.File
	seq  *shm.Sequence
	size int
}

// ServicePath returns the backing file of the service called name.
func ServicePath(name string) string {
	return shm.SegmentPath(servicePrefix + name)
}

// OpenService opens the service called name, creating it when it does not
// exist yet. Both sides may call it in any order.
func OpenService(name string, size int) (*Service, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid service name %q", name)
	}

	if size <= 0 {
		return nil, fmt.Errorf("invalid sample size %d", size)
	}

	regionSize := shm.SequenceSize + size
	path := ServicePath(name)

	f, err := shm.OpenFile(path, regionSize)
	if errors.Is(err, shm.ErrResource) {
		f, err = shm.CreateFile(path, regionSize)
	}
	if err != nil {
		return nil, fmt.Errorf("open service %s: %w", name, err)
	}

	seq, err := shm.SequenceAt(f.Bytes(), 0)
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("open service %s: %w", name, err)
	}

	return &Service{name: name, file: f, seq: seq, size: size}, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Publisher returns a publisher on the service.
func (s *Service) Publisher() *Publisher {
	return &Publisher{svc: s}
}

// Subscriber returns a subscriber that only sees samples published after
// this call.
func (s *Service) Subscriber() *Subscriber {
	return &Subscriber{svc: s, seen: s.seq.Load()}
}

func (s *Service) slot() []byte {
	return s.file.Bytes()[shm.SequenceSize:]
}

// Close unmaps the service. The backing file stays until Remove.
func (s *Service) Close() error {
	return s.file.Close()
}

// Remove deletes the backing file of the service called name. A missing
// file is not an error.
func Remove(name string) error {
	err := os.Remove(ServicePath(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// Publisher writes samples to a service.
type Publisher struct {
	svc *Service
}

// Loan returns the sample slot for writing in place.
func (p *Publisher) Loan() []byte {
	return p.svc.slot()
}

// Send publishes whatever was written to the loaned slot.
func (p *Publisher) Send() {
	p.svc.seq.Add(1)
}

// Publish copies b into the slot and sends it.
func (p *Publisher) Publish(b []byte) error {
	if len(b) != p.svc.size {
		return fmt.Errorf("sample of %d bytes, service %s carries %d",
			len(b), p.svc.name, p.svc.size)
	}

	copy(p.Loan(), b)
	p.Send()

	return nil
}

// Subscriber reads samples from a service.
type Subscriber struct {
	svc  *Service
	seen uint64
}

// Receive returns the current sample if one was published since the last
// Receive. It never blocks. The returned slice aliases shared memory.
func (s *Subscriber) Receive() ([]byte, bool) {
	cur := s.svc.seq.Load()
	if cur == s.seen {
		return nil, false
	}

	s.seen = cur

	return s.svc.slot(), true
}
