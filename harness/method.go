package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Method is an IPC mechanism under benchmark.
type Method int

const (
	MethodStdout Method = iota
	MethodShmem
	MethodTCP
	MethodUDP
	MethodBus
	MethodMmap
	MethodUnixStream
	MethodUnixDatagram
)

var methodNames = [...]string{
	MethodStdout:       "stdout",
	MethodShmem:        "shmem",
	MethodTCP:          "tcp",
	MethodUDP:          "udp",
	MethodBus:          "bus",
	MethodMmap:         "mmap",
	MethodUnixStream:   "unixstream",
	MethodUnixDatagram: "unixdgram",
}

var methodLabels = [...]string{
	MethodStdout:       "Stdin/stdout",
	MethodShmem:        "Shared memory",
	MethodTCP:          "TCP",
	MethodUDP:          "UDP",
	MethodBus:          "Zero-copy bus",
	MethodMmap:         "Memory mapped file",
	MethodUnixStream:   "Unix stream socket",
	MethodUnixDatagram: "Unix datagram socket",
}

var _ pflag.Value = (*Method)(nil)

// Methods returns every supported method.
func Methods() []Method {
	ms := make([]Method, len(methodNames))
	for i := range methodNames {
		ms[i] = Method(i)
	}

	return ms
}

// MethodNames returns the command-line names of every method.
func MethodNames() []string {
	return append([]string(nil), methodNames[:]...)
}

// ParseMethod returns the method with the given command-line name.
func ParseMethod(name string) (Method, error) {
	for i, n := range methodNames {
		if strings.EqualFold(n, name) {
			return Method(i), nil
		}
	}

	return 0, fmt.Errorf("unknown method %q (want one of %s)",
		name, strings.Join(methodNames[:], ", "))
}

func (m Method) valid() bool {
	return m >= 0 && int(m) < len(methodNames)
}

func (m Method) String() string {
	if !m.valid() {
		return fmt.Sprintf("Method(%d)", int(m))
	}

	return methodNames[m]
}

// Label returns a human-readable name for reports.
func (m Method) Label() string {
	if !m.valid() {
		return m.String()
	}

	return methodLabels[m]
}

// Set implements pflag.Value.
func (m *Method) Set(s string) error {
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// Type implements pflag.Value.
func (m *Method) Type() string {
	return "method"
}

// MarshalText lets a Method be decoded from config files.
func (m Method) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("invalid method %d", int(m))
	}

	return []byte(m.String()), nil
}

// UnmarshalText lets a Method be decoded from config files.
func (m *Method) UnmarshalText(text []byte) error {
	return m.Set(string(text))
}

// DefaultWarmup is the fixed delay given to a freshly spawned consumer
// before the driver starts talking to it. The values were tuned by hand.
func (m Method) DefaultWarmup() time.Duration {
	switch m {
	case MethodShmem, MethodMmap:
		return 2 * time.Second
	case MethodBus:
		return time.Second
	case MethodUnixDatagram:
		return 500 * time.Millisecond
	default:
		return 0
	}
}
