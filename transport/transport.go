// Package transport implements the driver and consumer sides of every IPC
// method the benchmark supports.
package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/weiihann/ipcbench/harness"
	"github.com/weiihann/ipcbench/payload"
)

// Options configures a driver.
type Options struct {
	DataSize int

	// MmapPath is the backing file of the mmap method.
	MmapPath string
	// UnixStreamPath is the listening socket of the unixstream method.
	UnixStreamPath string
	// DatagramDriverPath and DatagramConsumerPath are the sockets bound by
	// each side of the unixdgram method.
	DatagramDriverPath   string
	DatagramConsumerPath string
	// BusPrefix prefixes the request and response service names.
	BusPrefix string

	// TCPPort of zero picks a free port.
	TCPPort int
	NoDelay bool
}

// DefaultOptions returns Options with fixed artifact paths in the temp dir.
func DefaultOptions(dataSize int) Options {
	tmp := os.TempDir()

	return Options{
		DataSize:             dataSize,
		MmapPath:             filepath.Join(tmp, "ipcbench_mmap.dat"),
		UnixStreamPath:       filepath.Join(tmp, "ipcbench_unix_stream.sock"),
		DatagramDriverPath:   filepath.Join(tmp, "ipcbench_unix_datagram2.sock"),
		DatagramConsumerPath: filepath.Join(tmp, "ipcbench_unix_datagram1.sock"),
		BusPrefix:            "ipcbench",
		NoDelay:              true,
	}
}

// NewDriver creates the driver side of m. Resources the consumer attaches
// to (segments, files, listening sockets) exist when it returns.
func NewDriver(m harness.Method, opts Options) (harness.Transport, error) {
	if opts.DataSize < 1 {
		return nil, fmt.Errorf("payload size must be positive, got %d",
			opts.DataSize)
	}

	switch m {
	case harness.MethodStdout:
		return newPipeDriver(opts), nil
	case harness.MethodShmem:
		return newShmemDriver(opts)
	case harness.MethodMmap:
		return newMmapDriver(opts)
	case harness.MethodTCP:
		return newTCPDriver(opts)
	case harness.MethodUDP:
		return newUDPDriver(opts)
	case harness.MethodUnixStream:
		return newUnixStreamDriver(opts)
	case harness.MethodUnixDatagram:
		return newUnixDatagramDriver(opts)
	case harness.MethodBus:
		return newBusDriver(opts)
	default:
		return nil, fmt.Errorf("unsupported method %s", m)
	}
}

// Serve runs the consumer side of m with the arguments produced by the
// driver's ConsumerArgs. ready is called once the consumer is attached. It
// returns when the driver disconnects, when ctx is done, or with
// harness.ErrProtocolViolation on an unexpected payload.
func Serve(
	ctx context.Context,
	m harness.Method,
	args []string,
	ready func() error,
) error {
	switch m {
	case harness.MethodStdout:
		return servePipe(ctx, args, os.Stdin, os.Stdout, ready)
	case harness.MethodShmem:
		return serveShmem(ctx, args, ready)
	case harness.MethodMmap:
		return serveMmap(ctx, args, ready)
	case harness.MethodTCP:
		return serveTCP(ctx, args, ready)
	case harness.MethodUDP:
		return serveUDP(ctx, args, ready)
	case harness.MethodUnixStream:
		return serveUnixStream(ctx, args, ready)
	case harness.MethodUnixDatagram:
		return serveUnixDatagram(ctx, args, ready)
	case harness.MethodBus:
		return serveBus(ctx, args, ready)
	default:
		return fmt.Errorf("unsupported method %s", m)
	}
}

func checkArgs(args []string, usage ...string) error {
	if len(args) != len(usage) {
		return fmt.Errorf("want %d arguments %v, got %d", len(usage), usage,
			len(args))
	}

	return nil
}

func parsePair(s string) (payload.Pair, error) {
	size, err := strconv.Atoi(s)
	if err != nil {
		return payload.Pair{}, fmt.Errorf("parse payload size %q: %w", s, err)
	}

	return payload.NewPair(size)
}

// replyTo returns the reply a consumer sends for msg.
func replyTo(pair payload.Pair, msg []byte) ([]byte, error) {
	reply, ok := pair.Reply(msg)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload %q",
			harness.ErrProtocolViolation, payload.Preview(msg))
	}

	return reply, nil
}
