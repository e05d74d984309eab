package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/weiihann/ipcbench/payload"
)

// maxUDPPayload is the largest payload a single IPv4 UDP datagram carries.
const maxUDPPayload = 65507

// hello is sent once by the UDP consumer so the driver learns its address.
var hello = []byte{0}

// udpDriver binds a local UDP socket and learns the consumer's address from
// its hello datagram.
type udpDriver struct {
	conn *net.UDPConn
	peer *net.UDPAddr
	size int
	buf  []byte
}

func newUDPDriver(opts Options) (*udpDriver, error) {
	if opts.DataSize > maxUDPPayload {
		return nil, fmt.Errorf("udp payload of %d bytes exceeds %d",
			opts.DataSize, maxUDPPayload)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	return &udpDriver{
		conn: conn,
		size: opts.DataSize,
		buf:  make([]byte, opts.DataSize+1),
	}, nil
}

func (d *udpDriver) ConsumerArgs() []string {
	return []string{d.conn.LocalAddr().String(), strconv.Itoa(d.size)}
}

func (d *udpDriver) Attach(*exec.Cmd) error { return nil }

func (d *udpDriver) Connect(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := d.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		defer d.conn.SetReadDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		d.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, addr, err := d.conn.ReadFromUDP(d.buf)
	if err != nil {
		return fmt.Errorf("wait for consumer hello: %w", err)
	}

	if n != len(hello) {
		return fmt.Errorf("unexpected %d byte hello from %s", n, addr)
	}

	d.peer = addr

	return nil
}

func (d *udpDriver) Send(p []byte) error {
	_, err := d.conn.WriteToUDP(p, d.peer)

	return err
}

func (d *udpDriver) Receive() ([]byte, error) {
	n, _, err := d.conn.ReadFromUDP(d.buf)
	if err != nil {
		return nil, err
	}

	return d.buf[:n], nil
}

func (d *udpDriver) Close() error {
	return d.conn.Close()
}

func serveUDP(ctx context.Context, args []string, ready func() error) error {
	if err := checkArgs(args, "driver-addr", "size"); err != nil {
		return err
	}

	pair, err := parsePair(args[1])
	if err != nil {
		return err
	}

	raddr, err := net.ResolveUDPAddr("udp", args[0])
	if err != nil {
		return fmt.Errorf("resolve driver address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial driver: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	return serveDatagram(ctx, conn, pair, ready)
}

// unixDatagramDriver binds its own datagram socket and sends to the
// consumer's socket path.
type unixDatagramDriver struct {
	conn         *net.UnixConn
	peer         *net.UnixAddr
	driverPath   string
	consumerPath string
	size         int
	buf          []byte
}

func newUnixDatagramDriver(opts Options) (*unixDatagramDriver, error) {
	for _, p := range []string{opts.DatagramDriverPath, opts.DatagramConsumerPath} {
		if err := removeStale(p); err != nil {
			return nil, err
		}
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{
		Name: opts.DatagramDriverPath,
		Net:  "unixgram",
	})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", opts.DatagramDriverPath, err)
	}

	return &unixDatagramDriver{
		conn:         conn,
		driverPath:   opts.DatagramDriverPath,
		consumerPath: opts.DatagramConsumerPath,
		size:         opts.DataSize,
		buf:          make([]byte, opts.DataSize+1),
	}, nil
}

func (d *unixDatagramDriver) ConsumerArgs() []string {
	return []string{d.consumerPath, d.driverPath, strconv.Itoa(d.size)}
}

func (d *unixDatagramDriver) Attach(*exec.Cmd) error { return nil }

// Connect fails when the consumer has not bound its socket yet, like
// connect(2) on a datagram socket would.
func (d *unixDatagramDriver) Connect(context.Context) error {
	if _, err := os.Stat(d.consumerPath); err != nil {
		return fmt.Errorf("consumer socket: %w", err)
	}

	d.peer = &net.UnixAddr{Name: d.consumerPath, Net: "unixgram"}

	return nil
}

func (d *unixDatagramDriver) Send(p []byte) error {
	_, err := d.conn.WriteToUnix(p, d.peer)

	return err
}

func (d *unixDatagramDriver) Receive() ([]byte, error) {
	n, _, err := d.conn.ReadFromUnix(d.buf)
	if err != nil {
		return nil, err
	}

	return d.buf[:n], nil
}

func (d *unixDatagramDriver) Close() error {
	return errors.Join(
		d.conn.Close(),
		removeStale(d.driverPath),
		removeStale(d.consumerPath),
	)
}

func serveUnixDatagram(
	ctx context.Context,
	args []string,
	ready func() error,
) error {
	if err := checkArgs(args, "own-path", "driver-path", "size"); err != nil {
		return err
	}

	pair, err := parsePair(args[2])
	if err != nil {
		return err
	}

	if err := removeStale(args[0]); err != nil {
		return err
	}

	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: args[0], Net: "unixgram"},
		&net.UnixAddr{Name: args[1], Net: "unixgram"},
	)
	if err != nil {
		return fmt.Errorf("bind %s: %w", args[0], err)
	}
	defer conn.Close()

	return serveDatagram(ctx, conn, pair, ready)
}

// serveDatagram answers every datagram read from a connected socket.
func serveDatagram(
	ctx context.Context,
	conn net.Conn,
	pair payload.Pair,
	ready func() error,
) error {
	if err := ready(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, pair.Size()+1)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("read request: %w", err)
		}

		out, err := replyTo(pair, buf[:n])
		if err != nil {
			return err
		}

		if _, err := conn.Write(out); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}
