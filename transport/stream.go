package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"strconv"
)

// streamDriver accepts one consumer connection on a listening socket and
// exchanges fixed-size messages over it.
type streamDriver struct {
	ln      net.Listener
	conn    net.Conn
	args    []string
	noDelay bool
	buf     []byte
	// remove is deleted on Close when set.
	remove string
}

func newTCPDriver(opts Options) (*streamDriver, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{
		IP:   net.IPv4(127, 0, 0, 1),
		Port: opts.TCPPort,
	})
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port

	return &streamDriver{
		ln: ln,
		args: []string{
			strconv.Itoa(port),
			strconv.FormatBool(opts.NoDelay),
			strconv.Itoa(opts.DataSize),
		},
		noDelay: opts.NoDelay,
		buf:     make([]byte, opts.DataSize),
	}, nil
}

func newUnixStreamDriver(opts Options) (*streamDriver, error) {
	path := opts.UnixStreamPath

	// A socket left by a killed run would make bind fail.
	if err := removeStale(path); err != nil {
		return nil, err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}

	return &streamDriver{
		ln:     ln,
		args:   []string{path, strconv.Itoa(opts.DataSize)},
		buf:    make([]byte, opts.DataSize),
		remove: path,
	}, nil
}

func (d *streamDriver) ConsumerArgs() []string { return d.args }

func (d *streamDriver) Attach(*exec.Cmd) error { return nil }

func (d *streamDriver) Connect(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { d.ln.Close() })
	defer stop()

	conn, err := d.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("accept consumer: %w", ctx.Err())
		}

		return fmt.Errorf("accept consumer: %w", err)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(d.noDelay); err != nil {
			conn.Close()

			return fmt.Errorf("set nodelay: %w", err)
		}
	}

	d.conn = conn

	return nil
}

func (d *streamDriver) Send(p []byte) error {
	_, err := d.conn.Write(p)

	return err
}

func (d *streamDriver) Receive() ([]byte, error) {
	if _, err := io.ReadFull(d.conn, d.buf); err != nil {
		return nil, err
	}

	return d.buf, nil
}

func (d *streamDriver) Close() error {
	var errs []error

	if d.conn != nil {
		errs = append(errs, d.conn.Close())
	}
	if err := d.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if d.remove != "" {
		errs = append(errs, removeStale(d.remove))
	}

	return errors.Join(errs...)
}

func serveTCP(ctx context.Context, args []string, ready func() error) error {
	if err := checkArgs(args, "port", "nodelay", "size"); err != nil {
		return err
	}

	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("parse port %q: %w", args[0], err)
	}

	noDelay, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("parse nodelay %q: %w", args[1], err)
	}

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp",
		net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dial driver: %w", err)
	}
	defer conn.Close()

	if err := conn.(*net.TCPConn).SetNoDelay(noDelay); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}

	return serveStream(ctx, conn, args[2], ready)
}

func serveUnixStream(ctx context.Context, args []string, ready func() error) error {
	if err := checkArgs(args, "path", "size"); err != nil {
		return err
	}

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "unix", args[0])
	if err != nil {
		return fmt.Errorf("dial driver: %w", err)
	}
	defer conn.Close()

	return serveStream(ctx, conn, args[1], ready)
}

func serveStream(
	ctx context.Context,
	conn net.Conn,
	size string,
	ready func() error,
) error {
	pair, err := parsePair(size)
	if err != nil {
		return err
	}

	if err := ready(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, pair.Size())

	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("read request: %w", err)
		}

		reply, err := replyTo(pair, buf)
		if err != nil {
			return err
		}

		if _, err := conn.Write(reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

func removeStale(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}
