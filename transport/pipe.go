package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// pipeDriver talks to the consumer over its stdin and stdout.
type pipeDriver struct {
	size   int
	stdin  io.WriteCloser
	stdout io.ReadCloser
	buf    []byte
}

func newPipeDriver(opts Options) *pipeDriver {
	return &pipeDriver{
		size: opts.DataSize,
		buf:  make([]byte, opts.DataSize),
	}
}

func (d *pipeDriver) ConsumerArgs() []string {
	return []string{strconv.Itoa(d.size)}
}

func (d *pipeDriver) Attach(cmd *exec.Cmd) error {
	var err error

	if d.stdin, err = cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if d.stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	return nil
}

func (d *pipeDriver) Connect(context.Context) error {
	if d.stdin == nil || d.stdout == nil {
		return errors.New("stdout method needs a consumer started by the driver")
	}

	return nil
}

func (d *pipeDriver) Send(p []byte) error {
	_, err := d.stdin.Write(p)

	return err
}

func (d *pipeDriver) Receive() ([]byte, error) {
	if _, err := io.ReadFull(d.stdout, d.buf); err != nil {
		return nil, err
	}

	return d.buf, nil
}

func (d *pipeDriver) Close() error {
	var errs []error

	if d.stdin != nil {
		errs = append(errs, d.stdin.Close())
	}
	if d.stdout != nil {
		errs = append(errs, d.stdout.Close())
	}

	return errors.Join(errs...)
}

func servePipe(
	ctx context.Context,
	args []string,
	in io.Reader,
	out io.Writer,
	ready func() error,
) error {
	if err := checkArgs(args, "size"); err != nil {
		return err
	}

	pair, err := parsePair(args[0])
	if err != nil {
		return err
	}

	if err := ready(); err != nil {
		return err
	}

	buf := make([]byte, pair.Size())

	for ctx.Err() == nil {
		if _, err := io.ReadFull(in, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("read request: %w", err)
		}

		reply, err := replyTo(pair, buf)
		if err != nil {
			return err
		}

		if _, err := out.Write(reply); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}

	return nil
}
