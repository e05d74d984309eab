package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/weiihann/ipcbench/payload"
	"github.com/weiihann/ipcbench/shm"
)

// The consumer wakes up this often to check for cancellation while it
// waits for a request.
const consumerPoll = 100 * time.Millisecond

// channelDriver drives a shared-memory channel; the shmem and mmap methods
// differ only in how the region is obtained.
type channelDriver struct {
	ch   *shm.Channel
	args []string
	// remove is deleted on Close when set.
	remove string
}

func newShmemDriver(opts Options) (*channelDriver, error) {
	ch, err := shm.CreateSegmentChannel(opts.DataSize)
	if err != nil {
		return nil, err
	}

	return &channelDriver{
		ch:   ch,
		args: []string{ch.ID(), strconv.Itoa(opts.DataSize)},
	}, nil
}

func newMmapDriver(opts Options) (*channelDriver, error) {
	ch, err := shm.CreateFileChannel(opts.MmapPath, opts.DataSize)
	if err != nil {
		return nil, err
	}

	return &channelDriver{
		ch:     ch,
		args:   []string{strconv.Itoa(opts.DataSize), opts.MmapPath},
		remove: opts.MmapPath,
	}, nil
}

func (d *channelDriver) ConsumerArgs() []string { return d.args }

func (d *channelDriver) Attach(*exec.Cmd) error { return nil }

func (d *channelDriver) Connect(context.Context) error { return nil }

func (d *channelDriver) Send(p []byte) error {
	return d.ch.Send(p)
}

// Receive waits without a bound; a stuck consumer blocks the driver.
func (d *channelDriver) Receive() ([]byte, error) {
	if err := d.ch.Wait(0); err != nil {
		return nil, err
	}

	return d.ch.Read(), nil
}

func (d *channelDriver) Close() error {
	err := d.ch.Close()

	if d.remove != "" {
		rmErr := os.Remove(d.remove)
		if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}

	return err
}

func serveShmem(ctx context.Context, args []string, ready func() error) error {
	if err := checkArgs(args, "handle", "size"); err != nil {
		return err
	}

	pair, err := parsePair(args[1])
	if err != nil {
		return err
	}

	ch, err := shm.OpenSegmentChannel(args[0], pair.Size())
	if err != nil {
		return err
	}
	defer ch.Close()

	return serveChannel(ctx, ch, pair, ready)
}

func serveMmap(ctx context.Context, args []string, ready func() error) error {
	if err := checkArgs(args, "size", "path"); err != nil {
		return err
	}

	pair, err := parsePair(args[0])
	if err != nil {
		return err
	}

	ch, err := shm.OpenFileChannel(args[1], pair.Size())
	if err != nil {
		return err
	}
	defer ch.Close()

	return serveChannel(ctx, ch, pair, ready)
}

func serveChannel(
	ctx context.Context,
	ch *shm.Channel,
	pair payload.Pair,
	ready func() error,
) error {
	if err := ready(); err != nil {
		return err
	}

	for {
		err := ch.Wait(consumerPoll)
		if errors.Is(err, shm.ErrTimeout) {
			if ctx.Err() != nil {
				return nil
			}

			continue
		}
		if err != nil {
			return fmt.Errorf("wait for request: %w", err)
		}

		reply, err := replyTo(pair, ch.Read())
		if err != nil {
			return err
		}

		if err := ch.Send(reply); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
}
