package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ReadyFDEnv names the environment variable that tells a consumer which
// inherited file descriptor to write its ready byte to.
const ReadyFDEnv = "IPCBENCH_READY_FD"

// readyFD is the descriptor number of the first entry in exec.Cmd.ExtraFiles.
const readyFD = 3

// Readiness decides when a consumer is ready for the timed loop. ready is
// the read end of the consumer's ready pipe, or nil when no consumer was
// spawned by the driver.
type Readiness interface {
	Wait(ctx context.Context, ready *os.File) error
	String() string
}

// FixedDelay waits a fixed wall-clock time. It proves nothing about the
// consumer; it only gives it time to attach.
type FixedDelay time.Duration

// Wait sleeps for the delay or until ctx is done.
func (d FixedDelay) Wait(ctx context.Context, _ *os.File) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(time.Duration(d))
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d FixedDelay) String() string {
	return "delay " + time.Duration(d).String()
}

// Acknowledge waits until the consumer writes a byte to its ready pipe,
// which it does once it has attached to the transport. A Timeout of zero
// waits as long as ctx allows.
type Acknowledge struct {
	Timeout time.Duration
}

// Wait blocks on the ready pipe.
func (a Acknowledge) Wait(ctx context.Context, ready *os.File) error {
	if ready == nil {
		return nil
	}

	var deadline time.Time
	if a.Timeout > 0 {
		deadline = time.Now().Add(a.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if !deadline.IsZero() {
		if err := ready.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set ready deadline: %w", err)
		}
	}

	var b [1]byte
	if _, err := ready.Read(b[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: exited before signaling ready", ErrChildProcess)
		}

		return fmt.Errorf("wait for consumer ready: %w", err)
	}

	return nil
}

func (a Acknowledge) String() string {
	return "ack"
}

// NotifyReady is called by a consumer once it is attached. It writes the
// ready byte when the driver passed a ready pipe and does nothing otherwise.
func NotifyReady() error {
	v := os.Getenv(ReadyFDEnv)
	if v == "" {
		return nil
	}

	fd, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", ReadyFDEnv, v, err)
	}

	f := os.NewFile(uintptr(fd), "ready")
	if f == nil {
		return fmt.Errorf("invalid ready descriptor %d", fd)
	}
	defer f.Close()

	if _, err := f.Write([]byte{1}); err != nil {
		return fmt.Errorf("signal ready: %w", err)
	}

	return nil
}
