package harness

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/weiihann/ipcbench/payload"
)

// Transport is the driver side of one IPC mechanism.
//
// The Runner calls Attach (only when it spawns the consumer) before the
// consumer starts, Connect once the consumer is ready, then Send and
// Receive alternately. Receive may return a view into transport-owned
// memory that stays valid until the next Send. Close releases everything
// and removes filesystem artifacts.
type Transport interface {
	ConsumerArgs() []string
	Attach(cmd *exec.Cmd) error
	Connect(ctx context.Context) error
	Send(p []byte) error
	Receive() ([]byte, error)
	Close() error
}

// State is a Runner lifecycle state.
type State int

const (
	StateCreated State = iota
	StateChildSpawned
	StateWarmedUp
	StateRunning
	StateCompleted
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateChildSpawned:
		return "child-spawned"
	case StateWarmedUp:
		return "warmed-up"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds parameters for one benchmark.
type Config struct {
	Method     Method
	DataSize   int
	StartChild bool
	// Validate compares every response with the expected bytes. It costs
	// time inside the measured loop.
	Validate bool
	// Readiness defaults to FixedDelay(Method.DefaultWarmup()).
	Readiness Readiness
	Consumer  CommandConfig
}

// Runner owns a transport, an optional consumer process and the buffers of
// one benchmark.
type Runner struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger

	child *exec.Cmd
	ready *os.File

	request  []byte
	response []byte

	elapsed time.Duration
	state   State
}

// New prepares a Runner: it spawns the consumer when cfg.StartChild is set,
// waits for readiness and connects the transport. The Runner owns t from
// here on; on error t has been closed.
func New(
	ctx context.Context,
	t Transport,
	cfg Config,
	logger *slog.Logger,
) (*Runner, error) {
	pair, err := payload.NewPair(cfg.DataSize)
	if err != nil {
		t.Close()

		return nil, err
	}

	if cfg.Readiness == nil {
		cfg.Readiness = FixedDelay(cfg.Method.DefaultWarmup())
	}

	r := &Runner{
		cfg:       cfg,
		transport: t,
		logger: logger.With(
			slog.String("method", cfg.Method.String()),
			slog.Int("data_size", cfg.DataSize),
		),
		request:  pair.Request,
		response: pair.Response,
		state:    StateCreated,
	}

	if err := r.setup(ctx); err != nil {
		r.Close()

		return nil, err
	}

	return r, nil
}

func (r *Runner) setup(ctx context.Context) error {
	if r.cfg.StartChild {
		if err := r.spawn(); err != nil {
			return err
		}
	} else {
		r.logger.InfoContext(ctx, "waiting for externally started consumer",
			slog.String("args", strings.Join(r.consumerArgs(), " ")),
		)
	}

	if err := r.cfg.Readiness.Wait(ctx, r.ready); err != nil {
		return fmt.Errorf("wait for consumer (%s): %w", r.cfg.Readiness, err)
	}

	r.state = StateWarmedUp

	if err := r.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.Method, err)
	}

	r.logger.DebugContext(ctx, "consumer ready",
		slog.String("readiness", r.cfg.Readiness.String()),
	)

	return nil
}

func (r *Runner) consumerArgs() []string {
	args := make([]string, 0, len(r.cfg.Consumer.ExtraArgs)+4)
	args = append(args, r.cfg.Consumer.ExtraArgs...)
	args = append(args, r.cfg.Method.String())
	args = append(args, r.transport.ConsumerArgs()...)

	return args
}

func (r *Runner) spawn() error {
	cmd := exec.Command(r.cfg.Consumer.Binary, r.consumerArgs()...)
	cmd.Stderr = os.Stderr

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: ready pipe: %w", ErrChildProcess, err)
	}

	cmd.ExtraFiles = []*os.File{readyW}
	cmd.Env = append(os.Environ(), r.cfg.Consumer.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", ReadyFDEnv, readyFD))

	if err := r.transport.Attach(cmd); err != nil {
		readyR.Close()
		readyW.Close()

		return fmt.Errorf("attach %s: %w", r.cfg.Method, err)
	}

	if err := cmd.Start(); err != nil {
		readyR.Close()
		readyW.Close()

		return fmt.Errorf("%w: start %s: %w",
			ErrChildProcess, r.cfg.Consumer.Binary, err)
	}

	// Only the child keeps the write end, so its exit shows up as EOF.
	readyW.Close()

	r.child = cmd
	r.ready = readyR
	r.state = StateChildSpawned

	r.logger.Info("consumer started",
		slog.String("binary", r.cfg.Consumer.Binary),
		slog.Int("pid", cmd.Process.Pid),
	)

	return nil
}

// State returns the lifecycle state.
func (r *Runner) State() State {
	return r.state
}

// Elapsed returns the duration of the last completed run.
func (r *Runner) Elapsed() time.Duration {
	return r.elapsed
}

// Run performs exactly n round trips and returns the timing. With
// validation enabled the first wrong response aborts the run with
// ErrProtocolViolation, and the Runner cannot run again.
func (r *Runner) Run(n int) (*Result, error) {
	if r.state != StateWarmedUp && r.state != StateCompleted {
		return nil, fmt.Errorf("%w: run in state %s", ErrState, r.state)
	}

	if n < 0 {
		return nil, fmt.Errorf("negative iteration count %d", n)
	}

	r.state = StateRunning

	start := time.Now()

	for i := 0; i < n; i++ {
		if err := r.transport.Send(r.request); err != nil {
			return nil, fmt.Errorf("send request %d: %w", i, err)
		}

		got, err := r.transport.Receive()
		if err != nil {
			return nil, fmt.Errorf("receive response %d: %w", i, err)
		}

		if r.cfg.Validate && !bytes.Equal(got, r.response) {
			return nil, fmt.Errorf("%w: round trip %d: got %q, want %q",
				ErrProtocolViolation, i, payload.Preview(got),
				payload.Preview(r.response))
		}
	}

	r.elapsed = time.Since(start)
	r.state = StateCompleted

	result := NewResult(Label(r.cfg.Method, r.cfg.DataSize), r.elapsed, n)
	result.Method = r.cfg.Method.String()
	result.DataSize = r.cfg.DataSize
	result.ConsumerCPU = r.consumerCPU()

	return &result, nil
}

// consumerCPU returns the CPU time the consumer has used since it started,
// or zero when it is not ours or cannot be measured.
func (r *Runner) consumerCPU() time.Duration {
	if r.child == nil || r.child.Process == nil {
		return 0
	}

	p, err := process.NewProcess(int32(r.child.Process.Pid))
	if err != nil {
		r.logger.Debug("failed to inspect consumer",
			slog.String("error", err.Error()),
		)

		return 0
	}

	times, err := p.Times()
	if err != nil {
		r.logger.Debug("failed to read consumer cpu times",
			slog.String("error", err.Error()),
		)

		return 0
	}

	return time.Duration((times.User + times.System) * float64(time.Second))
}

// Close kills the consumer and releases the transport, which also removes
// its filesystem artifacts. Failures are logged and otherwise ignored.
func (r *Runner) Close() error {
	if r.state == StateTornDown {
		return nil
	}

	r.state = StateTornDown

	if r.child != nil {
		if err := r.child.Process.Kill(); err != nil {
			r.logger.Debug("failed to kill consumer",
				slog.String("error", err.Error()),
			)
		}
		_ = r.child.Wait()
	}

	if r.ready != nil {
		r.ready.Close()
	}

	if err := r.transport.Close(); err != nil {
		r.logger.Debug("transport teardown failed",
			slog.String("error", err.Error()),
		)
	}

	return nil
}
