package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/weiihann/ipcbench/payload"
)

const helperEnv = "IPCBENCH_HELPER_CONSUMER"

// TestMain lets the test binary act as a stdin/stdout consumer when it is
// spawned by one of the tests below.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperConsumer())
	}

	os.Exit(m.Run())
}

func runHelperConsumer() int {
	size, err := strconv.Atoi(os.Args[len(os.Args)-1])
	if err != nil {
		return 2
	}

	pair, err := payload.NewPair(size)
	if err != nil {
		return 2
	}

	if err := NotifyReady(); err != nil {
		return 2
	}

	buf := make([]byte, size)
	for {
		if _, err := io.ReadFull(os.Stdin, buf); err != nil {
			return 0
		}

		reply, ok := pair.Reply(buf)
		if !ok {
			return 3
		}

		if _, err := os.Stdout.Write(reply); err != nil {
			return 0
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport answers every request in-process.
type fakeTransport struct {
	reply      func(req []byte) []byte
	last       []byte
	sends      int
	connectErr error
	connected  bool
	closed     bool
}

func echoPingPong(size int) func([]byte) []byte {
	pair, _ := payload.NewPair(size)

	return func(req []byte) []byte {
		reply, ok := pair.Reply(req)
		if !ok {
			return []byte("error")
		}

		return reply
	}
}

func (f *fakeTransport) ConsumerArgs() []string   { return []string{"fake"} }
func (f *fakeTransport) Attach(_ *exec.Cmd) error { return nil }

func (f *fakeTransport) Connect(context.Context) error {
	f.connected = true

	return f.connectErr
}

func (f *fakeTransport) Send(p []byte) error {
	f.sends++
	f.last = f.reply(p)

	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	return f.last, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true

	return nil
}

func newFakeRunner(t *testing.T, ft *fakeTransport, validate bool) *Runner {
	t.Helper()

	r, err := New(context.Background(), ft, Config{
		Method:    MethodShmem,
		DataSize:  4,
		Validate:  validate,
		Readiness: FixedDelay(0),
	}, discardLogger())
	require.NoError(t, err)

	return r
}

func TestRunPingPong(t *testing.T) {
	ft := &fakeTransport{reply: echoPingPong(4)}
	r := newFakeRunner(t, ft, true)
	defer r.Close()

	assert.True(t, ft.connected)
	assert.Equal(t, StateWarmedUp, r.State())

	res, err := r.Run(1000)
	require.NoError(t, err)

	assert.Equal(t, 1000, res.Iterations)
	assert.Equal(t, 1000, ft.sends)
	assert.Greater(t, res.Elapsed, time.Duration(0))
	assert.Equal(t, r.Elapsed(), res.Elapsed)
	assert.InDelta(t, 1000/res.Elapsed.Seconds(), res.Throughput(), 1e-6)
	assert.Equal(t, "Shared memory - 4B", res.Label)
	assert.Equal(t, "shmem", res.Method)
	assert.Equal(t, StateCompleted, r.State())

	// A completed runner may run again.
	res, err = r.Run(10)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Iterations)
}

func TestRunZeroIterations(t *testing.T) {
	ft := &fakeTransport{reply: echoPingPong(4)}
	r := newFakeRunner(t, ft, true)
	defer r.Close()

	res, err := r.Run(0)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, 0, ft.sends)

	_, err = r.Run(-1)
	assert.Error(t, err)
}

func TestRunProtocolViolation(t *testing.T) {
	ft := &fakeTransport{reply: func([]byte) []byte { return []byte("pang") }}
	r := newFakeRunner(t, ft, true)
	defer r.Close()

	_, err := r.Run(1000)
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, 1, ft.sends, "run must stop at the first bad response")

	// Aborted runs are never retried.
	_, err = r.Run(1)
	require.ErrorIs(t, err, ErrState)
}

func TestRunWithoutValidation(t *testing.T) {
	ft := &fakeTransport{reply: func([]byte) []byte { return []byte("pang") }}
	r := newFakeRunner(t, ft, false)
	defer r.Close()

	res, err := r.Run(50)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Iterations)
}

func TestRunAfterClose(t *testing.T) {
	ft := &fakeTransport{reply: echoPingPong(4)}
	r := newFakeRunner(t, ft, true)

	require.NoError(t, r.Close())
	assert.True(t, ft.closed)
	assert.Equal(t, StateTornDown, r.State())

	_, err := r.Run(1)
	require.ErrorIs(t, err, ErrState)

	// Close is idempotent.
	require.NoError(t, r.Close())
}

func TestNewClosesTransportOnConnectError(t *testing.T) {
	ft := &fakeTransport{
		reply:      echoPingPong(4),
		connectErr: errors.New("refused"),
	}

	_, err := New(context.Background(), ft, Config{
		Method:    MethodTCP,
		DataSize:  4,
		Readiness: FixedDelay(0),
	}, discardLogger())

	require.Error(t, err)
	assert.True(t, ft.closed)
}

func TestNewRejectsEmptyPayload(t *testing.T) {
	ft := &fakeTransport{}

	_, err := New(context.Background(), ft, Config{
		Method:   MethodTCP,
		DataSize: 0,
	}, discardLogger())

	require.Error(t, err)
	assert.True(t, ft.closed)
}

func TestSpawnFailure(t *testing.T) {
	ft := &fakeTransport{reply: echoPingPong(4)}

	_, err := New(context.Background(), ft, Config{
		Method:     MethodShmem,
		DataSize:   4,
		StartChild: true,
		Readiness:  FixedDelay(0),
		Consumer: CommandConfig{
			Binary: "/nonexistent/ipcbench-consumer",
		},
	}, discardLogger())

	require.ErrorIs(t, err, ErrChildProcess)
	assert.True(t, ft.closed)
	assert.False(t, ft.connected)
}

// pipeTransport talks to the helper consumer over its stdin and stdout.
type pipeTransport struct {
	size int
	in   io.WriteCloser
	out  io.ReadCloser
	buf  []byte
}

func (p *pipeTransport) ConsumerArgs() []string {
	return []string{strconv.Itoa(p.size)}
}

func (p *pipeTransport) Attach(cmd *exec.Cmd) error {
	var err error
	if p.in, err = cmd.StdinPipe(); err != nil {
		return err
	}
	if p.out, err = cmd.StdoutPipe(); err != nil {
		return err
	}

	p.buf = make([]byte, p.size)

	return nil
}

func (p *pipeTransport) Connect(context.Context) error { return nil }

func (p *pipeTransport) Send(b []byte) error {
	_, err := p.in.Write(b)

	return err
}

func (p *pipeTransport) Receive() ([]byte, error) {
	_, err := io.ReadFull(p.out, p.buf)

	return p.buf, err
}

func (p *pipeTransport) Close() error {
	if p.in != nil {
		p.in.Close()
	}

	return nil
}

func TestRunWithSpawnedConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r, err := New(ctx, &pipeTransport{size: 64}, Config{
		Method:     MethodStdout,
		DataSize:   64,
		StartChild: true,
		Validate:   true,
		Readiness:  Acknowledge{Timeout: 10 * time.Second},
		Consumer: CommandConfig{
			Binary: os.Args[0],
			Env:    []string{helperEnv + "=1"},
		},
	}, discardLogger())
	require.NoError(t, err)

	res, err := r.Run(500)
	require.NoError(t, err)
	assert.Equal(t, 500, res.Iterations)
	assert.GreaterOrEqual(t, res.ConsumerCPU, time.Duration(0))

	child := r.child
	require.NoError(t, r.Close())
	assert.NotNil(t, child.ProcessState, "consumer should be reaped")
}

func TestAcknowledgeConsumerExit(t *testing.T) {
	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()

	require.NoError(t, wr.Close())

	err = Acknowledge{Timeout: time.Second}.Wait(context.Background(), rd)
	require.ErrorIs(t, err, ErrChildProcess)
}

func TestAcknowledgeTimeout(t *testing.T) {
	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	err = Acknowledge{Timeout: 20 * time.Millisecond}.Wait(
		context.Background(), rd)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestAcknowledgeWithoutChild(t *testing.T) {
	require.NoError(t, Acknowledge{}.Wait(context.Background(), nil))
}

func TestNotifyReady(t *testing.T) {
	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	// NotifyReady closes the descriptor it writes to, so hand it a copy.
	dup, err := dupFD(wr)
	require.NoError(t, err)

	t.Setenv(ReadyFDEnv, strconv.Itoa(dup))
	require.NoError(t, NotifyReady())

	require.NoError(t, Acknowledge{Timeout: time.Second}.Wait(
		context.Background(), rd))
}

func TestNotifyReadyWithoutDriver(t *testing.T) {
	t.Setenv(ReadyFDEnv, "")
	require.NoError(t, NotifyReady())

	t.Setenv(ReadyFDEnv, "not-a-number")
	assert.Error(t, NotifyReady())
}

func TestFixedDelay(t *testing.T) {
	start := time.Now()
	require.NoError(t, FixedDelay(20*time.Millisecond).Wait(
		context.Background(), nil))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := FixedDelay(time.Hour).Wait(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, "delay 2s", FixedDelay(2*time.Second).String())
}

func dupFD(f *os.File) (int, error) {
	return unix.Dup(int(f.Fd()))
}
