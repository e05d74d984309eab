package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethodRoundTrip(t *testing.T) {
	for _, m := range Methods() {
		parsed, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	assert.Len(t, MethodNames(), 8)
}

func TestParseMethodCaseInsensitive(t *testing.T) {
	m, err := ParseMethod("SHMEM")
	require.NoError(t, err)
	assert.Equal(t, MethodShmem, m)
}

func TestMethodSetRejectsUnknown(t *testing.T) {
	m := MethodTCP

	err := m.Set("carrier-pigeon")
	require.Error(t, err)
	assert.Equal(t, MethodTCP, m, "failed Set must not change the value")
	assert.Equal(t, "method", m.Type())
}

func TestMethodText(t *testing.T) {
	var m Method
	require.NoError(t, m.UnmarshalText([]byte("unixdgram")))
	assert.Equal(t, MethodUnixDatagram, m)

	text, err := m.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "unixdgram", string(text))

	_, err = Method(99).MarshalText()
	assert.Error(t, err)
}

func TestMethodLabels(t *testing.T) {
	assert.Equal(t, "Memory mapped file", MethodMmap.Label())
	assert.Equal(t, "Method(99)", Method(99).Label())
}

func TestDefaultWarmup(t *testing.T) {
	tests := []struct {
		method Method
		want   time.Duration
	}{
		{MethodShmem, 2 * time.Second},
		{MethodMmap, 2 * time.Second},
		{MethodBus, time.Second},
		{MethodUnixDatagram, 500 * time.Millisecond},
		{MethodTCP, 0},
		{MethodStdout, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.method.DefaultWarmup(), tt.method.String())
	}
}

func TestLabelAndSize(t *testing.T) {
	tests := []struct {
		size int
		want string
	}{
		{1, "1B"},
		{4, "4B"},
		{1000, "1000B"},
		{1024, "1KB"},
		{65536, "64KB"},
		{1 << 20, "1MB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SizeString(tt.size))
	}

	assert.Equal(t, "TCP - 1KB", Label(MethodTCP, 1024))
}

func TestResultDerived(t *testing.T) {
	r := NewResult("x", 2*time.Second, 1000)

	assert.InDelta(t, 500.0, r.Throughput(), 1e-9)
	assert.Equal(t, 2*time.Millisecond, r.Latency())

	assert.Zero(t, NewResult("x", 0, 10).Throughput())
	assert.Zero(t, NewResult("x", time.Second, 0).Latency())
}
