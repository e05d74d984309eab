package suite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/ipcbench/harness"
)

const example = `
iterations = 500
validate = true
ready = "ack"

[[benchmark]]
method = "shmem"
sizes = [4, 1024]

[[benchmark]]
method = "TCP"
sizes = [64]
iterations = 20
`

func TestParse(t *testing.T) {
	cfg, err := Parse(example)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Iterations)
	require.NoError(t, cfg.Check())
	assert.True(t, cfg.Validate)
	assert.True(t, cfg.StartChild, "start_child defaults to true")
	assert.Equal(t, ReadyAck, cfg.Ready)
	require.Len(t, cfg.Benchmarks, 2)
	assert.Equal(t, harness.MethodTCP, cfg.Benchmarks[1].Method)

	assert.Equal(t, []Case{
		{Method: harness.MethodShmem, Size: 4, Iterations: 500},
		{Method: harness.MethodShmem, Size: 1024, Iterations: 500},
		{Method: harness.MethodTCP, Size: 64, Iterations: 20},
	}, cfg.Cases())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(`
[[benchmark]]
method = "mmap"
sizes = [4]
`)
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.Iterations)
	assert.Equal(t, ReadyDelay, cfg.Ready)
	assert.False(t, cfg.Validate)
	assert.Zero(t, cfg.Warmup)
}

func TestParseWarmup(t *testing.T) {
	cfg, err := Parse(`
start_child = false
warmup = "250ms"

[[benchmark]]
method = "udp"
sizes = [4]
`)
	require.NoError(t, err)

	assert.False(t, cfg.StartChild)
	assert.Equal(t, 250*time.Millisecond, cfg.Warmup)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown method", `
[[benchmark]]
method = "carrier-pigeon"
sizes = [4]
`},
		{"missing method", `
[[benchmark]]
sizes = [4]
`},
		{"zero size", `
[[benchmark]]
method = "tcp"
sizes = [0]
`},
		{"negative size", `
[[benchmark]]
method = "tcp"
sizes = [4, -1]
`},
		{"no sizes", `
[[benchmark]]
method = "tcp"
`},
		{"no benchmarks", `iterations = 5`},
		{"zero iterations", `
iterations = 0
[[benchmark]]
method = "tcp"
sizes = [4]
`},
		{"bad ready", `
ready = "maybe"
[[benchmark]]
method = "tcp"
sizes = [4]
`},
		{"ack without spawned consumer", `
ready = "ack"
start_child = false
[[benchmark]]
method = "bus"
sizes = [4]
`},
		{"unknown key", `
iteratons = 5
[[benchmark]]
method = "tcp"
sizes = [4]
`},
		{"malformed", `[[benchmark`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.toml")
	require.NoError(t, os.WriteFile(path, []byte(example), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Cases(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
