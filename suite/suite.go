// Package suite loads TOML files describing a matrix of benchmark runs.
//
// A suite file looks like:
//
//	iterations = 100000
//	validate = true
//	ready = "ack"
//
//	[[benchmark]]
//	method = "shmem"
//	sizes = [4, 1024, 65536]
//
//	[[benchmark]]
//	method = "tcp"
//	sizes = [4]
//	iterations = 10000
package suite

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/weiihann/ipcbench/harness"
)

// Readiness policy names accepted in suite files and on the command line.
const (
	ReadyDelay = "delay"
	ReadyAck   = "ack"
)

// Config is a decoded suite file.
type Config struct {
	Iterations int  `toml:"iterations"`
	Validate   bool `toml:"validate"`
	StartChild bool `toml:"start_child"`
	// Ready is ReadyDelay or ReadyAck.
	Ready string `toml:"ready"`
	// Warmup overrides the per-method delay when Ready is ReadyDelay.
	Warmup     time.Duration `toml:"warmup"`
	Benchmarks []Benchmark   `toml:"benchmark"`
}

// Benchmark runs one method at each of Sizes.
type Benchmark struct {
	Method harness.Method `toml:"method"`
	Sizes  []int          `toml:"sizes"`
	// Iterations overrides Config.Iterations when positive.
	Iterations int `toml:"iterations"`
}

// Case is a single method and payload size pair of a suite.
type Case struct {
	Method     harness.Method
	Size       int
	Iterations int
}

func defaults() Config {
	return Config{
		Iterations: 10000,
		StartChild: true,
		Ready:      ReadyDelay,
	}
}

// Load reads and validates the suite file at path.
func Load(path string) (Config, error) {
	cfg := defaults()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode suite %s: %w", path, err)
	}

	if err := finish(md, &cfg); err != nil {
		return Config{}, fmt.Errorf("suite %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates a suite from TOML text.
func Parse(data string) (Config, error) {
	cfg := defaults()

	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode suite: %w", err)
	}

	if err := finish(md, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func finish(md toml.MetaData, cfg *Config) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	// Method's zero value is a real method, so a missing key must be caught
	// here rather than by Check.
	methods := 0
	for _, k := range md.Keys() {
		if k.String() == "benchmark.method" {
			methods++
		}
	}

	if methods != len(cfg.Benchmarks) {
		return fmt.Errorf("every benchmark needs a method (%d of %d set)",
			methods, len(cfg.Benchmarks))
	}

	return cfg.Check()
}

// Check reports whether every benchmark can be run.
func (c Config) Check() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}

	switch c.Ready {
	case ReadyDelay, ReadyAck:
	default:
		return fmt.Errorf("unknown ready policy %q (want %s or %s)",
			c.Ready, ReadyDelay, ReadyAck)
	}

	if c.Ready == ReadyAck && !c.StartChild {
		return fmt.Errorf("ready = %q needs start_child = true", ReadyAck)
	}

	if c.Warmup < 0 {
		return fmt.Errorf("warmup must not be negative, got %s", c.Warmup)
	}

	if len(c.Benchmarks) == 0 {
		return fmt.Errorf("no benchmarks listed")
	}

	for i, b := range c.Benchmarks {
		if len(b.Sizes) == 0 {
			return fmt.Errorf("benchmark %d (%s): no sizes listed", i, b.Method)
		}

		for _, size := range b.Sizes {
			if size < 1 {
				return fmt.Errorf("benchmark %d (%s): size must be positive, got %d",
					i, b.Method, size)
			}
		}

		if b.Iterations < 0 {
			return fmt.Errorf("benchmark %d (%s): iterations must not be negative",
				i, b.Method)
		}
	}

	return nil
}

// Cases flattens the suite into runs, in file order.
func (c Config) Cases() []Case {
	var cases []Case

	for _, b := range c.Benchmarks {
		n := c.Iterations
		if b.Iterations > 0 {
			n = b.Iterations
		}

		for _, size := range b.Sizes {
			cases = append(cases, Case{Method: b.Method, Size: size, Iterations: n})
		}
	}

	return cases
}
