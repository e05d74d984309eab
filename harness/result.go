// Package harness drives a single IPC benchmark: it spawns the consumer
// process, waits for it to become ready and times the round-trip loop.
package harness

import (
	"fmt"
	"time"
)

// Result holds the outcome of one timed run.
type Result struct {
	Label       string        `json:"label"`
	Method      string        `json:"method,omitempty"`
	DataSize    int           `json:"data_size,omitempty"`
	Iterations  int           `json:"iterations"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	ConsumerCPU time.Duration `json:"consumer_cpu_ns,omitempty"`
}

// NewResult records a run of iterations round trips that took elapsed.
func NewResult(label string, elapsed time.Duration, iterations int) Result {
	return Result{
		Label:      label,
		Elapsed:    elapsed,
		Iterations: iterations,
	}
}

// Throughput returns round trips per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}

	return float64(r.Iterations) / r.Elapsed.Seconds()
}

// Latency returns the mean time of one round trip.
func (r Result) Latency() time.Duration {
	if r.Iterations <= 0 {
		return 0
	}

	return r.Elapsed / time.Duration(r.Iterations)
}

// Label names a run of method with dataSize byte payloads.
func Label(m Method, dataSize int) string {
	return fmt.Sprintf("%s - %s", m.Label(), SizeString(dataSize))
}

// SizeString formats a payload size with binary units, e.g. "4B", "64KB".
func SizeString(n int) string {
	const kb = 1024

	switch {
	case n >= kb*kb && n%(kb*kb) == 0:
		return fmt.Sprintf("%dMB", n/(kb*kb))
	case n >= kb && n%kb == 0:
		return fmt.Sprintf("%dKB", n/kb)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
