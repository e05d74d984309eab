// Package report formats benchmark results into lines and comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/weiihann/ipcbench/harness"
)

// Print writes the one-line summary of a single run.
func Print(w io.Writer, r harness.Result) error {
	_, err := fmt.Fprintf(w, "%s: %d iterations in %s (%s ops/s, %s/op)\n",
		r.Label,
		r.Iterations,
		formatDuration(r.Elapsed),
		formatRate(r.Throughput()),
		formatDuration(r.Latency()),
	)

	return err
}

// Generate writes a markdown comparison table for the given results.
// Speedup is relative to the highest throughput.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fastest := findFastest(results)

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Method | Size | Iterations | Elapsed | Ops/s "+
		"| Latency | Consumer CPU | vs Fastest |")
	fmt.Fprintln(w, "|--------|------|------------|---------|-------"+
		"|---------|--------------|------------|")

	for _, r := range results {
		relative := 1.0
		if tp := r.Throughput(); fastest > 0 && tp > 0 {
			relative = fastest / tp
		}

		fmt.Fprintf(w, "| %s | %s | %d | %s | %s | %s | %s | %.2fx |\n",
			methodLabel(r),
			formatBytes(r.DataSize),
			r.Iterations,
			formatDuration(r.Elapsed),
			formatRate(r.Throughput()),
			formatDuration(r.Latency()),
			formatCPU(r.ConsumerCPU),
			relative,
		)
	}

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

func methodLabel(r harness.Result) string {
	if m, err := harness.ParseMethod(r.Method); err == nil {
		return m.Label()
	}

	return r.Label
}

func findFastest(results []harness.Result) float64 {
	var fastest float64
	for _, r := range results {
		if tp := r.Throughput(); tp > fastest {
			fastest = tp
		}
	}

	return fastest
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatCPU(d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	return formatDuration(d)
}

func formatRate(ops float64) string {
	switch {
	case ops >= 1e6:
		return fmt.Sprintf("%.2fM", ops/1e6)
	case ops >= 1e3:
		return fmt.Sprintf("%.2fK", ops/1e3)
	default:
		return fmt.Sprintf("%.0f", ops)
	}
}

func formatBytes(b int) string {
	if b <= 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
