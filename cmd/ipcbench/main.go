// Package main provides the CLI entry point for ipcbench, a round-trip
// benchmark of host-local IPC mechanisms.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/ipcbench/harness"
	"github.com/weiihann/ipcbench/report"
	"github.com/weiihann/ipcbench/suite"
	"github.com/weiihann/ipcbench/transport"
)

// ackTimeout bounds how long the driver waits for a consumer's ready byte.
const ackTimeout = 30 * time.Second

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		logger.Error("ipcbench failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "ipcbench",
		Short: "Round-trip benchmark of host-local IPC mechanisms",
		Long: `Ipcbench measures how fast a driver process can exchange a fixed-size
payload with a consumer process over pipes, sockets, shared memory,
memory-mapped files and a zero-copy bus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newRunCmd(logger),
		newSuiteCmd(logger),
		newConsumerCmd(logger),
	)

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	cfg := runConfig{method: harness.MethodStdout}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark a single IPC method",
		Long: `Start a consumer, wait for it to become ready and time the requested
number of request/response round trips.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd.Context(), logger, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.VarP(&cfg.method, "method", "m",
		"IPC method: "+strings.Join(harness.MethodNames(), ", "))
	flags.IntVarP(&cfg.iterations, "iterations", "n", 0,
		"Number of round trips to time")
	flags.IntVar(&cfg.size, "size", 4,
		"Payload size in bytes")
	flags.BoolVarP(&cfg.startChild, "start-child", "s", true,
		"Spawn the consumer process (otherwise start it by hand)")
	flags.BoolVar(&cfg.validate, "validate", false,
		"Check every response inside the timed loop")
	flags.StringVar(&cfg.ready, "ready", suite.ReadyDelay,
		"Readiness policy: delay or ack")
	flags.DurationVar(&cfg.warmup, "warmup", 0,
		"Fixed delay before the first round trip (0 = per-method default)")
	flags.StringVar(&cfg.consumerBin, "consumer-bin", "",
		"Consumer binary (default: this executable)")
	flags.IntVar(&cfg.tcpPort, "tcp-port", 0,
		"TCP listen port (0 = any free port)")
	flags.BoolVar(&cfg.noDelay, "nodelay", true,
		"Disable Nagle's algorithm on TCP")
	flags.BoolVar(&cfg.outputJSON, "json", false,
		"Output results as JSON")

	_ = cmd.MarkFlagRequired("iterations")

	return cmd
}

func newSuiteCmd(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		consumer   string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "suite",
		Short: "Run every method and size listed in a TOML suite file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := suite.Load(configPath)
			if err != nil {
				return err
			}

			return runSuite(cmd.Context(), logger, s, consumer, outputJSON,
				cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "",
		"Path to the suite file")
	flags.StringVar(&consumer, "consumer-bin", "",
		"Consumer binary (default: this executable)")
	flags.BoolVar(&outputJSON, "json", false,
		"Output results as JSON instead of table")

	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func newConsumerCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:                harness.ConsumerSubcommand + " <method> [args...]",
		Short:              "Run the consumer side of a method",
		Hidden:             true,
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := harness.ParseMethod(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Debug("consumer starting",
				slog.String("method", m.String()),
				slog.Any("args", args[1:]),
			)

			return transport.Serve(ctx, m, args[1:], harness.NotifyReady)
		},
	}
}

type runConfig struct {
	method      harness.Method
	iterations  int
	size        int
	startChild  bool
	validate    bool
	ready       string
	warmup      time.Duration
	consumerBin string
	tcpPort     int
	noDelay     bool
	outputJSON  bool
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
	out io.Writer,
) error {
	if cfg.iterations < 1 {
		return fmt.Errorf("--iterations must be positive, got %d",
			cfg.iterations)
	}

	result, err := runOne(ctx, logger, cfg)
	if err != nil {
		return err
	}

	if cfg.outputJSON {
		if err := report.GenerateJSON(out, []harness.Result{*result}); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}

		return nil
	}

	return report.Print(out, *result)
}

func runSuite(
	ctx context.Context,
	logger *slog.Logger,
	s suite.Config,
	consumerBin string,
	outputJSON bool,
	out io.Writer,
) error {
	cases := s.Cases()

	logger.InfoContext(ctx, "starting suite",
		slog.Int("runs", len(cases)),
		slog.String("ready", s.Ready),
	)

	results := make([]harness.Result, 0, len(cases))

	for _, c := range cases {
		result, err := runOne(ctx, logger, runConfig{
			method:      c.Method,
			iterations:  c.Iterations,
			size:        c.Size,
			startChild:  s.StartChild,
			validate:    s.Validate,
			ready:       s.Ready,
			warmup:      s.Warmup,
			consumerBin: consumerBin,
			noDelay:     true,
		})
		if err != nil {
			return fmt.Errorf("run %s: %w", harness.Label(c.Method, c.Size), err)
		}

		results = append(results, *result)
	}

	if outputJSON {
		if err := report.GenerateJSON(out, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(out, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	logger.InfoContext(ctx, "suite complete")

	return nil
}

// runOne sets up, times and tears down a single benchmark.
func runOne(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
) (*harness.Result, error) {
	ready, err := readiness(cfg)
	if err != nil {
		return nil, err
	}

	binary, err := harness.ResolveBinary(cfg.consumerBin)
	if err != nil {
		return nil, err
	}

	opts := transport.DefaultOptions(cfg.size)
	opts.TCPPort = cfg.tcpPort
	opts.NoDelay = cfg.noDelay

	t, err := transport.NewDriver(cfg.method, opts)
	if err != nil {
		return nil, fmt.Errorf("create %s driver: %w", cfg.method, err)
	}

	logger.InfoContext(ctx, "preparing benchmark",
		slog.String("method", cfg.method.String()),
		slog.Int("size", cfg.size),
		slog.Int("iterations", cfg.iterations),
		slog.String("readiness", ready.String()),
	)

	runner, err := harness.New(ctx, t, harness.Config{
		Method:     cfg.method,
		DataSize:   cfg.size,
		StartChild: cfg.startChild,
		Validate:   cfg.validate,
		Readiness:  ready,
		Consumer:   harness.WrapCommand(binary),
	}, logger)
	if err != nil {
		return nil, err
	}
	defer runner.Close()

	return runner.Run(cfg.iterations)
}

func readiness(cfg runConfig) (harness.Readiness, error) {
	switch cfg.ready {
	case suite.ReadyDelay:
		if cfg.warmup > 0 {
			return harness.FixedDelay(cfg.warmup), nil
		}

		return harness.FixedDelay(cfg.method.DefaultWarmup()), nil
	case suite.ReadyAck:
		if !cfg.startChild {
			return nil, fmt.Errorf("--ready %s needs a consumer started by "+
				"the driver (--start-child)", suite.ReadyAck)
		}

		return harness.Acknowledge{Timeout: ackTimeout}, nil
	default:
		return nil, fmt.Errorf("unknown readiness policy %q (want %s or %s)",
			cfg.ready, suite.ReadyDelay, suite.ReadyAck)
	}
}
