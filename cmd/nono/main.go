package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xinjiayu/nono"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// pipelineFlags 描述演示管道的源
type pipelineFlags struct {
	sources        int
	delay          time.Duration
	step           time.Duration
	failIndex      int
	delayErrors    bool
	maxConcurrency int
	timeout        time.Duration
	scheduler      string
	workers        int
	stats          bool
}

func rootCmd() *cobra.Command {
	var (
		configFile string
		envFile    string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "nono",
		Short: "Run completion-only pipelines",
		Long: `nono assembles timer sources into race, concat or merge pipelines
and waits for the single terminal event.

Source i completes after --delay + i*--step; the source at --fail-index fails instead.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initRuntime(configFile, envFile, verbose)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file to load before reading NONO_* variables")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every subscription at debug level")

	root.AddCommand(pipelineCmd("race", "Race the sources; the first terminal event wins"))
	root.AddCommand(pipelineCmd("concat", "Run the sources one after another"))
	root.AddCommand(pipelineCmd("merge", "Run the sources concurrently"))
	return root
}

func initRuntime(configFile, envFile string, verbose bool) error {
	cfg, err := nono.LoadConfig(configFile, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = nono.FormatConsole
	}
	if err := nono.Init(cfg); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if verbose {
		nono.SetOnAssembly(nono.ChainAssemblyHooks(nono.OnAssembly(), nono.LoggingAssemblyHook(nono.Logger())))
	}
	return nil
}

func pipelineCmd(kind, short string) *cobra.Command {
	f := pipelineFlags{}

	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), kind, f)
		},
	}

	cmd.Flags().IntVar(&f.sources, "sources", 3, "number of timer sources")
	cmd.Flags().DurationVar(&f.delay, "delay", 100*time.Millisecond, "delay of the first source")
	cmd.Flags().DurationVar(&f.step, "step", 50*time.Millisecond, "extra delay per source index")
	cmd.Flags().IntVar(&f.failIndex, "fail-index", -1, "index of the source that fails (-1 for none)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().StringVar(&f.scheduler, "scheduler", schedulerComputation, "scheduler for timers and timeouts (computation or work-stealing)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "work-stealing worker count (0 for one per CPU)")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "print per-worker statistics when using the work-stealing scheduler")
	if kind != "race" {
		cmd.Flags().BoolVar(&f.delayErrors, "delay-errors", false, "collect errors until every source has terminated")
	}
	if kind == "merge" {
		cmd.Flags().IntVar(&f.maxConcurrency, "max-concurrency", 0, "maximum concurrently subscribed sources (0 for unbounded)")
	}
	return cmd
}

const (
	schedulerComputation  = "computation"
	schedulerWorkStealing = "work-stealing"
)

// newScheduler 按名称创建调度器，release释放调度器自己持有的资源
func newScheduler(f pipelineFlags) (sched nono.Scheduler, release func(), err error) {
	switch f.scheduler {
	case "", schedulerComputation:
		return nono.Computation(), func() {}, nil
	case schedulerWorkStealing:
		if f.workers < 0 {
			return nil, nil, fmt.Errorf("--workers must not be negative (got %d)", f.workers)
		}
		ws := nono.NewWorkStealingScheduler(f.workers)
		return ws, ws.Dispose, nil
	default:
		return nil, nil, fmt.Errorf("unknown scheduler %q", f.scheduler)
	}
}

// buildSources 创建演示用的计时器源
func buildSources(f pipelineFlags, sched nono.Scheduler, out io.Writer) []*nono.Nono {
	sources := make([]*nono.Nono, 0, f.sources)
	for i := 0; i < f.sources; i++ {
		index := i
		delay := f.delay + time.Duration(i)*f.step

		source := nono.TimerOn(delay, sched)
		if index == f.failIndex {
			source = source.AndThen(nono.Error(fmt.Errorf("source %d failed", index)))
		}
		source = source.
			DoOnSubscribe(func(nono.Subscription) {
				fmt.Fprintf(out, "source %d subscribed (%s)\n", index, delay)
			}).
			DoOnComplete(func() {
				fmt.Fprintf(out, "source %d completed\n", index)
			}).
			DoOnError(func(err error) {
				fmt.Fprintf(out, "source %d failed: %v\n", index, err)
			}).
			DoOnCancel(func() {
				fmt.Fprintf(out, "source %d cancelled\n", index)
			})
		sources = append(sources, source)
	}
	return sources
}

// buildPipeline 按kind组合源
func buildPipeline(kind string, f pipelineFlags, sources []*nono.Nono) (*nono.Nono, error) {
	switch kind {
	case "race":
		return nono.Amb(sources...), nil
	case "concat":
		if f.delayErrors {
			return nono.ConcatDelayError(sources...), nil
		}
		return nono.Concat(sources...), nil
	case "merge":
		switch {
		case f.maxConcurrency < 0:
			return nil, fmt.Errorf("--max-concurrency must not be negative (got %d)", f.maxConcurrency)
		case f.maxConcurrency == 0 && f.delayErrors:
			return nono.MergeDelayError(sources...), nil
		case f.maxConcurrency == 0:
			return nono.Merge(sources...), nil
		case f.delayErrors:
			return nono.MergeDelayErrorWithConcurrency(f.maxConcurrency, sources...), nil
		default:
			return nono.MergeWithConcurrency(f.maxConcurrency, sources...), nil
		}
	default:
		return nil, fmt.Errorf("unknown pipeline %q", kind)
	}
}

func run(ctx context.Context, out io.Writer, kind string, f pipelineFlags) error {
	if f.sources < 0 {
		return fmt.Errorf("--sources must not be negative (got %d)", f.sources)
	}
	sched, release, err := newScheduler(f)
	if err != nil {
		return err
	}
	defer release()

	pipeline, err := buildPipeline(kind, f, buildSources(f, sched, out))
	if err != nil {
		return err
	}
	if f.timeout > 0 {
		pipeline = pipeline.TimeoutOn(f.timeout, sched)
	}

	start := time.Now()
	err = pipeline.BlockingAwaitContext(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)

	if ws, ok := sched.(*nono.WorkStealingScheduler); ok && f.stats {
		printStats(out, ws.Stats())
	}

	switch {
	case err == nil:
		fmt.Fprintf(out, "%s completed in %s\n", kind, elapsed)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(out, "%s interrupted after %s\n", kind, elapsed)
		return nil
	default:
		fmt.Fprintf(out, "%s failed after %s (%s): %v\n", kind, elapsed, nono.KindOf(err), err)
		return err
	}
}

func printStats(out io.Writer, stats []nono.WorkerStats) {
	for _, st := range stats {
		fmt.Fprintf(out, "worker %d: executed=%d stolen=%d lost=%d idle=%s queued=%d\n",
			st.ID, st.ExecutedTasks, st.StolenTasks, st.LostTasks, time.Duration(st.IdleTimeNs).Round(time.Microsecond), st.QueueSize)
	}
}
