// Command sandboxrt starts the scheduling/preemption core: a global
// admission queue, one worker per available core, and the HTTP
// metrics endpoint, wired around a module-spec file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-foundations/sandboxrt/admission"
	"github.com/go-foundations/sandboxrt/ctxswitch"
	"github.com/go-foundations/sandboxrt/interrupt"
	"github.com/go-foundations/sandboxrt/listener"
	"github.com/go-foundations/sandboxrt/metrics"
	"github.com/go-foundations/sandboxrt/modulespec"
	"github.com/go-foundations/sandboxrt/runtimecfg"
	"github.com/go-foundations/sandboxrt/sandbox"
	"github.com/go-foundations/sandboxrt/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagWorkers  int
	flagLogLevel string
	flagMetrics  string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandboxrt <module-spec-file>",
		Short: "Run the sandbox scheduling/preemption runtime against a module spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "cap on worker count (0 = one per available core)")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "trace|debug|info|warn|error")
	cmd.Flags().StringVar(&flagMetrics, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	return cmd
}

func run(ctx context.Context, specPath string) error {
	log, err := newLogger(flagLogLevel)
	if err != nil {
		return err
	}

	cfg := runtimecfg.DefaultRuntimeConfig()
	cfg.ModuleSpecPath = specPath
	cfg.MaxWorkers = flagWorkers
	cfg, err = cfg.WithSchedulerEnv(os.Getenv("SLEDGE_SCHEDULER"))
	if err != nil {
		return fmt.Errorf("sandboxrt: %w", err)
	}

	spec, err := modulespec.LoadFile(cfg.ModuleSpecPath)
	if err != nil {
		return fmt.Errorf("sandboxrt: %w", err)
	}

	if err := runtimecfg.RaiseResourceLimits(); err != nil {
		return fmt.Errorf("sandboxrt: %w", err)
	}
	topo, err := runtimecfg.DetectTopology()
	if err != nil {
		return fmt.Errorf("sandboxrt: %w", err)
	}

	// The listener (this goroutine) is pinned to processor 0, matching the
	// per-worker pinning each worker.Run performs for itself.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := runtimecfg.PinCurrentThread(topo.ListenerCore); err != nil {
		return fmt.Errorf("sandboxrt: pin listener thread: %w", err)
	}

	mhz, err := runtimecfg.DetectProcessorMHz()
	if err != nil {
		return fmt.Errorf("sandboxrt: %w", err)
	}
	log.Info().
		Int("online_cores", topo.OnlineCores).
		Float64("cpu_mhz", mhz).
		Uint64("cycles_per_interval", runtimecfg.CyclesPerInterval(mhz)).
		Str("policy", cfg.SchedulerPolicy.String()).
		Msg("runtime starting")

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	sched := admission.New(cfg.SchedulerPolicy, cfg.AdmissionCapacityOrUnbounded(), log)
	deferredMax := interrupt.NewDeferredMaxTable(topo.WorkerCount(cfg.MaxWorkers))
	l := listener.New(spec, sched, m, log)
	_ = l // wired for Submit calls from a real transport, out of scope here

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workerCount := cfg.WorkerCount(topo)
	errCh := make(chan error, workerCount+1)

	for i := 0; i < workerCount; i++ {
		w, err := worker.New(worker.Config{
			Idx:            worker.Idx(i),
			Core:           topo.WorkerCores[i],
			Policy:         cfg.SchedulerPolicy,
			AdmissionSched: sched,
			DeferredMax:    deferredMax,
			Loader:         unimplementedGuestLoader,
			Metrics:        m,
			Log:            log,
		})
		if err != nil {
			return fmt.Errorf("sandboxrt: start worker %d: %w", i, err)
		}
		go func() { errCh <- w.Run(ctx) }()
	}

	srv := &http.Server{Addr: flagMetrics, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() { errCh <- srv.ListenAndServe() }()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("sandboxrt: %w", err)
		}
		return nil
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("sandboxrt: invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}

// unimplementedGuestLoader is the seam where a real WASM/guest-code
// translation layer would plug in; it is an explicit Non-goal (see
// modulespec), so every admitted request fails fast with a clear cause
// rather than silently hanging.
func unimplementedGuestLoader(req *sandbox.Request) (ctxswitch.EntryFunc, error) {
	return nil, fmt.Errorf("sandboxrt: no guest-code translation layer configured for module %q", req.ModuleName)
}
