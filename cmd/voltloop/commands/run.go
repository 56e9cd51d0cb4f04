package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jzx17/voltloop/pkg/bootstrap"
	"github.com/jzx17/voltloop/pkg/config"
	"github.com/jzx17/voltloop/pkg/controller"
	"github.com/jzx17/voltloop/pkg/engine/bridge"
	"github.com/jzx17/voltloop/pkg/engine/voltage"
	"github.com/jzx17/voltloop/pkg/render"
	"github.com/jzx17/voltloop/pkg/retry"
	"github.com/jzx17/voltloop/pkg/telemetry"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/spf13/cobra"
)

type runOptions struct {
	duration  time.Duration
	reference float64
	seed      int64
	watch     bool
	quiet     bool
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bootstrap the engine and run the control loop",
		Long: `Run loads the voltage engine through the staged bootstrap, retrying
transient failures, then starts the control loop. Samples are streamed to one
log sink per chart. The loop runs until interrupted or until --duration elapses.`,
		Example: `  # Run with defaults for ten seconds
  voltloop run --duration 10s

  # Run from a config file and apply edits while running
  voltloop run -c voltloop.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if !cmd.Flags().Changed("reference") {
				opts.reference = cfg.Loop.InitialReference
			}
			return runLoop(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().Float64Var(&opts.reference, "reference", 1.0, "voltage reference in pu")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "noise seed (0 uses the current time)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload --config on change")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not log chart updates")

	return cmd
}

func runLoop(ctx context.Context, cfg config.Config, opts runOptions, out io.Writer) error {
	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	log := logger.Component("cli")

	tracing, err := telemetry.SetupTracing(cfg.Tracing, "voltloop", "dev", out)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warnf("tracing shutdown: %v", err)
		}
	}()

	metrics := telemetry.NewMetrics(cfg.Metrics)
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		srv := serveMetrics(cfg.Metrics.Address, metrics, log)
		defer srv.Close()
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var caller bridge.Caller = bridge.NewHost(voltage.WithSeed(seed))
	if len(cfg.Bootstrap.Failures) > 0 {
		caller = bridge.NewFlaky(caller, cfg.Bootstrap.Failures)
	}

	stages := bridge.Stages(caller, cfg.Engine.Map())
	for i := range stages {
		if p, ok := cfg.StagePolicy(stages[i].ID); ok {
			stages[i].Policy = p
		}
	}

	orchestrator := retry.NewOrchestrator(retry.WithEventHandler(retry.MultiEventHandler{
		retry.NewLoggingEventHandler(logger.Component("retry")),
		metrics.RetryHandler(),
	}))
	pipeline, err := bootstrap.New(stages,
		bootstrap.WithOrchestrator(orchestrator),
		bootstrap.WithLogger(logger.Component("bootstrap")),
		bootstrap.WithMetrics(metrics),
		bootstrap.WithProgress(func(p bootstrap.Progress) {
			if p.Status == bootstrap.StageActive {
				return
			}
			fmt.Fprintf(out, "[%d/%d] %-16s %s (attempts: %d)\n", p.Completed, p.Total, p.StageID, p.Status, p.Attempts)
		}),
	)
	if err != nil {
		return err
	}
	if _, err := pipeline.Run(ctx); err != nil {
		return err
	}

	sinkLogger := logger.Component("render").Zerolog()
	sinkFor := func(chartID string) types.RenderSink {
		if opts.quiet {
			return render.Multi{}
		}
		return render.NewLogSink(sinkLogger, chartID)
	}

	client := bridge.NewClient(caller, logger.Component("bridge"))
	ctl, err := controller.New(client, cfg.ControllerCharts(sinkFor), cfg.ControllerConfig(),
		controller.WithGate(pipeline),
		controller.WithLogger(logger.Component("controller")),
		controller.WithMetrics(metrics),
		controller.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer ctl.Close()

	failed := make(chan error, 1)
	ctl.Subscribe(controller.ObserverFuncs{
		Error: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	ctl.SetControlInput(opts.reference)

	if opts.watch && configPath != "" {
		w := config.NewWatcher(configPath, cfg, config.WithWatcherLogger(logger.Component("config")))
		if err := w.Watch(ctx, func(prev, next config.Config) error {
			applied, err := config.Apply(ctx, ctl, prev, next)
			if err != nil {
				return err
			}
			if config.RestartRequired(prev, next) {
				log.Warnf("some configuration changes take effect only after a restart")
			}
			log.Infof("applied configuration sections %v", applied)
			return nil
		}); err != nil {
			return err
		}
	}

	if err := ctl.Start(); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-deadline:
	case runErr = <-failed:
	}
	ctl.Stop()

	health, err := client.Health(context.Background())
	if err == nil {
		fmt.Fprintf(out, "session %s: %d ticks, sim time %.2fs, engine %s\n", ctl.Session(), ctl.Ticks(), health.Time, health.Status)
		for _, w := range health.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
	}
	return runErr
}

func serveMetrics(addr string, metrics *telemetry.Metrics, log *telemetry.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on %s/metrics", addr)
	return srv
}

