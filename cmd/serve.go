package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/coldpipe/coldpipe/internal/engine"
	"github.com/coldpipe/coldpipe/internal/lease"
	"github.com/coldpipe/coldpipe/internal/metrics"
	"github.com/coldpipe/coldpipe/internal/sched"
)

var (
	serveEnv      string
	serveAddr     string
	serveSchedule string
	serveLive     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lifecycle on a cron schedule with a metrics endpoint",
	Long: `Serve runs the lifecycle at the configured cadence (schedule in
coldpipe.toml, standard cron syntax) and exposes Prometheus metrics on
/metrics. Runs are dry-run unless --live is given; scheduled live runs
never prompt. A tick that finds the run lease held fails that tick and
waits for the next one.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveEnv, "env", "", "environment name (default from coldpipe.toml)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9090", "metrics listen address")
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "cron schedule (overrides coldpipe.toml)")
	serveCmd.Flags().BoolVar(&serveLive, "live", false, "execute live runs instead of dry runs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := resolveEnvironment(serveEnv)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	schedule := serveSchedule
	if schedule == "" {
		schedule = env.Schedule
	}
	if schedule == "" {
		log.Fatalf("Error: no schedule (set schedule in coldpipe.toml or pass --schedule)")
	}

	journal, err := openJournal(env)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = journal.Close() }()

	m := metrics.New()
	logger := slog.Default().With("component", "serve")

	runOnce := func(ctx context.Context) error {
		st, err := openStore(env)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		runID := uuid.NewString()
		plan, artifactKey, err := loadPlan(env, runID)
		if err != nil {
			return err
		}
		table, err := planTable(env, plan)
		if err != nil {
			return err
		}

		lk, err := acquireLease(ctx, st, env, table)
		if err != nil {
			if errors.Is(err, lease.ErrHeld) {
				logger.Warn("skipping tick, lease held", "table", table)
				return nil
			}
			return err
		}
		defer func() { _ = lk.Release() }()

		cfg := engineConfig(env, serveLive)
		cfg.Table = table
		cfg.RunID = runID

		if serveLive {
			logger.Info("starting live run", "table", table, "artifact", artifactKey)
		}
		outcome, runErr := engine.New(st, journal, cfg).Run(ctx, plan)
		m.Observe(outcome)
		if runErr != nil {
			return runErr
		}
		logger.Info("run finished", "run_id", outcome.RunID, "summary", outcome.Summary())
		return nil
	}

	scheduler := sched.New(schedule, runOnce)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	mode := "dry-run"
	if serveLive {
		mode = "live"
	}
	fmt.Printf("Serving %s runs on schedule %q, metrics at %s/metrics\n", mode, schedule, serveAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Error: metrics server: %v", err)
	}
	scheduler.Stop()
}
