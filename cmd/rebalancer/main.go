package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"rebalancer/internal/broker"
	"rebalancer/internal/config"
	"rebalancer/internal/execution"
	"rebalancer/internal/infrastructure/metrics"
	"rebalancer/internal/infrastructure/server"
	"rebalancer/internal/report"
	"rebalancer/pkg/logging"
	"rebalancer/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	brokerName := flag.String("broker", "", "Broker to use (overrides config)")
	env := flag.String("env", "", "Environment: dev or prod (overrides config)")
	dryRun := flag.Bool("dry-run", false, "Plan without placing orders (overrides config)")
	ignoreGuards := flag.Bool("ignore-guards", false, "Override the overridable safety guards")
	persistentRetry := flag.Bool("persistent-retry", false, "Keep going past individual order failures")
	retryThreshold := flag.Float64("retry-threshold", 0, "Abort when failed value exceeds this fraction of the plan base")
	strictCancellation := flag.Bool("strict-cancellation", false, "Abort when a stale order cannot be cancelled")
	orderDelay := flag.Float64("order-delay", 0, "Seconds to pause between orders")
	metricsPort := flag.Int("metrics-port", 0, "Metrics/health port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rebalancer version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, flagOverrides{
		broker:             *brokerName,
		env:                *env,
		dryRun:             *dryRun,
		ignoreGuards:       *ignoreGuards,
		persistentRetry:    *persistentRetry,
		retryThreshold:     *retryThreshold,
		strictCancellation: *strictCancellation,
		orderDelay:         *orderDelay,
		metricsPort:        *metricsPort,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting rebalancer",
		"version", version,
		"broker", cfg.App.Broker,
		"env", cfg.App.Env,
		"dry_run", cfg.Execution.DryRun,
	)

	tel, err := telemetry.Setup("rebalancer")
	if err != nil {
		logger.Warn("Failed to initialize telemetry", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				logger.Warn("Telemetry shutdown failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Rebalance failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.ZapLogger) error {
	brk, err := broker.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("broker setup failed: %w", err)
	}
	if err := brk.CheckHealth(ctx); err != nil {
		return fmt.Errorf("broker health check failed: %w", err)
	}

	var health *server.HealthServer
	if cfg.Telemetry.EnableMetrics {
		health = server.NewHealthServer(strconv.Itoa(cfg.Telemetry.MetricsPort), logger, brk)
		health.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := health.Stop(shutdownCtx); err != nil {
				logger.Warn("Health server shutdown failed", "error", err)
			}
		}()
	}

	exec, err := execution.New(execution.Params{
		Broker:      brk,
		Targets:     cfg.TargetAllocation(),
		Rebalance:   cfg.CoreRebalanceConfig(),
		Search:      cfg.SearchPolicy(),
		Policy:      cfg.ExecutionPolicy(),
		ProductCode: cfg.Account.ProductCode,
		Env:         cfg.App.Env,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("executor setup failed: %w", err)
	}

	fmt.Println(report.FormatTargets(cfg.TargetAllocation()))

	result, runErr := exec.Run(ctx)
	if health != nil {
		health.UpdateStatus("executor_state", string(exec.State()))
	}
	if result != nil {
		metrics.NewRecorder().RecordRun(ctx, result)
		if result.Plan != nil {
			fmt.Println(report.FormatPlan(result.Plan))
		}
		fmt.Println(report.FormatReport(result))
	}
	return runErr
}

type flagOverrides struct {
	broker             string
	env                string
	dryRun             bool
	ignoreGuards       bool
	persistentRetry    bool
	retryThreshold     float64
	strictCancellation bool
	orderDelay         float64
	metricsPort        int
}

// applyFlagOverrides layers explicitly-set flags over the loaded config.
// flag.Visit only reports flags present on the command line, so config
// values survive unless the operator overrides them.
func applyFlagOverrides(cfg *config.Config, o flagOverrides) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.App.Broker = o.broker
		case "env":
			cfg.App.Env = o.env
		case "dry-run":
			cfg.Execution.DryRun = o.dryRun
		case "ignore-guards":
			cfg.Execution.IgnoreGuards = o.ignoreGuards
		case "persistent-retry":
			cfg.Execution.PersistentRetry = o.persistentRetry
		case "retry-threshold":
			cfg.Execution.RetryThreshold = o.retryThreshold
		case "strict-cancellation":
			cfg.Execution.StrictCancellation = o.strictCancellation
		case "order-delay":
			cfg.Execution.OrderDelaySeconds = o.orderDelay
		case "metrics-port":
			cfg.Telemetry.MetricsPort = o.metricsPort
		}
	})
}
