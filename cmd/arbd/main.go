// arbd is a cross-venue maker/taker arbitrage engine for perpetual futures.
//
// Architecture:
//
//	main.go                  — entry point: flags, config, wiring, signal handling
//	envfile.go               — loads --env-file KEY=VALUE pairs ahead of config.Load
//	internal/config          — YAML config with ARB_* env overrides (spf13/viper)
//	internal/remoteconfig    — optional keyed-config fetch merged on top at startup
//	internal/venue           — REST client + WS supervisor per venue (maker, taker)
//	internal/book            — local order book mirror (C2)
//	internal/stats           — rolling spread windows and dynamic threshold engine (C4/C5)
//	internal/position        — delta-neutral position tracker and safety check (C6)
//	internal/execution       — maker-then-taker execution state machine (C7)
//	internal/coordinator     — signal-detection main loop (C8)
//	internal/datalog         — CSV trade/BBO/spread-stats sinks
//	internal/alert           — priority alert sink (safety-stop, hedge failure)
//
// The engine posts a resting post-only order on the maker venue and, once
// filled (fully or partially, or raced by a cancel), immediately hedges the
// filled size with a market order on the taker venue, capturing the spread
// between the two venues' books while staying delta-neutral.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"arbd/internal/alert"
	"arbd/internal/config"
	"arbd/internal/coordinator"
	"arbd/internal/datalog"
	"arbd/internal/execution"
	"arbd/internal/position"
	"arbd/internal/remoteconfig"
	"arbd/internal/stats"
	"arbd/internal/venue"
	"arbd/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", envOr("ARB_CONFIG", "configs/config.yaml"), "path to the YAML config file")
		envFile    = flag.String("env-file", "", "optional .env file loaded before config (never overrides a set variable)")
		configKey  = flag.String("config-key", "", "remote keyed configuration identifier (overrides config.remote_config.config_key)")
		symbol     = flag.String("symbol", "", "trading symbol (overrides config.symbol)")
	)
	flag.Parse()

	if *envFile != "" {
		if err := loadEnvFile(*envFile); err != nil {
			slog.Error("failed to load env file", "path", *envFile, "error", err)
			return 1
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		return 1
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *configKey != "" {
		cfg.RemoteConfig.ConfigKey = *configKey
	}

	logger := newLogger(cfg.Logging)

	if cfg.RemoteConfig.Enabled {
		if err := mergeRemoteConfig(context.Background(), cfg, logger); err != nil {
			logger.Error("failed to fetch remote configuration", "error", err)
			return 1
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return 1
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE - no real orders will be placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		return 1
	}

	var wg sync.WaitGroup
	runErr := make(chan error, 1)

	wg.Add(1)
	go func() { defer wg.Done(); eng.maker.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); eng.taker.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); eng.datalog.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); eng.stats.Run(ctx) }()
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr <- eng.coordinator.Run(ctx)
	}()

	logger.Info("arbd started",
		"symbol", cfg.Symbol,
		"maker", cfg.Maker.Name,
		"taker", cfg.Taker.Name,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-runErr:
		if err != nil {
			logger.Error("engine stopped with error", "error", err)
			exitCode = 2
			if err == execution.ErrEmergencyStop {
				exitCode = 1
			}
		}
	}

	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown did not complete within grace period, exiting")
	}

	return exitCode
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// mergeRemoteConfig fetches the keyed master/detail rows and layers them on
// top of the YAML defaults. It is the engine's one-shot read: nothing here
// watches for later changes.
func mergeRemoteConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rc := remoteconfig.New(cfg.RemoteConfig.BaseURL, cfg.RemoteConfig.Token)

	master, err := rc.GetMaster(ctx, cfg.RemoteConfig.ConfigKey)
	if err != nil {
		return fmt.Errorf("fetch master config: %w", err)
	}
	if !master.Enabled {
		return fmt.Errorf("remote config %q is disabled", cfg.RemoteConfig.ConfigKey)
	}
	if master.CooldownSec > 0 {
		cfg.Strategy.CooldownSec = master.CooldownSec
	}

	detail, err := rc.GetDetail(ctx, cfg.RemoteConfig.ConfigKey, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch detail config: %w", err)
	}
	cfg.Strategy.OrderQuantity = detail.OrderQuantity.String()
	cfg.Strategy.MaxPosition = detail.MaxPosition.String()
	cfg.Strategy.ZScoreMultiplier = detail.ZScoreMultiplier
	cfg.Maker.ThresholdFloorLong = detail.LongThresholdFloor.String()
	cfg.Taker.ThresholdFloorShort = detail.ShortThresholdFloor.String()

	logger.Info("merged remote configuration", "config_key", cfg.RemoteConfig.ConfigKey, "symbol", cfg.Symbol)
	return nil
}

// engine holds every wired component so main can start and stop them
// uniformly; it owns no trading logic of its own.
type engine struct {
	maker, taker venue.VenueAdapter
	coordinator  *coordinator.Coordinator
	datalog      *datalog.Logger
	stats        *stats.Engine
}

func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	makerClient := venue.NewClient(cfg.Maker.RESTBaseURL, cfg.Maker.APIKey, cfg.DryRun, logger)
	takerClient := venue.NewClient(cfg.Taker.RESTBaseURL, cfg.Taker.APIKey, cfg.DryRun, logger)

	infoCtx, infoCancel := context.WithTimeout(ctx, 10*time.Second)
	defer infoCancel()

	makerInstrument, err := makerClient.InstrumentInfo(infoCtx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch maker instrument info: %w", err)
	}
	takerInstrument, err := takerClient.InstrumentInfo(infoCtx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch taker instrument info: %w", err)
	}

	maker := venue.NewAdapter(types.RoleMaker, makerInstrument, cfg.Maker.WSURL, cfg.Maker.RESTBaseURL,
		cfg.Maker.APIKey, cfg.Maker.BookStream, nil, cfg.DryRun, cfg.Maker.HeartbeatSec, logger)
	taker := venue.NewAdapter(types.RoleTaker, takerInstrument, cfg.Taker.WSURL, cfg.Taker.RESTBaseURL,
		cfg.Taker.APIKey, cfg.Taker.BookStream, nil, cfg.DryRun, cfg.Taker.HeartbeatSec, logger)

	orderQty, err := decimal.NewFromString(cfg.Strategy.OrderQuantity)
	if err != nil {
		return nil, fmt.Errorf("parse strategy.order_quantity: %w", err)
	}
	maxPosition, err := decimal.NewFromString(cfg.Strategy.MaxPosition)
	if err != nil {
		return nil, fmt.Errorf("parse strategy.max_position: %w", err)
	}
	positionEpsilon, err := decimal.NewFromString(cfg.Safety.PositionEpsilon)
	if err != nil {
		return nil, fmt.Errorf("parse safety.position_epsilon: %w", err)
	}
	floorLong, err := decimal.NewFromString(cfg.Maker.ThresholdFloorLong)
	if err != nil {
		return nil, fmt.Errorf("parse maker.threshold_floor_long: %w", err)
	}
	floorShort, err := decimal.NewFromString(cfg.Taker.ThresholdFloorShort)
	if err != nil {
		return nil, fmt.Errorf("parse taker.threshold_floor_short: %w", err)
	}
	suppressDelta, err := decimal.NewFromString(cfg.Stats.SuppressDelta)
	if err != nil {
		return nil, fmt.Errorf("parse stats.suppress_delta: %w", err)
	}

	positions := position.New(positionEpsilon, logger)

	statsEngine := stats.New(stats.Config{
		FloorLong:            floorLong,
		FloorShort:           floorShort,
		ZScoreMultiplier:     cfg.Strategy.ZScoreMultiplier,
		MinSamplesForDynamic: cfg.Stats.MinSamplesForDynamic,
		SuppressDelta:        suppressDelta,
		RecomputeInterval:    cfg.Stats.RecomputeInterval,
		WindowCapacity:       cfg.Stats.WindowCapacity,
	}, logger)

	var alerter execution.Alerter
	if cfg.Alert.Enabled {
		alerter = alert.New(cfg.Alert.Endpoint, cfg.Alert.Token, cfg.Alert.User, logger)
	} else {
		alerter = noopAlerter{}
	}

	dl := datalog.New(cfg.Datalog.Dir, cfg.Maker.Name, cfg.Symbol, logger)

	router := execution.NewUpdateRouter()
	go router.Run(ctx, maker.OrderUpdates())

	machine := execution.New(cfg.Symbol, maker, taker, positions, router, alerter, dl, execution.Config{
		OrderQuantity:        orderQty,
		MaxPosition:          maxPosition,
		FillWait:             time.Duration(cfg.Strategy.FillWaitSec) * time.Second,
		TotalAttemptTimeout:  time.Duration(cfg.Strategy.TotalAttemptTimeoutSec) * time.Second,
		PositionQueryTimeout: 3 * time.Second,
		AckTimeout:           5 * time.Second,
		CancelDrainWait:      2 * time.Second,
	}, logger)

	coord := coordinator.New(cfg.Symbol, maker, taker, statsEngine, machine, dl, dl, coordinator.Config{
		NotReadySleep: orDefault(cfg.Strategy.NotReadySleep, 500*time.Millisecond),
		NoSignalSleep: orDefault(cfg.Strategy.NoSignalSleep, 50*time.Millisecond),
		Cooldown:      orDefault(time.Duration(cfg.Strategy.CooldownSec)*time.Second, 2*time.Second),
	}, logger)

	return &engine{maker: maker, taker: taker, coordinator: coord, datalog: dl, stats: statsEngine}, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// noopAlerter discards alerts when alerting is disabled in config.
type noopAlerter struct{}

func (noopAlerter) Alert(priority int, title, message string) {}
