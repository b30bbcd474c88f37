package assessord

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covernet/config"
	"covernet/crypto"
	"covernet/native/defaultstate"
	"covernet/native/protection"
	"covernet/native/referencepools"
	"covernet/native/stoken"
	"covernet/observability"
	"covernet/observability/logging"
	telemetry "covernet/observability/otel"
	"covernet/state"
	"covernet/storage"
)

// Main initialises and runs the assessment daemon: it polls the lending
// protocol status feed, drives premium accrual and the default-state machine
// on a fixed cadence, and serves Prometheus metrics.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/assessord/config.yaml", "path to assessord configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("COVERNET_ENV"))
	logger := logging.Setup("assessord", env)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	nodeCfg, err := config.Load(cfg.NodeConfig)
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if otlpEndpoint == "" {
		otlpEndpoint = strings.TrimSpace(nodeCfg.Assessment.OTLPEndpoint)
	}
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := nodeCfg.Assessment.OTLPInsecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "assessord",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	interval := time.Duration(nodeCfg.Assessment.IntervalSeconds) * time.Second
	if cfg.Interval.Duration > 0 {
		interval = cfg.Interval.Duration
	}
	listen := nodeCfg.Assessment.MetricsAddress
	if strings.TrimSpace(cfg.Listen) != "" {
		listen = cfg.Listen
	}

	poolAddr, err := crypto.DecodeAddress(nodeCfg.PoolAddress)
	if err != nil {
		return fmt.Errorf("decode pool address: %w", err)
	}
	vaultAddr, err := crypto.DecodeAddress(nodeCfg.VaultAddress)
	if err != nil {
		return fmt.Errorf("decode vault address: %w", err)
	}
	managerAddr, err := crypto.DecodeAddress(cfg.ManagerAddress)
	if err != nil {
		return fmt.Errorf("decode manager address: %w", err)
	}
	operatorAddr := managerAddr
	if strings.TrimSpace(cfg.OperatorAddress) != "" {
		operatorAddr, err = crypto.DecodeAddress(cfg.OperatorAddress)
		if err != nil {
			return fmt.Errorf("decode operator address: %w", err)
		}
	}

	params, err := nodeCfg.Protection.PoolParameters()
	if err != nil {
		return fmt.Errorf("parse pool parameters: %w", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(nodeCfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	stateManager := state.NewManager(db, poolAddr)
	ledger := stoken.NewLedger()
	feed := NewFeedSource(cfg.FeedURL, cfg.FeedTimeout.Duration)
	registry := referencepools.NewRegistry(operatorAddr, feed)

	engine := protection.NewEngine(poolAddr, vaultAddr, operatorAddr, params, nodeCfg.Protection.EngineConfig())
	engine.SetState(stateManager)
	engine.SetLedger(ledger)
	engine.SetReferencePools(registry)
	engine.SetStateManager(managerAddr)
	engine.SetPauses(nodeCfg.Pauses)

	manager := defaultstate.NewManager(managerAddr, nodeCfg.DefaultState.ManagerConfig())
	manager.SetState(stateManager)
	manager.SetController(engine)
	manager.SetPaymentSource(registry)
	manager.SetLedger(ledger)
	engine.SetClaimSource(manager)

	if err := engine.InitializePool(); err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("assessord started",
		"interval", interval.String(),
		"listen", listen,
		"feed", cfg.FeedURL,
	)

	runner := &passRunner{
		engine:   engine,
		manager:  manager,
		registry: registry,
		feed:     feed,
		operator: operatorAddr,
		window:   cfg.PurchaseWindow.Duration,
		logger:   logger,
		metrics:  observability.Assessment(),
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runner.run(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("assessord shutting down")
			return nil
		case <-ticker.C:
			runner.run(ctx)
		}
	}
}

type passRunner struct {
	engine   *protection.Engine
	manager  *defaultstate.Manager
	registry *referencepools.Registry
	feed     *FeedSource
	operator crypto.Address
	window   time.Duration
	logger   *slog.Logger
	metrics  *observability.AssessmentMetrics
}

// run executes one assessment pass: feed refresh, pool registration, premium
// accrual and state assessment. Failures are logged and counted; the next
// tick retries from scratch.
func (r *passRunner) run(ctx context.Context) {
	started := time.Now()
	runID := uuid.NewString()
	err := r.pass(ctx, runID)
	r.metrics.ObservePass(err, time.Since(started))
	if err != nil {
		r.logger.Error("assessment pass failed", "run_id", runID, "error", err)
		return
	}
	r.logger.Info("assessment pass finished", "run_id", runID, "duration", time.Since(started).String())
}

func (r *passRunner) pass(ctx context.Context, runID string) error {
	if err := r.feed.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh feed: %w", err)
	}

	for _, pool := range r.feed.Pools() {
		if r.registry.IsRegistered(pool) {
			continue
		}
		err := r.registry.AddLendingPool(r.operator, pool, r.feed.Protocol(pool), int64(r.window.Seconds()))
		if err != nil {
			// Pools that are not currently active cannot be registered; they
			// will be picked up once the feed reports them healthy.
			r.logger.Warn("skipping lending pool registration",
				"run_id", runID,
				"lending_pool", pool.String(),
				"error", err,
			)
			continue
		}
		r.logger.Info("registered lending pool", "run_id", runID, "lending_pool", pool.String())
	}

	if err := r.engine.AccruePremiumAndExpireProtections(nil); err != nil {
		return fmt.Errorf("accrue premium: %w", err)
	}

	transitions, err := r.manager.AssessStates(r.registry.Pools())
	if err != nil {
		return fmt.Errorf("assess states: %w", err)
	}
	for _, transition := range transitions {
		r.metrics.RecordTransition(transition.From.String(), transition.To.String())
		if transition.LockedAmount != nil {
			r.metrics.RecordLock(transition.LockedAmount)
		}
		if transition.From == defaultstate.StatusUnderReview && transition.To == defaultstate.StatusActive {
			r.metrics.RecordUnlock()
		}
		r.logger.Info("lending pool transitioned",
			"run_id", runID,
			"lending_pool", transition.LendingPool.String(),
			"status", transition.To.String(),
			"reason", transition.From.String()+"->"+transition.To.String(),
		)
	}
	return nil
}
