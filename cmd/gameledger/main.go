package main

import (
	"GameLedger/internal/auth"
	"GameLedger/internal/config"
	"GameLedger/internal/core"
	"GameLedger/internal/ingestion"
	"GameLedger/internal/ledger"
	"GameLedger/internal/observability"
	"GameLedger/internal/persistence"
	"GameLedger/internal/projection"
	"GameLedger/internal/query"
	"GameLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("gameledger", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gameledger stopped")
	}
}

// runToken issues a caller token signed with the configured secret:
//
//	gameledger token -address 0xad [-ttl 1h] [-config gameledger.toml]
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a TOML config file")
	address := fs.String("address", "", "caller address (0x...)")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	addr, err := ledger.ParseAddress(*address)
	if err != nil {
		return err
	}
	authn, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}
	token, err := authn.Issue(addr.String(), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func newAuthenticator(cfg config.Config) (*auth.Authenticator, error) {
	return auth.New(auth.Config{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL.Std(),
	})
}

func run(cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("GameLedger starting")
	componentLogger := func(name string) zerolog.Logger {
		return observability.NewLogger(name, cfg.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime.Std())

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	if cfg.Postgres.MigrationsDir != "" {
		if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, componentLogger("migrator")).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	authn, err := newAuthenticator(cfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	// The persist channel blocks (backpressure); the projection channel
	// drops when full and projections rebuild from the log.
	persistChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)

	engine, err := core.NewEngine(core.Options{
		PersistChan:         persistChan,
		ProjectionChan:      projectionChan,
		DBChecker:           persistence.NewPostgresIdempotencyChecker(db),
		IdempotencyCapacity: cfg.Engine.IdempotencyLRUCapacity,
		Metrics:             metrics,
		Logger:              componentLogger("core"),
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	recovered, err := persistence.Recover(ctx, snapMgr, engine, componentLogger("recovery"))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- NATS (optional) ---
	var (
		js          ingestion.StreamPublisher
		nc          *nats.Conn
		publishChan chan core.CoreOutput
		subscriber  *ingestion.NATSSubscriber
		rewardLoop  *ingestion.RewardLoop
	)
	if cfg.NATS.URL != "" {
		natsLogger := componentLogger("nats")
		conn, jetStream, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		nc, js = conn, jetStream
		defer nc.Close()

		if err := ingestion.EnsureOutboundStream(ctx, jetStream, cfg.NATS.EventStream, cfg.NATS.EventSubject, natsLogger); err != nil {
			return err
		}
		if err := ingestion.EnsureRewardStream(ctx, jetStream, cfg.NATS.RewardStream, cfg.NATS.RewardSubject, natsLogger); err != nil {
			return err
		}

		publishChan = make(chan core.CoreOutput, cfg.NATS.PublishChanSize)
		rawChan := make(chan ingestion.RawEvent, 1024)
		subscriber = ingestion.NewNATSSubscriber(jetStream, rawChan, natsLogger)
		rewardLoop = ingestion.NewRewardLoop(rawChan, engine, metrics, componentLogger("rewards"))
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
	}

	// --- Workers ---
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, persistence.WorkerOptions{
		BatchSize:    cfg.Persistence.BatchSize,
		FlushTimeout: cfg.Persistence.FlushTimeout.Std(),
		Forward:      publishChan,
		Metrics:      metrics,
		Logger:       componentLogger("persistence"),
	})
	persistWorker.SetLastPersisted(recovered.LastSequence)

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, componentLogger("projection"))

	snapshotter := persistence.NewSnapshotter(snapMgr, engine, persistWorker.LastPersisted,
		cfg.Persistence.SnapshotInterval, metrics, componentLogger("snapshot"))
	snapshotter.SetLastSequence(recovered.SnapshotSequence)

	// Workers outlive the front ends so that calls in flight at shutdown
	// still reach Postgres.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers, wctx := errgroup.WithContext(workerCtx)

	goWorker := func(name string, fn func(context.Context) error) {
		workers.Go(func() error {
			err := fn(wctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", name).Msg("worker failed, shutting down")
				stop()
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	goWorker("persistence", persistWorker.Run)
	goWorker("projection", projWorker.Run)
	goWorker("snapshot", snapshotter.Run)
	if publishChan != nil {
		publisher := ingestion.NewOutboundPublisher(js, publishChan, cfg.NATS.EventSubject, metrics, componentLogger("publisher"))
		goWorker("publisher", publisher.Run)
	}

	// --- Bootstrap a fresh ledger ---
	if err := bootstrap(engine, cfg.Ledger, logger); err != nil {
		return err
	}

	// --- Front ends ---
	grpcSrv, err := server.NewGRPCServer(server.Options{
		GRPCAddr:        cfg.Server.GRPCAddr,
		HTTPAddr:        cfg.Server.HTTPAddr,
		Service:         server.NewLedgerService(engine, query.NewQueryService(db), persistWorker.LastPersisted),
		Authenticator:   authn,
		HealthChecker:   healthChecker,
		Metrics:         metrics,
		Logger:          componentLogger("server"),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
	})
	if err != nil {
		return err
	}

	frontends, fctx := errgroup.WithContext(ctx)
	frontends.Go(func() error { return grpcSrv.StartGRPC(fctx) })
	frontends.Go(func() error { return grpcSrv.StartHTTPGateway(fctx) })
	frontends.Go(func() error {
		return serveMetrics(fctx, cfg.Server.MetricsAddr, healthChecker, cfg.Server.ShutdownTimeout.Std(), logger)
	})
	if rewardLoop != nil {
		if err := subscriber.Subscribe(fctx, ingestion.RewardSubjects(cfg.NATS.RewardStream, cfg.NATS.RewardSubject, cfg.NATS.RewardConsumer)); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		frontends.Go(func() error {
			if err := rewardLoop.Run(fctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	healthChecker.SetSequenceSource(engine.LastSequence)
	healthChecker.SetReady(true)
	grpcSrv.SetServing(true)
	logger.Info().
		Int64("sequence", engine.LastSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("GameLedger ready")

	// --- Shutdown ---
	frontErr := frontends.Wait()
	healthChecker.SetReady(false)
	logger.Info().Msg("front ends stopped, draining workers")

	if subscriber != nil {
		subscriber.Stop()
	}
	stopWorkers()
	workerErr := workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := snapshotter.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Int64("last_persisted", persistWorker.LastPersisted()).Msg("GameLedger shutdown complete")
	return errors.Join(frontErr, workerErr)
}

// bootstrap initializes an empty ledger from configuration. It does
// nothing once the log holds a LedgerInitialized event or when no admin
// is configured.
func bootstrap(engine *core.Engine, cfg config.LedgerConfig, logger zerolog.Logger) error {
	if engine.Initialized() || cfg.Admin == "" {
		return nil
	}
	admin, err := ledger.ParseAddress(cfg.Admin)
	if err != nil {
		return err
	}

	if _, err := engine.Initialize(admin, cfg.TokenInfo(), core.WithIdempotencyKey("bootstrap")); err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}
	logger.Info().Str("admin", admin.Short()).Msg("ledger initialized")

	dc := cfg.DefaultCollection
	if dc.Name == "" {
		return nil
	}
	_, err = engine.CreateCollection(admin, core.CollectionSpec{
		Name:        dc.Name,
		Description: dc.Description,
		URI:         dc.URI,
		Capacity:    dc.Capacity,
	}, core.WithIdempotencyKey("bootstrap:"+dc.Name))
	if err != nil {
		return fmt.Errorf("create default collection: %w", err)
	}
	logger.Info().Str("collection", dc.Name).Uint64("capacity", dc.Capacity).Msg("default collection created")
	return nil
}

// serveMetrics exposes Prometheus metrics and the health probes.
func serveMetrics(ctx context.Context, addr string, health *observability.HealthChecker, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
