package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"AegisVault/internal/config"
	"AegisVault/internal/core"
	"AegisVault/internal/ingestion"
	"AegisVault/internal/observability"
	"AegisVault/internal/persistence"
	"AegisVault/internal/projection"
	"AegisVault/internal/query"
	"AegisVault/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", os.Getenv("VAULT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid config: %v", err)
	}

	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("vaultd", level)
	logger.Info().Msg("AegisVault starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLoggerWithLevel("migrate", level))
	applied, err := migrator.Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", func() error {
		pingCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		return db.PingContext(pingCtx)
	})

	// --- Channels ---
	// The core blocks on persistence and drops projection outputs when full.
	persistCoreChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.Pipeline.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Pipeline.PublishChanSize)

	// --- Deterministic core ---
	world, err := core.NewWorld(cfg.CoreGenesis())
	if err != nil {
		logger.Fatal().Err(err).Msg("genesis")
	}
	deterministicCore := core.NewDeterministicCore(1, world, persistCoreChan, projectionCoreChan, nil, metrics)
	deterministicCore.SetLogger(observability.NewLoggerWithLevel("core", level))

	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		snap = nil
	}
	if snap != nil {
		if err := deterministicCore.RestoreFromSnapshot(toCoreSnapshot(snap)); err != nil {
			logger.Fatal().Err(err).Int64("seq", snap.Sequence).Msg("snapshot restore")
		}
		logger.Info().Int64("seq", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from genesis")
	}

	// --- Downstream workers ---
	// Workers outlive ctx so they can drain what the core emitted before
	// shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
		cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout, metrics,
		observability.NewLoggerWithLevel("persistence", level))
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics,
		observability.NewLoggerWithLevel("projection", level))
	if err := projWorker.Seed(ctx, cfg.Genesis.CooldownDuration); err != nil {
		logger.Fatal().Err(err).Msg("seed projections")
	}

	workers.Add(3)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()
	go func() {
		defer workers.Done()
		if err := projWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()
	go func() {
		defer workers.Done()
		bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics, logger)
	}()

	// --- Replay ---
	// The event log is the source of truth; the Postgres dedup tier stays off
	// until it has been replayed.
	replayed, err := replayEventsFromLog(ctx, snapMgr, deterministicCore, deterministicCore.GetSequence(), metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("event replay")
	}
	deterministicCore.SetDBChecker(persistence.NewPostgresIdempotencyChecker(db))
	logger.Info().Int64("replayed", replayed).Int64("next_seq", deterministicCore.GetSequence()).Msg("recovery complete")

	// Read before the core loop owns the world.
	deployed := deterministicCore.World().Vault
	addrs := query.Addresses{
		Vault: deployed.Address(),
		Silo:  deployed.Silo().Address(),
		Asset: deployed.Asset(),
	}

	// --- NATS ---
	natsLogger := observability.NewLoggerWithLevel("nats", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func() error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, natsLogger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := outboundPublisher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("outbound publisher: %w", err)
		}
	}()

	// --- Core loop and ingestion ---
	inbound := make(chan core.Submission, cfg.Pipeline.InboundChanSize)
	loop := core.NewLoop(deterministicCore, inbound, observability.NewLoggerWithLevel("core", level))
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("core loop: %w", err)
		}
	}()

	rawEventChan := make(chan ingestion.RawEvent, cfg.Pipeline.InboundChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, natsLogger)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	go ingestion.RunNATSBridge(ctx, rawEventChan, inbound, metrics, natsLogger)

	// --- Snapshots ---
	snaps := newSnapshotter(snapMgr, cfg.Snapshot.MinEvents, metrics, observability.NewLoggerWithLevel("snapshot", level))
	scheduler := cron.New(cron.WithSeconds())
	if _, err := scheduler.AddFunc(cfg.Snapshot.Cron, func() {
		jobCtx, c := context.WithTimeout(ctx, time.Minute)
		defer c()
		snaps.scheduled(jobCtx, loop.Snapshot)
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Snapshot.Cron).Msg("register snapshot schedule")
	}
	scheduler.Start()

	// --- gRPC + HTTP gateway ---
	queryService := query.NewQueryService(db, addrs)
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Query:  queryService,
		Ingest: ingestion.NewGRPCIngestService(inbound),
		Snapshot: func(ctx context.Context) (int64, error) {
			s, err := loop.Snapshot(ctx)
			if err != nil {
				return 0, err
			}
			return snaps.save(ctx, s)
		},
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db, cfg.Genesis.CooldownDuration, observability.NewLoggerWithLevel("projection", level))
		},
		LastSequence:  snapMgr.GetLatestSequence,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLoggerWithLevel("server", level),
	})

	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go func() {
		if err := serveMetrics(ctx, cfg.Server.MetricsAddr, logger); err != nil {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int64("next_seq", deterministicCore.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("AegisVault ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the core finish its current call, drain the workers,
	// then snapshot the state the event log now fully covers.
	healthChecker.SetReady(false)
	<-scheduler.Stop().Done()
	natsSubscriber.Stop()
	cancel()
	<-loopDone

	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("workers did not drain in time")
		stopWorkers()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, err := snaps.save(shutdownCtx, deterministicCore.CreateSnapshotState()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if seq > 0 {
		logger.Info().Int64("seq", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("AegisVault shutdown complete")
}

// bridgeCoreOutputs converts core outputs into the persistence, projection
// and publish formats. It returns once both core channels are closed, closing
// its own outputs so the workers drain and exit.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(publishOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}

			logRows, err := persistence.NewLogRows(output.Envelope.Sequence, output.Logs)
			if err != nil {
				logger.Error().Int64("seq", output.Envelope.Sequence).Err(err).Msg("encode logs")
			}
			persistOut <- persistence.CoreOutput{
				EventRow:    persistence.NewEventRow(output.Envelope),
				JournalRows: persistence.NewJournalRows(output.Batch),
				LogRows:     logRows,
			}

			select {
			case publishOut <- ingestion.NewPublishableEvent(output.Envelope, output.Logs):
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}

			select {
			case projectionOut <- projection.NewProjectionOutput(output.Envelope, output.Batch, output.Logs):
			default:
				if metrics != nil {
					metrics.ProjectionDrops.Inc()
				}
			}
		}
	}
}

// replayEventsFromLog feeds the event log from fromSequence back through the
// core and checks every recomputed state hash against the stored one.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	const batchSize = 1000
	var total int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			if next := deterministicCore.GetSequence(); row.Sequence != next {
				return total, fmt.Errorf("event log gap: expected sequence %d, found %d", next, row.Sequence)
			}

			evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: row.Payload}, row.CallType)
			if err != nil {
				return total, fmt.Errorf("decode seq %d: %w", row.Sequence, err)
			}

			var callErr *core.CallError
			if err := deterministicCore.ProcessEvent(evt); err != nil && !errors.As(err, &callErr) {
				return total, fmt.Errorf("replay seq %d: %w", row.Sequence, err)
			}
			if h := deterministicCore.GetStateHash(); !bytes.Equal(h[:], row.StateHash) {
				return total, fmt.Errorf("state hash mismatch at seq %d: replayed %x, stored %x", row.Sequence, h, row.StateHash)
			}

			total++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
