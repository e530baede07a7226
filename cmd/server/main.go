package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/rogerlew/longhaul/internal/api"
	"github.com/rogerlew/longhaul/internal/app/bridge"
	"github.com/rogerlew/longhaul/internal/app/gateway"
	"github.com/rogerlew/longhaul/internal/app/taskrunner"
	"github.com/rogerlew/longhaul/internal/app/worker"
	"github.com/rogerlew/longhaul/internal/config"
	"github.com/rogerlew/longhaul/internal/config/fileloader"
	"github.com/rogerlew/longhaul/internal/domain/jobs"
	"github.com/rogerlew/longhaul/internal/infra/cancellation"
	cancelmem "github.com/rogerlew/longhaul/internal/infra/cancellation/memory"
	cancelstore "github.com/rogerlew/longhaul/internal/infra/cancellation/postgres"
	"github.com/rogerlew/longhaul/internal/infra/eventbus"
	"github.com/rogerlew/longhaul/internal/infra/eventbus/kafka"
	queuemem "github.com/rogerlew/longhaul/internal/infra/queue/memory"
	queuestore "github.com/rogerlew/longhaul/internal/infra/queue/postgres"
	"github.com/rogerlew/longhaul/pkg/common"
	"github.com/rogerlew/longhaul/pkg/common/logger"
	"github.com/rogerlew/longhaul/pkg/common/otel"
)

const serviceType = "server"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SERVER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = fileloader.NewFileLoader(*configPath).Load(ctx)
		if err != nil {
			log.Error(ctx, "failed to load config", "error", err)
			os.Exit(1)
		}
	}

	prob := 1.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(svcName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	busMetrics, err := kafka.NewOtelEventBusMetrics(svcName)
	if err != nil {
		log.Error(ctx, "failed to create event bus metrics", "error", err)
		os.Exit(1)
	}

	// Each server replica uses its own consumer group so the bridge sees
	// every event regardless of how many replicas run.
	eventBus, err := common.ConnectKafkaWithRetry(&kafka.Config{
		Brokers:     common.SplitBrokers(cfg.Kafka.Brokers),
		GroupID:     fmt.Sprintf("%s-%s", serviceType, hostname),
		ClientID:    svcName,
		ServiceType: serviceType,
	}, log, busMetrics, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	publisher := eventbus.NewDomainEventPublisher(eventBus)

	// Durable path: submissions land in Postgres and worker replicas claim
	// them from there.
	queue := queuestore.NewJobQueue(pool, cfg.Worker.LeaseDuration, tracer)
	registry := cancelstore.NewRegistry(pool, cfg.Worker.CancelTTL, tracer)

	// Ephemeral path: tasks run on goroutines in this process and publish
	// onto the same bus, so subscribers see both paths identically.
	memQueue := queuemem.NewJobQueue(cfg.Worker.LeaseDuration)
	memRegistry := cancelmem.NewRegistry(cfg.Worker.CancelTTL)
	runnerExecutor := worker.NewExecutor(
		memQueue,
		memRegistry,
		publisher,
		worker.SleepStep(cfg.Worker.StepDuration),
		tracer,
		log,
	)
	runner := taskrunner.NewRunner(memQueue, runnerExecutor, cfg.Runner.MaxConcurrent, tracer, log)
	defer runner.Shutdown()

	gw := gateway.NewGateway(
		gateway.AllowAll{},
		cancellation.Fanout{registry, memRegistry},
		gateway.JobExecutorFunc(queue.Enqueue),
		gateway.JobExecutorFunc(runner.Run),
		[]jobs.StatusReader{queue, runner},
		tracer,
		log,
	)

	eventBridge := bridge.NewBridge(eventBus, 64, tracer, log)
	defer eventBridge.Close()

	apiServer := api.NewServer(cfg, log, tracer, gw, eventBridge)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Start(gctx) })

	ready.Store(true)
	log.Info(ctx, "server ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info(ctx, "shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
	}

	ready.Store(false)
	cancel()
	if err := g.Wait(); err != nil {
		log.Error(ctx, "server shut down with error", "error", err)
		os.Exit(1)
	}
	log.Info(context.Background(), "server stopped")
}
