// DynaFlow Processor — строит и выполняет задачи flows.
//
// Роли задаются конфигурацией:
//   - task master: расписание, построение задач, распределение, разбор результатов
//   - task processor: выполнение задач
//
// При poll_interval = 0 процессор делает один проход до исчерпания работы
// и завершается (запуск по cron). Иначе работает как демон до SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/dynaflow/internal/config"
	"github.com/shaiso/dynaflow/internal/engine"
	"github.com/shaiso/dynaflow/internal/mq"
	"github.com/shaiso/dynaflow/internal/processor"
	"github.com/shaiso/dynaflow/internal/repo"
	"github.com/shaiso/dynaflow/internal/telemetry"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting dynaflow-processor",
		"task_master", cfg.Roles.TaskMaster,
		"task_processor", cfg.Roles.TaskProcessor,
		"queue", cfg.Queue.Enabled,
	)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("processor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dynaflow-processor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, "dynaflow-processor", cfg.Telemetry.OTelExporter, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := repo.Open(ctx, cfg.DB.Driver, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "driver", db.Dialect())

	typeRepo := repo.NewTypeRepo(db)
	if err := config.SeedTypes(ctx, typeRepo, cfg.Types); err != nil {
		return fmt.Errorf("seed types: %w", err)
	}

	var transport mq.Transport
	if cfg.Queue.Enabled {
		transport, err = newTransport(ctx, cfg.Queue, logger)
		if err != nil {
			return err
		}
		defer transport.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	p, err := processor.New(processor.Config{
		FlowRepo:            repo.NewFlowRepo(db),
		TaskRepo:            repo.NewTaskRepo(db),
		TypeRepo:            typeRepo,
		MaintenanceRepo:     repo.NewMaintenanceRepo(db),
		Transport:           transport,
		Queues:              cfg.Queue.QueueNames,
		TaskMaster:          cfg.Roles.TaskMaster,
		TaskProcessor:       cfg.Roles.TaskProcessor,
		InstanceName:        cfg.Processor.InstanceName,
		ScratchDir:          cfg.Processor.ScratchDir,
		MaintenanceInterval: cfg.Processor.MaintenanceInterval,
		MaintenanceGrace:    cfg.Processor.MaintenanceGrace,
		StallTimeout:        cfg.Processor.StallTimeout,
		RetryDelay:          cfg.Processor.RetryDelay,
		BatchSize:           cfg.Processor.BatchSize,
		PollInterval:        cfg.Processor.PollInterval,
		Env:                 engine.EnvFromOS(),
		Metrics:             metrics,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	if err := p.Startup(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	// HTTP: /healthz + /metrics, только в режиме демона
	var server *http.Server
	if cfg.Processor.PollInterval > 0 && cfg.Telemetry.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := db.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			if transport != nil {
				if err := transport.Ping(r.Context()); err != nil {
					http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
					return
				}
			}
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		server = &http.Server{
			Addr:              ":" + cfg.Telemetry.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	runErr := p.Run(ctx)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
	return runErr
}

// newTransport подключается к брокеру выбранного драйвера.
func newTransport(ctx context.Context, qc config.QueueConfig, logger *slog.Logger) (mq.Transport, error) {
	switch qc.Driver {
	case config.QueueDriverRedis:
		client, err := mq.NewRedisClient(ctx, qc.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("redis connected")
		return mq.NewRedisTransport(client, "", logger), nil
	case config.QueueDriverMemory:
		logger.Warn("in-memory queue: messages are not shared between processes")
		return mq.NewMemoryTransport(), nil
	default:
		conn, err := mq.NewConnection(qc.RabbitURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		t, err := mq.NewRabbitTransport(ctx, conn, qc.QueueNames, logger)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("rabbitmq connected")
		return t, nil
	}
}
