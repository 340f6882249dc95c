// DynaFlow API — административный HTTP API: запрос flows, просмотр
// состояния, отмена flows и сброс задач.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/dynaflow/internal/api"
	"github.com/shaiso/dynaflow/internal/config"
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
	if err := cfg.Types.Validate(); err != nil {
		logger.Error("invalid type configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting dynaflow-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := repo.Open(ctx, cfg.DB.Driver, cfg.DB.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database", "driver", db.Dialect())

	typeRepo := repo.NewTypeRepo(db)
	if err := config.SeedTypes(ctx, typeRepo, cfg.Types); err != nil {
		logger.Error("failed to seed types", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reqTotal := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "dynaflow",
		Name:      "api_http_requests_total",
		Help:      "HTTP requests handled by dynaflow-api.",
	}, []string{"method"})

	handler := api.NewHandler(api.Config{
		FlowRepo:        repo.NewFlowRepo(db),
		TaskRepo:        repo.NewTaskRepo(db),
		TypeRepo:        typeRepo,
		MaintenanceRepo: repo.NewMaintenanceRepo(db),
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:          logger,
	})
	routes := handler.Routes()

	server := &http.Server{
		Addr: ":" + cfg.API.Port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqTotal.WithLabelValues(r.Method).Inc()
			routes.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
