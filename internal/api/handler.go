package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shaiso/dynaflow/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flows       *repo.FlowRepo
	tasks       *repo.TaskRepo
	types       *repo.TypeRepo
	maintenance *repo.MaintenanceRepo

	metrics http.Handler
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	FlowRepo        *repo.FlowRepo
	TaskRepo        *repo.TaskRepo
	TypeRepo        *repo.TypeRepo
	MaintenanceRepo *repo.MaintenanceRepo

	// Metrics — обработчик /metrics (если nil — маршрут не регистрируется).
	Metrics http.Handler

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Handler{
		flows:       cfg.FlowRepo,
		tasks:       cfg.TaskRepo,
		types:       cfg.TypeRepo,
		maintenance: cfg.MaintenanceRepo,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         now,
	}
}
