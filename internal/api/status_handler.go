package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shaiso/dynaflow/internal/repo"
)

var startTime = time.Now()

// Health — проверка живости с проверкой БД.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.flows.CountBuildable(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, ErrCodeInternalError, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
}

// Status возвращает запись обслуживания и объём работы.
// GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse

	m, err := h.maintenance.Get(r.Context())
	switch {
	case err == nil:
		resp.Maintenance = m
	case !errors.Is(err, repo.ErrNotFound):
		InternalError(w, h.logger, err)
		return
	}

	resp.Runnable, err = h.tasks.CountRunnable(r.Context(), h.now())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	resp.Buildable, err = h.flows.CountBuildable(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, resp)
}
