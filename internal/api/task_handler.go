package api

import (
	"net/http"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
)

// SearchTasks — отчёт по задачам с фильтром по процессору и состоянию.
// GET /api/v1/tasks?processor=&state=&limit=&offset=
func (h *Handler) SearchTasks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	filter := repo.TaskFilter{
		ProcessorID: r.URL.Query().Get("processor"),
		Limit:       page.Limit,
		Offset:      page.Offset,
	}
	if s := r.URL.Query().Get("state"); s != "" {
		state := domain.TaskState(s)
		if !state.Valid() {
			BadRequest(w, "invalid state: "+s)
			return
		}
		filter.State = state
	}

	tasks, err := h.tasks.Search(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Page(w, TasksFromDomain(tasks), len(tasks), page)
}

// GetTask возвращает задачу по коду.
// GET /api/v1/tasks/{code}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	code, ok := parseCode(r)
	if !ok {
		BadRequest(w, "invalid task code")
		return
	}

	task, err := h.tasks.GetByCode(r.Context(), code)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*task))
}

// ResetTask — явный сброс завершённой задачи оператором.
// POST /api/v1/tasks/{code}/reset
func (h *Handler) ResetTask(w http.ResponseWriter, r *http.Request) {
	code, ok := parseCode(r)
	if !ok {
		BadRequest(w, "invalid task code")
		return
	}

	task, err := h.tasks.Reset(r.Context(), code, h.now())
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	h.logger.Info("task reset by operator", "task_code", task.Code)
	Success(w, TaskFromDomain(*task))
}
