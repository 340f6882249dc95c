package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shaiso/dynaflow/internal/domain"
	"github.com/shaiso/dynaflow/internal/repo"
)

// ListFlows возвращает последние flow.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	flows, err := h.flows.List(r.Context(), page.Limit, page.Offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}

	Page(w, result, len(result), page)
}

// RequestFlow создаёт запрос на flow.
// POST /api/v1/flows
//
// С request_key запрос идемпотентен: повтор возвращает существующий flow (200).
func (h *Handler) RequestFlow(w http.ResponseWriter, r *http.Request) {
	var req RequestFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	req.TypeName = strings.TrimSpace(req.TypeName)
	if req.TypeName == "" {
		BadRequest(w, "type_name is required")
		return
	}

	flowType, err := h.types.GetFlowTypeByName(r.Context(), req.TypeName)
	if errors.Is(err, repo.ErrNotFound) {
		BadRequest(w, "unknown flow type: "+req.TypeName)
		return
	}
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	if req.RequestKey != "" {
		existing, err := h.flows.GetByRequestKey(r.Context(), flowType.ID, req.RequestKey)
		if err == nil {
			Success(w, FlowFromDomain(*existing))
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	flow := domain.NewFlow(flowType.ID, req.SubjectCode, h.now())
	flow.IsBuildDebugRequired = req.BuildDebug
	flow.RequestKey = req.RequestKey

	if err := h.flows.Create(r.Context(), flow); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("flow requested",
		"flow_code", flow.Code,
		"flow_type", flowType.Name,
		"subject_code", flow.SubjectCode,
	)
	Created(w, FlowFromDomain(*flow))
}

// GetFlow возвращает flow со сводкой по задачам.
// GET /api/v1/flows/{code}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	code, ok := parseCode(r)
	if !ok {
		BadRequest(w, "invalid flow code")
		return
	}

	flow, err := h.flows.GetByCode(r.Context(), code)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	tasks, err := h.tasks.ListByFlow(r.Context(), flow.ID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	ptrs := make([]*domain.Task, len(tasks))
	for i := range tasks {
		ptrs[i] = &tasks[i]
	}
	progress := domain.Summarize(ptrs)

	resp := FlowFromDomain(*flow)
	resp.Progress = &progress
	Success(w, resp)
}

// ListFlowTasks возвращает цепочку задач flow.
// GET /api/v1/flows/{code}/tasks
func (h *Handler) ListFlowTasks(w http.ResponseWriter, r *http.Request) {
	code, ok := parseCode(r)
	if !ok {
		BadRequest(w, "invalid flow code")
		return
	}

	flow, err := h.flows.GetByCode(r.Context(), code)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	tasks, err := h.tasks.ListByFlow(r.Context(), flow.ID)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, TasksFromDomain(tasks), len(tasks))
}

// CancelFlow выставляет запрос отмены.
// POST /api/v1/flows/{code}/cancel
//
// Отмена применяется процессором на границе выполнения задач.
func (h *Handler) CancelFlow(w http.ResponseWriter, r *http.Request) {
	code, ok := parseCode(r)
	if !ok {
		BadRequest(w, "invalid flow code")
		return
	}

	flow, err := h.flows.RequestCancel(r.Context(), code)
	if HandleRepoError(w, h.logger, err, "flow not found") {
		return
	}

	h.logger.Info("flow cancel requested", "flow_code", flow.Code)
	Success(w, FlowFromDomain(*flow))
}
