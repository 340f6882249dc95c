package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaiso/dynaflow/internal/domain"
)

// Flow DTOs

// RequestFlowRequest — запрос на новый flow.
type RequestFlowRequest struct {
	TypeName    string `json:"type_name"`
	SubjectCode string `json:"subject_code"`
	BuildDebug  bool   `json:"build_debug,omitempty"`
	RequestKey  string `json:"request_key,omitempty"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	Code              uuid.UUID            `json:"code"`
	TypeID            int64                `json:"type_id"`
	SubjectCode       string               `json:"subject_code"`
	State             domain.FlowState     `json:"state"`
	PriorityLevel     int                  `json:"priority_level"`
	RequestKey        string               `json:"request_key,omitempty"`
	BuildDebug        bool                 `json:"build_debug"`
	IsCancelRequested bool                 `json:"is_cancel_requested"`
	RequestedAt       time.Time            `json:"requested_at"`
	StartedAt         *time.Time           `json:"started_at,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	ResultValue       string               `json:"result_value,omitempty"`
	Progress          *domain.FlowProgress `json:"progress,omitempty"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		Code:              f.Code,
		TypeID:            f.TypeID,
		SubjectCode:       f.SubjectCode,
		State:             f.State,
		PriorityLevel:     f.PriorityLevel,
		RequestKey:        f.RequestKey,
		BuildDebug:        f.IsBuildDebugRequired,
		IsCancelRequested: f.IsCancelRequested,
		RequestedAt:       f.RequestedAt,
		StartedAt:         f.StartedAt,
		CompletedAt:       f.CompletedAt,
		ResultValue:       f.ResultValue,
	}
}

// Task DTOs

// TaskResponse — ответ с задачей.
type TaskResponse struct {
	Code              uuid.UUID        `json:"code"`
	FlowID            int64            `json:"flow_id"`
	TaskTypeID        int64            `json:"task_type_id"`
	Sequence          int              `json:"sequence"`
	State             domain.TaskState `json:"state"`
	ProcessorID       string           `json:"processor_id,omitempty"`
	RetryCount        int              `json:"retry_count"`
	MaxRetryCount     int              `json:"max_retry_count"`
	Param1            string           `json:"param_1,omitempty"`
	Param2            string           `json:"param_2,omitempty"`
	ResultValue       string           `json:"result_value,omitempty"`
	ErrorText         string           `json:"error_text,omitempty"`
	IsCancelRequested bool             `json:"is_cancel_requested"`
	RequestedAt       time.Time        `json:"requested_at"`
	MinStartAt        time.Time        `json:"min_start_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		Code:              t.Code,
		FlowID:            t.FlowID,
		TaskTypeID:        t.TaskTypeID,
		Sequence:          t.Sequence,
		State:             t.State,
		ProcessorID:       t.ProcessorID,
		RetryCount:        t.RetryCount,
		MaxRetryCount:     t.MaxRetryCount,
		Param1:            t.Param1,
		Param2:            t.Param2,
		ResultValue:       t.ResultValue,
		ErrorText:         t.ErrorText,
		IsCancelRequested: t.IsCancelRequested,
		RequestedAt:       t.RequestedAt,
		MinStartAt:        t.MinStartAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
	}
}

// TasksFromDomain конвертирует список задач.
func TasksFromDomain(tasks []domain.Task) []TaskResponse {
	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}
	return result
}

// Status DTOs

// StatusResponse — состояние процессоров.
type StatusResponse struct {
	Maintenance *domain.Maintenance `json:"maintenance,omitempty"`
	Runnable    int                 `json:"runnable_tasks"`
	Buildable   int                 `json:"buildable_flows"`
}

// Pagination — параметры страницы отчёта.
type Pagination struct {
	Limit  int
	Offset int
}

// Ограничения страницы.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// parsePagination читает limit/offset из query.
func parsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: defaultLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return p, errInvalidParam("limit")
		}
		p.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errInvalidParam("offset")
		}
		p.Offset = n
	}
	return p, nil
}

// parseCode читает код сущности из пути.
func parseCode(r *http.Request) (uuid.UUID, bool) {
	code, err := uuid.Parse(chi.URLParam(r, "code"))
	if err != nil {
		return uuid.Nil, false
	}
	return code, true
}
