package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// FlowProgress — сводка по задачам flow.
type FlowProgress struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Succeeded      int `json:"succeeded"`
	FailedTerminal int `json:"failed_terminal"`
	Canceled       int `json:"canceled"`
}

// FlowResponse — flow из API.
type FlowResponse struct {
	Code              string        `json:"code"`
	TypeID            int64         `json:"type_id"`
	SubjectCode       string        `json:"subject_code"`
	State             string        `json:"state"`
	PriorityLevel     int           `json:"priority_level"`
	RequestKey        string        `json:"request_key,omitempty"`
	BuildDebug        bool          `json:"build_debug"`
	IsCancelRequested bool          `json:"is_cancel_requested"`
	RequestedAt       string        `json:"requested_at"`
	StartedAt         string        `json:"started_at,omitempty"`
	CompletedAt       string        `json:"completed_at,omitempty"`
	ResultValue       string        `json:"result_value,omitempty"`
	Progress          *FlowProgress `json:"progress,omitempty"`
}

// TaskResponse — задача из API.
type TaskResponse struct {
	Code          string `json:"code"`
	FlowID        int64  `json:"flow_id"`
	TaskTypeID    int64  `json:"task_type_id"`
	Sequence      int    `json:"sequence"`
	State         string `json:"state"`
	ProcessorID   string `json:"processor_id,omitempty"`
	RetryCount    int    `json:"retry_count"`
	MaxRetryCount int    `json:"max_retry_count"`
	Param1        string `json:"param_1,omitempty"`
	Param2        string `json:"param_2,omitempty"`
	ResultValue   string `json:"result_value,omitempty"`
	ErrorText     string `json:"error_text,omitempty"`
	RequestedAt   string `json:"requested_at"`
	MinStartAt    string `json:"min_start_at"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// MaintenanceResponse — запись обслуживания из API.
type MaintenanceResponse struct {
	IsStarted   bool   `json:"is_scheduled_process_request_started"`
	IsCompleted bool   `json:"is_scheduled_process_request_completed"`
	ProcessorID string `json:"processor_identifier,omitempty"`
	StartedAt   string `json:"started_utc,omitempty"`
	LastRunAt   string `json:"last_scheduled_process_utc,omitempty"`
	NextRunAt   string `json:"next_scheduled_process_utc,omitempty"`
}

// StatusResponse — состояние процессоров из API.
type StatusResponse struct {
	Maintenance *MaintenanceResponse `json:"maintenance,omitempty"`
	Runnable    int                  `json:"runnable_tasks"`
	Buildable   int                  `json:"buildable_flows"`
}

// --- Request types ---

// RequestFlowRequest — запрос на flow.
type RequestFlowRequest struct {
	TypeName    string `json:"type_name"`
	SubjectCode string `json:"subject_code"`
	BuildDebug  bool   `json:"build_debug,omitempty"`
	RequestKey  string `json:"request_key,omitempty"`
}

// SearchTasksOpts — параметры отчёта по задачам.
type SearchTasksOpts struct {
	ProcessorID string
	State       string
	Limit       int
	Offset      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для DynaFlow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает последние flow.
func (c *Client) ListFlows(limit, offset int) ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", pageParams(limit, offset), &flows)
	return flows, err
}

// RequestFlow создаёт запрос на flow.
func (c *Client) RequestFlow(req RequestFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по коду.
func (c *Client) GetFlow(code string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+url.PathEscape(code), &flow)
	return &flow, err
}

// ListFlowTasks возвращает задачи flow.
func (c *Client) ListFlowTasks(code string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/flows/"+url.PathEscape(code)+"/tasks", nil, &tasks)
	return tasks, err
}

// CancelFlow запрашивает отмену flow.
func (c *Client) CancelFlow(code string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows/"+url.PathEscape(code)+"/cancel", nil, &flow)
	return &flow, err
}

// --- Tasks ---

// SearchTasks — отчёт по задачам.
func (c *Client) SearchTasks(opts SearchTasksOpts) ([]TaskResponse, error) {
	params := pageParams(opts.Limit, opts.Offset)
	if opts.ProcessorID != "" {
		params.Set("processor", opts.ProcessorID)
	}
	if opts.State != "" {
		params.Set("state", opts.State)
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// ResetTask сбрасывает завершённую задачу.
func (c *Client) ResetTask(code string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+url.PathEscape(code)+"/reset", nil, &task)
	return &task, err
}

// --- Status ---

// Status возвращает состояние обслуживания и объём работы.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	err := c.get("/api/v1/status", &status)
	return &status, err
}

// --- HTTP helpers ---

func pageParams(limit, offset int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	return params
}

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
