package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/dynaflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	// MessageTypeTaskDispatch — захваченная задача для исполнителя (очередь processor).
	MessageTypeTaskDispatch MessageType = "task.dispatch"

	// MessageTypeTaskResult — итог выполнения задачи (очередь result).
	MessageTypeTaskResult MessageType = "task.result"

	// MessageTypeDeadLetter — сообщение, которое не удалось разобрать или обработать.
	MessageTypeDeadLetter MessageType = "dead.letter"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Encode сериализует сообщение в JSON.
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return body, nil
}

// Decode разбирает тело сообщения. Пустой ID или тип считаются ошибкой.
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.ID == "" || msg.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedMessage)
	}
	return &msg, nil
}

// ParsePayload разбирает payload сообщения в тип T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// После Decode payload — map[string]any, приводим через JSON
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("%w: unmarshal payload: %v", ErrMalformedMessage, err)
	}

	return result, nil
}

// TaskPayload — задача в сериализованном виде (очередь processor).
type TaskPayload struct {
	Code          uuid.UUID `json:"code"`
	TaskID        int64     `json:"task_id"`
	FlowID        int64     `json:"dynaflow_id"`
	TaskTypeID    int64     `json:"dynaflow_task_type_id"`
	PredecessorID int64     `json:"predecessor_id"`
	Sequence      int       `json:"sequence"`
	ProcessorID   string    `json:"processor_identifier"`
	RetryCount    int       `json:"retry_count"`
	MaxRetryCount int       `json:"max_retry_count"`
	Param1        string    `json:"param_1"`
	Param2        string    `json:"param_2"`
	MinStartAt    time.Time `json:"min_start_utc"`
}

// NewTaskPayload переводит задачу в wire-форму.
func NewTaskPayload(task *domain.Task) TaskPayload {
	return TaskPayload{
		Code:          task.Code,
		TaskID:        task.ID,
		FlowID:        task.FlowID,
		TaskTypeID:    task.TaskTypeID,
		PredecessorID: task.PredecessorID,
		Sequence:      task.Sequence,
		ProcessorID:   task.ProcessorID,
		RetryCount:    task.RetryCount,
		MaxRetryCount: task.MaxRetryCount,
		Param1:        task.Param1,
		Param2:        task.Param2,
		MinStartAt:    task.MinStartAt,
	}
}

// Task восстанавливает задачу из wire-формы.
// Состояние не передаётся: исполнитель перечитывает задачу из БД.
func (p TaskPayload) Task() *domain.Task {
	return &domain.Task{
		ID:            p.TaskID,
		Code:          p.Code,
		FlowID:        p.FlowID,
		TaskTypeID:    p.TaskTypeID,
		PredecessorID: p.PredecessorID,
		Sequence:      p.Sequence,
		ProcessorID:   p.ProcessorID,
		State:         domain.TaskStateRunning,
		RetryCount:    p.RetryCount,
		MaxRetryCount: p.MaxRetryCount,
		Param1:        p.Param1,
		Param2:        p.Param2,
		MinStartAt:    p.MinStartAt,
	}
}

// TaskResultPayload — итог выполнения задачи (очередь result).
type TaskResultPayload struct {
	Code        uuid.UUID        `json:"code"`
	TaskID      int64            `json:"task_id"`
	FlowID      int64            `json:"dynaflow_id"`
	State       domain.TaskState `json:"state"`
	RetryCount  int              `json:"retry_count"`
	ProcessorID string           `json:"processor_identifier"`
	ResultValue string           `json:"result_value,omitempty"`
	ErrorText   string           `json:"error_text,omitempty"`
}

// NewTaskResultPayload формирует итог по задаче.
func NewTaskResultPayload(task *domain.Task) TaskResultPayload {
	return TaskResultPayload{
		Code:        task.Code,
		TaskID:      task.ID,
		FlowID:      task.FlowID,
		State:       task.State,
		RetryCount:  task.RetryCount,
		ProcessorID: task.ProcessorID,
		ResultValue: task.ResultValue,
		ErrorText:   task.ErrorText,
	}
}

// DeadLetterPayload — исходное сообщение и причина изоляции.
type DeadLetterPayload struct {
	SourceQueue string `json:"source_queue"`
	Reason      string `json:"reason"`
	Body        string `json:"body"`
}
