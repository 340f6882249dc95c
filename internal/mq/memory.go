package mq

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport — Transport в памяти процесса.
// Подходит для тестов и для режима очередей внутри одного процесса.
type MemoryTransport struct {
	mu         sync.Mutex
	queues     map[string][][]byte
	processing map[*Delivery]struct{}
	closed     bool
}

// NewMemoryTransport создаёт пустой транспорт.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		queues:     make(map[string][][]byte),
		processing: make(map[*Delivery]struct{}),
	}
}

var _ Transport = (*MemoryTransport)(nil)

// Send добавляет сообщение в конец очереди.
func (t *MemoryTransport) Send(_ context.Context, queue string, msg *Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return t.SendRaw(queue, body)
}

// SendRaw добавляет произвольное тело (в том числе неразбираемое).
func (t *MemoryTransport) SendRaw(queue string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.queues[queue] = append(t.queues[queue], body)
	return nil
}

// ReadNext забирает первое сообщение очереди.
func (t *MemoryTransport) ReadNext(_ context.Context, queue string) (*Delivery, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	q := t.queues[queue]
	if len(q) == 0 {
		return nil, nil
	}
	body := q[0]
	t.queues[queue] = q[1:]

	d := newDelivery(queue, body, nil)
	t.processing[d] = struct{}{}
	return d, nil
}

// Ack подтверждает доставку.
func (t *MemoryTransport) Ack(_ context.Context, d *Delivery) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.processing[d]; !ok {
		return fmt.Errorf("ack %s: unknown delivery", d.Queue)
	}
	delete(t.processing, d)
	return nil
}

// Count возвращает число ожидающих сообщений.
func (t *MemoryTransport) Count(_ context.Context, queue string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[queue]), nil
}

// Unacked возвращает число прочитанных, но не подтверждённых сообщений.
func (t *MemoryTransport) Unacked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.processing)
}

// Ping возвращает ErrTransportClosed после Close.
func (t *MemoryTransport) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	return nil
}

// Close закрывает транспорт.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
