package mq

import "errors"

var (
	// ErrMalformedMessage — тело сообщения не разбирается.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrTransportClosed — транспорт уже закрыт.
	ErrTransportClosed = errors.New("transport closed")
)
