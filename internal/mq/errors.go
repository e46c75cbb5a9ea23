package mq

import "errors"

// Ошибки слоя сообщений.
var (
	// ErrUnavailable — канал к брокеру не готов (ещё не подключились
	// или попытки подключения исчерпаны). Операция не выполнялась.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTopologyConflict — очередь уже существует с другими параметрами
	// (durable, arguments). Ошибка конфигурации, retry не поможет.
	ErrTopologyConflict = errors.New("topology conflict")

	// ErrMalformed — тело сообщения не разбирается или в нём нет
	// обязательных полей. Сообщение отклоняется без requeue.
	ErrMalformed = errors.New("malformed message")

	// ErrRequeue — обработка не завершена по временной причине,
	// сообщение возвращается в очередь для повторной доставки.
	ErrRequeue = errors.New("requeue delivery")
)
