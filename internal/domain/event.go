package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskCreatedEvent — событие о создании задачи (очередь task_created).
//
// Формат на проводе: {"taskId": "...", "userId": "...", "title": "..."}.
// Все поля обязательны: producer не публикует частично заполненное событие,
// consumer отклоняет такое сообщение как некорректное.
type TaskCreatedEvent struct {
	TaskID string `json:"taskId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
	Title  string `json:"title" validate:"required"`
}

// NewTaskCreatedEvent строит событие из сохранённой записи задачи.
func NewTaskCreatedEvent(record TaskRecord) (TaskCreatedEvent, error) {
	if err := record.Validate(); err != nil {
		return TaskCreatedEvent{}, err
	}

	return TaskCreatedEvent{
		TaskID: record.ID,
		UserID: record.UserID,
		Title:  record.Title,
	}, nil
}

// Validate проверяет, что все поля события заполнены.
func (e TaskCreatedEvent) Validate() error {
	return validateStruct(e)
}

// taskCreatedKeys — ключи task_created на проводе.
var taskCreatedKeys = []string{"taskId", "userId", "title"}

// DecodeTaskCreated разбирает тело сообщения из task_created.
//
// Возвращает ошибку, если тело не является JSON-объектом, в нём не хватает
// обязательных полей или ключ отличается от контракта только регистром
// ("TASKID" вместо "taskId"). Прочие лишние ключи игнорируются.
func DecodeTaskCreated(body []byte) (TaskCreatedEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return TaskCreatedEvent{}, fmt.Errorf("%w: unmarshal task_created: %v", ErrInvalidEvent, err)
	}

	for key := range raw {
		for _, want := range taskCreatedKeys {
			if key != want && strings.EqualFold(key, want) {
				return TaskCreatedEvent{}, fmt.Errorf("%w: unmarshal task_created: unexpected key %q, want %q", ErrInvalidEvent, key, want)
			}
		}
	}

	var evt TaskCreatedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return TaskCreatedEvent{}, fmt.Errorf("%w: unmarshal task_created: %v", ErrInvalidEvent, err)
	}

	if err := evt.Validate(); err != nil {
		return TaskCreatedEvent{}, err
	}

	return evt, nil
}

// NotificationSentEvent — событие об отправленном уведомлении (очередь notification_sent).
//
// Формат на проводе: {"taskId": "...", "title": "...", "status": "SENT", "sent_at": "<ISO-8601>"}.
// Единственный источник события — notification worker, и только после
// успешной обработки соответствующего TaskCreatedEvent.
type NotificationSentEvent struct {
	TaskID string             `json:"taskId" validate:"required"`
	Title  string             `json:"title" validate:"required"`
	Status NotificationStatus `json:"status" validate:"required"`

	// SentAt — момент публикации события (а не создания задачи).
	SentAt time.Time `json:"sent_at"`
}

// NewNotificationSentEvent строит событие об отправке по исходному событию.
// sentAt приводится к UTC.
func NewNotificationSentEvent(src TaskCreatedEvent, sentAt time.Time) NotificationSentEvent {
	return NotificationSentEvent{
		TaskID: src.TaskID,
		Title:  src.Title,
		Status: NotificationStatusSent,
		SentAt: sentAt.UTC(),
	}
}

// Validate проверяет, что все поля события заполнены.
func (e NotificationSentEvent) Validate() error {
	if e.SentAt.IsZero() {
		return fmt.Errorf("%w: sent_at is zero", ErrInvalidEvent)
	}
	return validateStruct(e)
}
