package domain

// TaskRecord — запись задачи, уже сохранённая во внешнем хранилище.
//
// Хранилище записывает задачу, присваивает ей ID и только после этого
// передаёт запись producer'у. Producer хранилище не ретраит, только publish.
type TaskRecord struct {
	// ID — идентификатор задачи, присвоенный хранилищем.
	ID string `json:"id" validate:"required"`

	// UserID — владелец задачи.
	UserID string `json:"user_id" validate:"required"`

	// Title — короткое название задачи.
	Title string `json:"title" validate:"required"`
}

// Validate проверяет, что все поля записи заполнены.
func (r TaskRecord) Validate() error {
	return validateStruct(r)
}
