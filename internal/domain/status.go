package domain

// NotificationStatus — статус отправки уведомления.
//
// Сейчас пайплайн знает только SENT. Значение зарезервировано под
// будущие варианты (например, статусы ошибок доставки).
type NotificationStatus string

const (
	// NotificationStatusSent — уведомление отправлено.
	NotificationStatusSent NotificationStatus = "SENT"
)

// String реализует fmt.Stringer.
func (s NotificationStatus) String() string {
	return string(s)
}
