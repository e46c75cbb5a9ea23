package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEvent — событие или запись заполнены не полностью.
var ErrInvalidEvent = errors.New("invalid event")

// Один экземпляр на пакет: validator кэширует метаданные структур.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct прогоняет struct-теги и заворачивает ошибку в ErrInvalidEvent.
func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: field %s failed on %q", ErrInvalidEvent, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
