package cli

import (
	"errors"
	"fmt"

	"github.com/shaiso/taskpipe/internal/mq"
)

// Коды выхода.
const (
	ExitError       = 1
	ExitUnavailable = 3
	// ExitNotEnqueued — брокер доступен, но отверг публикацию.
	ExitNotEnqueued = 4
)

// ExitCodeError — ошибка с кодом выхода процесса.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// ExitCode возвращает код выхода для ошибки команды.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, mq.ErrUnavailable) {
		return ExitUnavailable
	}

	return ExitError
}

// notEnqueuedErr заворачивает отказ брокера в ExitNotEnqueued.
func notEnqueuedErr(format string, args ...any) error {
	return &ExitCodeError{Code: ExitNotEnqueued, Err: fmt.Errorf(format, args...)}
}

// unavailable заворачивает недоступность брокера в ExitUnavailable.
func unavailable(format string, args ...any) error {
	return &ExitCodeError{Code: ExitUnavailable, Err: fmt.Errorf(format, args...)}
}
