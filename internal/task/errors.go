package task

import "errors"

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidTask     = errors.New("invalid task")
	ErrHandlerFailure  = errors.New("handler failure")
	ErrDispatch        = errors.New("dispatch failure")
	ErrPersistence     = errors.New("persistence failure")
)

// IsValidation reports whether err rejects a mutation outright.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidTimezone) ||
		errors.Is(err, ErrInvalidTask)
}
