package registry

import (
	"errors"
	"fmt"
)

// MaxTimeoutSeconds is the ceiling for execution and poll timeouts.
const MaxTimeoutSeconds = 300

// TimeoutCeilingMessage is returned verbatim when a timeout exceeds the ceiling.
var TimeoutCeilingMessage = fmt.Sprintf("Timeout cannot exceed %d seconds", MaxTimeoutSeconds)

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionActive = errors.New("session is still active")
	ErrClosed        = errors.New("registry is closed")
	ErrDuplicateID   = errors.New("session id already in use")
)

// ValidationError reports a rejected request. No state was created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// validateTimeout checks the ceiling first so that an oversized value is
// always reported with TimeoutCeilingMessage.
func validateTimeout(field string, seconds int, allowZero bool) error {
	if seconds > MaxTimeoutSeconds {
		return &ValidationError{Field: field, Message: TimeoutCeilingMessage}
	}
	if seconds < 0 || (seconds == 0 && !allowZero) {
		return &ValidationError{Field: field, Message: "Timeout must be a positive number of seconds"}
	}
	return nil
}
