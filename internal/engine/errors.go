package engine

import "fmt"

// ValidationError rejects a malformed or out-of-window operation before it
// reaches the store. Callers recover from it; it never crashes the session.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
