package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned before any transaction opens.
	ErrValidation = errors.New("validation failed")

	// ErrStorage wraps adapter failures. The driver error stays reachable through errors.As.
	ErrStorage = errors.New("storage error")

	// ErrTransactionState marks begin-while-open and commit/rollback with a closed or foreign handle.
	ErrTransactionState = errors.New("invalid transaction state")

	// ErrTransactionBusy is returned by autocommit calls while a transaction owns the connection.
	ErrTransactionBusy = errors.New("transaction in progress")

	ErrNotConnected   = errors.New("storage adapter not connected")
	ErrSchemaConflict = errors.New("schema conflict")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func SchemaConflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaConflict, fmt.Sprintf(format, args...))
}

// Storage wraps an engine error for op. Errors already classified are returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Classified reports whether err already carries one of the sentinels above.
func Classified(err error) bool {
	for _, sentinel := range all {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

var all = []error{
	ErrValidation,
	ErrConflict,
	ErrNotFound,
	ErrStorage,
	ErrTransactionState,
	ErrTransactionBusy,
	ErrNotConnected,
	ErrSchemaConflict,
}

// Kind returns a short, stable name for the error class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransactionState):
		return "transaction_state"
	case errors.Is(err, ErrTransactionBusy):
		return "transaction_busy"
	case errors.Is(err, ErrNotConnected):
		return "connection"
	case errors.Is(err, ErrSchemaConflict):
		return "schema_conflict"
	default:
		return "storage"
	}
}
