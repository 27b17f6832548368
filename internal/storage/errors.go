// Package storage provides custom error types for storage operations.
package storage

import "fmt"

// ErrNodeNotFound indicates a push/pull named a node id the server
// never registered, or whose registration it no longer recognizes.
type ErrNodeNotFound struct {
	NodeID string
}

func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node %s is not registered", e.NodeID)
}

// ErrStorageInitFailed indicates storage backend initialization
// failure: SQLite file creation, Postgres connection, or schema setup.
type ErrStorageInitFailed struct {
	Backend string
	Cause   error
}

func (e *ErrStorageInitFailed) Error() string {
	return fmt.Sprintf("storage initialization failed (backend=%s): %v", e.Backend, e.Cause)
}

func (e *ErrStorageInitFailed) Unwrap() error {
	return e.Cause
}

// ErrInvalidFilePath indicates an invalid SQLite file path: contains
// "..", a forbidden prefix, or is empty.
type ErrInvalidFilePath struct {
	Path   string
	Reason string
}

func (e *ErrInvalidFilePath) Error() string {
	return fmt.Sprintf("invalid file path '%s': %s", e.Path, e.Reason)
}

// ErrConnectionFailed indicates a storage connection failure.
type ErrConnectionFailed struct {
	Backend string
	Cause   error
}

func (e *ErrConnectionFailed) Error() string {
	return fmt.Sprintf("storage connection failed (%s): %v", e.Backend, e.Cause)
}

func (e *ErrConnectionFailed) Unwrap() error {
	return e.Cause
}

// ErrSchemaInitFailed indicates schema or migration failure.
type ErrSchemaInitFailed struct {
	Backend string
	Table   string
	Cause   error
}

func (e *ErrSchemaInitFailed) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("schema initialization failed (%s, table=%s): %v", e.Backend, e.Table, e.Cause)
	}
	return fmt.Sprintf("schema initialization failed (%s): %v", e.Backend, e.Cause)
}

func (e *ErrSchemaInitFailed) Unwrap() error {
	return e.Cause
}

// Error type classification for metrics.
const (
	ErrorTypeConnection = "connection"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeValidation  = "validation"
	ErrorTypeSchema      = "schema"
	ErrorTypeUnknown     = "unknown"
)

// ClassifyError classifies err into one of the ErrorType* constants,
// used to label storage-layer metrics.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConnectionError(err):
		return ErrorTypeConnection
	case IsNotFoundError(err):
		return ErrorTypeNotFound
	case IsValidationError(err):
		return ErrorTypeValidation
	case IsSchemaError(err):
		return ErrorTypeSchema
	default:
		return ErrorTypeUnknown
	}
}

func IsConnectionError(err error) bool {
	_, ok := err.(*ErrConnectionFailed)
	return ok
}

func IsNotFoundError(err error) bool {
	_, ok := err.(*ErrNodeNotFound)
	return ok
}

func IsValidationError(err error) bool {
	if _, ok := err.(*ErrInvalidFilePath); ok {
		return true
	}
	return false
}

func IsSchemaError(err error) bool {
	_, ok := err.(*ErrSchemaInitFailed)
	return ok
}
