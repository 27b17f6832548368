package model

import "fmt"

// OperationError is raised when an operation fails to apply for a
// predictable, user-surfaceable reason (e.g. it has no backing row in
// the carrying message, or it conflicts with existing state).
type OperationError struct {
	Reason    string
	Operation Operation
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s on content type %d row %s couldn't be performed: %s",
		e.Operation.Command, e.Operation.ContentTypeID, e.Operation.RowID, e.Reason)
}

// ErrSkipOperation is not an error: an extension's before-hooks raise it
// to suppress tracking or applying the operation it was given.
type ErrSkipOperation struct {
	Reason string
}

func (e *ErrSkipOperation) Error() string {
	if e.Reason == "" {
		return "operation skipped by extension"
	}
	return "operation skipped by extension: " + e.Reason
}
