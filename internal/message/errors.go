package message

import "fmt"

// PushRejected is fatal to the current round: the client's claimed
// version is ahead of or equal to the server's (when the server has
// none to offer), the signature doesn't verify, or an operation
// failed to apply. The client must not retry blindly; §4.10 treats it
// as a terminal outcome distinct from PullSuggested.
type PushRejected struct {
	Reason string
	Cause  error
}

func (e *PushRejected) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("push rejected: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("push rejected: %s", e.Reason)
}

func (e *PushRejected) Unwrap() error { return e.Cause }

// PullSuggested means the client is behind the server's latest
// version. The client should pull, merge, then retry the push.
type PullSuggested struct {
	ServerLatestVersionID int64
}

func (e *PullSuggested) Error() string {
	return fmt.Sprintf("pull suggested: server is at version %d", e.ServerLatestVersionID)
}

// UniqueConstraintError is fatal and non-retriable: a push collided
// with existing server data on a unique constraint the client has no
// recorded fixup for.
type UniqueConstraintError struct {
	Entries []UniqueConflictEntry
}

// UniqueConflictEntry names one colliding row for diagnostics.
type UniqueConflictEntry struct {
	Model   string
	PK      string
	Columns []string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("unique constraint violated on %d row(s)", len(e.Entries))
}

// BadResponseError means the transport carried a frame the server
// could not parse into the expected message shape.
type BadResponseError struct {
	Reason string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("bad response: %s", e.Reason)
}
