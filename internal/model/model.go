// Package model defines the wire-stable types shared by every node in a
// sync deployment: content types, node registrations, versions and
// operations. Nothing here talks to a database or a socket.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Command is the kind of change an Operation records.
type Command string

const (
	CommandInsert Command = "i"
	CommandUpdate Command = "u"
	CommandDelete Command = "d"
)

// Valid reports whether c is one of the three recognized commands.
func (c Command) Valid() bool {
	switch c {
	case CommandInsert, CommandUpdate, CommandDelete:
		return true
	default:
		return false
	}
}

// ContentTypeID is the stable 32-bit identifier for a tracked table,
// derived from its model and table name (see ContentTypeIDFor).
type ContentTypeID uint32

// ContentType is a weak abstraction over a database table: the bijection
// between a tracked model's name, its table name and its numeric id.
type ContentType struct {
	ContentTypeID ContentTypeID
	TableName     string
	ModelName     string
}

// Node is a registered participant: the server keeps one row per client,
// clients keep only the latest registration they obtained.
type Node struct {
	NodeID         uuid.UUID
	RegisteredAt   time.Time
	RegistryUserID *uuid.UUID
	Secret         string
}

// Version is a server-assigned monotonic checkpoint, created once per
// successful push (or, server-side, once per directly tracked operation).
type Version struct {
	VersionID int64
	NodeID    *uuid.UUID
	CreatedAt time.Time
}

// Operation is a single row-level change. VersionID is nil until a
// successful push assigns the server's new version id to it.
type Operation struct {
	RowID         uuid.UUID
	VersionID     *int64
	ContentTypeID ContentTypeID
	Command       Command
	Order         int64
}

// References reports whether this operation targets the given row
// identity on the given content type.
func (op Operation) References(contentTypeID ContentTypeID, rowID uuid.UUID) bool {
	return op.ContentTypeID == contentTypeID && op.RowID == rowID
}

// Key identifies the object an operation targets, used to group
// operations on the same row during compression and conflict detection.
type Key struct {
	ContentTypeID ContentTypeID
	RowID         uuid.UUID
}

func (op Operation) Key() Key {
	return Key{ContentTypeID: op.ContentTypeID, RowID: op.RowID}
}
