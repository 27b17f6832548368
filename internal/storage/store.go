// Package storage defines the engine's own persisted state: the four
// sync_-prefixed tables (content_types, nodes, versions, operations)
// that back the push/pull handlers, independent of any particular
// database backend.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
)

// Store is implemented by every backend (sqlite, postgres) that
// persists content types, nodes, versions and operations.
type Store interface {
	// UpsertContentTypes records the registry's current schemas,
	// idempotently, at startup.
	UpsertContentTypes(ctx context.Context, types []model.ContentType) error
	ContentTypeByID(ctx context.Context, id model.ContentTypeID) (model.ContentType, bool, error)

	// RegisterNode creates a new Node with a fresh secret.
	RegisterNode(ctx context.Context, registryUserID *uuid.UUID) (model.Node, error)
	NodeByID(ctx context.Context, nodeID uuid.UUID) (model.Node, bool, error)

	// LatestVersionID returns the highest assigned version id, and
	// ok=false if no version has ever been created.
	LatestVersionID(ctx context.Context) (id int64, ok bool, err error)

	// OperationsSince returns every operation with version_id >
	// since, ordered ascending by order (I2).
	OperationsSince(ctx context.Context, since int64) ([]model.Operation, error)
	VersionsSince(ctx context.Context, since int64) ([]model.Version, error)

	// WithPushTransaction runs fn inside the push critical section:
	// SERIALIZABLE (Postgres) or EXCLUSIVE (SQLite) isolation, so
	// that two concurrent pushes cannot both succeed without one
	// observing the other's version (§5).
	WithPushTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the push-critical-section handle: it can create the new
// version and append the operations that belong to it, atomically
// with whatever row mutations the caller performs through rowstore.
type Tx interface {
	CreateVersion(ctx context.Context, nodeID uuid.UUID) (model.Version, error)
	AppendOperations(ctx context.Context, ops []model.Operation) error
}
