// Package rowstore defines the boundary between the sync engine and the
// object-relational mapping it sits in front of. The mapping itself —
// the code that knows how to load, save and delete instances of a
// user's own model types — is outside this engine's scope; Store is
// the narrow interface the merge engine, conflict detector and change
// tracker need from it.
package rowstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

// ErrRowNotFound is returned by Get when no row with the given identity
// exists.
type ErrRowNotFound struct {
	ContentTypeID model.ContentTypeID
	RowID         uuid.UUID
}

func (e ErrRowNotFound) Error() string {
	return fmt.Sprintf("rowstore: no row for content type %d id %s", e.ContentTypeID, e.RowID)
}

// ErrUniqueViolation is returned by Insert/Update when the write would
// collide with an existing row on a unique constraint other than the
// primary key. Field identifies the constrained column(s) for
// diagnostics; it is not parsed by callers.
type ErrUniqueViolation struct {
	ContentTypeID model.ContentTypeID
	Field         string
	ConflictingID uuid.UUID
}

func (e ErrUniqueViolation) Error() string {
	return fmt.Sprintf("rowstore: unique violation on %s for content type %d (conflicts with %s)",
		e.Field, e.ContentTypeID, e.ConflictingID)
}

// Store is the external collaborator: an object-relational mapping
// that exposes its tracked tables row-by-row, keyed by the same
// content-type/row-id identity the operation log uses. Every method
// takes a context so a real backing ORM can cancel on tracker/merge
// deadlines.
type Store interface {
	// Get returns the current column values for a row, or
	// ErrRowNotFound.
	Get(ctx context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID) (codec.Row, error)

	// Insert creates a row at the given identity with the given
	// column values. Returns ErrUniqueViolation if it collides with
	// an existing row on a non-primary unique constraint.
	Insert(ctx context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID, columns map[string]codec.Value) error

	// Update overwrites the column values of an existing row.
	// Returns ErrRowNotFound if it does not exist.
	Update(ctx context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID, columns map[string]codec.Value) error

	// Delete removes a row. Deleting an already-absent row is not an
	// error (idempotent under replay).
	Delete(ctx context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID) error

	// Exists reports whether a row is currently present.
	Exists(ctx context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID) (bool, error)

	// ReferencingRows returns the rows of contentTypeID whose column
	// fkColumn currently equals rowID — the reverse-foreign-key
	// lookup the merge engine needs to cascade a primary key rewrite.
	ReferencingRows(ctx context.Context, contentTypeID model.ContentTypeID, fkColumn string, rowID uuid.UUID) ([]uuid.UUID, error)

	// Rewrite changes a row's own identity and, transactionally,
	// every foreign key column across the given referencing set that
	// pointed at the old id. Used when the merge engine must move a
	// locally-inserted row out of the way of a pulled insert that
	// claims the same primary key (§4.8 phase IV).
	Rewrite(ctx context.Context, contentTypeID model.ContentTypeID, oldID, newID uuid.UUID, cascade []ForeignKeyRef) error

	// WithoutConstraints runs fn with foreign-key enforcement
	// deferred or disabled, restoring it on every exit path — the
	// merge engine and push handler both need this since they can
	// leave the row graph transiently inconsistent mid-apply.
	WithoutConstraints(ctx context.Context, fn func(ctx context.Context) error) error
}

// ForeignKeyRef names one foreign key column on one content type, used
// to describe a cascade set to Rewrite.
type ForeignKeyRef struct {
	ContentTypeID model.ContentTypeID
	Column        string
}
