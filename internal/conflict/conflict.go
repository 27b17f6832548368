// Package conflict computes the five conflict relations the merge
// engine resolves between a server's pulled operations (P) and a
// client's pending local operations (L): direct, dependency,
// reversed-dependency, insert and unique.
package conflict

import (
	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
)

// Kind names which of the five relations a Conflict reports.
type Kind string

const (
	KindDirect             Kind = "direct"
	KindDependency         Kind = "dependency"
	KindReversedDependency Kind = "reversed_dependency"
	KindInsert             Kind = "insert"
	KindUnique             Kind = "unique"
)

// Conflict pairs one pulled operation with the local operation (or
// local row, for Unique) it conflicts with.
type Conflict struct {
	Kind  Kind
	Pull  model.Operation
	Local model.Operation

	// UniqueColumns/UniqueValues are populated only for KindUnique:
	// the column(s) whose value the pulled row collides on, and the
	// values the merge engine's Phase I should rewrite the
	// conflicting local row to (taken from the pulled row).
	UniqueColumns []string
	UniqueValues  map[string]any

	// ConflictingRowID is populated for KindUnique and KindInsert:
	// the local row id that collides with Pull.
	ConflictingRowID uuid.UUID
}

// UniqueLookup resolves whether an existing local row (outside L)
// already holds the given column value for a content type — the
// collaborator needed to compute Kind Unique without depending on a
// concrete Store implementation.
type UniqueLookup func(contentTypeID model.ContentTypeID, column string, value any) (rowID uuid.UUID, found bool)

// PulledColumns resolves the column values a pulled operation's row
// carries in the pull message snapshot, so Detect can check them
// against existing local unique constraints.
type PulledColumns func(op model.Operation, column string) (value any, ok bool)

// FKLookup resolves the foreign keys a local operation's row carries,
// used to compute dependency and reversed-dependency conflicts.
// Returns the referenced row id for the given foreign key column, or
// ok=false if unset.
type FKLookup func(op model.Operation, fk registry.ForeignKey) (rowID uuid.UUID, ok bool)

// Detect computes every conflict between pulled operations p and
// local pending operations l. reg supplies the foreign key schema
// needed for dependency detection; fk resolves a local operation's
// actual foreign key values; unique resolves pre-existing local rows
// for unique-constraint checking.
func Detect(pullOps, localOps []model.Operation, reg *registry.Registry, fk FKLookup, unique UniqueLookup, pulled PulledColumns) []Conflict {
	var out []Conflict

	for _, p := range pullOps {
		for _, l := range localOps {
			if p.ContentTypeID == l.ContentTypeID && p.RowID == l.RowID {
				out = append(out, Conflict{Kind: KindDirect, Pull: p, Local: l})
			}
		}
	}

	if fk != nil {
		for _, p := range pullOps {
			if p.Command != model.CommandDelete {
				continue
			}
			pSchema, ok := reg.ByContentType(p.ContentTypeID)
			if !ok {
				continue
			}
			for _, l := range localOps {
				if l.Command == model.CommandDelete {
					continue
				}
				lSchema, ok := reg.ByContentType(l.ContentTypeID)
				if !ok {
					continue
				}
				for _, f := range lSchema.ForeignKeys {
					if f.RefModel != pSchema.Name {
						continue
					}
					if refID, ok := fk(l, f); ok && refID == p.RowID {
						out = append(out, Conflict{Kind: KindDependency, Pull: p, Local: l})
					}
				}
			}
		}

		for _, l := range localOps {
			if l.Command != model.CommandDelete {
				continue
			}
			lSchema, ok := reg.ByContentType(l.ContentTypeID)
			if !ok {
				continue
			}
			for _, p := range pullOps {
				if p.Command == model.CommandDelete {
					continue
				}
				pSchema, ok := reg.ByContentType(p.ContentTypeID)
				if !ok {
					continue
				}
				for _, f := range pSchema.ForeignKeys {
					if f.RefModel != lSchema.Name {
						continue
					}
					if refID, ok := fk(p, f); ok && refID == l.RowID {
						out = append(out, Conflict{Kind: KindReversedDependency, Pull: p, Local: l})
					}
				}
			}
		}
	}

	for _, p := range pullOps {
		if p.Command != model.CommandInsert {
			continue
		}
		for _, l := range localOps {
			if l.Command != model.CommandInsert {
				continue
			}
			if p.ContentTypeID == l.ContentTypeID && p.RowID == l.RowID {
				out = append(out, Conflict{Kind: KindInsert, Pull: p, Local: l, ConflictingRowID: l.RowID})
			}
		}
	}

	if unique != nil && pulled != nil {
		localRowIDs := make(map[model.Key]bool, len(localOps))
		for _, l := range localOps {
			localRowIDs[l.Key()] = true
		}
		for _, p := range pullOps {
			if p.Command == model.CommandDelete {
				continue
			}
			schema, ok := reg.ByContentType(p.ContentTypeID)
			if !ok {
				continue
			}
			for _, col := range schema.UniqueColumns {
				value, ok := pulled(p, col)
				if !ok {
					continue
				}
				conflictID, found := unique(p.ContentTypeID, col, value)
				if !found || conflictID == p.RowID {
					continue
				}
				if localRowIDs[(model.Operation{ContentTypeID: p.ContentTypeID, RowID: conflictID}).Key()] {
					continue
				}
				out = append(out, Conflict{
					Kind:             KindUnique,
					Pull:             p,
					ConflictingRowID: conflictID,
					UniqueColumns:    []string{col},
					UniqueValues:     map[string]any{col: value},
				})
			}
		}
	}

	return out
}
