// Package merge implements the client-side Merge Engine: applying a
// pull message against the local unversioned operation log, resolving
// conflicts per the decision table, and producing the operations and
// versions that should replace the client's local state.
package merge

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/compress"
	"github.com/vitaliisemenov/dbsync/internal/conflict"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/rowstore"
)

// UniqueConstraintError aborts a merge when a pre-existing local
// unique_error remains unresolved after Phase I, or when a pulled
// insert collides with local data on a non-primary unique constraint
// that has no recorded fixup.
type UniqueConstraintError struct {
	ContentTypeID model.ContentTypeID
	Column        string
	RowID         uuid.UUID
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("merge: unresolved unique constraint on content type %d column %s (row %s)",
		e.ContentTypeID, e.Column, e.RowID)
}

// UniqueFixup is a Phase I instruction: mutate the conflicting local
// row's columns to the values the pulled row carries, rather than
// deleting the local row outright.
type UniqueFixup struct {
	ContentTypeID model.ContentTypeID
	RowID         uuid.UUID
	Columns       map[string]any
}

// Engine runs merges against a Store and a Registry.
type Engine struct {
	Store    rowstore.Store
	Registry *registry.Registry

	// FK resolves a local operation's foreign key value, needed for
	// dependency/reversed-dependency detection (conflict.FKLookup).
	FK conflict.FKLookup
	// Unique resolves pre-existing local rows for unique checking
	// (conflict.UniqueLookup); Merge checks it against column values
	// read out of the pull message's payload.
	Unique conflict.UniqueLookup
}

// Result is what a merge produces: the local operation log the
// caller should persist going forward (with conflicts resolved,
// reverts recorded) and the pulled versions now applied.
type Result struct {
	LocalOperations []model.Operation
	AppliedVersions []model.Version
}

// Merge runs the full six-phase algorithm against pull and the
// caller's current local unversioned operations, applying row changes
// to e.Store as it goes.
func (e *Engine) Merge(ctx context.Context, pull message.PullMessage, localOps []model.Operation, fixups []UniqueFixup, uniqueErrors []UniqueConstraintError) (Result, error) {
	var result Result

	err := e.Store.WithoutConstraints(ctx, func(ctx context.Context) error {
		// Phase I: unique fixups, then abort on any remaining
		// unique_error.
		for _, fx := range fixups {
			row, err := e.Store.Get(ctx, fx.ContentTypeID, fx.RowID)
			if err != nil {
				return err
			}
			for k, v := range fx.Columns {
				row.Columns[k] = v
			}
			if err := e.Store.Delete(ctx, fx.ContentTypeID, fx.RowID); err != nil {
				return err
			}
			if err := e.Store.Insert(ctx, fx.ContentTypeID, fx.RowID, row.Columns); err != nil {
				return err
			}
		}
		if len(uniqueErrors) > 0 {
			return &uniqueErrors[0]
		}

		pulled := func(op model.Operation, column string) (any, bool) {
			schema, ok := e.Registry.ByContentType(op.ContentTypeID)
			if !ok {
				return nil, false
			}
			row, ok := pull.Payload.Find(schema.Name, op.RowID)
			if !ok {
				return nil, false
			}
			v, ok := row.Columns[column]
			return v, ok
		}

		local := append([]model.Operation(nil), localOps...)
		local = compress.Compress(local)
		pullOps := append([]model.Operation(nil), pull.Operations...)

		conflicts := conflict.Detect(pullOps, local, e.Registry, e.FK, e.Unique, pulled)
		for _, c := range conflicts {
			if c.Kind == conflict.KindUnique {
				return &UniqueConstraintError{ContentTypeID: c.Pull.ContentTypeID, Column: c.UniqueColumns[0], RowID: c.ConflictingRowID}
			}
		}

		// Phase II: classify.
		reverted := make(map[model.Key]bool)
		suppressed := make(map[model.Key]bool)
		purged := make(map[model.Key]bool)
		rewrittenToInsert := make(map[model.Key]bool)

		for _, c := range conflicts {
			if c.Kind != conflict.KindDirect {
				continue
			}
			p, l := c.Pull, c.Local
			switch {
			case p.Command == model.CommandUpdate && l.Command == model.CommandUpdate:
				// (u,u): keep the local update; skip applying p.
				suppressed[p.Key()] = true
			case p.Command == model.CommandUpdate && l.Command == model.CommandDelete:
				// (u,d): recreate the row p is updating; purge the
				// local delete that raced it.
				rewrittenToInsert[p.Key()] = true
				purged[l.Key()] = true
			case p.Command == model.CommandDelete && l.Command == model.CommandUpdate:
				// (d,u): resurrect the local update as an insert and
				// keep p pending rather than applying it.
				for i := range local {
					if local[i].Key() == l.Key() {
						local[i].Command = model.CommandInsert
					}
				}
				reverted[l.Key()] = true
				suppressed[p.Key()] = true
			case p.Command == model.CommandDelete && l.Command == model.CommandDelete:
				// (d,d): purge the redundant local delete; p is
				// already a no-op against an absent row.
				purged[l.Key()] = true
				suppressed[p.Key()] = true
			case p.Command == model.CommandDelete:
				// (d,*): any other local counterpart — skip applying p.
				suppressed[p.Key()] = true
			}
		}

		for i := range pullOps {
			if rewrittenToInsert[pullOps[i].Key()] {
				pullOps[i].Command = model.CommandInsert
			}
		}

		local = filterOps(local, func(op model.Operation) bool { return !purged[op.Key()] })

		// Phase III: dependency handling.
		depKeys := make(map[model.Key]bool)
		for _, c := range conflicts {
			if c.Kind == conflict.KindDependency {
				depKeys[c.Pull.Key()] = true
			}
		}
		var extraInserts []model.Operation
		for key := range depKeys {
			if reverted[key] || suppressed[key] {
				continue
			}
			suppressed[key] = true
			minOrder := int64(0)
			if len(local) > 0 {
				minOrder = local[0].Order
				for _, l := range local {
					if l.Order < minOrder {
						minOrder = l.Order
					}
				}
			}
			for i := range local {
				local[i].Order++
			}
			var match model.Operation
			for _, p := range pullOps {
				if p.Key() == key {
					match = p
					break
				}
			}
			extraInserts = append(extraInserts, model.Operation{
				RowID:         match.RowID,
				ContentTypeID: match.ContentTypeID,
				Command:       model.CommandInsert,
				Order:         minOrder,
			})
		}
		local = append(local, extraInserts...)

		for _, c := range conflicts {
			if c.Kind != conflict.KindReversedDependency {
				continue
			}
			l := c.Local
			if err := applyInsertFromPayload(ctx, e.Store, e.Registry, pull.Payload, c.Pull); err != nil {
				return err
			}
			purged[l.Key()] = true
		}
		local = filterOps(local, func(op model.Operation) bool { return !purged[op.Key()] })

		// Phase IV: insert-id collision. Row ids are client-generated
		// GUIDs, so the colliding local row
		// simply gets a fresh one rather than a computed max+1 — the
		// sequential-integer-pk allocation the decision table
		// describes has no counterpart under this engine's GUID-PK
		// scheme.
		for _, c := range conflicts {
			if c.Kind != conflict.KindInsert {
				continue
			}
			schema, ok := e.Registry.ByContentType(c.Local.ContentTypeID)
			if !ok {
				continue
			}
			newID := uuid.New()
			cascade := fkCascadeFor(e.Registry, schema.Name)
			if err := e.Store.Rewrite(ctx, c.Local.ContentTypeID, c.Local.RowID, newID, cascade); err != nil {
				return err
			}
			for i, l := range local {
				if l.Key() == c.Local.Key() {
					local[i].RowID = newID
				}
			}
		}

		// Phase V: apply p if not suppressed.
		for _, p := range pullOps {
			if suppressed[p.Key()] {
				continue
			}
			if err := applyOperation(ctx, e.Store, e.Registry, pull.Payload, p); err != nil {
				return err
			}
		}

		// Phase VI: append pulled versions.
		result.AppliedVersions = append(result.AppliedVersions, pull.Versions...)
		sort.Slice(local, func(i, j int) bool { return local[i].Order < local[j].Order })
		result.LocalOperations = local
		return nil
	})

	return result, err
}

func filterOps(ops []model.Operation, keep func(model.Operation) bool) []model.Operation {
	out := ops[:0]
	for _, op := range ops {
		if keep(op) {
			out = append(out, op)
		}
	}
	return append([]model.Operation(nil), out...)
}

func fkCascadeFor(reg *registry.Registry, modelName string) []rowstore.ForeignKeyRef {
	var out []rowstore.ForeignKeyRef
	for _, schema := range reg.Referencing(modelName) {
		for _, fk := range schema.ForeignKeys {
			if fk.RefModel == modelName {
				out = append(out, rowstore.ForeignKeyRef{ContentTypeID: schema.ContentType, Column: fk.Column})
			}
		}
	}
	return out
}

func applyOperation(ctx context.Context, store rowstore.Store, reg *registry.Registry, payload message.Payload, op model.Operation) error {
	switch op.Command {
	case model.CommandDelete:
		return store.Delete(ctx, op.ContentTypeID, op.RowID)
	case model.CommandInsert:
		return applyInsertFromPayload(ctx, store, reg, payload, op)
	case model.CommandUpdate:
		schema, ok := reg.ByContentType(op.ContentTypeID)
		if !ok {
			return nil
		}
		row, ok := payload.Find(schema.Name, op.RowID)
		if !ok {
			return &model.OperationError{Reason: "row missing from pull payload", Operation: op}
		}
		exists, err := store.Exists(ctx, op.ContentTypeID, op.RowID)
		if err != nil {
			return err
		}
		if !exists {
			return store.Insert(ctx, op.ContentTypeID, op.RowID, row.Columns)
		}
		return store.Update(ctx, op.ContentTypeID, op.RowID, row.Columns)
	}
	return nil
}

func applyInsertFromPayload(ctx context.Context, store rowstore.Store, reg *registry.Registry, payload message.Payload, op model.Operation) error {
	schema, ok := reg.ByContentType(op.ContentTypeID)
	if !ok {
		return nil
	}
	row, ok := payload.Find(schema.Name, op.RowID)
	if !ok {
		return &model.OperationError{Reason: "row missing from pull payload", Operation: op}
	}
	exists, err := store.Exists(ctx, op.ContentTypeID, op.RowID)
	if err != nil {
		return err
	}
	if exists {
		existing, err := store.Get(ctx, op.ContentTypeID, op.RowID)
		if err != nil {
			return err
		}
		if columnsEqual(existing.Columns, row.Columns) {
			return nil
		}
		return &model.OperationError{Reason: "row already present and differs", Operation: op}
	}
	return store.Insert(ctx, op.ContentTypeID, op.RowID, row.Columns)
}

func columnsEqual(a, b map[string]codec.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(v, bv) {
			return false
		}
	}
	return true
}
