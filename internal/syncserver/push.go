// Package syncserver implements the server half of a sync round: the
// push handler that accepts a client's operations and mints a new
// version, and the pull handler that hands back everything since a
// requested version. Push creates its version inside the push critical
// section (§5); Pull reads without entering it. Callers are expected to bracket Handler.Push with the distributed
// push lock (internal/storage/lock) when more than one replica can
// accept pushes against the same backend.
package syncserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/conflict"
	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/rowstore"
	"github.com/vitaliisemenov/dbsync/internal/storage"
)

// Handler serves push and pull rounds against one storage backend, one
// row store and one content-type registry.
type Handler struct {
	Store      storage.Store
	Rows       rowstore.Store
	Registry   *registry.Registry
	Extensions *extension.Registry
	Logger     *slog.Logger

	// Unique resolves pre-existing server rows for unique-constraint
	// checking during push (conflict.UniqueLookup).
	Unique conflict.UniqueLookup

	// ResolveUniqueFixup decides how to repair a detected unique
	// conflict: it returns the column values the conflicting existing
	// row should be rewritten to, or ok=false to leave it fatal. A nil
	// hook treats every unique conflict as fatal (§7: "must be fixed
	// by hand").
	ResolveUniqueFixup func(c conflict.Conflict) (columns map[string]any, ok bool)

	// Listening reports whether the server currently creates new
	// versions at all (§9 Open Question (a)); nil means always true.
	Listening func() bool

	BeforePush []func(ctx context.Context) error
	AfterPush  []func(ctx context.Context, newVersionID *int64) error
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) listening() bool {
	if h.Listening == nil {
		return true
	}
	return h.Listening()
}

// PushResult is the {new_version_id} response §6 describes.
type PushResult struct {
	NewVersionID *int64
}

// Push validates and applies msg, returning the new version id (nil
// if no operation actually took effect), or one of PushRejected,
// PullSuggested, *UniqueConstraintError.
func (h *Handler) Push(ctx context.Context, msg message.PushMessage) (*PushResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, &message.PushRejected{Reason: "malformed push message", Cause: err}
	}

	for _, op := range msg.Operations {
		if !h.Registry.Tracks(op.ContentTypeID) {
			return nil, &message.PushRejected{Reason: fmt.Sprintf("unknown content type %d", op.ContentTypeID)}
		}
	}

	node, ok, err := h.Store.NodeByID(ctx, msg.NodeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &message.PushRejected{Reason: "node is not registered"}
	}

	latest, haveLatest, err := h.Store.LatestVersionID(ctx)
	if err != nil {
		return nil, err
	}
	if msg.LatestVersionID != latest {
		if !haveLatest || msg.LatestVersionID >= latest {
			return nil, &message.PushRejected{Reason: "claimed latest_version_id does not match server state"}
		}
		return nil, &message.PullSuggested{ServerLatestVersionID: latest}
	}

	if !msg.IsLegit(node.Secret) {
		return nil, &message.PushRejected{Reason: "message isn't properly signed"}
	}

	for _, fn := range h.BeforePush {
		if err := fn(ctx); err != nil {
			return nil, &message.PushRejected{Reason: "before_push listener rejected the round", Cause: err}
		}
	}

	if err := h.applyUniqueFixups(ctx, msg); err != nil {
		return nil, err
	}

	var appliedOps []model.Operation
	err = h.Rows.WithoutConstraints(ctx, func(ctx context.Context) error {
		for _, op := range msg.Operations {
			applied, err := h.applyOperation(ctx, msg.Payload, op)
			if err != nil {
				return &message.PushRejected{Reason: "at least one operation couldn't be performed", Cause: err}
			}
			if applied {
				appliedOps = append(appliedOps, op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &PushResult{}
	if len(appliedOps) > 0 && h.listening() {
		versionID, err := h.commitVersion(ctx, msg.NodeID, appliedOps)
		if err != nil {
			return nil, err
		}
		result.NewVersionID = &versionID
	}

	for _, fn := range h.AfterPush {
		if err := fn(ctx, result.NewVersionID); err != nil {
			h.logger().Error("after_push listener failed", "error", err)
		}
	}

	return result, nil
}

func (h *Handler) applyUniqueFixups(ctx context.Context, msg message.PushMessage) error {
	pulled := func(op model.Operation, column string) (any, bool) {
		schema, ok := h.Registry.ByContentType(op.ContentTypeID)
		if !ok {
			return nil, false
		}
		row, ok := msg.Payload.Find(schema.Name, op.RowID)
		if !ok {
			return nil, false
		}
		v, ok := row.Columns[column]
		return v, ok
	}

	conflicts := conflict.Detect(msg.Operations, nil, h.Registry, nil, h.Unique, pulled)

	var entries []message.UniqueConflictEntry
	type fixup struct {
		contentType model.ContentTypeID
		rowID       uuid.UUID
		columns     map[string]any
	}
	var fixups []fixup

	for _, c := range conflicts {
		if c.Kind != conflict.KindUnique {
			continue
		}
		if h.ResolveUniqueFixup != nil {
			if cols, ok := h.ResolveUniqueFixup(c); ok {
				fixups = append(fixups, fixup{contentType: c.Pull.ContentTypeID, rowID: c.ConflictingRowID, columns: cols})
				continue
			}
		}
		schema, _ := h.Registry.ByContentType(c.Pull.ContentTypeID)
		entries = append(entries, message.UniqueConflictEntry{
			Model:   schema.Name,
			PK:      c.ConflictingRowID.String(),
			Columns: c.UniqueColumns,
		})
	}
	if len(entries) > 0 {
		return &message.UniqueConstraintError{Entries: entries}
	}

	return h.Rows.WithoutConstraints(ctx, func(ctx context.Context) error {
		for _, fx := range fixups {
			row, err := h.Rows.Get(ctx, fx.contentType, fx.rowID)
			if err != nil {
				return err
			}
			for k, v := range fx.columns {
				row.Columns[k] = v
			}
			if err := h.Rows.Delete(ctx, fx.contentType, fx.rowID); err != nil {
				return err
			}
			if err := h.Rows.Insert(ctx, fx.contentType, fx.rowID, row.Columns); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyOperation applies one push operation against the row store,
// running the model's before/after hooks. It returns applied=false
// when a before-hook raised ErrSkipOperation: the operation is then
// excluded from the new version entirely.
func (h *Handler) applyOperation(ctx context.Context, payload message.Payload, op model.Operation) (bool, error) {
	schema, ok := h.Registry.ByContentType(op.ContentTypeID)
	if !ok {
		return false, nil
	}

	var obj map[string]any
	if op.Command != model.CommandDelete {
		row, ok := payload.Find(schema.Name, op.RowID)
		if !ok {
			return false, &model.OperationError{Reason: "row missing from push payload", Operation: op}
		}
		obj = make(map[string]any, len(row.Columns))
		for k, v := range row.Columns {
			obj[k] = v
		}
	}

	if ext, ok := h.Extensions.Get(schema.Name); ok {
		if before := ext.BeforeOperationFor(op.Command); before != nil {
			if err := before(ctx, op, obj); err != nil {
				if _, skip := err.(*model.ErrSkipOperation); skip {
					return false, nil
				}
				return false, err
			}
		}
	}

	switch op.Command {
	case model.CommandDelete:
		if err := h.Rows.Delete(ctx, op.ContentTypeID, op.RowID); err != nil {
			return false, err
		}
	case model.CommandInsert:
		exists, err := h.Rows.Exists(ctx, op.ContentTypeID, op.RowID)
		if err != nil {
			return false, err
		}
		columns := toColumnValues(obj)
		if exists {
			if err := h.Rows.Update(ctx, op.ContentTypeID, op.RowID, columns); err != nil {
				return false, err
			}
		} else if err := h.Rows.Insert(ctx, op.ContentTypeID, op.RowID, columns); err != nil {
			return false, err
		}
	case model.CommandUpdate:
		columns := toColumnValues(obj)
		exists, err := h.Rows.Exists(ctx, op.ContentTypeID, op.RowID)
		if err != nil {
			return false, err
		}
		if exists {
			if err := h.Rows.Update(ctx, op.ContentTypeID, op.RowID, columns); err != nil {
				return false, err
			}
		} else if err := h.Rows.Insert(ctx, op.ContentTypeID, op.RowID, columns); err != nil {
			return false, err
		}
	}

	if ext, ok := h.Extensions.Get(schema.Name); ok {
		if after := ext.AfterOperationFor(op.Command); after != nil {
			after(ctx, op, obj)
		}
	}

	return true, nil
}

func toColumnValues(obj map[string]any) map[string]codec.Value {
	out := make(map[string]codec.Value, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// commitVersion runs the storage-level push transaction: a new
// Version and the applied operations re-ordered monotonically,
// version_id*1e6+index keeping the global order strictly increasing
// across pushes without a separate sequence.
func (h *Handler) commitVersion(ctx context.Context, nodeID uuid.UUID, ops []model.Operation) (int64, error) {
	var versionID int64
	err := h.Store.WithPushTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		v, err := tx.CreateVersion(ctx, nodeID)
		if err != nil {
			return err
		}
		versionID = v.VersionID

		stamped := make([]model.Operation, len(ops))
		for i, op := range ops {
			op.VersionID = &v.VersionID
			op.Order = v.VersionID*1_000_000 + int64(i)
			stamped[i] = op
		}
		return tx.AppendOperations(ctx, stamped)
	})
	return versionID, err
}
