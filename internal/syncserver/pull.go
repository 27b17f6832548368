package syncserver

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

// Pull answers a PullRequestMessage with every version and operation
// since req.LatestVersionID, plus a snapshot payload for any non-delete
// operation's row. req.Operations is not read here — the server never
// applies them; filter_operations_fn sees the server's own operations.
func (h *Handler) Pull(ctx context.Context, req message.PullRequestMessage) (message.PullMessage, error) {
	if err := req.Validate(); err != nil {
		return message.PullMessage{}, &message.BadResponseError{Reason: err.Error()}
	}

	versions, err := h.Store.VersionsSince(ctx, req.LatestVersionID)
	if err != nil {
		return message.PullMessage{}, err
	}
	ops, err := h.Store.OperationsSince(ctx, req.LatestVersionID)
	if err != nil {
		return message.PullMessage{}, err
	}

	ops = h.filterOperations(ctx, req.NodeID, ops, req.ExtraData)

	payload, err := message.BuildPayload(ops, h.rowLoader(ctx))
	if err != nil {
		return message.PullMessage{}, err
	}

	return message.PullMessage{Versions: versions, Operations: ops, Payload: payload}, nil
}

// filterOperations runs each model's filter_operations_fn (if any)
// over the operations belonging to that model, then reassembles the
// result in the original ascending-order sequence (I2).
func (h *Handler) filterOperations(ctx context.Context, nodeID uuid.UUID, ops []model.Operation, extraData map[string]any) []model.Operation {
	if h.Extensions == nil {
		return ops
	}
	byModel := make(map[model.ContentTypeID][]model.Operation)
	var ctOrder []model.ContentTypeID
	for _, op := range ops {
		if _, seen := byModel[op.ContentTypeID]; !seen {
			ctOrder = append(ctOrder, op.ContentTypeID)
		}
		byModel[op.ContentTypeID] = append(byModel[op.ContentTypeID], op)
	}

	keep := make(map[int64]bool, len(ops))
	for _, ctID := range ctOrder {
		group := byModel[ctID]
		filtered := group
		if schema, ok := h.Registry.ByContentType(ctID); ok {
			if ext, ok := h.Extensions.Get(schema.Name); ok && ext.FilterOperations != nil {
				filtered = ext.FilterOperations(ctx, nodeID, group, extraData)
			}
		}
		for _, op := range filtered {
			keep[op.Order] = true
		}
	}

	out := make([]model.Operation, 0, len(ops))
	for _, op := range ops {
		if keep[op.Order] {
			out = append(out, op)
		}
	}
	return out
}

func (h *Handler) rowLoader(ctx context.Context) message.RowLoader {
	return func(op model.Operation) (codec.Row, error) {
		schema, ok := h.Registry.ByContentType(op.ContentTypeID)
		if !ok {
			return codec.Row{}, nil
		}
		row, err := h.Rows.Get(ctx, op.ContentTypeID, op.RowID)
		if err != nil {
			return codec.Row{}, err
		}
		row.ModelName = schema.Name
		return row, nil
	}
}
