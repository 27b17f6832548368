package syncserver

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
)

// RegisterNodeFn hook lets the caller mint its own registry_user_id
// from the request's extra_data before a node row is created.
type RegisterNodeFn func(ctx context.Context, extraData map[string]any) (*uuid.UUID, error)

// Register creates a new node per §6's `register` endpoint and returns
// the full record — the client persists NodeID and Secret for every
// subsequent round.
func (h *Handler) Register(ctx context.Context, extraData map[string]any, resolveUser RegisterNodeFn) (model.Node, error) {
	var registryUserID *uuid.UUID
	if resolveUser != nil {
		id, err := resolveUser(ctx, extraData)
		if err != nil {
			return model.Node{}, err
		}
		registryUserID = id
	}
	return h.Store.RegisterNode(ctx, registryUserID)
}
