package syncserver_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

func TestPullReturnsVersionsOperationsAndPayloadSinceRequested(t *testing.T) {
	h, store, ct := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	rowID := uuid.New()
	push := signedPush(t, node.NodeID, node.Secret, 0, ct, rowID, model.CommandInsert, map[string]any{"email": "a@example.com"})
	result, err := h.Push(ctx, push)
	require.NoError(t, err)
	require.NotNil(t, result.NewVersionID)

	pull, err := h.Pull(ctx, message.PullRequestMessage{NodeID: node.NodeID, LatestVersionID: 0})
	require.NoError(t, err)
	require.Len(t, pull.Versions, 1)
	require.Len(t, pull.Operations, 1)
	assert.Equal(t, rowID, pull.Operations[0].RowID)

	row, ok := pull.Payload.Find("Customer", rowID)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", row.Columns["email"])
}

func TestPullSinceLatestReturnsNothingNew(t *testing.T) {
	h, store, ct := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	push := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "a@example.com"})
	result, err := h.Push(ctx, push)
	require.NoError(t, err)

	pull, err := h.Pull(ctx, message.PullRequestMessage{NodeID: node.NodeID, LatestVersionID: *result.NewVersionID})
	require.NoError(t, err)
	assert.Empty(t, pull.Versions)
	assert.Empty(t, pull.Operations)
}

func TestPullAppliesPerModelFilter(t *testing.T) {
	h, store, ct := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	push := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "a@example.com"})
	_, err = h.Push(ctx, push)
	require.NoError(t, err)

	h.Extensions.Register(&extension.Extension{
		ModelName: "Customer",
		FilterOperations: func(ctx context.Context, nodeID uuid.UUID, ops []model.Operation, extraData map[string]any) []model.Operation {
			return nil
		},
	})

	pull, err := h.Pull(ctx, message.PullRequestMessage{NodeID: node.NodeID, LatestVersionID: 0})
	require.NoError(t, err)
	assert.Empty(t, pull.Operations)
}
