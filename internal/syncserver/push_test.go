package syncserver_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/conflict"
	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/rowstore"
	"github.com/vitaliisemenov/dbsync/internal/storage/sqlite"
	"github.com/vitaliisemenov/dbsync/internal/syncserver"
)

func newTestRegistry() *registry.Registry {
	r := registry.New()
	r.Install(registry.Schema{
		Name:          "Customer",
		TableName:     "customers",
		PrimaryKey:    "id",
		UniqueColumns: []string{"email"},
	})
	return r
}

func newTestHandler(t *testing.T) (*syncserver.Handler, *sqlite.Store, model.ContentTypeID) {
	t.Helper()
	reg := newTestRegistry()
	schema, _ := reg.ByName("Customer")

	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "dbsync.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.UpsertContentTypes(context.Background(), reg.ContentTypes()))

	h := &syncserver.Handler{
		Store:      store,
		Rows:       rowstore.NewMemoryStore(nil),
		Registry:   reg,
		Extensions: extension.NewRegistry(),
	}
	return h, store, schema.ContentType
}

func signedPush(t *testing.T, nodeID uuid.UUID, secret string, latest int64, ct model.ContentTypeID, rowID uuid.UUID, cmd model.Command, columns map[string]any) message.PushMessage {
	t.Helper()
	ops := []model.Operation{{RowID: rowID, ContentTypeID: ct, Command: cmd}}
	payload := make(message.Payload)
	if cmd != model.CommandDelete {
		payload.Add(codec.Row{ModelName: "Customer", PK: rowID, Columns: columns})
	}
	return message.NewPushMessage(nodeID, latest, secret, ops, payload)
}

func TestPushCreatesVersionOnSuccessfulInsert(t *testing.T) {
	h, store, ct := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	rowID := uuid.New()
	msg := signedPush(t, node.NodeID, node.Secret, 0, ct, rowID, model.CommandInsert, map[string]any{"email": "a@example.com"})

	result, err := h.Push(ctx, msg)
	require.NoError(t, err)
	require.NotNil(t, result.NewVersionID)
	assert.Equal(t, int64(1), *result.NewVersionID)

	ops, err := store.OperationsSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, rowID, ops[0].RowID)
}

func TestPushRejectsUnknownContentType(t *testing.T) {
	h, store, _ := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	msg := signedPush(t, node.NodeID, node.Secret, 0, model.ContentTypeID(999999), uuid.New(), model.CommandInsert, map[string]any{"x": 1})

	_, err = h.Push(ctx, msg)
	require.Error(t, err)
	assert.IsType(t, &message.PushRejected{}, err)
}

func TestPushSuggestsPullWhenClientIsBehind(t *testing.T) {
	h, store, ct := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	first := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "a@example.com"})
	_, err = h.Push(ctx, first)
	require.NoError(t, err)

	stale := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "b@example.com"})
	_, err = h.Push(ctx, stale)
	require.Error(t, err)
	var suggested *message.PullSuggested
	require.ErrorAs(t, err, &suggested)
	assert.Equal(t, int64(1), suggested.ServerLatestVersionID)
}

func TestPushRejectsBadSignature(t *testing.T) {
	h, store, ct := newTestHandler(t)
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	msg := signedPush(t, node.NodeID, "wrong-secret", 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "a@example.com"})
	_, err = h.Push(ctx, msg)
	require.Error(t, err)
	assert.IsType(t, &message.PushRejected{}, err)
}

func TestPushSuppressesVersionWhenNotListening(t *testing.T) {
	h, store, ct := newTestHandler(t)
	h.Listening = func() bool { return false }
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	msg := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "a@example.com"})
	result, err := h.Push(ctx, msg)
	require.NoError(t, err)
	assert.Nil(t, result.NewVersionID)

	_, ok, err := store.LatestVersionID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushUniqueConflictIsFatalWithoutResolver(t *testing.T) {
	h, store, ct := newTestHandler(t)
	existingID := uuid.New()
	h.Unique = func(contentTypeID model.ContentTypeID, column string, value any) (uuid.UUID, bool) {
		if contentTypeID == ct && column == "email" && value == "dup@example.com" {
			return existingID, true
		}
		return uuid.UUID{}, false
	}
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)

	msg := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "dup@example.com"})
	_, err = h.Push(ctx, msg)
	require.Error(t, err)
	assert.IsType(t, &message.UniqueConstraintError{}, err)
}

func TestPushUniqueConflictResolvedByHook(t *testing.T) {
	h, store, ct := newTestHandler(t)
	existingID := uuid.New()
	h.Unique = func(contentTypeID model.ContentTypeID, column string, value any) (uuid.UUID, bool) {
		if contentTypeID == ct && column == "email" && value == "dup@example.com" {
			return existingID, true
		}
		return uuid.UUID{}, false
	}
	h.ResolveUniqueFixup = func(c conflict.Conflict) (map[string]any, bool) {
		return map[string]any{"email": "renamed@example.com"}, true
	}
	ctx := context.Background()

	node, err := store.RegisterNode(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, h.Rows.Insert(ctx, ct, existingID, map[string]any{"email": "dup@example.com"}))

	msg := signedPush(t, node.NodeID, node.Secret, 0, ct, uuid.New(), model.CommandInsert, map[string]any{"email": "dup@example.com"})
	result, err := h.Push(ctx, msg)
	require.NoError(t, err)
	require.NotNil(t, result.NewVersionID)

	renamed, err := h.Rows.Get(ctx, ct, existingID)
	require.NoError(t, err)
	assert.Equal(t, "renamed@example.com", renamed.Columns["email"])
}
