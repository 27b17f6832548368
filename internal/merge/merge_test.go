package merge_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/message"
	"github.com/vitaliisemenov/dbsync/internal/merge"
	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/rowstore"
)

func newEngine() (*merge.Engine, *registry.Registry) {
	reg := registry.New()
	reg.Install(registry.Schema{Name: "Customer", TableName: "customers", PrimaryKey: "id"})
	store := rowstore.NewMemoryStore(nil)
	return &merge.Engine{Store: store, Registry: reg}, reg
}

func TestMergeAppliesPlainInsert(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()

	pull := message.PullMessage{
		Versions:   []model.Version{{VersionID: 1}},
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandInsert}},
		Payload: message.Payload{
			"Customer": {{ModelName: "Customer", PK: id, Columns: map[string]codec.Value{"name": "Ada"}}},
		},
	}

	result, err := engine.Merge(context.Background(), pull, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, result.AppliedVersions, 1)

	row, err := engine.Store.Get(context.Background(), schema.ContentType, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", row.Columns["name"])
}

func TestMergeUpdateUpdateKeepsLocalSkipsPull(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()
	ctx := context.Background()

	require.NoError(t, engine.Store.Insert(ctx, schema.ContentType, id, map[string]codec.Value{"name": "local"}))

	pull := message.PullMessage{
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandUpdate}},
		Payload: message.Payload{
			"Customer": {{ModelName: "Customer", PK: id, Columns: map[string]codec.Value{"name": "remote"}}},
		},
	}
	local := []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandUpdate, Order: 1}}

	result, err := engine.Merge(ctx, pull, local, nil, nil)
	require.NoError(t, err)

	row, err := engine.Store.Get(ctx, schema.ContentType, id)
	require.NoError(t, err)
	assert.Equal(t, "local", row.Columns["name"])
	require.Len(t, result.LocalOperations, 1)
}

func TestMergeDeleteDeletePurgesBoth(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()
	ctx := context.Background()
	require.NoError(t, engine.Store.Insert(ctx, schema.ContentType, id, map[string]codec.Value{"name": "gone"}))

	pull := message.PullMessage{
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandDelete}},
	}
	local := []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandDelete, Order: 1}}

	result, err := engine.Merge(ctx, pull, local, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.LocalOperations)
}

func TestMergeDeleteUpdateResurrectsLocalAsInsert(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()
	ctx := context.Background()
	require.NoError(t, engine.Store.Insert(ctx, schema.ContentType, id, map[string]codec.Value{"name": "local"}))

	pull := message.PullMessage{
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandDelete}},
	}
	local := []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandUpdate, Order: 1}}

	result, err := engine.Merge(ctx, pull, local, nil, nil)
	require.NoError(t, err)

	require.Len(t, result.LocalOperations, 1)
	assert.Equal(t, model.CommandInsert, result.LocalOperations[0].Command)

	// p is kept pending (not applied): the row survives the delete.
	_, err = engine.Store.Get(ctx, schema.ContentType, id)
	require.NoError(t, err)
}

func TestMergeUpdateDeleteRecreatesRowFromPull(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()
	ctx := context.Background()
	require.NoError(t, engine.Store.Delete(ctx, schema.ContentType, id))

	pull := message.PullMessage{
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandUpdate}},
		Payload: message.Payload{
			"Customer": {{ModelName: "Customer", PK: id, Columns: map[string]codec.Value{"name": "remote"}}},
		},
	}
	local := []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandDelete, Order: 1}}

	result, err := engine.Merge(ctx, pull, local, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.LocalOperations)

	row, err := engine.Store.Get(ctx, schema.ContentType, id)
	require.NoError(t, err)
	assert.Equal(t, "remote", row.Columns["name"])
}

func TestMergeInsertCollisionRewritesLocalRowID(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()
	ctx := context.Background()
	require.NoError(t, engine.Store.Insert(ctx, schema.ContentType, id, map[string]codec.Value{"name": "local-new"}))

	pull := message.PullMessage{
		Versions:   []model.Version{{VersionID: 1}},
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandInsert}},
		Payload: message.Payload{
			"Customer": {{ModelName: "Customer", PK: id, Columns: map[string]codec.Value{"name": "remote-new"}}},
		},
	}
	local := []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandInsert, Order: 1}}

	result, err := engine.Merge(ctx, pull, local, nil, nil)
	require.NoError(t, err)

	require.Len(t, result.LocalOperations, 1)
	assert.NotEqual(t, id, result.LocalOperations[0].RowID)

	remote, err := engine.Store.Get(ctx, schema.ContentType, id)
	require.NoError(t, err)
	assert.Equal(t, "remote-new", remote.Columns["name"])

	moved, err := engine.Store.Get(ctx, schema.ContentType, result.LocalOperations[0].RowID)
	require.NoError(t, err)
	assert.Equal(t, "local-new", moved.Columns["name"])
}

func TestMergeInsertOnExistingRowWithTemporalColumnDoesNotPanic(t *testing.T) {
	engine, reg := newEngine()
	schema, _ := reg.ByName("Customer")
	id := uuid.New()
	ctx := context.Background()

	createdAt := []int{2024, 1, 15}
	require.NoError(t, engine.Store.Insert(ctx, schema.ContentType, id, map[string]codec.Value{"created_on": createdAt}))

	pull := message.PullMessage{
		Versions:   []model.Version{{VersionID: 1}},
		Operations: []model.Operation{{RowID: id, ContentTypeID: schema.ContentType, Command: model.CommandInsert}},
		Payload: message.Payload{
			"Customer": {{ModelName: "Customer", PK: id, Columns: map[string]codec.Value{"created_on": []int{2024, 1, 15}}}},
		},
	}

	var err error
	assert.NotPanics(t, func() {
		_, err = engine.Merge(ctx, pull, nil, nil, nil)
	})
	assert.NoError(t, err)
}

func TestMergeUniqueErrorAbortsWholeMerge(t *testing.T) {
	engine, _ := newEngine()
	uniqueErr := merge.UniqueConstraintError{Column: "email", RowID: uuid.New()}

	_, err := engine.Merge(context.Background(), message.PullMessage{}, nil, nil, []merge.UniqueConstraintError{uniqueErr})
	require.Error(t, err)
	var target *merge.UniqueConstraintError
	assert.ErrorAs(t, err, &target)
}
