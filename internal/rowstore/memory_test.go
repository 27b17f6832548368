package rowstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/rowstore"
)

const customerCT = 1001
const orderCT = 1002

func TestMemoryStoreInsertGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := rowstore.NewMemoryStore(nil)
	id := uuid.New()

	require.NoError(t, s.Insert(ctx, customerCT, id, map[string]codec.Value{"name": "Ada"}))

	row, err := s.Get(ctx, customerCT, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", row.Columns["name"])

	require.NoError(t, s.Update(ctx, customerCT, id, map[string]codec.Value{"name": "Ada Lovelace"}))
	row, err = s.Get(ctx, customerCT, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", row.Columns["name"])

	require.NoError(t, s.Delete(ctx, customerCT, id))
	_, err = s.Get(ctx, customerCT, id)
	assert.ErrorAs(t, err, &rowstore.ErrRowNotFound{})
}

func TestMemoryStoreUpdateMissingRowFails(t *testing.T) {
	ctx := context.Background()
	s := rowstore.NewMemoryStore(nil)
	err := s.Update(ctx, customerCT, uuid.New(), map[string]codec.Value{})
	assert.Error(t, err)
}

func TestMemoryStoreDeleteMissingRowIsNoop(t *testing.T) {
	ctx := context.Background()
	s := rowstore.NewMemoryStore(nil)
	assert.NoError(t, s.Delete(ctx, customerCT, uuid.New()))
}

func TestMemoryStoreGetReturnsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	s := rowstore.NewMemoryStore(nil)
	id := uuid.New()
	require.NoError(t, s.Insert(ctx, customerCT, id, map[string]codec.Value{"name": "Ada"}))

	row, err := s.Get(ctx, customerCT, id)
	require.NoError(t, err)
	row.Columns["name"] = "mutated"

	row2, err := s.Get(ctx, customerCT, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", row2.Columns["name"])
}

func TestMemoryStoreReferencingRowsAndRewrite(t *testing.T) {
	ctx := context.Background()
	s := rowstore.NewMemoryStore(nil)

	customerID := uuid.New()
	orderID := uuid.New()
	require.NoError(t, s.Insert(ctx, customerCT, customerID, map[string]codec.Value{"name": "Ada"}))
	require.NoError(t, s.Insert(ctx, orderCT, orderID, map[string]codec.Value{"customer_id": customerID}))

	refs, err := s.ReferencingRows(ctx, orderCT, "customer_id", customerID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orderID}, refs)

	newCustomerID := uuid.New()
	require.NoError(t, s.Rewrite(ctx, customerCT, customerID, newCustomerID, []rowstore.ForeignKeyRef{
		{ContentTypeID: orderCT, Column: "customer_id"},
	}))

	_, err = s.Get(ctx, customerCT, customerID)
	assert.Error(t, err)

	row, err := s.Get(ctx, orderCT, orderID)
	require.NoError(t, err)
	assert.Equal(t, newCustomerID, row.Columns["customer_id"])
}

func TestMemoryStoreWithoutConstraintsRunsFn(t *testing.T) {
	ctx := context.Background()
	s := rowstore.NewMemoryStore(nil)
	called := false
	err := s.WithoutConstraints(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
