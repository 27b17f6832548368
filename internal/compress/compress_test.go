package compress_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/compress"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

const customerCT model.ContentTypeID = 1

func op(ct model.ContentTypeID, id uuid.UUID, cmd model.Command, order int64) model.Operation {
	return model.Operation{ContentTypeID: ct, RowID: id, Command: cmd, Order: order}
}

func TestFoldTable(t *testing.T) {
	cases := []struct {
		prev, next, want model.Command
		keep             bool
	}{
		{model.CommandInsert, model.CommandUpdate, model.CommandInsert, true},
		{model.CommandInsert, model.CommandDelete, "", false},
		{model.CommandUpdate, model.CommandUpdate, model.CommandUpdate, true},
		{model.CommandUpdate, model.CommandDelete, model.CommandDelete, true},
		{model.CommandDelete, model.CommandInsert, model.CommandUpdate, true},
	}
	for _, c := range cases {
		got, keep := compress.Fold(c.prev, c.next)
		assert.Equal(t, c.keep, keep, "%s->%s", c.prev, c.next)
		if keep {
			assert.Equal(t, c.want, got, "%s->%s", c.prev, c.next)
		}
	}
}

func TestCompressInsertUpdateCollapsesToInsert(t *testing.T) {
	id := uuid.New()
	out := compress.Compress([]model.Operation{
		op(customerCT, id, model.CommandInsert, 1),
		op(customerCT, id, model.CommandUpdate, 2),
	})
	require.Len(t, out, 1)
	assert.Equal(t, model.CommandInsert, out[0].Command)
}

func TestCompressInsertDeleteVanishes(t *testing.T) {
	id := uuid.New()
	out := compress.Compress([]model.Operation{
		op(customerCT, id, model.CommandInsert, 1),
		op(customerCT, id, model.CommandDelete, 2),
	})
	assert.Empty(t, out)
}

func TestCompressDeleteThenInsertBecomesUpdate(t *testing.T) {
	id := uuid.New()
	out := compress.Compress([]model.Operation{
		op(customerCT, id, model.CommandDelete, 1),
		op(customerCT, id, model.CommandInsert, 2),
	})
	require.Len(t, out, 1)
	assert.Equal(t, model.CommandUpdate, out[0].Command)
}

func TestCompressPreservesRelativeOrderAcrossRows(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	out := compress.Compress([]model.Operation{
		op(customerCT, a, model.CommandInsert, 1),
		op(customerCT, b, model.CommandInsert, 2),
		op(customerCT, a, model.CommandUpdate, 3),
	})
	require.Len(t, out, 2)
	assert.Equal(t, a, out[0].RowID)
	assert.Equal(t, b, out[1].RowID)
}

func TestCompressReviveAfterVanishStartsFresh(t *testing.T) {
	id := uuid.New()
	out := compress.Compress([]model.Operation{
		op(customerCT, id, model.CommandInsert, 1),
		op(customerCT, id, model.CommandDelete, 2),
		op(customerCT, id, model.CommandInsert, 3),
	})
	require.Len(t, out, 1)
	assert.Equal(t, model.CommandInsert, out[0].Command)
	assert.Equal(t, int64(3), out[0].Order)
}
