package extension_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/extension"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := extension.NewRegistry()
	ext := &extension.Extension{ModelName: "Customer"}
	r.Register(ext)

	got, ok := r.Get("Customer")
	require.True(t, ok)
	assert.Same(t, ext, got)

	_, ok = r.Get("Missing")
	assert.False(t, ok)
}

func TestBeforeOperationForPrefersSpecificCommand(t *testing.T) {
	called := ""
	ext := &extension.Extension{
		ModelName: "Customer",
		BeforeOperation: func(ctx context.Context, op model.Operation, obj map[string]any) error {
			called = "generic"
			return nil
		},
		BeforeInsert: func(ctx context.Context, op model.Operation, obj map[string]any) error {
			called = "insert"
			return nil
		},
	}

	fn := ext.BeforeOperationFor(model.CommandInsert)
	require.NotNil(t, fn)
	require.NoError(t, fn(context.Background(), model.Operation{}, nil))
	assert.Equal(t, "insert", called)

	fn = ext.BeforeOperationFor(model.CommandUpdate)
	require.NotNil(t, fn)
	require.NoError(t, fn(context.Background(), model.Operation{}, nil))
	assert.Equal(t, "generic", called)
}

func TestNewRequestFieldPayload(t *testing.T) {
	id := uuid.New()
	req := extension.NewRequestFieldPayload("Customer", "id", id, "avatar")
	assert.Equal(t, "request_field_payload", req.Type)
	assert.Equal(t, id.String(), req.ID)
	assert.Equal(t, "avatar", req.FieldName)
}
