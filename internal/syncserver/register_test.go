package syncserver_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterWithoutResolverLeavesRegistryUserIDNil(t *testing.T) {
	h, _, _ := newTestHandler(t)

	node, err := h.Register(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, node.Secret)
	assert.Nil(t, node.RegistryUserID)
}

func TestRegisterResolvesUserFromExtraData(t *testing.T) {
	h, _, _ := newTestHandler(t)
	want := uuid.New()

	node, err := h.Register(context.Background(), map[string]any{"user": want.String()}, func(ctx context.Context, extraData map[string]any) (*uuid.UUID, error) {
		return &want, nil
	})
	require.NoError(t, err)
	require.NotNil(t, node.RegistryUserID)
	assert.Equal(t, want, *node.RegistryUserID)
}
