package tracker_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
	"github.com/vitaliisemenov/dbsync/internal/tracker"
)

type fakeSink struct {
	ops      []model.Operation
	versions []model.Version
}

func (f *fakeSink) AppendOperations(ctx context.Context, ops []model.Operation) error {
	f.ops = append(f.ops, ops...)
	return nil
}

func (f *fakeSink) AppendVersions(ctx context.Context, versions []model.Version) error {
	f.versions = append(f.versions, versions...)
	return nil
}

func newRegistry() *registry.Registry {
	r := registry.New()
	r.Install(registry.Schema{Name: "Customer", TableName: "customers"})
	return r
}

func TestClientTrackerLeavesVersionNil(t *testing.T) {
	tr := tracker.New(tracker.RoleClient, newRegistry())
	session := tr.Begin(false)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, session.Track(ctx, "Customer", id, model.CommandInsert))

	buffered := session.Buffered()
	require.Len(t, buffered, 1)
	assert.Nil(t, buffered[0].VersionID)
}

func TestServerTrackerVersionsEveryOperation(t *testing.T) {
	tr := tracker.New(tracker.RoleServer, newRegistry())
	session := tr.Begin(false)
	ctx := context.Background()

	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandInsert))
	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandUpdate))

	buffered := session.Buffered()
	require.Len(t, buffered, 2)
	for _, op := range buffered {
		require.NotNil(t, op.VersionID)
	}
}

func TestInternalSessionNeverTracks(t *testing.T) {
	tr := tracker.New(tracker.RoleClient, newRegistry())
	session := tr.Begin(true)
	ctx := context.Background()

	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandInsert))
	assert.Empty(t, session.Buffered())
}

func TestListeningDisabledSuppressesTracking(t *testing.T) {
	tr := tracker.New(tracker.RoleClient, newRegistry())
	tr.SetListening(false)
	session := tr.Begin(false)
	ctx := context.Background()

	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandInsert))
	assert.Empty(t, session.Buffered())
}

func TestUnregisteredModelIsInvisible(t *testing.T) {
	tr := tracker.New(tracker.RoleClient, newRegistry())
	session := tr.Begin(false)
	ctx := context.Background()

	require.NoError(t, session.Track(ctx, "Ghost", uuid.New(), model.CommandInsert))
	assert.Empty(t, session.Buffered())
}

func TestBeforeTrackingFnSkipOperation(t *testing.T) {
	tr := tracker.New(tracker.RoleClient, newRegistry())
	tr.SetBeforeTracking("Customer", func(ctx context.Context, op model.Operation) error {
		return &model.ErrSkipOperation{Reason: "extension vetoed"}
	})
	session := tr.Begin(false)
	ctx := context.Background()

	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandInsert))
	assert.Empty(t, session.Buffered())
}

func TestCommitFlushesAndClearsBuffer(t *testing.T) {
	tr := tracker.New(tracker.RoleServer, newRegistry())
	session := tr.Begin(false)
	ctx := context.Background()
	sink := &fakeSink{}

	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandInsert))
	require.NoError(t, session.Commit(ctx, sink))

	assert.Len(t, sink.ops, 1)
	assert.Len(t, sink.versions, 1)
	assert.Empty(t, session.Buffered())
}

func TestRollbackDiscardsBuffer(t *testing.T) {
	tr := tracker.New(tracker.RoleClient, newRegistry())
	session := tr.Begin(false)
	ctx := context.Background()

	require.NoError(t, session.Track(ctx, "Customer", uuid.New(), model.CommandInsert))
	session.Rollback()
	assert.Empty(t, session.Buffered())
}
