// Package tracker implements the change tracker: the hook that turns
// ORM-level insert/update/delete events on tracked models into
// Operation records, buffered per session and flushed on commit.
package tracker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/registry"
)

// ErrSkipOperation is returned by a BeforeTrackingFn to suppress
// recording the operation it was given without failing the
// originating write.
type ErrSkipOperation = model.ErrSkipOperation

// BeforeTrackingFn lets an extension veto tracking for a single
// candidate operation before it is enqueued, by returning
// ErrSkipOperation.
type BeforeTrackingFn func(ctx context.Context, op model.Operation) error

// Role distinguishes the server tracker (which versions every
// operation immediately) from the client tracker (which leaves
// version_id null until push).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Sink receives flushed operations (and, server-side, the versions
// minted for them) once a session commits. It is the seam to the
// operation log storage.
type Sink interface {
	AppendOperations(ctx context.Context, ops []model.Operation) error
	AppendVersions(ctx context.Context, versions []model.Version) error
}

// Session is a per-transaction operation buffer. Internal sessions
// (the sync engine's own replay/merge transactions) never buffer:
// the internal flag short-circuits every Track call, matching the "internal
// session" rule that prevents replayed writes from being re-tracked.
type Session struct {
	tracker    *Tracker
	internal   bool
	buffer     []model.Operation
	versions   []model.Version
	nextOrder  int64
}

// Tracker is the per-process tracking facility: global enable switch
// (listening/toggle_listening, §9 Open Question (a)), the registry it
// consults to resolve content types, and the hook registered per
// model.
type Tracker struct {
	mu       sync.RWMutex
	Enabled  bool
	role     Role
	registry *registry.Registry
	hooks    map[string]BeforeTrackingFn
}

func New(role Role, reg *registry.Registry) *Tracker {
	return &Tracker{
		Enabled:  true,
		role:     role,
		registry: reg,
		hooks:    make(map[string]BeforeTrackingFn),
	}
}

// SetBeforeTracking registers the optional before_tracking_fn for a
// model.
func (t *Tracker) SetBeforeTracking(modelName string, fn BeforeTrackingFn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[modelName] = fn
}

// SetListening toggles the global switch; when disabled, Track is a
// no-op for every session derived from this tracker (toggle_listening).
func (t *Tracker) SetListening(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Enabled = enabled
}

func (t *Tracker) listening() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Enabled
}

// Begin starts a new per-transaction buffer. internal marks the
// sync engine's own replay session, which never tracks.
func (t *Tracker) Begin(internal bool) *Session {
	return &Session{tracker: t, internal: internal}
}

// Track records one change, unless tracking is disabled globally,
// this is an internal session, the model isn't registered (I3), or a
// before_tracking_fn signals ErrSkipOperation.
func (s *Session) Track(ctx context.Context, modelName string, rowID uuid.UUID, cmd model.Command) error {
	if s.internal || !s.tracker.listening() {
		return nil
	}

	schema, ok := s.tracker.registry.ByName(modelName)
	if !ok {
		return nil
	}

	op := model.Operation{
		RowID:         rowID,
		ContentTypeID: schema.ContentType,
		Command:       cmd,
	}

	s.tracker.mu.RLock()
	hook := s.tracker.hooks[modelName]
	s.tracker.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, op); err != nil {
			if _, ok := err.(*model.ErrSkipOperation); ok {
				return nil
			}
			return err
		}
	}

	if s.tracker.role == RoleServer {
		s.nextOrder++
		op.Order = s.nextOrder
		v := model.Version{}
		opVersionID := int64(len(s.versions) + 1)
		v.VersionID = opVersionID
		op.VersionID = &opVersionID
		s.versions = append(s.versions, v)
	}

	s.buffer = append(s.buffer, op)
	return nil
}

// Commit flushes the buffered operations (and, server-side, their
// versions) to sink and clears the buffer. Call once per transaction
// commit.
func (s *Session) Commit(ctx context.Context, sink Sink) error {
	if len(s.buffer) == 0 {
		return nil
	}
	if len(s.versions) > 0 {
		if err := sink.AppendVersions(ctx, s.versions); err != nil {
			return err
		}
	}
	if err := sink.AppendOperations(ctx, s.buffer); err != nil {
		return err
	}
	s.buffer = nil
	s.versions = nil
	return nil
}

// Rollback discards the buffer without flushing.
func (s *Session) Rollback() {
	s.buffer = nil
	s.versions = nil
}

// Buffered returns the operations recorded so far in this session,
// without flushing them.
func (s *Session) Buffered() []model.Operation {
	return append([]model.Operation(nil), s.buffer...)
}
