package rowstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

// MemoryStore is a reference Store backed by in-memory maps. It exists
// to exercise and test the merge engine, conflict detector and change
// tracker without requiring a real object-relational mapping; it is
// not meant to back a production deployment. It enforces no unique
// constraints: Insert never returns ErrUniqueViolation and overwrites
// any row already stored under the same id.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[model.ContentTypeID]map[uuid.UUID]codec.Row
	logger *slog.Logger
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		tables: make(map[model.ContentTypeID]map[uuid.UUID]codec.Row),
		logger: logger,
	}
}

func (s *MemoryStore) table(contentTypeID model.ContentTypeID) map[uuid.UUID]codec.Row {
	t, ok := s.tables[contentTypeID]
	if !ok {
		t = make(map[uuid.UUID]codec.Row)
		s.tables[contentTypeID] = t
	}
	return t
}

func copyColumns(src map[string]codec.Value) map[string]codec.Value {
	dst := make(map[string]codec.Value, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *MemoryStore) Get(_ context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID) (codec.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.table(contentTypeID)[rowID]
	if !ok {
		return codec.Row{}, ErrRowNotFound{ContentTypeID: contentTypeID, RowID: rowID}
	}
	row.Columns = copyColumns(row.Columns)
	return row, nil
}

func (s *MemoryStore) Insert(_ context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID, columns map[string]codec.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(contentTypeID)
	t[rowID] = codec.Row{PK: rowID, Columns: copyColumns(columns)}
	s.logger.Debug("row inserted", "content_type_id", contentTypeID, "row_id", rowID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID, columns map[string]codec.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(contentTypeID)
	if _, ok := t[rowID]; !ok {
		return ErrRowNotFound{ContentTypeID: contentTypeID, RowID: rowID}
	}
	t[rowID] = codec.Row{PK: rowID, Columns: copyColumns(columns)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.table(contentTypeID), rowID)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, contentTypeID model.ContentTypeID, rowID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.table(contentTypeID)[rowID]
	return ok, nil
}

func (s *MemoryStore) ReferencingRows(_ context.Context, contentTypeID model.ContentTypeID, fkColumn string, rowID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uuid.UUID
	for id, row := range s.table(contentTypeID) {
		v, ok := row.Columns[fkColumn]
		if !ok {
			continue
		}
		ref, ok := v.(uuid.UUID)
		if ok && ref == rowID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) Rewrite(_ context.Context, contentTypeID model.ContentTypeID, oldID, newID uuid.UUID, cascade []ForeignKeyRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(contentTypeID)
	row, ok := t[oldID]
	if !ok {
		return ErrRowNotFound{ContentTypeID: contentTypeID, RowID: oldID}
	}
	delete(t, oldID)
	row.PK = newID
	t[newID] = row

	for _, ref := range cascade {
		refTable := s.table(ref.ContentTypeID)
		for id, r := range refTable {
			v, ok := r.Columns[ref.Column]
			if !ok {
				continue
			}
			if fk, ok := v.(uuid.UUID); ok && fk == oldID {
				r.Columns = copyColumns(r.Columns)
				r.Columns[ref.Column] = newID
				refTable[id] = r
			}
		}
	}
	return nil
}

// WithoutConstraints runs fn directly: the in-memory store has no
// foreign key enforcement to defer.
func (s *MemoryStore) WithoutConstraints(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
