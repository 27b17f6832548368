// Package registry is the content-type registry: the sole source of
// truth for which entities participate in synchronization. A model not
// installed here is invisible to tracking and to message parsing.
package registry

import (
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/vitaliisemenov/dbsync/internal/model"
)

// ColumnType drives how a column's value is converted to and from the
// transport-neutral value tree (see internal/codec).
type ColumnType int

const (
	ColumnOther ColumnType = iota
	ColumnDate
	ColumnDateTime
	ColumnTime
	ColumnBinary
	ColumnDecimal
	ColumnGUID
)

// Column describes one mapped column.
type Column struct {
	Name string
	Type ColumnType
}

// ForeignKey describes a column on this schema that points at another
// tracked model's primary key.
type ForeignKey struct {
	Column   string // local column holding the reference
	RefModel string // name of the referenced model
}

// Schema is the descriptor a model provides when it installs: its
// table name, its columns (for the codec) and the foreign keys other
// models need for dependency-conflict detection and pk-collision
// cascades. The actual object-relational mapping that produces and
// consumes rows of this shape is an external collaborator (internal/rowstore).
type Schema struct {
	Name        string
	TableName   string
	ContentType model.ContentTypeID
	PrimaryKey  string
	Columns     []Column
	ForeignKeys []ForeignKey

	// UniqueColumns lists columns (other than the primary key) that
	// must hold a unique value across all rows of this model, used
	// by the conflict detector's Kind Unique check.
	UniqueColumns []string
}

// ContentTypeIDFor returns the deterministic content type id for a
// model/table pair: the unsigned CRC-32 of the latin-1 bytes of
// "<ModelName>/<TableName>". Identical on every node that installs the
// same model.
func ContentTypeIDFor(modelName, tableName string) model.ContentTypeID {
	text := fmt.Sprintf("%s/%s", modelName, tableName)
	return model.ContentTypeID(crc32.ChecksumIEEE([]byte(text)))
}

// Registry indexes installed schemas by name, table name and content
// type id, mirroring the four lookup maps of the reference design.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]Schema
	byTable   map[string]Schema
	byID      map[model.ContentTypeID]Schema
	pushable  map[string]bool
	pullable  map[string]bool
}

func New() *Registry {
	return &Registry{
		byName:   make(map[string]Schema),
		byTable:  make(map[string]Schema),
		byID:     make(map[model.ContentTypeID]Schema),
		pushable: make(map[string]bool),
		pullable: make(map[string]bool),
	}
}

// Direction restricts how Install handles a model: "push", "pull" or
// both when omitted.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Install records a model in the registry, computing its content type
// id. Re-installing the same model name is a no-op for the schema but
// still updates its push/pull directions.
func (r *Registry) Install(s Schema, directions ...Direction) Schema {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.ContentType = ContentTypeIDFor(s.Name, s.TableName)
	if _, exists := r.byName[s.Name]; !exists {
		r.byName[s.Name] = s
		r.byTable[s.TableName] = s
		r.byID[s.ContentType] = s
	}

	if len(directions) == 0 {
		directions = []Direction{DirectionPush, DirectionPull}
	}
	for _, d := range directions {
		switch d {
		case DirectionPush:
			r.pushable[s.Name] = true
		case DirectionPull:
			r.pullable[s.Name] = true
		}
	}
	return r.byName[s.Name]
}

func (r *Registry) ByName(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

func (r *Registry) ByTable(table string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byTable[table]
	return s, ok
}

func (r *Registry) ByContentType(id model.ContentTypeID) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Tracks reports whether id refers to a currently tracked model (I3).
func (r *Registry) Tracks(id model.ContentTypeID) bool {
	_, ok := r.ByContentType(id)
	return ok
}

func (r *Registry) Pushable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pushable[name]
}

func (r *Registry) Pullable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pullable[name]
}

// ContentTypes returns every installed schema as a ContentType record,
// ready to be persisted (see internal/storage.Store.UpsertContentTypes).
func (r *Registry) ContentTypes() []model.ContentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ContentType, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, model.ContentType{
			ContentTypeID: s.ContentType,
			TableName:     s.TableName,
			ModelName:     s.Name,
		})
	}
	return out
}

// Referencing returns the schemas that declare a foreign key into model.
func (r *Registry) Referencing(modelName string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Schema
	for _, s := range r.byName {
		for _, fk := range s.ForeignKeys {
			if fk.RefModel == modelName {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
