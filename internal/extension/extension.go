// Package extension is the per-model and per-field hook pipeline: the
// seam through which application code customizes tracking, apply, and
// the out-of-band streaming of extended-column payloads, without the
// sync engine knowing anything about those columns' real types.
package extension

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
)

// BeforeOperationFn may mutate obj before it is persisted, or return
// *model.ErrSkipOperation to cancel the apply entirely (the operation
// is then excluded from the version).
type BeforeOperationFn func(ctx context.Context, op model.Operation, obj map[string]any) error

// AfterOperationFn observes an operation after it was applied.
type AfterOperationFn func(ctx context.Context, op model.Operation, obj map[string]any)

// FilterOperationsFn narrows the operation set a pull would otherwise
// return, for per-node authorization. extraData is the caller context
// threaded through from PullRequestMessage.ExtraData.
type FilterOperationsFn func(ctx context.Context, nodeID uuid.UUID, ops []model.Operation, extraData map[string]any) []model.Operation

// FieldPayload describes one field's out-of-band streaming hooks: a
// tracked column whose value is too large, or too opaque, to ride
// inside the ordinary JSON payload (e.g. a blob).
type FieldPayload struct {
	FieldName string
	// SendPayloadFn runs on the client: given the row's current
	// value for FieldName, it writes the bytes to stream.
	SendPayloadFn func(ctx context.Context, value any, stream PayloadWriter) error
	// ReceivePayloadFn runs on the server: it reads bytes from stream
	// until its own framing delimiter and returns the native value to
	// store.
	ReceivePayloadFn func(ctx context.Context, stream PayloadReader) (any, error)
}

// PayloadWriter is the out-of-band byte sink a send_payload_fn writes
// to; it is the same transport connection the request rode in on.
type PayloadWriter interface {
	Write(p []byte) (int, error)
}

// PayloadReader is the out-of-band byte source a receive_payload_fn
// reads from.
type PayloadReader interface {
	Read(p []byte) (int, error)
}

// RequestFieldPayload is the server->client frame that starts the
// per-field payload dance mid-apply.
type RequestFieldPayload struct {
	Type      string `json:"type"`
	ClassName string `json:"class_name"`
	IDField   string `json:"id_field"`
	ID        string `json:"id"`
	FieldName string `json:"field_name"`
}

// NewRequestFieldPayload builds the request frame for one row/field.
func NewRequestFieldPayload(className, idField string, id uuid.UUID, fieldName string) RequestFieldPayload {
	return RequestFieldPayload{
		Type:      "request_field_payload",
		ClassName: className,
		IDField:   idField,
		ID:        id.String(),
		FieldName: fieldName,
	}
}

// Extension groups every hook a model may register.
type Extension struct {
	ModelName string

	BeforeTracking       func(ctx context.Context, cmd model.Command, obj map[string]any) error
	BeforeOperation      BeforeOperationFn
	AfterOperation       AfterOperationFn
	BeforeInsert         BeforeOperationFn
	BeforeUpdate         BeforeOperationFn
	BeforeDelete         BeforeOperationFn
	AfterInsert          AfterOperationFn
	AfterUpdate          AfterOperationFn
	AfterDelete          AfterOperationFn
	FilterOperations     FilterOperationsFn
	BeforeServerAddOp    func(ctx context.Context, op model.Operation) error
	BeforeClientAddObj   func(ctx context.Context, obj map[string]any) error

	Fields []FieldPayload
}

// Registry indexes registered extensions by model name.
type Registry struct {
	extensions map[string]*Extension
}

func NewRegistry() *Registry {
	return &Registry{extensions: make(map[string]*Extension)}
}

// Register installs ext, replacing any previously registered
// extension for the same model.
func (r *Registry) Register(ext *Extension) {
	r.extensions[ext.ModelName] = ext
}

// Get returns the extension registered for modelName, if any.
func (r *Registry) Get(modelName string) (*Extension, bool) {
	ext, ok := r.extensions[modelName]
	return ext, ok
}

// BeforeOperationFor resolves the most specific before-hook for a
// command: the per-command variant if registered, else the generic
// BeforeOperation, else nil.
func (ext *Extension) BeforeOperationFor(cmd model.Command) BeforeOperationFn {
	switch cmd {
	case model.CommandInsert:
		if ext.BeforeInsert != nil {
			return ext.BeforeInsert
		}
	case model.CommandUpdate:
		if ext.BeforeUpdate != nil {
			return ext.BeforeUpdate
		}
	case model.CommandDelete:
		if ext.BeforeDelete != nil {
			return ext.BeforeDelete
		}
	}
	return ext.BeforeOperation
}

// AfterOperationFor resolves the most specific after-hook for a
// command.
func (ext *Extension) AfterOperationFor(cmd model.Command) AfterOperationFn {
	switch cmd {
	case model.CommandInsert:
		if ext.AfterInsert != nil {
			return ext.AfterInsert
		}
	case model.CommandUpdate:
		if ext.AfterUpdate != nil {
			return ext.AfterUpdate
		}
	case model.CommandDelete:
		if ext.AfterDelete != nil {
			return ext.AfterDelete
		}
	}
	return ext.AfterOperation
}
