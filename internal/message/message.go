// Package message defines the wire payload every push/pull round
// trades: an ordered operation list plus a model-keyed bag of row
// snapshots, and the push message's HMAC-like signature.
package message

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/model"
)

// validate is stateless and safe for concurrent use once built, per
// the library's own documentation, so every message type shares it.
var validate = validator.New()

// maxSQLVariables bounds how many row ids a single snapshot-loading
// query batches together, mirroring the original implementation's
// guard against exceeding a driver's bound-parameter limit.
const maxSQLVariables = 900

// Payload is a model-keyed bag of row records: modelName -> rows.
// Unknown model names are dropped at parse time (I3).
type Payload map[string][]codec.Row

// Add appends a row under its model name.
func (p Payload) Add(row codec.Row) {
	p[row.ModelName] = append(p[row.ModelName], row)
}

// Find returns the row recorded for a model/pk pair, if any.
func (p Payload) Find(modelName string, pk any) (codec.Row, bool) {
	for _, row := range p[modelName] {
		if row.PK == pk {
			return row, true
		}
	}
	return codec.Row{}, false
}

// RowLoader projects the current snapshot of a row into the payload,
// running any extension loadfn to include extended columns. It is the
// seam through which the message package asks its caller (which owns
// the rowstore.Store and the registry) for row contents without
// importing either.
type RowLoader func(op model.Operation) (codec.Row, error)

// BuildPayload loads a snapshot for every non-delete operation's row,
// calling load once per operation; it does no batching of its own.
func BuildPayload(ops []model.Operation, load RowLoader) (Payload, error) {
	payload := make(Payload)
	for _, op := range ops {
		if op.Command == model.CommandDelete {
			continue
		}
		row, err := load(op)
		if err != nil {
			return nil, fmt.Errorf("message: loading row for %s %s: %w", op.Command, op.RowID, err)
		}
		payload.Add(row)
	}
	return payload, nil
}

// BatchRowIDs splits ids into groups of at most maxSQLVariables, for
// callers whose RowLoader batches its own underlying queries.
func BatchRowIDs(ids []uuid.UUID) [][]uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	var batches [][]uuid.UUID
	for len(ids) > 0 {
		n := maxSQLVariables
		if n > len(ids) {
			n = len(ids)
		}
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}
	return batches
}

// portion builds the signed text of a push message: for every
// operation, in order, "&" + hex(row_id) + "#" + content_type_id +
// "#" + command.
func portion(ops []model.Operation) string {
	var b strings.Builder
	for _, op := range ops {
		b.WriteByte('&')
		b.WriteString(codec.RowIDHex(op.RowID))
		b.WriteByte('#')
		fmt.Fprintf(&b, "%d", op.ContentTypeID)
		b.WriteByte('#')
		b.WriteString(string(op.Command))
	}
	return b.String()
}

// Sign computes the push message signature for ops under secret.
func Sign(secret string, ops []model.Operation) []byte {
	h := sha512.New()
	h.Write([]byte(secret))
	h.Write([]byte(portion(ops)))
	return h.Sum(nil)
}

// VerifySignature recomputes Sign and compares in constant time.
func VerifySignature(secret string, ops []model.Operation, key []byte) bool {
	return hmac.Equal(Sign(secret, ops), key)
}

// PushMessage is what a client sends to push its unversioned
// operations to the server.
type PushMessage struct {
	Created         model.Version     `json:"-"`
	NodeID          uuid.UUID         `json:"node_id" validate:"required"`
	LatestVersionID int64             `json:"latest_version_id" validate:"gte=0"`
	Key             []byte            `json:"key" validate:"required"`
	Operations      []model.Operation `json:"operations" validate:"required,min=1"`
	Payload         Payload           `json:"payload"`
}

// Validate checks the fields every push message must carry before its
// signature or operations are inspected at all, rejecting malformed
// requests with a single descriptive error.
func (m PushMessage) Validate() error {
	return validate.Struct(m)
}

// NewPushMessage builds and signs a push message from ops (already
// filtered to push-tracked content types and null version_id) and
// their row snapshots.
func NewPushMessage(nodeID uuid.UUID, latestVersionID int64, secret string, ops []model.Operation, payload Payload) PushMessage {
	return PushMessage{
		NodeID:          nodeID,
		LatestVersionID: latestVersionID,
		Key:             Sign(secret, ops),
		Operations:      ops,
		Payload:         payload,
	}
}

// IsLegit reports whether m's signature matches what Sign computes
// under secret for m's operations.
func (m PushMessage) IsLegit(secret string) bool {
	return VerifySignature(secret, m.Operations, m.Key)
}

// PullMessage is what a server sends in reply to a pull: every
// version since the requested one, the operations each carries, and a
// snapshot payload for any row a non-delete operation needs.
type PullMessage struct {
	Versions   []model.Version   `json:"versions"`
	Operations []model.Operation `json:"operations"`
	Payload    Payload           `json:"payload"`
}

// PullRequestMessage is the inverse: the client's own compressed,
// unversioned operations (used only for conflict detection, never
// applied server-side) plus arbitrary caller context threaded through
// to filter_operations_fn-style extension hooks.
type PullRequestMessage struct {
	NodeID          uuid.UUID         `json:"node_id" validate:"required"`
	LatestVersionID int64             `json:"latest_version_id" validate:"gte=0"`
	Operations      []model.Operation `json:"operations"`
	ExtraData       map[string]any    `json:"extra_data,omitempty"`
}

// Validate checks the request's required identity and version fields.
func (m PullRequestMessage) Validate() error {
	return validate.Struct(m)
}
