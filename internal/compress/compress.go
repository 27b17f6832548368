// Package compress collapses an operation log into the minimal
// sequence of operations that has the same net effect per row, using
// the fold table: (insert,update)->insert, (insert,delete)->nothing,
// (update,update)->update, (update,delete)->delete,
// (delete,insert)->update. Relative order across distinct rows is
// preserved (I1).
package compress

import (
	"github.com/vitaliisemenov/dbsync/internal/model"
)

// Fold returns the command that results from applying next after
// prev on the same row, and ok=false when the pair collapses to
// nothing (insert immediately undone by a delete).
func Fold(prev, next model.Command) (model.Command, bool) {
	switch {
	case prev == model.CommandInsert && next == model.CommandUpdate:
		return model.CommandInsert, true
	case prev == model.CommandInsert && next == model.CommandDelete:
		return "", false
	case prev == model.CommandUpdate && next == model.CommandUpdate:
		return model.CommandUpdate, true
	case prev == model.CommandUpdate && next == model.CommandDelete:
		return model.CommandDelete, true
	case prev == model.CommandDelete && next == model.CommandInsert:
		return model.CommandUpdate, true
	default:
		// Same-command repeats (u,u handled above) and any other
		// pairing that should never occur in a well-formed log are
		// resolved by keeping next: a single session never issues
		// (i,i), (d,u) or (d,d) against the same row.
		return next, true
	}
}

// Compress folds ops into the minimal equivalent sequence. It
// processes operations in order, keeping at most one pending op per
// row key and emitting it (or dropping it) once a later op on the
// same row arrives or the input is exhausted. The result preserves
// the relative order of the first operation touching each distinct
// row.
func Compress(ops []model.Operation) []model.Operation {
	type slot struct {
		op   model.Operation
		live bool
	}

	pending := make(map[model.Key]*slot)
	order := make([]model.Key, 0, len(ops))

	for _, op := range ops {
		key := op.Key()
		s, seen := pending[key]
		if !seen {
			pending[key] = &slot{op: op, live: true}
			order = append(order, key)
			continue
		}
		if !s.live {
			s.op = op
			s.live = true
			continue
		}
		folded, keep := Fold(s.op.Command, op.Command)
		if !keep {
			s.live = false
			continue
		}
		s.op.Command = folded
		s.op.Order = op.Order
	}

	out := make([]model.Operation, 0, len(order))
	for _, key := range order {
		s := pending[key]
		if s.live {
			out = append(out, s.op)
		}
	}
	return out
}
