// Package codec converts mapped row values to and from the
// transport-neutral value tree that travels inside push/pull messages:
// plain JSON scalars plus a small set of conventions for types JSON has
// no native representation for (dates, times, binary, decimals, GUIDs).
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitaliisemenov/dbsync/internal/registry"
)

// Value is one cell of a row after encoding: a JSON-compatible scalar,
// nil, or (for dates/datetimes/times) a small array of integers.
type Value = any

// Row is a mapped object's column values, keyed by column name, plus
// the two fields every wire object carries so the receiving side can
// route it back to a schema: the model name and the primary key value.
type Row struct {
	ModelName string
	PK        any
	Columns   map[string]Value
}

// EncodeColumn converts a single native column value into its wire
// representation according to the column's declared type.
func EncodeColumn(col registry.Column, native any) (Value, error) {
	if native == nil {
		return nil, nil
	}
	switch col.Type {
	case registry.ColumnDate:
		t, err := asTime(native)
		if err != nil {
			return nil, err
		}
		return []int{t.Year(), int(t.Month()), t.Day()}, nil

	case registry.ColumnDateTime:
		t, err := asTime(native)
		if err != nil {
			return nil, err
		}
		return []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond() / 1000}, nil

	case registry.ColumnTime:
		t, err := asTime(native)
		if err != nil {
			return nil, err
		}
		return []int{t.Hour(), t.Minute(), t.Second(), t.Nanosecond() / 1000}, nil

	case registry.ColumnBinary:
		b, ok := native.([]byte)
		if !ok {
			return nil, fmt.Errorf("codec: column %s: want []byte, got %T", col.Name, native)
		}
		return base64.StdEncoding.EncodeToString(b), nil

	case registry.ColumnDecimal:
		switch v := native.(type) {
		case decimal.Decimal:
			return v.String(), nil
		case string:
			return v, nil
		default:
			return nil, fmt.Errorf("codec: column %s: want decimal.Decimal, got %T", col.Name, native)
		}

	case registry.ColumnGUID:
		switch v := native.(type) {
		case uuid.UUID:
			return hex.EncodeToString(v[:]), nil
		case [16]byte:
			return hex.EncodeToString(v[:]), nil
		default:
			return nil, fmt.Errorf("codec: column %s: want uuid.UUID, got %T", col.Name, native)
		}

	default:
		return native, nil
	}
}

// DecodeColumn converts a wire value back into the native Go type the
// column's type expects.
func DecodeColumn(col registry.Column, wire Value) (any, error) {
	if wire == nil {
		return nil, nil
	}
	switch col.Type {
	case registry.ColumnDate:
		parts, err := intSlice(wire)
		if err != nil || len(parts) != 3 {
			return nil, fmt.Errorf("codec: column %s: malformed date %v", col.Name, wire)
		}
		return time.Date(parts[0], time.Month(parts[1]), parts[2], 0, 0, 0, 0, time.UTC), nil

	case registry.ColumnDateTime:
		parts, err := intSlice(wire)
		if err != nil || len(parts) != 7 {
			return nil, fmt.Errorf("codec: column %s: malformed datetime %v", col.Name, wire)
		}
		return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6]*1000, time.UTC), nil

	case registry.ColumnTime:
		parts, err := intSlice(wire)
		if err != nil || len(parts) != 4 {
			return nil, fmt.Errorf("codec: column %s: malformed time %v", col.Name, wire)
		}
		return time.Date(0, 1, 1, parts[0], parts[1], parts[2], parts[3]*1000, time.UTC), nil

	case registry.ColumnBinary:
		s, ok := wire.(string)
		if !ok {
			return nil, fmt.Errorf("codec: column %s: want base64 string, got %T", col.Name, wire)
		}
		return base64.StdEncoding.DecodeString(s)

	case registry.ColumnDecimal:
		s, ok := wire.(string)
		if !ok {
			return nil, fmt.Errorf("codec: column %s: want decimal string, got %T", col.Name, wire)
		}
		return decimal.NewFromString(s)

	case registry.ColumnGUID:
		s, ok := wire.(string)
		if !ok {
			return nil, fmt.Errorf("codec: column %s: want hex string, got %T", col.Name, wire)
		}
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 16 {
			return nil, fmt.Errorf("codec: column %s: malformed guid %q", col.Name, s)
		}
		var id uuid.UUID
		copy(id[:], b)
		return id, nil

	default:
		return wire, nil
	}
}

func asTime(native any) (time.Time, error) {
	switch v := native.(type) {
	case time.Time:
		return v, nil
	default:
		return time.Time{}, fmt.Errorf("codec: want time.Time, got %T", native)
	}
}

// intSlice accepts either []int (constructed in-process) or []any
// (decoded from JSON, where numbers arrive as float64).
func intSlice(wire Value) ([]int, error) {
	switch v := wire.(type) {
	case []int:
		return v, nil
	case []any:
		out := make([]int, len(v))
		for i, e := range v {
			n, err := toInt(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: want array, got %T", wire)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return int(i), err
	default:
		return 0, fmt.Errorf("codec: want number, got %T", v)
	}
}

// RowIDHex renders a row id the way GUID columns are rendered on the
// wire, used by the push signature (§4.9) which concatenates hex row
// ids regardless of each column's declared type.
func RowIDHex(id uuid.UUID) string {
	return strings.ToLower(hex.EncodeToString(id[:]))
}
