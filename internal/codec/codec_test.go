package codec_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/codec"
	"github.com/vitaliisemenov/dbsync/internal/registry"
)

func TestEncodeDecodeDateTimeRoundTrip(t *testing.T) {
	col := registry.Column{Name: "created_at", Type: registry.ColumnDateTime}
	native := time.Date(2026, 7, 31, 12, 30, 45, 123000, time.UTC)

	wire, err := codec.EncodeColumn(col, native)
	require.NoError(t, err)
	assert.Equal(t, []int{2026, 7, 31, 12, 30, 45, 123}, wire)

	back, err := codec.DecodeColumn(col, wire)
	require.NoError(t, err)
	assert.True(t, native.Equal(back.(time.Time)))
}

func TestEncodeDecodeJSONNumberDateTime(t *testing.T) {
	col := registry.Column{Name: "created_at", Type: registry.ColumnDateTime}
	wire := []any{float64(2026), float64(7), float64(31), float64(0), float64(0), float64(0), float64(0)}

	back, err := codec.DecodeColumn(col, wire)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), back)
}

func TestEncodeDecodeBinary(t *testing.T) {
	col := registry.Column{Name: "payload", Type: registry.ColumnBinary}
	native := []byte{0x00, 0xFF, 0x10}

	wire, err := codec.EncodeColumn(col, native)
	require.NoError(t, err)
	assert.IsType(t, "", wire)

	back, err := codec.DecodeColumn(col, wire)
	require.NoError(t, err)
	assert.Equal(t, native, back)
}

func TestEncodeDecodeDecimal(t *testing.T) {
	col := registry.Column{Name: "amount", Type: registry.ColumnDecimal}
	native := decimal.NewFromFloat(19.99)

	wire, err := codec.EncodeColumn(col, native)
	require.NoError(t, err)
	assert.Equal(t, "19.99", wire)

	back, err := codec.DecodeColumn(col, wire)
	require.NoError(t, err)
	assert.True(t, native.Equal(back.(decimal.Decimal)))
}

func TestEncodeDecodeGUID(t *testing.T) {
	col := registry.Column{Name: "id", Type: registry.ColumnGUID}
	native := uuid.New()

	wire, err := codec.EncodeColumn(col, native)
	require.NoError(t, err)
	s := wire.(string)
	assert.Len(t, s, 32)

	back, err := codec.DecodeColumn(col, wire)
	require.NoError(t, err)
	assert.Equal(t, native, back)
}

func TestEncodeNilPassesThrough(t *testing.T) {
	col := registry.Column{Name: "x", Type: registry.ColumnDecimal}
	wire, err := codec.EncodeColumn(col, nil)
	require.NoError(t, err)
	assert.Nil(t, wire)
}

func TestEncodeOtherPassesThrough(t *testing.T) {
	col := registry.Column{Name: "name", Type: registry.ColumnOther}
	wire, err := codec.EncodeColumn(col, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", wire)
}

func TestRowIDHexLowercase(t *testing.T) {
	id := uuid.New()
	s := codec.RowIDHex(id)
	assert.Len(t, s, 32)
	assert.Equal(t, s, stringsToLower(s))
}

func stringsToLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
