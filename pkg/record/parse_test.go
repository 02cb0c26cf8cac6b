// pkg/record/parse_test.go
package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsqlite/pkg/types"
)

func TestDecode_RejectsHeaderOverrun(t *testing.T) {
	// Header size claims 10 bytes but the buffer only holds 2.
	assert.Nil(t, Decode([]byte{10, 1}))
}

func TestDecode_RejectsBodyOverrun(t *testing.T) {
	// Header declares a 5-byte text payload, body supplies 2 bytes.
	st := byte(SerialTypeText0 + 5*2)
	assert.Nil(t, Decode([]byte{2, st, 'h', 'i'}))
}

func TestDecode_RejectsInvalidUTF8(t *testing.T) {
	st := byte(SerialTypeText0 + 2*2)
	assert.Nil(t, Decode([]byte{2, st, 0xFF, 0xFE}))
}

func TestDecode_ReservedSerialTypesAreNull(t *testing.T) {
	// Serial types 10 and 11 are reserved: zero payload, decode as NULL.
	decoded := Decode([]byte{3, 10, 11})
	require.Len(t, decoded, 2)
	assert.True(t, decoded[0].IsNull())
	assert.True(t, decoded[1].IsNull())
}

func TestRoundTrip_MixedRows(t *testing.T) {
	rows := [][]types.Value{
		{types.NewInt(-140737488355328), types.NewInt(140737488355327)},
		{types.NewFloat(-0.0), types.NewFloat(1e308)},
		{types.NewText(""), types.NewText("héllo, wörld")},
		{types.NewBlob(nil), types.NewBlob(make([]byte, 300))},
		{types.NewNull(), types.NewInt(0), types.NewInt(1)},
	}
	for _, row := range rows {
		decoded := Decode(Encode(row))
		require.Len(t, decoded, len(row))
		for i := range row {
			assert.Zero(t, row[i].Compare(decoded[i]))
		}
	}
}
