package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable_InfersFieldTypes(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	tbl, err := NewTable(
		[]string{"id", "score", "name", "ok", "at", "mixed"},
		[][]any{
			{1, 1.5, "a", true, ts, 1},
			{int32(2), float32(2), "b", false, ts, 2.5},
			{uint8(3), nil, nil, nil, nil, nil},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []Field{
		{Name: "id", Type: FieldTypeInteger},
		{Name: "score", Type: FieldTypeNumber},
		{Name: "name", Type: FieldTypeString},
		{Name: "ok", Type: FieldTypeBoolean},
		{Name: "at", Type: FieldTypeDatetime},
		{Name: "mixed", Type: FieldTypeNumber},
	}, tbl.Fields)

	assert.Equal(t, int64(2), tbl.Rows[1][0])
	assert.Equal(t, float64(1), tbl.Rows[0][5], "integer cells of a number column are widened")
	assert.Equal(t, time.UTC, tbl.Rows[0][4].(time.Time).Location())
	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, 6, tbl.NumColumns())
}

func TestNewTable_RejectsBadShapes(t *testing.T) {
	_, err := NewTable([]string{"a", "a"}, nil)
	assert.Error(t, err)

	_, err = NewTable([]string{"a", "b"}, [][]any{{1}})
	assert.Error(t, err)
}

func TestTable_RecordsAndColumns(t *testing.T) {
	tbl, err := TableFromRecords([]string{"k", "v"}, []map[string]any{
		{"k": "x", "v": 1},
		{"k": "y"},
	})
	require.NoError(t, err)

	col, ok := tbl.Column("v")
	require.True(t, ok)
	assert.Equal(t, []any{int64(1), nil}, col)

	_, ok = tbl.Column("missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{"k": "y", "v": nil}, tbl.Record(1))
	assert.Equal(t, []map[string]string{{"k": "string"}, {"v": "integer"}}, tbl.Schema())
}

func TestTable_Equal(t *testing.T) {
	a, _ := NewTable([]string{"a", "b"}, [][]any{{1, []byte("x")}})
	b, _ := NewTable([]string{"a", "b"}, [][]any{{int64(1), []byte("x")}})
	c, _ := NewTable([]string{"a", "b"}, [][]any{{2, []byte("x")}})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
