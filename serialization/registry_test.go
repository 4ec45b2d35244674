package serialization

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/pipeflow/types"
)

type opaque struct {
	A int
	B string
}

func init() {
	RegisterPicklable(opaque{})
}

func roundTrip(t *testing.T, v any, derivedFromBSON bool) (any, types.ArtifactType, types.SerializationType) {
	t.Helper()
	at, err := InferArtifactType(v)
	require.NoError(t, err)
	data, st, err := Serialize(at, v, derivedFromBSON)
	require.NoError(t, err)
	out, err := Deserialize(st, at, data)
	require.NoError(t, err)
	return out, at, st
}

func TestPick(t *testing.T) {
	tests := []struct {
		name string
		t    types.ArtifactType
		v    any
		bson bool
		want types.SerializationType
	}{
		{"table", types.ArtifactTypeTable, &types.Table{}, false, types.SerializationTypeTable},
		{"bson table", types.ArtifactTypeTable, &types.Table{}, true, types.SerializationTypeBSONTable},
		{"bool", types.ArtifactTypeBool, true, false, types.SerializationTypeJSON},
		{"numeric", types.ArtifactTypeNumeric, 1.5, false, types.SerializationTypeJSON},
		{"string", types.ArtifactTypeString, "s", false, types.SerializationTypeString},
		{"json", types.ArtifactTypeJSON, types.JSON(`{}`), false, types.SerializationTypeString},
		{"bytes", types.ArtifactTypeBytes, []byte("x"), false, types.SerializationTypeBytes},
		{"image", types.ArtifactTypeImage, image.NewRGBA(image.Rect(0, 0, 1, 1)), false, types.SerializationTypeImage},
		{"json dict", types.ArtifactTypeDict, map[string]any{"a": int64(1)}, false, types.SerializationTypeJSON},
		{"opaque dict", types.ArtifactTypeDict, map[string]any{"a": opaque{}}, false, types.SerializationTypePickle},
		{"json tuple", types.ArtifactTypeTuple, types.Tuple{"a", int64(1)}, false, types.SerializationTypeJSON},
		{"list", types.ArtifactTypeList, []any{int64(1), "a"}, false, types.SerializationTypePickleableCollection},
		{"opaque list", types.ArtifactTypeList, []any{opaque{}}, false, types.SerializationTypePickle},
		{"picklable", types.ArtifactTypePicklable, opaque{}, false, types.SerializationTypePickle},
		{"keras", types.ArtifactTypeTFKerasModel, types.KerasModel{}, false, types.SerializationTypeTFKerasModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pick(tt.t, tt.v, tt.bson)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Pick(types.ArtifactTypeUntyped, nil, false)
	assert.True(t, types.IsErrorCode(err, types.ErrInternal))
}

func TestInferArtifactType(t *testing.T) {
	tests := []struct {
		v    any
		want types.ArtifactType
	}{
		{&types.Table{}, types.ArtifactTypeTable},
		{true, types.ArtifactTypeBool},
		{"s", types.ArtifactTypeString},
		{types.JSON("{}"), types.ArtifactTypeJSON},
		{3, types.ArtifactTypeNumeric},
		{uint8(3), types.ArtifactTypeNumeric},
		{2.5, types.ArtifactTypeNumeric},
		{[]byte("b"), types.ArtifactTypeBytes},
		{image.NewGray(image.Rect(0, 0, 1, 1)), types.ArtifactTypeImage},
		{types.KerasModel{}, types.ArtifactTypeTFKerasModel},
		{types.Tuple{1}, types.ArtifactTypeTuple},
		{map[string]any{}, types.ArtifactTypeDict},
		{map[string]int{}, types.ArtifactTypeDict},
		{map[int]string{}, types.ArtifactTypePicklable},
		{[]any{}, types.ArtifactTypeList},
		{[]string{"a"}, types.ArtifactTypeList},
		{opaque{}, types.ArtifactTypePicklable},
	}
	for _, tt := range tests {
		got, err := InferArtifactType(tt.v)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%T", tt.v)
	}

	_, err := InferArtifactType(nil)
	assert.Error(t, err)
}

func TestRoundTrip_Scalars(t *testing.T) {
	out, _, _ := roundTrip(t, true, false)
	assert.Equal(t, true, out)

	out, _, _ = roundTrip(t, 16, false)
	assert.Equal(t, int64(16), out)

	out, _, _ = roundTrip(t, 2.0, false)
	assert.Equal(t, 2.0, out)

	out, _, _ = roundTrip(t, "hello", false)
	assert.Equal(t, "hello", out)

	out, _, _ = roundTrip(t, types.JSON(`{"a":[1,2]}`), false)
	assert.Equal(t, types.JSON(`{"a":[1,2]}`), out)

	out, _, _ = roundTrip(t, []byte{0, 1, 2, 255}, false)
	assert.Equal(t, []byte{0, 1, 2, 255}, out)

	out, _, _ = roundTrip(t, types.KerasModel{Archive: []byte("model")}, false)
	assert.Equal(t, types.KerasModel{Archive: []byte("model")}, out)
}

func TestRoundTrip_Collections(t *testing.T) {
	dict := map[string]any{"a": int64(1), "b": "x", "c": []any{true, 1.5}}
	out, _, st := roundTrip(t, dict, false)
	assert.Equal(t, types.SerializationTypeJSON, st)
	assert.Equal(t, dict, out)

	tuple := types.Tuple{"a", int64(2)}
	out, _, _ = roundTrip(t, tuple, false)
	assert.Equal(t, tuple, out)

	opaqueDict := map[string]any{"o": opaque{A: 1, B: "b"}}
	out, _, st = roundTrip(t, opaqueDict, false)
	assert.Equal(t, types.SerializationTypePickle, st)
	assert.Equal(t, opaqueDict, out)

	list := []any{int64(1), "two", []byte("3"), map[string]any{"k": int64(4)}}
	out, _, st = roundTrip(t, list, false)
	assert.Equal(t, types.SerializationTypePickleableCollection, st)
	assert.Equal(t, list, out)

	out, _, _ = roundTrip(t, opaque{A: 7}, false)
	assert.Equal(t, opaque{A: 7}, out)
}

func TestRoundTrip_NestedListsFallBackToPickle(t *testing.T) {
	var nested any = []any{int64(1)}
	for i := 0; i < maxCollectionDepth+1; i++ {
		nested = []any{nested}
	}
	out, _, st := roundTrip(t, nested, false)
	assert.Equal(t, types.SerializationTypePickle, st)
	assert.Equal(t, nested, out)

	shallow := []any{[]any{int64(1), int64(2)}, []any{"a"}}
	out, _, st = roundTrip(t, shallow, false)
	assert.Equal(t, types.SerializationTypePickleableCollection, st)
	assert.Equal(t, shallow, out)
}

func TestRoundTrip_Image(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	out, _, _ := roundTrip(t, img, false)
	got, ok := out.(image.Image)
	require.True(t, ok)
	assert.Equal(t, img.Bounds(), got.Bounds())
	r, g, b, a := got.At(1, 1).RGBA()
	wr, wg, wb, wa := img.At(1, 1).RGBA()
	assert.Equal(t, []uint32{wr, wg, wb, wa}, []uint32{r, g, b, a})
}

func TestRoundTrip_Tables(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tbl, err := types.NewTable(
		[]string{"id", "score", "name", "ok", "at", "raw", "empty"},
		[][]any{
			{1, 2.5, "a", true, ts, []byte("x"), nil},
			{2, 3, "b", false, ts.Add(time.Hour), []byte("y"), nil},
		},
	)
	require.NoError(t, err)

	for _, bsonDerived := range []bool{false, true} {
		out, _, _ := roundTrip(t, tbl, bsonDerived)
		got, ok := out.(*types.Table)
		require.True(t, ok)
		assert.True(t, tbl.Equal(got), "bson=%v: %+v", bsonDerived, got)
	}
}

func TestSerialize_IntegerColumnName(t *testing.T) {
	tbl, err := types.NewTable([]string{"a", "0"}, [][]any{{1, 2}})
	require.NoError(t, err)

	_, _, err = Serialize(types.ArtifactTypeTable, tbl, false)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUserFatal))
}

func TestSerialize_UnregisteredPicklable(t *testing.T) {
	type unregistered struct{ X int }
	_, _, err := Serialize(types.ArtifactTypePicklable, unregistered{X: 1}, false)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUserFatal))
}

func TestDeserialize_TypeMismatch(t *testing.T) {
	_, err := Deserialize(types.SerializationTypeJSON, types.ArtifactTypeBool, []byte("3"))
	assert.Error(t, err)
}

func TestRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ints := rapid.SliceOfN(rapid.Int64(), 0, 20).Draw(t, "ints")
		floats := rapid.SliceOfN(rapid.Float64Range(-1e9, 1e9), len(ints), len(ints)).Draw(t, "floats")
		strs := rapid.SliceOfN(rapid.StringMatching(`[a-zA-Z0-9 ]{0,12}`), len(ints), len(ints)).Draw(t, "strs")

		rows := make([][]any, len(ints))
		for i := range ints {
			rows[i] = []any{ints[i], floats[i], strs[i]}
		}
		tbl, err := types.NewTable([]string{"i", "f", "s"}, rows)
		if err != nil {
			t.Fatalf("new table: %v", err)
		}
		bsonDerived := rapid.Bool().Draw(t, "bson")
		data, st, err := Serialize(types.ArtifactTypeTable, tbl, bsonDerived)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		out, err := Deserialize(st, types.ArtifactTypeTable, data)
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if !tbl.Equal(out.(*types.Table)) {
			t.Fatalf("table mismatch: %+v vs %+v", tbl, out)
		}

		dict := rapid.MapOf(rapid.StringMatching(`[a-z]{1,6}`), rapid.Int64()).Draw(t, "dict")
		generic := make(map[string]any, len(dict))
		for k, v := range dict {
			generic[k] = v
		}
		data, st, err = Serialize(types.ArtifactTypeDict, generic, false)
		if err != nil {
			t.Fatalf("serialize dict: %v", err)
		}
		back, err := Deserialize(st, types.ArtifactTypeDict, data)
		if err != nil {
			t.Fatalf("deserialize dict: %v", err)
		}
		if len(back.(map[string]any)) != len(generic) {
			t.Fatalf("dict size mismatch")
		}
		for k, v := range generic {
			if back.(map[string]any)[k] != v {
				t.Fatalf("dict key %q: %v vs %v", k, back.(map[string]any)[k], v)
			}
		}

		raw := rapid.SliceOf(rapid.Byte()).Draw(t, "bytes")
		data, st, err = Serialize(types.ArtifactTypeBytes, raw, false)
		if err != nil {
			t.Fatalf("serialize bytes: %v", err)
		}
		back, err = Deserialize(st, types.ArtifactTypeBytes, data)
		if err != nil || string(back.([]byte)) != string(raw) {
			t.Fatalf("bytes mismatch")
		}
	})
}
