// Package serialization maps artifact types to wire codecs and back.
//
// Every artifact written by the executor or returned by a preview travels as
// raw bytes tagged with a SerializationType. Pick chooses the tag for a value,
// Serialize encodes it and Deserialize restores a Go value of the matching
// artifact type.
package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"

	"github.com/BaSui01/pipeflow/types"
)

// maxCollectionDepth bounds how deeply lists of lists are encoded as
// collections before the whole value falls back to pickle.
const maxCollectionDepth = 8

// Pick returns the serialization type used for v, given its artifact type.
// derivedFromBSON selects the BSON table codec for tables read from a
// document store.
func Pick(t types.ArtifactType, v any, derivedFromBSON bool) (types.SerializationType, error) {
	switch t {
	case types.ArtifactTypeTable:
		if derivedFromBSON {
			return types.SerializationTypeBSONTable, nil
		}
		return types.SerializationTypeTable, nil
	case types.ArtifactTypeImage:
		return types.SerializationTypeImage, nil
	case types.ArtifactTypeBool, types.ArtifactTypeNumeric:
		return types.SerializationTypeJSON, nil
	case types.ArtifactTypeString, types.ArtifactTypeJSON:
		return types.SerializationTypeString, nil
	case types.ArtifactTypeBytes:
		return types.SerializationTypeBytes, nil
	case types.ArtifactTypeDict, types.ArtifactTypeTuple:
		if jsonNative(v, 0) {
			return types.SerializationTypeJSON, nil
		}
		return types.SerializationTypePickle, nil
	case types.ArtifactTypeList:
		if collectionSerializable(v, 0) {
			return types.SerializationTypePickleableCollection, nil
		}
		return types.SerializationTypePickle, nil
	case types.ArtifactTypePicklable:
		return types.SerializationTypePickle, nil
	case types.ArtifactTypeTFKerasModel:
		return types.SerializationTypeTFKerasModel, nil
	default:
		return "", types.Internal("no serialization type for artifact type %q", t)
	}
}

// Serialize picks a serialization type for v and encodes it.
func Serialize(t types.ArtifactType, v any, derivedFromBSON bool) ([]byte, types.SerializationType, error) {
	st, err := Pick(t, v, derivedFromBSON)
	if err != nil {
		return nil, "", err
	}
	data, err := encode(st, t, v, 0)
	if err != nil {
		return nil, "", err
	}
	return data, st, nil
}

// SerializeAs encodes v with an explicit serialization type.
func SerializeAs(st types.SerializationType, t types.ArtifactType, v any) ([]byte, error) {
	return encode(st, t, v, 0)
}

func encode(st types.SerializationType, t types.ArtifactType, v any, depth int) ([]byte, error) {
	switch st {
	case types.SerializationTypeTable, types.SerializationTypeBSONTable:
		tbl, err := asTable(v)
		if err != nil {
			return nil, err
		}
		if err := checkColumnNames(tbl); err != nil {
			return nil, err
		}
		if st == types.SerializationTypeBSONTable {
			return encodeBSONTable(tbl)
		}
		return encodeJSONTable(tbl)

	case types.SerializationTypeJSON:
		wire, err := toWire(v)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wire)

	case types.SerializationTypeString:
		switch s := v.(type) {
		case string:
			return []byte(s), nil
		case types.JSON:
			return []byte(s), nil
		}
		return nil, fmt.Errorf("string serialization expects a string, got %T", v)

	case types.SerializationTypeBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("bytes serialization expects []byte, got %T", v)
		}
		return b, nil

	case types.SerializationTypeImage:
		img, ok := v.(image.Image)
		if !ok {
			return nil, fmt.Errorf("image serialization expects image.Image, got %T", v)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil

	case types.SerializationTypePickle:
		return encodePickle(v)

	case types.SerializationTypeTFKerasModel:
		switch m := v.(type) {
		case types.KerasModel:
			return m.Archive, nil
		case *types.KerasModel:
			return m.Archive, nil
		}
		return nil, fmt.Errorf("keras serialization expects types.KerasModel, got %T", v)

	case types.SerializationTypePickleableCollection:
		return encodeCollection(v, depth)

	default:
		return nil, types.Internal("unsupported serialization type %q", st)
	}
}

// Deserialize decodes data written with serialization type st into a value of
// artifact type t.
func Deserialize(st types.SerializationType, t types.ArtifactType, data []byte) (any, error) {
	switch st {
	case types.SerializationTypeTable:
		return decodeJSONTable(data)

	case types.SerializationTypeBSONTable:
		return decodeBSONTable(data)

	case types.SerializationTypeJSON:
		v, err := decodeJSON(data)
		if err != nil {
			return nil, err
		}
		return coerceJSON(t, v)

	case types.SerializationTypeString:
		if t == types.ArtifactTypeJSON {
			return types.JSON(data), nil
		}
		return string(data), nil

	case types.SerializationTypeBytes:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case types.SerializationTypeImage:
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return img, nil

	case types.SerializationTypePickle:
		return decodePickle(data)

	case types.SerializationTypeTFKerasModel:
		archive := make([]byte, len(data))
		copy(archive, data)
		return types.KerasModel{Archive: archive}, nil

	case types.SerializationTypePickleableCollection:
		return decodeCollection(data)

	default:
		return nil, types.Internal("unsupported serialization type %q", st)
	}
}

// coerceJSON shapes a generic JSON value into the Go value of artifact type t.
func coerceJSON(t types.ArtifactType, v any) (any, error) {
	switch t {
	case types.ArtifactTypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case types.ArtifactTypeNumeric:
		switch v.(type) {
		case int64, float64:
			return v, nil
		}
	case types.ArtifactTypeDict:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case types.ArtifactTypeTuple:
		if s, ok := v.([]any); ok {
			return types.Tuple(s), nil
		}
	case types.ArtifactTypeList:
		if s, ok := v.([]any); ok {
			return s, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("json payload of %T does not hold a %s artifact", v, t)
}

func asTable(v any) (*types.Table, error) {
	switch tbl := v.(type) {
	case *types.Table:
		if tbl == nil {
			return nil, fmt.Errorf("table serialization got a nil table")
		}
		return tbl, nil
	case types.Table:
		return &tbl, nil
	}
	return nil, fmt.Errorf("table serialization expects *types.Table, got %T", v)
}
