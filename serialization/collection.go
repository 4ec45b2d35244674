package serialization

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/BaSui01/pipeflow/types"
)

// collection is the pickleable-collection format: each list element is
// serialized on its own and tagged with its types.
type collection struct {
	ObjectBytes        [][]byte                  `json:"object_bytes"`
	SerializationTypes []types.SerializationType `json:"serialization_types"`
	ArtifactTypes      []types.ArtifactType      `json:"artifact_types"`
}

func listElements(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// collectionSerializable reports whether every element of the list has its
// own codec.
func collectionSerializable(v any, depth int) bool {
	if depth >= maxCollectionDepth {
		return false
	}
	elems, ok := listElements(v)
	if !ok {
		return false
	}
	for _, e := range elems {
		t, err := InferArtifactType(e)
		if err != nil || t == types.ArtifactTypePicklable {
			return false
		}
		if t == types.ArtifactTypeList && !collectionSerializable(e, depth+1) {
			return false
		}
	}
	return true
}

func encodeCollection(v any, depth int) ([]byte, error) {
	elems, ok := listElements(v)
	if !ok {
		return nil, fmt.Errorf("collection serialization expects a slice, got %T", v)
	}
	out := collection{
		ObjectBytes:        make([][]byte, len(elems)),
		SerializationTypes: make([]types.SerializationType, len(elems)),
		ArtifactTypes:      make([]types.ArtifactType, len(elems)),
	}
	for i, e := range elems {
		t, err := InferArtifactType(e)
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		st, err := Pick(t, e, false)
		if err != nil {
			return nil, err
		}
		data, err := encode(st, t, e, depth+1)
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		out.ObjectBytes[i] = data
		out.SerializationTypes[i] = st
		out.ArtifactTypes[i] = t
	}
	return json.Marshal(out)
}

func decodeCollection(data []byte) ([]any, error) {
	var in collection
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode collection: %w", err)
	}
	if len(in.SerializationTypes) != len(in.ObjectBytes) || len(in.ArtifactTypes) != len(in.ObjectBytes) {
		return nil, fmt.Errorf("collection has %d objects, %d serialization types and %d artifact types",
			len(in.ObjectBytes), len(in.SerializationTypes), len(in.ArtifactTypes))
	}
	out := make([]any, len(in.ObjectBytes))
	for i := range in.ObjectBytes {
		v, err := Deserialize(in.SerializationTypes[i], in.ArtifactTypes[i], in.ObjectBytes[i])
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
