package serialization

import (
	"encoding/json"
	"fmt"
	"image"
	"reflect"

	"github.com/BaSui01/pipeflow/types"
)

// InferArtifactType classifies a Go value. Values no narrower codec can carry
// are picklable.
func InferArtifactType(v any) (types.ArtifactType, error) {
	switch v.(type) {
	case nil:
		return "", fmt.Errorf("cannot infer the artifact type of a nil value")
	case *types.Table, types.Table:
		return types.ArtifactTypeTable, nil
	case bool:
		return types.ArtifactTypeBool, nil
	case string:
		return types.ArtifactTypeString, nil
	case types.JSON:
		return types.ArtifactTypeJSON, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return types.ArtifactTypeNumeric, nil
	case []byte:
		return types.ArtifactTypeBytes, nil
	case image.Image:
		return types.ArtifactTypeImage, nil
	case types.KerasModel, *types.KerasModel:
		return types.ArtifactTypeTFKerasModel, nil
	case types.Tuple:
		return types.ArtifactTypeTuple, nil
	case map[string]any:
		return types.ArtifactTypeDict, nil
	case []any:
		return types.ArtifactTypeList, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return types.ArtifactTypeDict, nil
		}
	case reflect.Slice, reflect.Array:
		return types.ArtifactTypeList, nil
	}
	return types.ArtifactTypePicklable, nil
}

// IsNumeric reports whether v is a Go number.
func IsNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

// ToFloat64 converts any Go number to float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
