package types

import (
	"encoding/json"
	"fmt"
)

// Tuple is an ordered, fixed-length group of values. It is distinct from a
// list so that multi-file object-store extracts and user functions can
// return a tuple artifact.
type Tuple []any

// JSON is a string known to hold a JSON document.
type JSON string

// NewJSON validates s and returns it as a JSON value.
func NewJSON(s string) (JSON, error) {
	if !json.Valid([]byte(s)) {
		return "", fmt.Errorf("value is not valid JSON")
	}
	return JSON(s), nil
}

// MarshalJSON emits the document verbatim.
func (j JSON) MarshalJSON() ([]byte, error) {
	if j == "" {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// KerasModel is an opaque saved-model archive. The executor never inspects
// it; it is carried as bytes between operators that know how to load it.
type KerasModel struct {
	Archive []byte
}
