package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
)

// Metadata is the JSON document stored next to every artifact's content.
type Metadata struct {
	Schema            []map[string]string     `json:"schema"`
	SystemMetadata    map[string]string       `json:"system_metadata"`
	ArtifactType      types.ArtifactType      `json:"artifact_type"`
	SerializationType types.SerializationType `json:"serialization_type"`
	// ValueType is the Go type of the value that was serialized.
	ValueType string `json:"python_type"`
}

// DerivedFromBSON reports whether the content was written with the BSON table
// codec.
func (m *Metadata) DerivedFromBSON() bool {
	return m.SerializationType == types.SerializationTypeBSONTable
}

// SystemMetric returns a numeric system metadata entry.
func (m *Metadata) SystemMetric(name string) (float64, error) {
	raw, ok := m.SystemMetadata[name]
	if !ok {
		return 0, fmt.Errorf("system metadata has no %q entry", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("system metadata %q is not numeric: %w", name, err)
	}
	return v, nil
}

func newMetadata(v any, t types.ArtifactType, st types.SerializationType, system map[string]string) *Metadata {
	if system == nil {
		system = map[string]string{}
	}
	md := &Metadata{
		Schema:            []map[string]string{},
		SystemMetadata:    system,
		ArtifactType:      t,
		SerializationType: st,
		ValueType:         valueTypeName(v),
	}
	if tbl, ok := asTable(v); ok {
		for _, f := range tbl.Fields {
			md.Schema = append(md.Schema, map[string]string{f.Name: string(f.Type)})
		}
	}
	return md
}

func valueTypeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

func asTable(v any) (*types.Table, bool) {
	switch tbl := v.(type) {
	case *types.Table:
		return tbl, tbl != nil
	case types.Table:
		return &tbl, true
	}
	return nil, false
}

func readMetadata(ctx context.Context, store storage.Storage, key string) (*Metadata, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact metadata %s: %w", key, err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode artifact metadata %s: %w", key, err)
	}
	return &md, nil
}

func writeJSON(ctx context.Context, store storage.Storage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// ReadExecutionState loads the execution state written by a run.
func ReadExecutionState(ctx context.Context, store storage.Storage, key string) (*types.ExecutionState, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var state types.ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode execution state %s: %w", key, err)
	}
	return &state, nil
}

// ReadArtifact loads and decodes an artifact written by a run, returning the
// value with its metadata. Content without metadata is treated as missing.
func ReadArtifact(ctx context.Context, store storage.Storage, contentKey, metadataKey string) (any, *Metadata, error) {
	md, err := readMetadata(ctx, store, metadataKey)
	if err != nil {
		return nil, nil, err
	}
	data, err := store.Get(ctx, contentKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact content %s: %w", contentKey, err)
	}
	v, err := deserialize(md, data)
	if err != nil {
		return nil, nil, err
	}
	return v, md, nil
}
