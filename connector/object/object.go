// Package object implements the connector contract over a storage backend,
// reading and writing whole objects.
package object

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"image"
	_ "image/png"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/storage"
	"github.com/BaSui01/pipeflow/types"
)

// Connector reads and writes objects in a storage backend.
type Connector struct {
	store  storage.Storage
	logger *zap.Logger
}

var _ connector.Connector = (*Connector)(nil)

// New wraps store.
func New(store storage.Storage, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{store: store, logger: logger.With(zap.String("component", "object_connector"))}
}

// Extract fetches every path and decodes it as the declared artifact type.
// More than one path yields a types.Tuple in path order.
func (c *Connector) Extract(ctx context.Context, params *connector.ExtractParams) (any, error) {
	if params == nil || params.Object == nil {
		return nil, types.InvalidUserArgument("object connector requires object extract parameters")
	}
	if err := params.Validate(); err != nil {
		return nil, types.InvalidUserArgument("%v", err)
	}
	p := params.Object

	values := make(types.Tuple, 0, len(p.Filepaths))
	for _, path := range p.Filepaths {
		data, err := c.store.Get(ctx, path)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, types.Errorf(types.ErrUserFatal, "object %s does not exist", path).WithCause(err)
			}
			return nil, fmt.Errorf("failed to read object %s: %w", path, err)
		}
		v, err := decodeObject(data, p.ArtifactType, p.Format)
		if err != nil {
			return nil, types.Errorf(types.ErrUserFatal, "object %s cannot be read as %s", path, p.ArtifactType).WithCause(err)
		}
		values = append(values, v)
	}

	c.logger.Debug("extract finished", zap.Strings("paths", p.Filepaths))
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// Load encodes data and writes it to the destination path.
func (c *Connector) Load(ctx context.Context, params *connector.LoadParams, data any, artifactType types.ArtifactType) error {
	if params == nil || params.Object == nil {
		return types.InvalidUserArgument("object connector requires object load parameters")
	}
	if err := params.Validate(); err != nil {
		return types.InvalidUserArgument("%v", err)
	}
	p := params.Object

	raw, err := encodeObject(data, artifactType, p.Format)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, p.Filepath, raw); err != nil {
		return fmt.Errorf("failed to write object %s: %w", p.Filepath, err)
	}
	c.logger.Debug("load finished", zap.String("path", p.Filepath), zap.Int("bytes", len(raw)))
	return nil
}

// Close is a no-op; the storage backend is owned by the caller.
func (c *Connector) Close() error { return nil }

func decodeObject(data []byte, t types.ArtifactType, format connector.Format) (any, error) {
	switch t {
	case types.ArtifactTypeTable:
		if format == connector.FormatJSON {
			return serialization.Deserialize(types.SerializationTypeTable, t, data)
		}
		return readCSV(data)
	case types.ArtifactTypeString:
		return string(data), nil
	case types.ArtifactTypeJSON:
		return types.NewJSON(string(data))
	case types.ArtifactTypeBytes, types.ArtifactTypeUntyped:
		return data, nil
	case types.ArtifactTypeImage:
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	case types.ArtifactTypePicklable:
		return serialization.Deserialize(types.SerializationTypePickle, t, data)
	default:
		return serialization.Deserialize(types.SerializationTypeJSON, t, data)
	}
}

func encodeObject(v any, t types.ArtifactType, format connector.Format) ([]byte, error) {
	switch t {
	case types.ArtifactTypeTable:
		tbl, ok := v.(*types.Table)
		if !ok {
			return nil, types.Internal("table artifact holds %T", v)
		}
		if format == connector.FormatJSON {
			return serialization.SerializeAs(types.SerializationTypeTable, t, tbl)
		}
		return writeCSV(tbl)
	case types.ArtifactTypeBool, types.ArtifactTypeNumeric, types.ArtifactTypeDict, types.ArtifactTypeTuple, types.ArtifactTypeList:
		data, err := serialization.SerializeAs(types.SerializationTypeJSON, t, v)
		if err != nil {
			return nil, types.Errorf(types.ErrUserFatal, "%s artifact cannot be written as JSON", t).WithCause(err)
		}
		return data, nil
	default:
		data, _, err := serialization.Serialize(t, v, false)
		return data, err
	}
}

func readCSV(data []byte) (*types.Table, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return types.NewTable(nil, nil)
	}
	rows := make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = parseCSVCell(cell)
		}
		rows = append(rows, row)
	}
	return types.NewTable(records[0], rows)
}

func parseCSVCell(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	return s
}

func writeCSV(t *types.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.ColumnNames()); err != nil {
		return nil, err
	}
	for _, row := range t.Rows {
		rec := make([]string, len(row))
		for i, cell := range row {
			rec[i] = formatCSVCell(cell)
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatCSVCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
