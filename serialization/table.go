package serialization

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/pipeflow/types"
)

// jsonTable is the row-oriented table format: a schema plus one object per
// row keyed by column name.
type jsonTable struct {
	Schema jsonTableSchema              `json:"schema"`
	Data   []map[string]json.RawMessage `json:"data"`
}

type jsonTableSchema struct {
	Fields []types.Field `json:"fields"`
}

// bsonTable keeps cells as BSON values, so datetimes and binaries survive
// without a textual detour.
type bsonTable struct {
	Schema []types.Field `bson:"schema"`
	Data   [][]any       `bson:"data"`
}

// checkColumnNames rejects integer column names. They survive the JSON
// encoding but come back as strings.
func checkColumnNames(t *types.Table) error {
	for _, f := range t.Fields {
		if _, err := strconv.ParseInt(f.Name, 10, 64); err == nil {
			return types.Errorf(types.ErrUserFatal, "table column %q has an integer name", f.Name).
				WithTip("Table column names must be strings. Rename the column before returning the table.")
		}
	}
	return nil
}

func encodeJSONTable(t *types.Table) ([]byte, error) {
	out := jsonTable{
		Schema: jsonTableSchema{Fields: t.Fields},
		Data:   make([]map[string]json.RawMessage, len(t.Rows)),
	}
	for i, row := range t.Rows {
		rec := make(map[string]json.RawMessage, len(t.Fields))
		for j, f := range t.Fields {
			raw, err := marshalCell(row[j])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, f.Name, err)
			}
			rec[f.Name] = raw
		}
		out.Data[i] = rec
	}
	return json.Marshal(out)
}

func marshalCell(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(formatFloat(x)), nil
	case time.Time:
		return json.Marshal(x.UTC().Format(time.RFC3339Nano))
	}
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func decodeJSONTable(data []byte) (*types.Table, error) {
	var in jsonTable
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}

	rows := make([][]any, len(in.Data))
	for i, rec := range in.Data {
		row := make([]any, len(in.Schema.Fields))
		for j, f := range in.Schema.Fields {
			raw, ok := rec[f.Name]
			if !ok || string(raw) == "null" {
				continue
			}
			cell, err := unmarshalCell(raw, f.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, f.Name, err)
			}
			row[j] = cell
		}
		rows[i] = row
	}
	return &types.Table{Fields: in.Schema.Fields, Rows: rows}, nil
}

func unmarshalCell(raw json.RawMessage, ft types.FieldType) (any, error) {
	switch ft {
	case types.FieldTypeInteger:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n.Int64()
	case types.FieldTypeNumber:
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case types.FieldTypeBoolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case types.FieldTypeString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case types.FieldTypeDatetime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return ts.UTC(), nil
	case types.FieldTypeBinary:
		var b []byte
		err := json.Unmarshal(raw, &b)
		return b, err
	default:
		return decodeJSON(raw)
	}
}

func encodeBSONTable(t *types.Table) ([]byte, error) {
	out := bsonTable{
		Schema: t.Fields,
		Data:   make([][]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, c := range row {
			switch x := c.(type) {
			case time.Time:
				cells[j] = bson.NewDateTimeFromTime(x)
			case []byte:
				cells[j] = bson.Binary{Data: x}
			default:
				cells[j] = c
			}
		}
		out.Data[i] = cells
	}
	data, err := bson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bson table: %w", err)
	}
	return data, nil
}

func decodeBSONTable(data []byte) (*types.Table, error) {
	var in bsonTable
	if err := bson.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode bson table: %w", err)
	}
	rows := make([][]any, len(in.Data))
	for i, row := range in.Data {
		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = fromBSON(c)
		}
		rows[i] = cells
	}
	return &types.Table{Fields: in.Schema, Rows: rows}, nil
}

func fromBSON(v any) any {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case bson.DateTime:
		return x.Time().UTC()
	case bson.Binary:
		return x.Data
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromBSON(e)
		}
		return out
	}
	return v
}
