package connector

import (
	"fmt"

	"github.com/BaSui01/pipeflow/types"
)

// UpdateMode controls how a relational load treats an existing table.
type UpdateMode string

const (
	UpdateModeReplace UpdateMode = "replace"
	UpdateModeAppend  UpdateMode = "append"
	UpdateModeFail    UpdateMode = "fail"
)

// Valid reports whether m is a known update mode.
func (m UpdateMode) Valid() bool {
	switch m {
	case UpdateModeReplace, UpdateModeAppend, UpdateModeFail:
		return true
	}
	return false
}

// ExtractParams holds exactly one of the extract parameter kinds.
type ExtractParams struct {
	Relational *RelationalParams `json:"relational,omitempty" yaml:"relational,omitempty"`
	Object     *ObjectParams     `json:"object,omitempty" yaml:"object,omitempty"`
}

// RelationalParams describes a SQL extract. Query holds a single statement;
// Queries holds a chain where each statement may reference the previous one
// through "$". Usable is set once positional placeholders are bound.
type RelationalParams struct {
	Query   string   `json:"query,omitempty" yaml:"query,omitempty"`
	Queries []string `json:"queries,omitempty" yaml:"queries,omitempty"`
	Usable  bool     `json:"query_is_usable" yaml:"query_is_usable"`
}

// ObjectParams describes an object-store extract. Several paths produce a
// tuple artifact.
type ObjectParams struct {
	Filepaths    []string           `json:"filepaths" yaml:"filepaths"`
	ArtifactType types.ArtifactType `json:"artifact_type" yaml:"artifact_type"`
	Format       Format             `json:"format,omitempty" yaml:"format,omitempty"`
}

// Format is the file format of an object-store table.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// LoadParams holds exactly one of the load parameter kinds.
type LoadParams struct {
	Relational *RelationalLoadParams `json:"relational,omitempty" yaml:"relational,omitempty"`
	Object     *ObjectLoadParams     `json:"object,omitempty" yaml:"object,omitempty"`
}

// RelationalLoadParams names the destination table.
type RelationalLoadParams struct {
	Table      string     `json:"table" yaml:"table"`
	UpdateMode UpdateMode `json:"update_mode" yaml:"update_mode"`
}

// ObjectLoadParams names the destination object.
type ObjectLoadParams struct {
	Filepath string `json:"filepath" yaml:"filepath"`
	Format   Format `json:"format,omitempty" yaml:"format,omitempty"`
}

// Validate checks that exactly one kind is set.
func (p *ExtractParams) Validate() error {
	if p == nil || (p.Relational == nil) == (p.Object == nil) {
		return fmt.Errorf("extract params must set exactly one of relational or object")
	}
	if p.Object != nil && len(p.Object.Filepaths) == 0 {
		return fmt.Errorf("object extract requires at least one filepath")
	}
	if p.Relational != nil && p.Relational.Query == "" && len(p.Relational.Queries) == 0 {
		return fmt.Errorf("relational extract requires a query")
	}
	return nil
}

// Validate checks that exactly one kind is set.
func (p *LoadParams) Validate() error {
	if p == nil || (p.Relational == nil) == (p.Object == nil) {
		return fmt.Errorf("load params must set exactly one of relational or object")
	}
	if p.Relational != nil {
		if p.Relational.Table == "" {
			return fmt.Errorf("relational load requires a table")
		}
		if !p.Relational.UpdateMode.Valid() {
			return fmt.Errorf("unknown update mode %q", p.Relational.UpdateMode)
		}
	}
	if p.Object != nil && p.Object.Filepath == "" {
		return fmt.Errorf("object load requires a filepath")
	}
	return nil
}

// SavedObject returns the external object name and update mode a load
// writes.
func (p *LoadParams) SavedObject() (string, UpdateMode) {
	switch {
	case p.Relational != nil:
		return p.Relational.Table, p.Relational.UpdateMode
	case p.Object != nil:
		return p.Object.Filepath, UpdateModeReplace
	}
	return "", ""
}
