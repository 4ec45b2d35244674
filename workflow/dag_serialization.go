package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnmarshalJSON decodes a DAG and rebuilds its name index.
func (d *DAG) UnmarshalJSON(data []byte) error {
	type Alias DAG
	aux := (*Alias)(d)
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("failed to unmarshal DAG: %w", err)
	}
	d.rebuildIndex()
	return nil
}

// UnmarshalYAML decodes a DAG and rebuilds its name index.
func (d *DAG) UnmarshalYAML(node *yaml.Node) error {
	type Alias DAG
	aux := (*Alias)(d)
	if err := node.Decode(aux); err != nil {
		return fmt.Errorf("failed to unmarshal DAG: %w", err)
	}
	d.rebuildIndex()
	return nil
}

// ToJSON returns the wire form of the DAG. The name index and operator
// bundles are not included; absent values are omitted.
func (d *DAG) ToJSON() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return data, nil
}

// ToYAML renders the DAG for humans.
func (d *DAG) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// FromJSON decodes and validates a DAG.
func FromJSON(data []byte) (*DAG, error) {
	var d DAG
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &d, nil
}

// FromYAML decodes and validates a DAG.
func FromYAML(yamlStr string) (*DAG, error) {
	var d DAG
	if err := yaml.Unmarshal([]byte(yamlStr), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &d, nil
}

// LoadFromJSONFile loads a DAG from a JSON file
func LoadFromJSONFile(filename string) (*DAG, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return FromJSON(data)
}

// SaveToYAMLFile saves a DAG to a YAML file
func (d *DAG) SaveToYAMLFile(filename string) error {
	yamlStr, err := d.ToYAML()
	if err != nil {
		return fmt.Errorf("marshal DAG to YAML: %w", err)
	}
	if err := os.WriteFile(filename, []byte(yamlStr), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
