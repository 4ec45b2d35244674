// Package connector defines the contract every data integration implements
// and the parameter shapes extract and load operators carry.
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/pipeflow/types"
)

// Service names an integration implementation.
type Service string

const (
	ServicePostgres Service = "Postgres"
	ServiceMySQL    Service = "MySQL"
	ServiceSQLite   Service = "SQLite"
	ServiceS3       Service = "S3"
	ServiceGCS      Service = "GCS"
	ServiceFile     Service = "File"
)

// IsRelational reports whether the service speaks SQL.
func (s Service) IsRelational() bool {
	switch s {
	case ServicePostgres, ServiceMySQL, ServiceSQLite:
		return true
	}
	return false
}

// Connector is implemented by every integration.
type Connector interface {
	// Extract reads data described by params. Relational extracts return a
	// *types.Table.
	Extract(ctx context.Context, params *ExtractParams) (any, error)
	// Load writes data of the given artifact type to the destination
	// described by params.
	Load(ctx context.Context, params *LoadParams, data any, artifactType types.ArtifactType) error
	// Close releases connections held by the connector.
	Close() error
}

// Registry maps integration names to connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register binds name to c, replacing any previous binding.
func (r *Registry) Register(name string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[name] = c
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("no connector registered for integration %q", name)
	}
	return c, nil
}

// Names lists registered integration names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for n := range r.connectors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every registered connector and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, c := range r.connectors {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
