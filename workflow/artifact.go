package workflow

import (
	"github.com/google/uuid"

	"github.com/BaSui01/pipeflow/types"
)

// Artifact is a typed value produced by exactly one operator.
type Artifact struct {
	// ID is the artifact's unique identifier
	ID uuid.UUID `json:"id" yaml:"id"`
	// Name is unique within a DAG
	Name string `json:"name" yaml:"name"`
	// Type is the declared or inferred artifact type; untyped until known
	Type types.ArtifactType `json:"type" yaml:"type"`
	// ExplicitlyNamed artifacts are never overwritten by a name collision
	ExplicitlyNamed bool `json:"explicitly_named,omitempty" yaml:"explicitly_named,omitempty"`
	// ShouldPersist marks artifacts whose content the server keeps after a run
	ShouldPersist bool `json:"should_persist,omitempty" yaml:"should_persist,omitempty"`
}

// NewArtifact creates an untyped artifact with a fresh id.
func NewArtifact(name string, explicitlyNamed bool) *Artifact {
	return &Artifact{
		ID:              uuid.New(),
		Name:            name,
		Type:            types.ArtifactTypeUntyped,
		ExplicitlyNamed: explicitlyNamed,
	}
}

// Typed reports whether the artifact's type is known.
func (a *Artifact) Typed() bool {
	return a.Type != "" && a.Type != types.ArtifactTypeUntyped
}

func (a *Artifact) clone() *Artifact {
	c := *a
	return &c
}
