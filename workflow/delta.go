package workflow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BaSui01/pipeflow/types"
)

// Delta is a total transformation of a DAG. Apply either succeeds or returns
// an error; ApplyDeltas guarantees the caller's DAG is untouched on error.
type Delta interface {
	Apply(d *DAG) error
}

// ApplyDeltas applies deltas in order to a copy of dag. On success the copy
// is returned when makeCopy is set; otherwise its contents replace dag's and
// dag is returned. On failure dag is left unchanged.
func ApplyDeltas(dag *DAG, deltas []Delta, makeCopy bool) (*DAG, error) {
	work, err := dag.Copy()
	if err != nil {
		return nil, err
	}
	for _, delta := range deltas {
		if err := delta.Apply(work); err != nil {
			return nil, err
		}
	}
	if makeCopy {
		return work, nil
	}
	*dag = *work
	return dag, nil
}

// AddOperatorDelta inserts an operator and its outputs.
type AddOperatorDelta struct {
	Op      *Operator
	Outputs []*Artifact
}

// Apply asserts name uniqueness, input existence and unused artifact ids.
func (delta *AddOperatorDelta) Apply(d *DAG) error {
	op := delta.Op
	if err := op.validate(); err != nil {
		return types.InvalidUserAction("invalid operator: %v", err)
	}
	if _, exists := d.Operators[op.ID]; exists {
		return types.InvalidUserAction("operator id %s is already in use", op.ID)
	}
	if _, exists := d.OperatorByName(op.Name); exists {
		return types.InvalidUserAction("an operator named %q already exists", op.Name)
	}
	for _, in := range op.Inputs {
		if _, ok := d.Artifacts[in]; !ok {
			return types.ArtifactNotFound("input artifact %s of %q does not exist in the workflow", in, op.Name)
		}
	}
	if err := d.checkPlacement(op); err != nil {
		return err
	}

	if len(delta.Outputs) != len(op.Outputs) {
		return types.InvalidUserAction("operator %q lists %d outputs but %d artifacts were given", op.Name, len(op.Outputs), len(delta.Outputs))
	}
	for i, a := range delta.Outputs {
		if a.ID != op.Outputs[i] {
			return types.InvalidUserAction("artifact %q is not output %d of %q", a.Name, i, op.Name)
		}
		if _, exists := d.Artifacts[a.ID]; exists {
			return types.InvalidUserAction("artifact id %s is already in use", a.ID)
		}
		if err := resolveArtifactCollision(d, op, a); err != nil {
			return err
		}
	}

	d.insert(op, delta.Outputs)
	return nil
}

// resolveArtifactCollision removes the producer of an anonymous artifact that
// shares a name with a new output. Explicitly named artifacts are never
// overwritten.
func resolveArtifactCollision(d *DAG, op *Operator, a *Artifact) error {
	existing, ok := d.ArtifactByName(a.Name)
	if !ok {
		return nil
	}
	if existing.ExplicitlyNamed {
		return types.InvalidUserAction("an artifact named %q already exists; choose a different name", a.Name).
			WithTip("Explicitly named artifacts are never overwritten. Rename one of them.")
	}
	producer, ok := d.Producer(existing.ID)
	if !ok {
		delete(d.Artifacts, existing.ID)
		return nil
	}
	if d.IsUpstream(producer.ID, op.Inputs) {
		return types.InvalidUserAction("artifact %q would overwrite an upstream dependency of %q", a.Name, op.Name)
	}
	d.remove(producer.ID)
	return nil
}

// RemoveOperatorDelta removes an operator, its outputs, and dependents that
// lose an input.
type RemoveOperatorDelta struct {
	ID uuid.UUID
}

// Apply removes the operator recursively.
func (delta *RemoveOperatorDelta) Apply(d *DAG) error {
	if _, ok := d.Operators[delta.ID]; !ok {
		return types.InvalidUserAction("operator %s does not exist in the workflow", delta.ID)
	}
	d.remove(delta.ID)
	return nil
}

// AddOrReplaceOperatorDelta adds an operator, first removing any operator of
// the same name.
type AddOrReplaceOperatorDelta struct {
	Op      *Operator
	Outputs []*Artifact
}

// Apply replaces a same-kind operator. A colliding operator of another kind,
// or one the new operator depends on, is an invalid user action.
func (delta *AddOrReplaceOperatorDelta) Apply(d *DAG) error {
	if existing, ok := d.OperatorByName(delta.Op.Name); ok {
		if existing.Kind() != delta.Op.Kind() {
			return types.InvalidUserAction("%s %q would replace the %s of the same name", delta.Op.Kind(), delta.Op.Name, existing.Kind()).
				WithTip("Operators of different kinds cannot share a name.")
		}
		if d.IsUpstream(existing.ID, delta.Op.Inputs) {
			return types.InvalidUserAction("%q cannot replace an operator of the same name it depends on", delta.Op.Name).
				WithTip("Give the new operator a different name.")
		}
		d.remove(existing.ID)
	}
	return (&AddOperatorDelta{Op: delta.Op, Outputs: delta.Outputs}).Apply(d)
}

// SubgraphDelta keeps only the operators needed to compute the given
// artifacts. Loads consuming kept artifacts survive when IncludeLoads is set.
type SubgraphDelta struct {
	ArtifactIDs  []uuid.UUID
	IncludeLoads bool
}

// Apply prunes the DAG to the upstream closure of the targets.
func (delta *SubgraphDelta) Apply(d *DAG) error {
	var roots []uuid.UUID
	for _, id := range delta.ArtifactIDs {
		if _, ok := d.Artifacts[id]; !ok {
			return types.ArtifactNotFound("artifact %s does not exist in the workflow; its operator may have been replaced or removed", id)
		}
		producer, ok := d.Producer(id)
		if !ok {
			return types.Internal("artifact %s has no producing operator", id)
		}
		roots = append(roots, producer.ID)
	}
	keep := d.Upstream(roots...)

	if delta.IncludeLoads {
		for _, op := range d.ListOperators(types.OperatorTypeLoad) {
			kept := true
			for _, in := range op.Inputs {
				producer, ok := d.Producer(in)
				if !ok || !keep[producer.ID] {
					kept = false
				}
			}
			if kept {
				keep[op.ID] = true
			}
		}
	}

	for id, op := range d.Operators {
		if keep[id] {
			continue
		}
		delete(d.Operators, id)
		for _, out := range op.Outputs {
			delete(d.Artifacts, out)
		}
	}
	d.rebuildIndex()
	return nil
}

// UpdateParametersDelta replaces parameter operators' default values. Keys are
// parameter names.
type UpdateParametersDelta struct {
	Parameters map[string]*ParamSpec
}

// Apply fails when a key does not name a parameter operator.
func (delta *UpdateParametersDelta) Apply(d *DAG) error {
	for name, spec := range delta.Parameters {
		op, ok := d.OperatorByName(name)
		if !ok || op.Kind() != types.OperatorTypeParam {
			return types.InvalidUserArgument("parameter %q does not exist in the workflow", name)
		}
		if spec == nil {
			return types.InvalidUserArgument("parameter %q has no value", name)
		}
		cp := *spec
		op.Spec.Param = &cp
	}
	return nil
}

func (delta *AddOperatorDelta) String() string {
	return fmt.Sprintf("AddOperator(%s)", delta.Op.Name)
}

func (delta *RemoveOperatorDelta) String() string {
	return fmt.Sprintf("RemoveOperator(%s)", delta.ID)
}

func (delta *AddOrReplaceOperatorDelta) String() string {
	return fmt.Sprintf("AddOrReplaceOperator(%s)", delta.Op.Name)
}

func (delta *SubgraphDelta) String() string {
	return fmt.Sprintf("Subgraph(%d artifacts, loads=%v)", len(delta.ArtifactIDs), delta.IncludeLoads)
}

func (delta *UpdateParametersDelta) String() string {
	return fmt.Sprintf("UpdateParameters(%d)", len(delta.Parameters))
}
