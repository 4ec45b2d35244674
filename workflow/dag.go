package workflow

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/BaSui01/pipeflow/types"
)

// EngineType selects the compute backend a published flow runs on.
type EngineType string

const (
	EngineNative     EngineType = "native"
	EngineKubernetes EngineType = "k8s"
	EngineAirflow    EngineType = "airflow"
	EngineLambda     EngineType = "lambda"
	EngineDatabricks EngineType = "databricks"
	EngineSpark      EngineType = "spark"
)

// EngineConfig names the compute backend and, for external engines, the
// integration that reaches it.
type EngineConfig struct {
	Type        EngineType `json:"type" yaml:"type"`
	Integration string     `json:"integration,omitempty" yaml:"integration,omitempty"`
}

// Metadata holds the flow-level settings published with a DAG.
type Metadata struct {
	Name            string           `json:"name,omitempty" yaml:"name,omitempty"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Schedule        *Schedule        `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	RetentionPolicy *RetentionPolicy `json:"retention_policy,omitempty" yaml:"retention_policy,omitempty"`
}

// DAG is the workflow graph: operators, the artifacts they exchange, and the
// settings the server needs to run it.
type DAG struct {
	Operators    map[uuid.UUID]*Operator `json:"operators" yaml:"operators"`
	Artifacts    map[uuid.UUID]*Artifact `json:"artifacts" yaml:"artifacts"`
	Metadata     *Metadata               `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	EngineConfig EngineConfig            `json:"engine_config" yaml:"engine_config"`

	// opsByName is derived from Operators and never serialized.
	opsByName map[string]uuid.UUID
}

// NewDAG returns an empty DAG that runs on the native engine.
func NewDAG() *DAG {
	return &DAG{
		Operators:    make(map[uuid.UUID]*Operator),
		Artifacts:    make(map[uuid.UUID]*Artifact),
		EngineConfig: EngineConfig{Type: EngineNative},
		opsByName:    make(map[string]uuid.UUID),
	}
}

// rebuildIndex recomputes the name index from Operators.
func (d *DAG) rebuildIndex() {
	if d.Operators == nil {
		d.Operators = make(map[uuid.UUID]*Operator)
	}
	if d.Artifacts == nil {
		d.Artifacts = make(map[uuid.UUID]*Artifact)
	}
	d.opsByName = make(map[string]uuid.UUID, len(d.Operators))
	for id, op := range d.Operators {
		d.opsByName[op.Name] = id
	}
}

func (d *DAG) index() map[string]uuid.UUID {
	if d.opsByName == nil {
		d.rebuildIndex()
	}
	return d.opsByName
}

// Operator returns the operator with the given id.
func (d *DAG) Operator(id uuid.UUID) (*Operator, bool) {
	op, ok := d.Operators[id]
	return op, ok
}

// Artifact returns the artifact with the given id.
func (d *DAG) Artifact(id uuid.UUID) (*Artifact, bool) {
	a, ok := d.Artifacts[id]
	return a, ok
}

// MustArtifact returns the artifact or an artifact-not-found error.
func (d *DAG) MustArtifact(id uuid.UUID) (*Artifact, error) {
	a, ok := d.Artifacts[id]
	if !ok {
		return nil, types.ArtifactNotFound("artifact %s does not exist in the workflow; its operator may have been replaced or removed", id)
	}
	return a, nil
}

// OperatorByName looks an operator up through the name index.
func (d *DAG) OperatorByName(name string) (*Operator, bool) {
	id, ok := d.index()[name]
	if !ok {
		return nil, false
	}
	return d.Operators[id], true
}

// ArtifactByName returns the artifact with the given name.
func (d *DAG) ArtifactByName(name string) (*Artifact, bool) {
	for _, a := range d.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Producer returns the operator that outputs the artifact.
func (d *DAG) Producer(artifactID uuid.UUID) (*Operator, bool) {
	for _, op := range d.Operators {
		for _, out := range op.Outputs {
			if out == artifactID {
				return op, true
			}
		}
	}
	return nil, false
}

// Consumers returns the operators that take the artifact as input, sorted by
// name.
func (d *DAG) Consumers(artifactID uuid.UUID) []*Operator {
	var ops []*Operator
	for _, op := range d.Operators {
		if op.HasInput(artifactID) {
			ops = append(ops, op)
		}
	}
	sortByName(ops)
	return ops
}

// ListOperators returns operators of the given kinds (all when none are
// given), sorted by name.
func (d *DAG) ListOperators(kinds ...types.OperatorType) []*Operator {
	ops := make([]*Operator, 0, len(d.Operators))
	for _, op := range d.Operators {
		if len(kinds) == 0 || containsKind(kinds, op.Kind()) {
			ops = append(ops, op)
		}
	}
	sortByName(ops)
	return ops
}

// Upstream returns the ids of every operator the given operators depend on,
// including themselves.
func (d *DAG) Upstream(opIDs ...uuid.UUID) map[uuid.UUID]bool {
	seen := make(map[uuid.UUID]bool)
	stack := append([]uuid.UUID(nil), opIDs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		op, ok := d.Operators[id]
		if !ok {
			continue
		}
		seen[id] = true
		for _, in := range op.Inputs {
			if producer, ok := d.Producer(in); ok {
				stack = append(stack, producer.ID)
			}
		}
	}
	return seen
}

// IsUpstream reports whether candidate feeds, directly or transitively, any
// of the given input artifacts.
func (d *DAG) IsUpstream(candidate uuid.UUID, inputs []uuid.UUID) bool {
	var roots []uuid.UUID
	for _, in := range inputs {
		if producer, ok := d.Producer(in); ok {
			roots = append(roots, producer.ID)
		}
	}
	return d.Upstream(roots...)[candidate]
}

// TopologicalOrder returns operators so that every producer precedes its
// consumers. Ties are broken by name.
func (d *DAG) TopologicalOrder() ([]*Operator, error) {
	inDegree := make(map[uuid.UUID]int, len(d.Operators))
	for id, op := range d.Operators {
		inDegree[id] = 0
		for _, in := range op.Inputs {
			if _, ok := d.Producer(in); ok {
				inDegree[id]++
			}
		}
	}

	var ready []*Operator
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, d.Operators[id])
		}
	}

	order := make([]*Operator, 0, len(d.Operators))
	for len(ready) > 0 {
		sortByName(ready)
		op := ready[0]
		ready = ready[1:]
		order = append(order, op)
		for _, out := range op.Outputs {
			for _, consumer := range d.Consumers(out) {
				inDegree[consumer.ID]--
				if inDegree[consumer.ID] == 0 {
					ready = append(ready, consumer)
				}
			}
		}
	}

	if len(order) != len(d.Operators) {
		return nil, fmt.Errorf("workflow contains a cycle")
	}
	return order, nil
}

// Copy returns a deep copy of the DAG, including operator bundles.
func (d *DAG) Copy() (*DAG, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to copy dag: %w", err)
	}
	var c DAG
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to copy dag: %w", err)
	}
	for id, op := range d.Operators {
		if op.File != nil {
			c.Operators[id].File = append([]byte(nil), op.File...)
		}
	}
	return &c, nil
}

// Validate checks every structural invariant of the DAG.
func (d *DAG) Validate() error {
	producers := make(map[uuid.UUID]uuid.UUID, len(d.Artifacts))
	opNames := make(map[string]bool, len(d.Operators))

	for id, op := range d.Operators {
		if id != op.ID {
			return fmt.Errorf("operator %q is stored under id %s", op.Name, id)
		}
		if err := op.validate(); err != nil {
			return err
		}
		if opNames[op.Name] {
			return fmt.Errorf("duplicate operator name %q", op.Name)
		}
		opNames[op.Name] = true

		for _, in := range op.Inputs {
			if _, ok := d.Artifacts[in]; !ok {
				return fmt.Errorf("operator %q references missing input artifact %s", op.Name, in)
			}
		}
		for _, out := range op.Outputs {
			if _, ok := d.Artifacts[out]; !ok {
				return fmt.Errorf("operator %q references missing output artifact %s", op.Name, out)
			}
			if other, dup := producers[out]; dup {
				return fmt.Errorf("artifact %s is produced by both %q and %q", out, d.Operators[other].Name, op.Name)
			}
			producers[out] = id
		}
	}

	artifactNames := make(map[string]bool, len(d.Artifacts))
	for id, a := range d.Artifacts {
		if id != a.ID {
			return fmt.Errorf("artifact %q is stored under id %s", a.Name, id)
		}
		if _, ok := producers[id]; !ok {
			return fmt.Errorf("artifact %q has no producing operator", a.Name)
		}
		if artifactNames[a.Name] {
			return fmt.Errorf("duplicate artifact name %q", a.Name)
		}
		artifactNames[a.Name] = true
	}

	for _, op := range d.Operators {
		if err := d.checkPlacement(op); err != nil {
			return err
		}
	}

	if d.Metadata != nil && d.Metadata.Schedule != nil {
		if err := d.Metadata.Schedule.Validate(); err != nil {
			return err
		}
	}

	_, err := d.TopologicalOrder()
	return err
}

// checkPlacement enforces that check outputs feed only checks and metric
// outputs feed only checks or metrics.
func (d *DAG) checkPlacement(op *Operator) error {
	kind := op.Kind()
	for _, in := range op.Inputs {
		producer, ok := d.Producer(in)
		if !ok {
			continue
		}
		switch producer.Kind() {
		case types.OperatorTypeCheck:
			if kind != types.OperatorTypeCheck {
				return types.InvalidUserAction("the output of check %q can only be consumed by another check, not %s %q",
					producer.Name, kind, op.Name)
			}
		case types.OperatorTypeMetric, types.OperatorTypeSystemMetric:
			if kind != types.OperatorTypeCheck && kind != types.OperatorTypeMetric {
				return types.InvalidUserAction("the output of metric %q can only be consumed by checks or metrics, not %s %q",
					producer.Name, kind, op.Name)
			}
		}
	}
	return nil
}

// insert adds op and its outputs without any checks.
func (d *DAG) insert(op *Operator, outputs []*Artifact) {
	d.Operators[op.ID] = op
	d.index()[op.Name] = op.ID
	for _, a := range outputs {
		d.Artifacts[a.ID] = a
	}
}

// remove deletes an operator, its outputs, and every operator that loses an
// input as a result.
func (d *DAG) remove(id uuid.UUID) {
	op, ok := d.Operators[id]
	if !ok {
		return
	}
	delete(d.Operators, id)
	delete(d.index(), op.Name)

	for _, out := range op.Outputs {
		delete(d.Artifacts, out)
		for _, consumer := range d.Consumers(out) {
			d.remove(consumer.ID)
		}
	}
}

func sortByName(ops []*Operator) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
}

func containsKind(kinds []types.OperatorType, k types.OperatorType) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
