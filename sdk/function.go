package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

var customArgsType = reflect.TypeOf(map[string]any{})

// Option configures an operator declaration.
type Option func(*opConfig)

type opConfig struct {
	name        string
	description string
	functionKey string
	numOutputs  int
	outputTypes []types.ArtifactType
	outputNames []string
	severity    types.CheckSeverity
	customArgs  map[string]any
	files       map[string][]byte
	args        []string
	lazy        *bool
}

// WithName names the operator instead of deriving the name from the Go
// function.
func WithName(name string) Option {
	return func(c *opConfig) { c.name = name }
}

// WithDescription sets the operator description.
func WithDescription(d string) Option {
	return func(c *opConfig) { c.description = d }
}

// WithFunctionKey sets the registry key the executor resolves. It defaults to
// the Go function's qualified name.
func WithFunctionKey(key string) Option {
	return func(c *opConfig) { c.functionKey = key }
}

// WithNumOutputs declares a function with several outputs. The function
// returns either that many values or one types.Tuple of that length.
func WithNumOutputs(n int) Option {
	return func(c *opConfig) { c.numOutputs = n }
}

// WithOutputTypes declares the expected type of each output.
func WithOutputTypes(ts ...types.ArtifactType) Option {
	return func(c *opConfig) { c.outputTypes = ts }
}

// WithOutputNames names the outputs in order. Named outputs are explicitly
// named artifacts: another operator producing an artifact of the same name is
// an invalid user action instead of a silent replacement.
func WithOutputNames(names ...string) Option {
	return func(c *opConfig) { c.outputNames = names }
}

// WithCheckSeverity sets the severity of a check. The default is warning.
func WithCheckSeverity(s types.CheckSeverity) Option {
	return func(c *opConfig) { c.severity = s }
}

// WithCustomArgs passes extra JSON arguments to a function declaring a
// trailing map[string]any parameter.
func WithCustomArgs(args map[string]any) Option {
	return func(c *opConfig) { c.customArgs = args }
}

// WithFiles adds files to the function bundle, keyed by bundle path.
func WithFiles(files map[string][]byte) Option {
	return func(c *opConfig) { c.files = files }
}

// WithArgs binds the $1..$N placeholders of a query.
func WithArgs(args ...string) Option {
	return func(c *opConfig) { c.args = args }
}

// Lazy defers computing outputs until Get.
func Lazy() Option {
	t := true
	return func(c *opConfig) { c.lazy = &t }
}

// Eager computes outputs as soon as the operator is added.
func Eager() Option {
	f := false
	return func(c *opConfig) { c.lazy = &f }
}

func newOpConfig(opts []Option) *opConfig {
	c := &opConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (b *Builder) isLazy(c *opConfig) bool {
	if c.lazy != nil {
		return *c.lazy
	}
	return b.lazy
}

// operator is what Function, Metric and Check share: a Go callable bound to
// the bundle the executor runs.
type operator struct {
	b          *Builder
	kind       types.OperatorType
	name       string
	fn         any
	fnType     reflect.Type
	spec       workflow.FunctionSpec
	bundle     []byte
	severity   types.CheckSeverity
	customArgs map[string]any
	cfg        *opConfig
}

func (b *Builder) declare(kind types.OperatorType, fn any, opts []Option) (*operator, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, types.InvalidUserArgument("expected a func, got %T", fn)
	}
	cfg := newOpConfig(opts)

	rf := runtime.FuncForPC(v.Pointer())
	qualified := rf.Name()
	name := cfg.name
	if name == "" {
		name = shortFuncName(qualified)
	}
	key := cfg.functionKey
	if key == "" {
		key = qualified
	}

	numOutputs := 1
	if kind == types.OperatorTypeFunction && cfg.numOutputs > 1 {
		numOutputs = cfg.numOutputs
	}
	if len(cfg.outputTypes) > numOutputs {
		return nil, types.InvalidUserArgument("%d output types given for %d outputs", len(cfg.outputTypes), numOutputs)
	}
	if err := checkOutputNames(cfg.outputNames, numOutputs); err != nil {
		return nil, err
	}

	severity := types.CheckSeverity("")
	if kind == types.OperatorTypeCheck {
		severity = cfg.severity
		if severity == "" {
			severity = types.CheckSeverityWarning
		}
		if severity != types.CheckSeverityWarning && severity != types.CheckSeverityError {
			return nil, types.InvalidUserArgument("unknown check severity %q", severity)
		}
	}

	var customArgs string
	if len(cfg.customArgs) > 0 {
		ft := v.Type()
		if ft.IsVariadic() || ft.NumIn() == 0 || ft.In(ft.NumIn()-1) != customArgsType {
			return nil, types.InvalidUserArgument("%s takes no map[string]any parameter for custom arguments", name)
		}
		data, err := json.Marshal(cfg.customArgs)
		if err != nil {
			return nil, types.InvalidUserArgument("custom arguments of %s are not JSON: %v", name, err)
		}
		customArgs = string(data)
	}

	entryFile, source := functionSource(rf, v.Pointer())
	files := map[string][]byte{entryFile: source}
	for path, data := range cfg.files {
		files[path] = data
	}
	bundle, err := executor.BuildBundle(executor.Manifest{File: entryFile, Method: name, FunctionKey: key}, files)
	if err != nil {
		return nil, fmt.Errorf("failed to bundle %s: %w", name, err)
	}
	if err := b.registry.Register(key, fn); err != nil {
		return nil, err
	}

	return &operator{
		b:      b,
		kind:   kind,
		name:   name,
		fn:     fn,
		fnType: v.Type(),
		spec: workflow.FunctionSpec{
			EntryPoint:  workflow.EntryPoint{File: entryFile, Method: name},
			FunctionKey: key,
			CustomArgs:  customArgs,
			NumOutputs:  numOutputs,
		},
		bundle:     bundle,
		severity:   severity,
		customArgs: cfg.customArgs,
		cfg:        cfg,
	}, nil
}

// shortFuncName strips the import path and package from a runtime function
// name: "example.com/m/pkg.Double" becomes "Double".
func shortFuncName(qualified string) string {
	name := qualified[strings.LastIndex(qualified, "/")+1:]
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// functionSource returns the base name of the file defining the function and
// its contents when readable.
func functionSource(rf *runtime.Func, pc uintptr) (string, []byte) {
	file, _ := rf.FileLine(pc)
	if file == "" {
		return "main.go", []byte{}
	}
	data, err := os.ReadFile(file)
	if err != nil {
		data = []byte{}
	}
	return filepath.Base(file), data
}

// numInputs counts the inputs the function takes, excluding a trailing custom
// args map.
func (o *operator) numInputs() (int, bool) {
	ft := o.fnType
	n := ft.NumIn()
	if !ft.IsVariadic() && n > 0 && ft.In(n-1) == customArgsType {
		n--
	}
	return n, ft.IsVariadic()
}

// call builds the operator for one invocation and adds it to the DAG.
func (o *operator) call(ctx context.Context, inputs []any) ([]*Artifact, error) {
	b := o.b
	n, variadic := o.numInputs()
	if variadic {
		if len(inputs) < n-1 {
			return nil, types.InvalidUserArgument("%s takes at least %d inputs, got %d", o.name, n-1, len(inputs))
		}
	} else if len(inputs) != n {
		return nil, types.InvalidUserArgument("%s takes %d inputs, got %d", o.name, n, len(inputs))
	}

	// Lifted parameters go into the same ApplyDeltas call as the operator, so
	// a rejected operator leaves no parameter behind.
	ids := make([]uuid.UUID, len(inputs))
	var lifted []*paramChange
	for i, in := range inputs {
		if h, ok := in.(Handle); ok {
			ids[i] = h.base().id
			continue
		}
		if variadic && i >= n-1 {
			return nil, types.InvalidUserArgument("variadic input %d of %s must be an artifact handle, got %T", i+1, o.name, in).
				WithTip("Create a parameter with Builder.Param and pass its handle.")
		}
		c, err := b.changeParam(fmt.Sprintf("%s:arg%d", o.name, i+1), in)
		if err != nil {
			return nil, err
		}
		lifted = append(lifted, c)
		ids[i] = c.id
	}

	var spec workflow.OperatorSpec
	numOutputs := o.spec.NumOutputs
	fs := o.spec
	switch o.kind {
	case types.OperatorTypeMetric:
		spec.Metric = &workflow.MetricSpec{Function: fs}
	case types.OperatorTypeCheck:
		spec.Check = &workflow.CheckSpec{Level: o.severity, Function: fs}
	default:
		spec.Function = &fs
	}

	op, outputs := workflow.NewOperator(o.name, spec, ids, numOutputs)
	op.Description = o.cfg.description
	op.File = o.bundle
	for i, t := range o.cfg.outputTypes {
		outputs[i].Type = t
	}
	switch o.kind {
	case types.OperatorTypeMetric:
		outputs[0].Type = types.ArtifactTypeNumeric
	case types.OperatorTypeCheck:
		outputs[0].Type = types.ArtifactTypeBool
	}

	nameOutputs(outputs, o.cfg.outputNames)
	return b.addOperator(ctx, op, outputs, b.isLazy(o.cfg), lifted...)
}

// checkOutputNames rejects more names than outputs, empty names and repeats.
func checkOutputNames(names []string, numOutputs int) error {
	if len(names) > numOutputs {
		return types.InvalidUserArgument("%d output names given for %d outputs", len(names), numOutputs)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return types.InvalidUserArgument("output name is empty")
		}
		if seen[n] {
			return types.InvalidUserArgument("output name %q is given twice", n)
		}
		seen[n] = true
	}
	return nil
}

func nameOutputs(outputs []*workflow.Artifact, names []string) {
	for i, n := range names {
		outputs[i].Name = n
		outputs[i].ExplicitlyNamed = true
	}
}

// Local runs the Go function directly on inputs, bypassing the DAG. Handle
// inputs are resolved with Get first.
func (o *operator) Local(ctx context.Context, inputs ...any) ([]any, error) {
	args := make([]any, len(inputs))
	for i, in := range inputs {
		if h, ok := in.(Handle); ok {
			v, err := h.base().Get(ctx)
			if err != nil {
				return nil, err
			}
			args[i] = v
			continue
		}
		args[i] = in
	}
	return executor.Call(o.fn, args, o.customArgs)
}

// Name returns the operator name calls add to the DAG.
func (o *operator) Name() string { return o.name }

// addOperator adds or replaces op, together with the parameters lifted from
// its inputs, and returns handles on its outputs, previewing them unless lazy.
func (b *Builder) addOperator(ctx context.Context, op *workflow.Operator, outputs []*workflow.Artifact, lazy bool, params ...*paramChange) ([]*Artifact, error) {
	deltas := make([]workflow.Delta, 0, len(params)+1)
	for _, c := range params {
		deltas = append(deltas, c.delta)
	}
	deltas = append(deltas, &workflow.AddOrReplaceOperatorDelta{Op: op, Outputs: outputs})
	if err := b.apply(deltas...); err != nil {
		return nil, err
	}
	for _, c := range params {
		b.committed(c)
	}
	handles := make([]*Artifact, len(outputs))
	for i, a := range outputs {
		handles[i] = &Artifact{b: b, id: a.ID, name: a.Name}
	}
	if lazy || len(handles) == 0 {
		return handles, nil
	}

	b.logger.Debug("eager preview", zap.String("operator", op.Name))
	ids := make([]uuid.UUID, len(handles))
	for i, h := range handles {
		ids[i] = h.id
	}
	values, err := b.preview(ctx, ids, nil)
	if err != nil {
		return nil, err
	}
	for i, h := range handles {
		h.setContent(values[i])
	}
	return handles, nil
}

// Function is a user function declared on a Builder.
type Function struct {
	*operator
}

// Function declares fn as a function operator.
func (b *Builder) Function(fn any, opts ...Option) (*Function, error) {
	o, err := b.declare(types.OperatorTypeFunction, fn, opts)
	if err != nil {
		return nil, err
	}
	return &Function{o}, nil
}

// Call adds the function to the DAG with the given inputs and returns its
// single output.
func (f *Function) Call(ctx context.Context, inputs ...any) (*Artifact, error) {
	if f.spec.NumOutputs > 1 {
		return nil, types.InvalidUserArgument("%s has %d outputs; use CallN", f.name, f.spec.NumOutputs)
	}
	outs, err := f.call(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// CallN is Call for functions with several outputs.
func (f *Function) CallN(ctx context.Context, inputs ...any) ([]*Artifact, error) {
	return f.call(ctx, inputs)
}

// Metric is a user function returning a number.
type Metric struct {
	*operator
}

// Metric declares fn as a metric operator.
func (b *Builder) Metric(fn any, opts ...Option) (*Metric, error) {
	o, err := b.declare(types.OperatorTypeMetric, fn, opts)
	if err != nil {
		return nil, err
	}
	return &Metric{o}, nil
}

// Call adds the metric to the DAG.
func (m *Metric) Call(ctx context.Context, inputs ...any) (*NumericArtifact, error) {
	outs, err := m.call(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return &NumericArtifact{outs[0]}, nil
}

// Check is a user function returning a bool or a list of bools.
type Check struct {
	*operator
}

// Check declares fn as a check operator.
func (b *Builder) Check(fn any, opts ...Option) (*Check, error) {
	o, err := b.declare(types.OperatorTypeCheck, fn, opts)
	if err != nil {
		return nil, err
	}
	return &Check{o}, nil
}

// Call adds the check to the DAG.
func (c *Check) Call(ctx context.Context, inputs ...any) (*BoolArtifact, error) {
	outs, err := c.call(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return &BoolArtifact{outs[0]}, nil
}

// Local runs f directly on inputs. See Function.Local.
func (b *Builder) Local(ctx context.Context, f interface {
	Local(context.Context, ...any) ([]any, error)
}, inputs ...any) ([]any, error) {
	return f.Local(ctx, inputs...)
}
