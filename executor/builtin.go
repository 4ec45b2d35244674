package executor

import (
	"fmt"

	"github.com/BaSui01/pipeflow/serialization"
	"github.com/BaSui01/pipeflow/types"
)

// BoundCheckKey is the function key of the built-in bound check. Its custom
// arguments hold exactly one of "upper", "lower", "equal" or "notequal" and
// an optional "inclusive" flag.
const BoundCheckKey = "pipeflow.bound_check"

// BoundCheckFile is the entry point file of bound check bundles.
const BoundCheckFile = "bound_check.json"

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Register(BoundCheckKey, BoundCheck); err != nil {
		panic(err)
	}
	return r
}

// BoundCheck compares a metric value against the single bound named in
// args.
func BoundCheck(v float64, args map[string]any) (bool, error) {
	inclusive := true
	if raw, ok := args["inclusive"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return false, fmt.Errorf("inclusive must be a bool, got %T", raw)
		}
		inclusive = b
	}

	var (
		kind  string
		bound float64
		n     int
	)
	for _, k := range []string{"upper", "lower", "equal", "notequal"} {
		raw, ok := args[k]
		if !ok {
			continue
		}
		f, ok := serialization.ToFloat64(raw)
		if !ok {
			return false, fmt.Errorf("bound %s must be a number, got %T", k, raw)
		}
		kind, bound = k, f
		n++
	}
	if n != 1 {
		return false, types.InvalidUserArgument("exactly one bound must be set, got %d", n)
	}

	switch kind {
	case "upper":
		if inclusive {
			return v <= bound, nil
		}
		return v < bound, nil
	case "lower":
		if inclusive {
			return v >= bound, nil
		}
		return v > bound, nil
	case "equal":
		return v == bound, nil
	default:
		return v != bound, nil
	}
}
