package executor

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/BaSui01/pipeflow/types"
)

const tipUserCode = "Error executing function. Please check the context for the traceback of your code."

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	tableType     = reflect.TypeOf(types.Table{})
	customArgType = reflect.TypeOf(map[string]any{})
)

// Call runs fn the way an operator run would, without storage or capture:
// arguments are converted, custom args bound and errors classified.
func Call(fn any, args []any, customArgs map[string]any) ([]any, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, types.InvalidUserArgument("expected a func, got %T", fn)
	}
	return invoke(v, args, customArgs)
}

// invoke calls fn with args, converting each argument to the parameter type
// where Go allows a lossless conversion. A trailing map[string]any parameter
// receives customArgs. A trailing error result is turned into a user-fatal
// error, and a panic into a user-fatal error carrying the user's frames.
func invoke(fn reflect.Value, args []any, customArgs map[string]any) (results []any, err error) {
	ft := fn.Type()

	if ft.NumIn() == len(args)+1 && !ft.IsVariadic() && ft.In(len(args)) == customArgType {
		if customArgs == nil {
			customArgs = map[string]any{}
		}
		args = append(append([]any(nil), args...), customArgs)
	} else if len(customArgs) > 0 {
		return nil, types.Errorf(types.ErrUserFatal,
			"custom arguments were given but the function does not accept a map[string]any parameter")
	}

	if ft.IsVariadic() {
		if len(args) < ft.NumIn()-1 {
			return nil, arityError(ft, len(args))
		}
	} else if len(args) != ft.NumIn() {
		return nil, arityError(ft, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := paramType(ft, i)
		v, err := convertArg(a, pt)
		if err != nil {
			return nil, types.Errorf(types.ErrUserFatal, "argument %d: %v", i+1, err).
				WithTip("The input artifact type does not match the function signature.")
		}
		in[i] = v
	}

	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = types.Errorf(types.ErrUserFatal, "function panicked: %v", r).
				WithTip(tipUserCode).
				WithContext(fmt.Sprintf("panic: %v\n\n%s", r, userFrames(debug.Stack())))
		}
	}()

	out := fn.Call(in)

	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if e, _ := out[n-1].Interface().(error); e != nil {
			return nil, types.Errorf(types.ErrUserFatal, "function returned an error").
				WithTip(tipUserCode).
				WithContext(e.Error()).
				WithCause(e)
		}
		out = out[:n-1]
	}

	results = make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

func arityError(ft reflect.Type, got int) *types.Error {
	return types.Errorf(types.ErrUserFatal, "function takes %d arguments but %d inputs were given", ft.NumIn(), got)
}

func paramType(ft reflect.Type, i int) reflect.Type {
	if ft.IsVariadic() && i >= ft.NumIn()-1 {
		return ft.In(ft.NumIn() - 1).Elem()
	}
	return ft.In(i)
}

func convertArg(a any, pt reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Map, reflect.Slice, reflect.Ptr, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("nil cannot be passed as %s", pt)
	}

	rv := reflect.ValueOf(a)
	if rv.Type().AssignableTo(pt) {
		return rv, nil
	}
	if pt == tableType {
		if tbl, ok := a.(*types.Table); ok && tbl != nil {
			return reflect.ValueOf(*tbl), nil
		}
	}
	if rv.Type().ConvertibleTo(pt) && (rv.Kind() == pt.Kind() || (isNumberKind(rv.Kind()) && isNumberKind(pt.Kind()))) {
		return rv.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("got %T, function expects %s", a, pt)
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// userFrames keeps the frames between the panic and the reflective call that
// entered user code.
func userFrames(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	start := 0
	for i, l := range lines {
		if strings.HasPrefix(l, "panic(") {
			start = i + 2
			break
		}
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	for j := start; j < len(lines); j++ {
		if strings.HasPrefix(lines[j], "reflect.Value.") {
			end = j
			break
		}
	}
	return strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n")
}

// splitOutputs maps call results onto n declared outputs. A single tuple,
// list or slice result of length n is spread when n > 1.
func splitOutputs(results []any, n int) ([]any, error) {
	if n <= 1 {
		if len(results) != 1 {
			return nil, types.Errorf(types.ErrUserFatal, "function must return exactly one value, got %d", len(results))
		}
		return results, nil
	}
	if len(results) == n {
		return results, nil
	}
	if len(results) == 1 && results[0] != nil {
		rv := reflect.ValueOf(results[0])
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			if rv.Len() != n {
				return nil, types.Errorf(types.ErrUserFatal,
					"function declares %d outputs but returned %d values", n, rv.Len())
			}
			out := make([]any, n)
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out, nil
		}
	}
	return nil, types.Errorf(types.ErrUserFatal,
		"function declares %d outputs but returned %d values", n, len(results))
}
