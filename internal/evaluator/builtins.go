package evaluator

import (
	"fmt"
	"go/ast"
	"sort"
	"strconv"
	"strings"
)

// whitelistedFuncs is the closed builtin set from §4.10: "basic
// numeric/collection constructors, len, range, sorted, min/max, a small
// set of exception classes, truth values". print is a capturing sink
// wired up separately since it needs access to the interpreter's output
// buffer and cap.
var whitelistedFuncs = map[string]bool{
	"len": true, "range": true, "sorted": true, "min": true, "max": true,
	"string": true, "int": true, "float64": true, "bool": true,
	"append": true, "make": true, "print": true,
	"Error": true, "contains": true, "split": true, "join": true,
	"trim": true, "upper": true, "lower": true, "sprintf": true,
}

func (it *interpreter) evalCall(e *ast.CallExpr, sc *scope) (any, error) {
	ident, ok := e.Fun.(*ast.Ident)
	if !ok {
		return nil, fmt.Errorf("only direct calls to whitelisted functions are allowed")
	}
	if !whitelistedFuncs[ident.Name] {
		return nil, fmt.Errorf("call to non-whitelisted function %q", ident.Name)
	}

	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := it.eval(a, sc)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch ident.Name {
	case "len":
		return builtinLen(args)
	case "range":
		return it.builtinRange(args)
	case "sorted":
		return builtinSorted(args)
	case "min":
		return builtinMinMax(args, true)
	case "max":
		return builtinMinMax(args, false)
	case "string":
		return builtinString(args)
	case "int":
		return builtinInt(args)
	case "float64":
		return builtinFloat(args)
	case "bool":
		return builtinBool(args)
	case "append":
		return builtinAppend(args)
	case "make":
		return builtinMake(args)
	case "print":
		return nil, it.builtinPrint(args)
	case "Error":
		return builtinError(args)
	case "contains":
		return builtinContains(args)
	case "split":
		return builtinSplit(args)
	case "join":
		return builtinJoin(args)
	case "trim":
		return builtinTrim(args)
	case "upper":
		return builtinUpper(args)
	case "lower":
		return builtinLower(args)
	case "sprintf":
		return builtinSprintf(args)
	default:
		return nil, fmt.Errorf("unimplemented builtin %q", ident.Name)
	}
}

func builtinLen(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len takes exactly one argument")
	}
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case []any:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	default:
		return nil, fmt.Errorf("len: unsupported type %T", v)
	}
}

// builtinRange replaces Go's range keyword for callers that want a
// materialized sequence (e.g. `for i := range range(5) { ... }`
// composition isn't idiomatic Go, so this implements the spec's "range
// is replaced by a guarded variant" as a callable producing []any of
// int64, guarded by the RangeCap (§4.10).
func (it *interpreter) builtinRange(args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("range takes 1 or 2 arguments")
	}
	start := int64(0)
	var end int64
	if len(args) == 1 {
		n, ok := asInt(args[0])
		if !ok {
			return nil, fmt.Errorf("range: non-integer argument")
		}
		end = n
	} else {
		s, ok := asInt(args[0])
		if !ok {
			return nil, fmt.Errorf("range: non-integer argument")
		}
		e, ok := asInt(args[1])
		if !ok {
			return nil, fmt.Errorf("range: non-integer argument")
		}
		start, end = s, e
	}
	if end-start > int64(it.limits.RangeCap) {
		return nil, fmt.Errorf("range size %d exceeds cap of %d", end-start, it.limits.RangeCap)
	}
	if end < start {
		return []any{}, nil
	}
	out := make([]any, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out, nil
}

func builtinSorted(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("sorted takes exactly one argument")
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("sorted: argument must be a collection")
	}
	out := make([]any, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		if lf, ok := asFloat(out[i]); ok {
			if rf, ok := asFloat(out[j]); ok {
				return lf < rf
			}
		}
		ls, lok := out[i].(string)
		rs, rok := out[j].(string)
		if lok && rok {
			return ls < rs
		}
		return false
	})
	return out, nil
}

func builtinMinMax(args []any, wantMin bool) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("min/max requires at least one argument")
	}
	values := args
	if len(args) == 1 {
		if list, ok := args[0].([]any); ok {
			if len(list) == 0 {
				return nil, fmt.Errorf("min/max of empty collection")
			}
			values = list
		}
	}
	best := values[0]
	bestF, _ := asFloat(best)
	for _, v := range values[1:] {
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("min/max: non-numeric argument")
		}
		if (wantMin && f < bestF) || (!wantMin && f > bestF) {
			best, bestF = v, f
		}
	}
	return best, nil
}

func builtinString(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("string takes exactly one argument")
	}
	return fmt.Sprint(args[0]), nil
}

func builtinInt(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("int takes exactly one argument")
	}
	switch v := args[0].(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int: cannot convert %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("int: unsupported type %T", v)
	}
}

func builtinFloat(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("float64 takes exactly one argument")
	}
	switch v := args[0].(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("float64: cannot convert %q", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("float64: unsupported type %T", v)
	}
}

func builtinBool(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("bool takes exactly one argument")
	}
	b, ok := args[0].(bool)
	if !ok {
		return nil, fmt.Errorf("bool: unsupported type %T", args[0])
	}
	return b, nil
}

func builtinAppend(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("append requires at least one argument")
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("append: first argument must be a collection")
	}
	out := make([]any, len(list), len(list)+len(args)-1)
	copy(out, list)
	out = append(out, args[1:]...)
	return out, nil
}

// builtinMake implements a restricted one-argument form, make(n), which
// returns a collection of n nil elements (the only collection constructor
// needed by a text-processing script beyond literals).
func builtinMake(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("make takes exactly one size argument in this restricted evaluator")
	}
	n, ok := asInt(args[0])
	if !ok || n < 0 {
		return nil, fmt.Errorf("make: invalid size")
	}
	return make([]any, n), nil
}

func (it *interpreter) builtinPrint(args []any) error {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	line := strings.Join(parts, " ") + "\n"
	if it.output.Len()+len(line) > it.limits.PrintCap {
		return fmt.Errorf("print output exceeded cap of %d characters", it.limits.PrintCap)
	}
	it.output.WriteString(line)
	return nil
}

// builtinError constructs the small whitelisted exception value (§4.10):
// a string-carrying record distinguishable from a plain string only by
// convention, since the evaluator has no exception-handling control
// flow beyond propagating the first error to Result.Error.
func builtinError(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("Error takes exactly one message argument")
	}
	msg, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("Error: message must be a string")
	}
	return fmt.Errorf("%s", msg), nil
}

func builtinContains(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("contains takes exactly two arguments")
	}
	s, ok1 := args[0].(string)
	sub, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("contains: both arguments must be strings")
	}
	return strings.Contains(s, sub), nil
}

func builtinSplit(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("split takes exactly two arguments")
	}
	s, ok1 := args[0].(string)
	sep, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("split: both arguments must be strings")
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func builtinJoin(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("join takes exactly two arguments")
	}
	list, ok1 := args[0].([]any)
	sep, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("join: first argument must be a collection, second a string")
	}
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep), nil
}

func builtinTrim(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("trim takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("trim: argument must be a string")
	}
	return strings.TrimSpace(s), nil
}

func builtinUpper(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("upper takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("upper: argument must be a string")
	}
	return strings.ToUpper(s), nil
}

func builtinLower(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("lower takes exactly one argument")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("lower: argument must be a string")
	}
	return strings.ToLower(s), nil
}

func builtinSprintf(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("sprintf requires a format string")
	}
	format, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("sprintf: first argument must be a string")
	}
	return fmt.Sprintf(format, args[1:]...), nil
}
