// Package eval resolves $variable references and evaluates edge conditions
// and parameter expressions against an execution context.
//
// Variable references have the form $first.seg.ments. The first segment
// selects a reserved root (input, ctx, output, reply, loop), a loop iteration
// variable, or a node id; the remaining segments drill into the resolved
// value. References that resolve to nothing yield null rather than an error,
// which keeps conditional routing intuitive.
//
// Compound expressions are compiled and run with expr (expr-lang), with each
// $reference rewritten to a synthetic environment variable bound to the
// resolved value.
package eval

import (
	"fmt"
	"regexp"
	"strings"

	exprlang "github.com/expr-lang/expr"

	"github.com/hupe1980/flowmesh/core"
)

// varRefRe matches $identifier followed by optional dotted segments.
var varRefRe = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)((?:\.[a-zA-Z0-9_]+)*)`)

// Resolver supplies values for $references. *core.ExecutionContext satisfies
// it; tests may use lighter fakes.
type Resolver interface {
	Resolve(path string) (core.Value, bool)
}

// Evaluate runs an expression against the resolver and returns its typed
// result. A bare $reference short-circuits to the resolved value, preserving
// its type; anything else is compiled and run with expr.
func Evaluate(expression string, r Resolver) (core.Value, error) {
	trimmed := strings.TrimSpace(expression)
	if path, ok := pureRef(trimmed); ok {
		v, _ := r.Resolve(path)
		return v, nil
	}

	rewritten, env := rewrite(trimmed, r)

	opts := []exprlang.Option{exprlang.Env(env)}
	for _, fn := range customFunctions() {
		opts = append(opts, fn)
	}
	program, err := exprlang.Compile(rewritten, opts...)
	if err != nil {
		return core.Null(), core.NewRunError(core.CodeParse, "invalid expression %q: %v", expression, err)
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return core.Null(), core.NewRunError(core.CodeParse, "expression %q failed: %v", expression, err)
	}
	return core.FromAny(out), nil
}

// EvaluateBool evaluates a condition expression and reports its truthiness.
// Null and missing values are false.
func EvaluateBool(expression string, r Resolver) (bool, error) {
	v, err := Evaluate(expression, r)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Require resolves a path and fails with an unresolved-variable error when it
// is absent. Used for references that must exist, such as required tool
// arguments.
func Require(path string, r Resolver) (core.Value, error) {
	v, ok := r.Resolve(path)
	if !ok {
		return core.Null(), core.NewRunError(core.CodeUnresolvedVariable, "unresolved variable $%s", path)
	}
	return v, nil
}

// Param evaluates a node or tool parameter. A bare $reference keeps the
// resolved value's type. A string containing references is evaluated as an
// expression when it compiles as one, otherwise interpolated textually. Plain
// text is parsed as a JSON literal when possible and kept as a string
// otherwise.
func Param(text string, r Resolver) (core.Value, error) {
	trimmed := strings.TrimSpace(text)
	if path, ok := pureRef(trimmed); ok {
		v, _ := r.Resolve(path)
		return v, nil
	}
	if strings.Contains(trimmed, "$") {
		if v, err := Evaluate(trimmed, r); err == nil {
			return v, nil
		}
		return core.String(Interpolate(text, r)), nil
	}
	if v, err := core.ParseJSON([]byte(trimmed)); err == nil {
		return v, nil
	}
	return core.String(text), nil
}

// Interpolate replaces every $reference in text with the textual rendering of
// its resolved value. Missing references render as the empty string.
func Interpolate(text string, r Resolver) string {
	return varRefRe.ReplaceAllStringFunc(text, func(match string) string {
		v, _ := r.Resolve(match[1:])
		return v.Text()
	})
}

// pureRef reports whether s is exactly one $reference and returns its path.
func pureRef(s string) (string, bool) {
	loc := varRefRe.FindStringIndex(s)
	if loc == nil || loc[0] != 0 || loc[1] != len(s) {
		return "", false
	}
	return s[1:], true
}

// rewrite replaces each distinct $reference with a synthetic identifier and
// builds the matching expr environment. Identical references share one
// binding.
func rewrite(expression string, r Resolver) (string, map[string]any) {
	env := map[string]any{}
	names := map[string]string{}
	rewritten := varRefRe.ReplaceAllStringFunc(expression, func(match string) string {
		if name, ok := names[match]; ok {
			return name
		}
		name := fmt.Sprintf("_ref%d", len(names))
		names[match] = name
		v, _ := r.Resolve(match[1:])
		env[name] = v.ToAny()
		return name
	})
	return rewritten, env
}

func customFunctions() []exprlang.Option {
	return []exprlang.Option{
		exprlang.Function("default", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("default expects 2 arguments, got %d", len(params))
			}
			if core.FromAny(params[0]).Truthy() {
				return params[0], nil
			}
			return params[1], nil
		}),
		exprlang.Function("append", func(params ...any) (any, error) {
			if len(params) < 1 {
				return nil, fmt.Errorf("append expects at least 1 argument")
			}
			list, ok := params[0].([]any)
			if !ok {
				if params[0] == nil {
					list = nil
				} else {
					return nil, fmt.Errorf("append expects an array, got %T", params[0])
				}
			}
			return append(list, params[1:]...), nil
		}),
		exprlang.Function("length", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("length expects 1 argument, got %d", len(params))
			}
			switch v := params[0].(type) {
			case nil:
				return 0, nil
			case string:
				return len(v), nil
			case []any:
				return len(v), nil
			case map[string]any:
				return len(v), nil
			default:
				return nil, fmt.Errorf("length expects a string, array or object, got %T", params[0])
			}
		}),
	}
}
