// Package eval implements the sandboxed expression and template evaluator.
//
// Expressions are compiled with expr-lang after an AST size check; bare
// dotted paths bypass the compiler and resolve with absent-means-null
// semantics. Templates are strings with {{ expr }} segments, rendered
// recursively through maps and lists.
package eval

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/relaydev/relay/engine/fault"
	"github.com/relaydev/relay/engine/paths"
)

// MaxExpressionNodes caps the abstract syntax size of a single expression.
const MaxExpressionNodes = 250

// Evaluator evaluates expressions and templates against a template root.
// Compiled programs are cached by source.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates an evaluator with an empty compile cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Eval evaluates a side-effect-free expression against root. Bare dotted
// paths (vars.x, $.a.b) are resolved directly so missing segments yield
// nil instead of a runtime error.
func (e *Evaluator) Eval(src string, root map[string]any) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}

	switch src {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "nil":
		return nil, nil
	}

	if paths.IsBarePath(src) {
		return paths.Resolve(root, src), nil
	}

	program, err := e.compile(src)
	if err != nil {
		return nil, err
	}

	env := make(map[string]any, len(root)+1)
	for k, v := range root {
		env[k] = v
	}
	env["null"] = nil

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fault.Errorf(fault.ExpressionError, "evaluate %q: %v", src, err)
	}
	return out, nil
}

// EvalBool evaluates an expression and coerces the result to a boolean.
func (e *Evaluator) EvalBool(src string, root map[string]any) (bool, error) {
	out, err := e.Eval(src, root)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

func (e *Evaluator) compile(src string) (*vm.Program, error) {
	e.mu.RLock()
	program, exists := e.cache[src]
	e.mu.RUnlock()
	if exists {
		return program, nil
	}

	if err := checkComplexity(src); err != nil {
		return nil, err
	}

	program, err := expr.Compile(src, compileOptions()...)
	if err != nil {
		return nil, fault.Errorf(fault.ExpressionError, "compile %q: %v", src, err)
	}

	e.mu.Lock()
	e.cache[src] = program
	e.mu.Unlock()
	return program, nil
}

func checkComplexity(src string) error {
	tree, err := parser.Parse(src)
	if err != nil {
		return fault.Errorf(fault.ExpressionError, "parse %q: %v", src, err)
	}

	counter := &nodeCounter{}
	ast.Walk(&tree.Node, counter)
	if counter.count > MaxExpressionNodes {
		return fault.Errorf(fault.ExpressionTooComplex, "expression has %d AST nodes, limit is %d", counter.count, MaxExpressionNodes)
	}
	return nil
}

type nodeCounter struct {
	count int
}

func (c *nodeCounter) Visit(_ *ast.Node) { c.count++ }

// compileOptions replaces the clashing expr builtins with the engine's
// Python-flavored helper set and leaves everything else dynamic.
func compileOptions() []expr.Option {
	opts := []expr.Option{expr.AllowUndefinedVariables()}
	for name := range helpers {
		opts = append(opts, expr.DisableBuiltin(name))
	}
	for name, fn := range helpers {
		opts = append(opts, expr.Function(name, fn))
	}
	return opts
}

var helpers = map[string]func(params ...any) (any, error){
	"len":   helperLen,
	"min":   helperMin,
	"max":   helperMax,
	"sum":   helperSum,
	"any":   helperAny,
	"all":   helperAll,
	"abs":   helperAbs,
	"int":   helperInt,
	"float": helperFloat,
	"str":   helperStr,
	"bool":  helperBool,
}

func helperLen(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("len expects 1 argument")
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
		return nil, fmt.Errorf("len: unsupported type %T", params[0])
	}
}

func collectNumbers(params []any) ([]float64, error) {
	values := params
	if len(params) == 1 {
		if list, ok := params[0].([]any); ok {
			values = list
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no values")
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric value %v", v)
		}
		out = append(out, f)
	}
	return out, nil
}

func helperMin(params ...any) (any, error) {
	nums, err := collectNumbers(params)
	if err != nil {
		return nil, fmt.Errorf("min: %w", err)
	}
	result := nums[0]
	for _, n := range nums[1:] {
		if n < result {
			result = n
		}
	}
	return normalizeNumber(result), nil
}

func helperMax(params ...any) (any, error) {
	nums, err := collectNumbers(params)
	if err != nil {
		return nil, fmt.Errorf("max: %w", err)
	}
	result := nums[0]
	for _, n := range nums[1:] {
		if n > result {
			result = n
		}
	}
	return normalizeNumber(result), nil
}

func helperSum(params ...any) (any, error) {
	if len(params) == 1 {
		if list, ok := params[0].([]any); ok && len(list) == 0 {
			return 0, nil
		}
	}
	nums, err := collectNumbers(params)
	if err != nil {
		return nil, fmt.Errorf("sum: %w", err)
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return normalizeNumber(total), nil
}

func helperAny(params ...any) (any, error) {
	list, err := collectionArg("any", params)
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		if Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func helperAll(params ...any) (any, error) {
	list, err := collectionArg("all", params)
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		if !Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func collectionArg(name string, params []any) ([]any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%s expects 1 argument", name)
	}
	switch v := params[0].(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%s: expected a list, got %T", name, params[0])
	}
}

func helperAbs(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("abs expects 1 argument")
	}
	f, ok := toFloat(params[0])
	if !ok {
		return nil, fmt.Errorf("abs: non-numeric value %v", params[0])
	}
	if f < 0 {
		f = -f
	}
	return normalizeNumber(f), nil
}

func helperInt(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("int expects 1 argument")
	}
	switch v := params[0].(type) {
	case nil:
		return 0, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("int: cannot convert %q", v)
		}
		return int(parsed), nil
	default:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("int: unsupported type %T", params[0])
		}
		return int(f), nil
	}
}

func helperFloat(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("float expects 1 argument")
	}
	switch v := params[0].(type) {
	case nil:
		return 0.0, nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("float: cannot convert %q", v)
		}
		return parsed, nil
	default:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("float: unsupported type %T", params[0])
		}
		return f, nil
	}
}

func helperStr(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("str expects 1 argument")
	}
	return Stringify(params[0]), nil
}

func helperBool(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("bool expects 1 argument")
	}
	return Truthy(params[0]), nil
}

// Truthy implements the coercion used by if nodes and the bool helper:
// nil, false, zero, "" and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// normalizeNumber keeps integral results as int so arithmetic on JSON
// numbers stays comparison-friendly.
func normalizeNumber(f float64) any {
	if f == float64(int64(f)) {
		return int(f)
	}
	return f
}

// Stringify renders a value the way template segments do: nil as the
// empty string, objects and arrays as JSON, numbers canonically.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}
