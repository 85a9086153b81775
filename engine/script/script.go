// Package script executes the sandboxed scripted nodes. Scripts are CEL
// programs: hermetic by construction, no I/O, no host access, evaluated
// strictly synchronously within the node's step.
package script

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/relaydev/relay/engine/fault"
	"google.golang.org/protobuf/types/known/structpb"
)

// Runner compiles and evaluates scripts with caching.
type Runner struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewRunner creates a script runner. The environment exposes the execution
// context snapshot plus the vars and input shortcuts.
func NewRunner() (*Runner, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.DynType),
		cel.Variable("vars", cel.DynType),
		cel.Variable("input", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create script env: %w", err)
	}
	return &Runner{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Run evaluates a script against the serialized context and returns a
// JSON-native value.
func (r *Runner) Run(src string, contextJSON map[string]any) (any, error) {
	program, err := r.compile(src)
	if err != nil {
		return nil, err
	}

	vars, _ := contextJSON["vars"].(map[string]any)
	var input any
	if vars != nil {
		input = vars["input"]
	}

	out, _, err := program.Eval(map[string]any{
		"context": contextJSON,
		"vars":    vars,
		"input":   input,
	})
	if err != nil {
		return nil, fault.Errorf(fault.ExpressionError, "script evaluation: %v", err)
	}

	return toNative(out.Value(), out), nil
}

func (r *Runner) compile(src string) (cel.Program, error) {
	r.mu.RLock()
	program, exists := r.cache[src]
	r.mu.RUnlock()
	if exists {
		return program, nil
	}

	compiled, issues := r.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fault.Errorf(fault.ExpressionError, "script compilation: %v", issues.Err())
	}

	program, err := r.env.Program(compiled)
	if err != nil {
		return nil, fault.Errorf(fault.ExpressionError, "script program: %v", err)
	}

	r.mu.Lock()
	r.cache[src] = program
	r.mu.Unlock()
	return program, nil
}

// toNative converts a CEL result into JSON-native Go values via the
// protobuf Value bridge, falling back to the raw value.
func toNative(raw any, val interface {
	ConvertToNative(reflect.Type) (any, error)
}) any {
	converted, err := val.ConvertToNative(reflect.TypeOf((*structpb.Value)(nil)))
	if err != nil {
		return raw
	}
	pb, ok := converted.(*structpb.Value)
	if !ok {
		return raw
	}
	return pb.AsInterface()
}
