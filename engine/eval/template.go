package eval

import (
	"strings"

	"github.com/relaydev/relay/engine/fault"
)

// Render substitutes every {{ expr }} segment in a template string.
// Segment results are stringified: nil renders empty, objects and arrays
// render as JSON.
func (e *Evaluator) Render(template string, root map[string]any) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			// Unterminated segment renders literally.
			out.WriteString(rest)
			return out.String(), nil
		}
		end += start

		out.WriteString(rest[:start])
		src := strings.TrimSpace(rest[start+2 : end])
		if src != "" {
			value, err := e.Eval(src, root)
			if err != nil {
				return "", err
			}
			out.WriteString(Stringify(value))
		}
		rest = rest[end+2:]
	}
}

// RenderValue renders templates structurally: strings are rendered, maps
// and lists recurse, everything else passes through untouched.
func (e *Evaluator) RenderValue(value any, root map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.Render(v, root)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			rendered, err := e.RenderValue(item, root)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := e.RenderValue(item, root)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderMap renders a map template, tolerating nil.
func (e *Evaluator) RenderMap(value map[string]any, root map[string]any) (map[string]any, error) {
	if value == nil {
		return nil, nil
	}
	rendered, err := e.RenderValue(value, root)
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]any)
	if !ok {
		return nil, fault.Errorf(fault.ExpressionError, "template did not render to an object")
	}
	return out, nil
}
