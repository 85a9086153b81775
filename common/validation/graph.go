// Package validation checks authored graph documents at the control-plane
// boundary, before a version row is created.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// graphSchema accepts both the authored node shape and the legacy canvas
// shape; structural mistakes are rejected here, semantic ones (unknown
// entry node, bad node_type) surface as run-time node failures.
const graphSchema = `{
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "entry_node_id": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "node_type": {"type": "string"},
          "type": {"type": "string"},
          "label": {"type": "string"},
          "config": {"type": "object"},
          "data": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "id": {"type": "string"},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "condition": {"type": "string"},
          "sourceHandle": {"type": "string"},
          "breakpoint": {"type": "boolean"},
          "data": {"type": "object"}
        }
      }
    }
  }
}`

var compiledGraphSchema = gojsonschema.NewStringLoader(graphSchema)

// ValidateGraph checks a graph document against the structural schema.
// The returned error message lists every violation.
func ValidateGraph(graphJSON map[string]any) error {
	result, err := gojsonschema.Validate(compiledGraphSchema, gojsonschema.NewGoLoader(graphJSON))
	if err != nil {
		return fmt.Errorf("validate graph: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid graph: %s", strings.Join(problems, "; "))
}
