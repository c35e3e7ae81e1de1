package wiring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/gadgetmesh/errors"
)

// actionDocumentSchema validates a topology document before any action runs,
// so a half-applied bad document cannot leave the scope inconsistent.
const actionDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["op"],
    "properties": {
      "op": {"type": "string", "enum": ["spawn", "wire"]},
      "name": {"type": "string", "minLength": 1},
      "kind": {"type": "string", "minLength": 1},
      "merge": {"type": "string"},
      "source": {"type": "string", "minLength": 1},
      "target": {"type": "string", "minLength": 1},
      "source_port": {"type": "string"},
      "target_port": {"type": "string"},
      "keys": {"type": "array", "items": {"type": "string", "minLength": 1}}
    },
    "allOf": [
      {
        "if": {"properties": {"op": {"const": "spawn"}}},
        "then": {"required": ["name", "kind"]}
      },
      {
        "if": {"properties": {"op": {"const": "wire"}}},
        "then": {"required": ["source", "target"]}
      }
    ],
    "additionalProperties": false
  }
}`

var actionSchema = gojsonschema.NewStringLoader(actionDocumentSchema)

// ValidateDocument checks a raw JSON topology document against the action
// schema and reports every violation at once.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(actionSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(err, "Wiring", "ValidateDocument", "document parse")
	}
	if result.Valid() {
		return nil
	}
	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("document invalid: %s", strings.Join(issues, "; ")),
		"Wiring", "ValidateDocument", "schema validation")
}

// LoadActions validates and decodes a topology document.
func LoadActions(data []byte) ([]Action, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var actions []Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, errors.WrapInvalid(err, "Wiring", "LoadActions", "document decode")
	}
	return actions, nil
}

// ApplyDocument validates, decodes, and applies a topology document in one
// step.
func (in *Interpreter) ApplyDocument(data []byte) error {
	actions, err := LoadActions(data)
	if err != nil {
		return err
	}
	return in.Apply(actions)
}
