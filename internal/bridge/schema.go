package bridge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Inbound payload schemas, keyed by message type. Structural validation runs
// before decoding so a surface bug or a hostile frame fails loudly at the
// boundary instead of producing a half-populated command.
var payloadSchemas = map[string]string{
	TypeOpenEntity:   targetSchema,
	TypeDeleteEntity: targetSchema,
	TypeOpenEntityMenu: `{
		"type": "object",
		"anyOf": [{"required": ["index"]}, {"required": ["title"]}],
		"properties": {
			"index": {"type": "integer", "minimum": 0},
			"title": {"type": "string"},
			"x": {"type": "number"},
			"y": {"type": "number"}
		}
	}`,
	TypeDeleteBatch: `{
		"type": "object",
		"required": ["entities"],
		"properties": {
			"entities": {
				"type": "array",
				"minItems": 1,
				"items": ` + entityRefSchema + `
			}
		}
	}`,
	TypeVisibilityUpdate: `{
		"type": "object",
		"required": ["folderByTitle"],
		"properties": {
			"folderByTitle": {
				"type": "object",
				"additionalProperties": {"type": ["string", "null"]}
			}
		}
	}`,
	TypeFolderCreate: `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string"},
			"parentId": {"type": ["string", "null"]}
		}
	}`,
	TypeFolderRename: `{
		"type": "object",
		"required": ["folderId", "name"],
		"properties": {
			"folderId": {"type": "string", "minLength": 1},
			"name": {"type": "string"}
		}
	}`,
	TypeFolderDelete: folderIDSchema,
	TypeFolderToggle: folderIDSchema,
	TypeAssignEntity: `{
		"type": "object",
		"required": ["key", "folderId"],
		"properties": {
			"key": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"folderId": {"type": "string"}
		}
	}`,
	TypeAssignBatch: `{
		"type": "object",
		"required": ["entities", "folderId"],
		"properties": {
			"entities": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["key"],
					"properties": {
						"key": {"type": "string", "minLength": 1},
						"title": {"type": "string"}
					}
				}
			},
			"folderId": {"type": "string"}
		}
	}`,
}

const entityRefSchema = `{
	"type": "object",
	"required": ["index"],
	"properties": {
		"index": {"type": "integer", "minimum": 0},
		"title": {"type": "string"},
		"key": {"type": "string"}
	}
}`

const targetSchema = `{
	"type": "object",
	"anyOf": [{"required": ["index"]}, {"required": ["title"]}],
	"properties": {
		"index": {"type": "integer", "minimum": 0},
		"title": {"type": "string"}
	}
}`

const folderIDSchema = `{
	"type": "object",
	"required": ["folderId"],
	"properties": {"folderId": {"type": "string", "minLength": 1}}
}`

// Validator holds the compiled inbound schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every inbound payload schema. Compilation failure is
// a programming error and surfaces at startup.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(payloadSchemas))

	for msgType, src := range payloadSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", msgType, err)
		}
		url := "bridge:///" + msgType + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", msgType, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", msgType, err)
		}
		compiled[msgType] = sch
	}

	return &Validator{schemas: compiled}, nil
}

// Validate checks an envelope's payload against the schema for its type.
// Types without a schema (payload-less commands) pass through.
func (v *Validator) Validate(env Envelope) error {
	sch, ok := v.schemas[env.Type]
	if !ok {
		return nil
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", env.Type)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(env.Payload))
	if err != nil {
		return fmt.Errorf("%s: payload is not JSON: %w", env.Type, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
