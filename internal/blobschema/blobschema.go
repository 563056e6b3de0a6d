// Package blobschema validates the three optional JSON blobs that flow
// through Template Jobs and Jobs — artifact_strategy, retry_strategy, and
// job_multiplier — against fixed JSON Schema documents. Grounded on
// internal/contract/jsonschema.go's santhosh-tekuri/jsonschema/v6 compiler
// usage, trimmed from the teacher's general-purpose deliverable-contract
// checker (arbitrary user schemas, cleaning, retries) down to three
// schemas fixed at compile time.
package blobschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const artifactStrategySchema = `{
  "type": "object",
  "properties": {
    "type": {"enum": ["stdout_final", "workspace_delta", "composite"]},
    "job_dir": {"type": "string"},
    "strategies": {"type": "array", "items": {"type": "object"}}
  },
  "required": ["type"]
}`

const retryStrategySchema = `{
  "type": "object",
  "properties": {
    "include_context": {"type": "boolean"},
    "context_instruction": {"type": "string"},
    "max_retries": {"type": "integer", "minimum": 0}
  }
}`

const jobMultiplierSchema = `{
  "type": "object",
  "properties": {
    "source_template_job_id": {"type": "string"},
    "source_type": {"enum": ["artifact", "action"]},
    "artifact_name": {"type": "string"},
    "parse_strategy": {"enum": ["json_array", "line_delimited", "comma_separated"]},
    "prompt_template": {"type": "string"}
  },
  "required": ["source_template_job_id"]
}`

// Kind identifies which of the three fixed schemas to validate against.
type Kind string

const (
	KindArtifactStrategy Kind = "artifact_strategy"
	KindRetryStrategy    Kind = "retry_strategy"
	KindJobMultiplier    Kind = "job_multiplier"
)

var compiled = map[Kind]*jsonschema.Schema{}

func init() {
	schemas := map[Kind]string{
		KindArtifactStrategy: artifactStrategySchema,
		KindRetryStrategy:    retryStrategySchema,
		KindJobMultiplier:    jobMultiplierSchema,
	}
	for kind, raw := range schemas {
		compiler := jsonschema.NewCompiler()
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			panic(fmt.Sprintf("blobschema: invalid builtin schema %s: %v", kind, err))
		}
		url := string(kind) + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			panic(fmt.Sprintf("blobschema: add schema resource %s: %v", kind, err))
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("blobschema: compile schema %s: %v", kind, err))
		}
		compiled[kind] = schema
	}
}

// Validate checks raw JSON against the fixed schema for kind. An empty raw
// string is always valid — every one of these blobs is optional.
func Validate(kind Kind, raw string) error {
	if raw == "" {
		return nil
	}
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return fmt.Errorf("%s: invalid json: %w", kind, err)
	}
	schema, ok := compiled[kind]
	if !ok {
		return fmt.Errorf("%s: no schema registered", kind)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}
