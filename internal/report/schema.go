package report

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// outcomeSchema is the contract for serialized run outcomes. Downstream
// consumers (the journal, log shippers) validate against it instead of
// trusting field presence.
const outcomeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "RunOutcome",
  "type": "object",
  "required": [
    "run_id", "table", "dry_run", "phase_reached",
    "rows_marked", "rows_exported", "rows_deleted",
    "started_at", "finished_at", "elapsed_ms"
  ],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "table": {"type": "string", "minLength": 1},
    "dry_run": {"type": "boolean"},
    "phase_reached": {
      "type": "string",
      "enum": ["idle", "marking", "marked", "exporting", "exported", "deleting", "completed"]
    },
    "rows_marked": {"type": "integer", "minimum": 0},
    "rows_exported": {"type": "integer", "minimum": 0},
    "rows_deleted": {"type": "integer", "minimum": 0},
    "unexported_rows": {"type": "integer", "minimum": 0},
    "already_exported_rows": {"type": "integer", "minimum": 0},
    "total_rows": {"type": "integer", "minimum": 0},
    "statement_count": {"type": "integer", "minimum": 0},
    "started_at": {"type": "string"},
    "finished_at": {"type": "string"},
    "elapsed_ms": {"type": "integer", "minimum": 0},
    "error": {"type": "string"}
  },
  "additionalProperties": false
}`

// ValidateJSON checks a serialized outcome against the schema.
func ValidateJSON(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(outcomeSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed to run: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("run outcome does not match schema: %s", strings.Join(msgs, "; "))
}
