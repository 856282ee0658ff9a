package ingest

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// rawEventSchema validates the inbound envelope before anything touches
// the database. source_type drives classification downstream, so it is
// the one field beyond identity and timing that must be present.
const rawEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "seclens raw event",
  "type": "object",
  "required": ["event_time", "source_type"],
  "properties": {
    "event_key":   {"type": "string", "minLength": 1, "maxLength": 512},
    "event_time":  {"type": ["string", "number"]},
    "source":      {"type": "string"},
    "source_type": {"type": "string", "minLength": 1},
    "host":        {"type": "string"},
    "agent_name":  {"type": "string"},
    "rule_id":     {"type": "string"},
    "payload":     {"type": "object"},
    "raw_text":    {"type": "string"}
  },
  "additionalProperties": false
}`

// compileSchema compiles the embedded envelope schema. The schema is a
// compile-time constant, so failure is a programming error surfaced at
// startup, not per message.
func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("raw_event.json", strings.NewReader(rawEventSchema)); err != nil {
		return nil, fmt.Errorf("failed to add raw event schema: %w", err)
	}
	schema, err := c.Compile("raw_event.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile raw event schema: %w", err)
	}
	return schema, nil
}
