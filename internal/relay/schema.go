package relay

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const signRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "archiveName": {"type": "string", "minLength": 1, "maxLength": 255},
    "subcommands": {"type": "string"}
  },
  "required": ["archiveName", "subcommands"],
  "additionalProperties": false
}`

const removeRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {"type": "string"}
}`

var (
	signRequestSchema   = jsonschema.MustCompileString("inmemory://signrelay/sign-request.json", signRequestSchemaJSON)
	removeRequestSchema = jsonschema.MustCompileString("inmemory://signrelay/remove-request.json", removeRequestSchemaJSON)
)

// decodeValidated checks data against schema, then decodes it into out.
func decodeValidated(schema *jsonschema.Schema, data []byte, out any) error {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// decodeSignRequest parses and validates a sign request body.
func decodeSignRequest(data []byte) (*SignRequest, error) {
	var req SignRequest
	if err := decodeValidated(signRequestSchema, data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// decodeRemoveRequest parses and validates a remove request body.
func decodeRemoveRequest(data []byte) ([]string, error) {
	var names []string
	if err := decodeValidated(removeRequestSchema, data, &names); err != nil {
		return nil, err
	}
	return names, nil
}
