package relayserver

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// requestProperties is shared by single and batch entries. Integers are
// bounded to the range JSON numbers carry exactly.
const requestProperties = `
	"chain_id":  {"type": "integer", "minimum": 1, "maximum": 9007199254740991},
	"from":      {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
	"to":        {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
	"value":     {"type": "integer", "minimum": 0, "maximum": 9007199254740991},
	"gas":       {"type": "integer", "minimum": 0, "maximum": 9007199254740991},
	"deadline":  {"type": "integer", "minimum": 0, "maximum": 9007199254740991},
	"nonce":     {"type": "integer", "minimum": 0, "maximum": 9007199254740991},
	"data":      {"type": "string", "pattern": "^0x([0-9a-fA-F]{2})*$"},
	"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"}`

const requestRequired = `"chain_id", "from", "to", "value", "gas", "deadline", "nonce", "data", "signature"`

// SingleRelaySchema describes the body of POST /relay
var SingleRelaySchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {` + requestProperties + `,
		"access_key": {"type": "string", "minLength": 1}
	},
	"required": [` + requestRequired + `, "access_key"]
}`)

// BatchRelaySchema describes the body of POST /batch-relay
var BatchRelaySchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"requests": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {` + requestProperties + `},
				"required": [` + requestRequired + `]
			}
		},
		"refund_receiver": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"}
	},
	"required": ["requests", "refund_receiver"]
}`)

// ValidationResult represents the result of validating a request body
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateBody validates a JSON body against schema
//
// Args:
//   - schema: JSON schema document
//   - body: Raw request body
//
// Returns:
//   - ValidationResult with Valid set and the schema violations otherwise
func ValidateBody(schema []byte, body []byte) ValidationResult {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return ValidationResult{Valid: false, Errors: errs}
}
