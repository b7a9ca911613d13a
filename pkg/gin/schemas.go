package gin

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const addressPattern = `^0x[0-9a-fA-F]{40}$`

// amounts are uint256 values in smallest units, decimal or 0x-hex
const amountPattern = `^([0-9]+|0x[0-9a-fA-F]+)$`

const signaturePattern = `^(0x)?[0-9a-fA-F]{130}$`

var singleTransferSchema = mustSchema(`{
	"type": "object",
	"required": ["owner", "spender", "recipient", "value", "deadline", "signature"],
	"additionalProperties": false,
	"properties": {
		"owner":     {"type": "string", "pattern": "` + addressPattern + `"},
		"spender":   {"type": "string", "pattern": "` + addressPattern + `"},
		"recipient": {"type": "string", "pattern": "` + addressPattern + `"},
		"value":     {"type": "string", "pattern": "` + amountPattern + `"},
		"deadline":  {"type": "string", "pattern": "` + amountPattern + `"},
		"signature": {"type": "string", "pattern": "` + signaturePattern + `"},
		"fee":       {"type": "string", "pattern": "` + amountPattern + `"},
		"nonce":     {"type": "string", "pattern": "` + amountPattern + `"}
	}
}`)

var bulkTransferSchema = mustSchema(`{
	"type": "object",
	"required": ["owner", "spender", "recipients", "value", "deadline", "signature"],
	"additionalProperties": false,
	"properties": {
		"owner":      {"type": "string", "pattern": "` + addressPattern + `"},
		"spender":    {"type": "string", "pattern": "` + addressPattern + `"},
		"recipients": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["to", "amount"],
				"additionalProperties": false,
				"properties": {
					"to":     {"type": "string", "pattern": "` + addressPattern + `"},
					"amount": {"type": "string", "pattern": "` + amountPattern + `"}
				}
			}
		},
		"value":     {"type": "string", "pattern": "` + amountPattern + `"},
		"deadline":  {"type": "string", "pattern": "` + amountPattern + `"},
		"signature": {"type": "string", "pattern": "` + signaturePattern + `"},
		"fee":       {"type": "string", "pattern": "` + amountPattern + `"},
		"nonce":     {"type": "string", "pattern": "` + amountPattern + `"}
	}
}`)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// validateBody checks body against schema and returns a readable summary of
// every violation
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("%s", strings.Join(errors, "; "))
}
