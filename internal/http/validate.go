package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const maxBodyBytes = 1 << 20

const schemaStartSession = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "merchant": { "type": "string" },
    "payerName": { "type": "string" },
    "location": {
      "type": "object",
      "required": ["latitude", "longitude"],
      "properties": {
        "latitude": { "type": "number", "minimum": -90, "maximum": 90 },
        "longitude": { "type": "number", "minimum": -180, "maximum": 180 },
        "accuracy": { "type": "number", "minimum": 0 }
      }
    }
  },
  "additionalProperties": false
}`

const schemaBranch = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mode"],
  "properties": {
    "mode": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const schemaProgress = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["percent"],
  "properties": {
    "percent": { "type": "integer" }
  },
  "additionalProperties": false
}`

const schemaComplete = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["confidence"],
  "properties": {
    "confidence": { "type": "number", "minimum": 0, "maximum": 1 },
    "payload": { "type": "string" },
    "transcript": { "type": "string" }
  },
  "additionalProperties": false
}`

const schemaFail = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "reason": { "type": "string" }
  },
  "additionalProperties": false
}`

var (
	startSessionSchema = mustSchema(schemaStartSession)
	branchSchema       = mustSchema(schemaBranch)
	progressSchema     = mustSchema(schemaProgress)
	completeSchema     = mustSchema(schemaComplete)
	failSchema         = mustSchema(schemaFail)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// decodeBody validates the request body against schema and decodes it into
// dst. An empty body is accepted when optional is set.
func decodeBody(r *http.Request, schema *gojsonschema.Schema, dst any, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return nil
		}
		return fmt.Errorf("request body is required")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return fmt.Errorf("request does not match schema: %s", sb.String())
	}

	return json.Unmarshal(body, dst)
}
