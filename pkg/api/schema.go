package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "urn:credledger:schema:"

// requestSchemas are the JSON Schemas request bodies are checked against
// before they reach the service.
var requestSchemas = map[string]string{
	"issue": `{
  "type": "object",
  "required": ["user_id", "mission", "scoring", "organization_signature"],
  "additionalProperties": false,
  "properties": {
    "user_id": {"type": "string", "minLength": 1, "maxLength": 256},
    "mission": {
      "type": "object",
      "required": ["id", "organization_id"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1, "maxLength": 256},
        "title": {"type": "string", "maxLength": 1024},
        "organization_id": {"type": "string", "minLength": 1, "maxLength": 256}
      }
    },
    "scoring": {
      "type": "object",
      "required": ["impact_strength"],
      "additionalProperties": false,
      "properties": {
        "impact_strength": {"type": "integer", "minimum": 0, "maximum": 100},
        "skills_mastered": {"type": "array", "items": {"type": "string", "minLength": 1}, "maxItems": 128},
        "verification_level": {"enum": ["", "self_reported", "peer_verified", "organization_verified", "third_party_audited"]}
      }
    },
    "organization_signature": {"type": "string", "minLength": 1, "contentEncoding": "base64"}
  }
}`,
	"revoke": `{
  "type": "object",
  "required": ["reason", "revoker_signature"],
  "additionalProperties": false,
  "properties": {
    "reason": {"type": "string", "minLength": 1, "maxLength": 1024},
    "revoker_signature": {"type": "string", "minLength": 1, "contentEncoding": "base64"}
  }
}`,
	"dispute": `{
  "type": "object",
  "required": ["reason"],
  "additionalProperties": false,
  "properties": {
    "reason": {"type": "string", "minLength": 1, "maxLength": 1024},
    "disputed_by": {"type": "string", "maxLength": 256}
  }
}`,
	"export": `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "from": {"type": "integer", "minimum": 0},
    "to": {"type": "integer", "minimum": 0}
  }
}`,
}

type schemaSet map[string]*jsonschema.Schema

func compileSchemas() (schemaSet, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for name, src := range requestSchemas {
		if err := c.AddResource(schemaBase+name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
	}
	set := make(schemaSet, len(requestSchemas))
	for name := range requestSchemas {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
		}
		set[name] = s
	}
	return set, nil
}

// decode validates body against the named schema and then decodes it into v.
func (s schemaSet) decode(name string, body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s[name].Validate(doc); err != nil {
		return fmt.Errorf("request does not match schema: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
