package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

const callbackSchemaURL = "callback.schema.json"

// callbackSchema describes the provider's webhook body. Completed notifications carry
// the transcript either inline or under "payload"; others carry only the id and status.
const callbackSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "anyOf": [
    {"required": ["transcript_id"]},
    {"required": ["id"]},
    {"required": ["job_id"]}
  ],
  "properties": {
    "transcript_id": {"type": "string", "minLength": 1},
    "id": {"type": "string", "minLength": 1},
    "job_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "minLength": 1},
    "text": {"$ref": "#/definitions/text"},
    "error": {"type": ["string", "null"]},
    "audio_duration": {"$ref": "#/definitions/duration"},
    "utterances": {"$ref": "#/definitions/utterances"},
    "payload": {
      "type": ["object", "null"],
      "properties": {
        "text": {"$ref": "#/definitions/text"},
        "error": {"type": ["string", "null"]},
        "audio_duration": {"$ref": "#/definitions/duration"},
        "utterances": {"$ref": "#/definitions/utterances"}
      }
    }
  },
  "definitions": {
    "text": {"type": ["string", "null"]},
    "duration": {"type": ["number", "null"], "minimum": 0},
    "utterances": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["start", "end"],
        "properties": {
          "speaker": {"type": ["string", "integer", "null"]},
          "start": {"type": "number", "minimum": 0},
          "end": {"type": "number", "minimum": 0},
          "text": {"type": ["string", "null"]},
          "confidence": {"type": ["number", "null"]}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(callbackSchemaURL, strings.NewReader(callbackSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(callbackSchemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks raw against the callback schema.
// Every failure wraps domain.ErrInvalidPayload.
func Validate(raw []byte) error {
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile callback schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}
