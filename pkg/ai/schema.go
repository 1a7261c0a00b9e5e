package ai

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// generationSchema constrains the model's JSON output before it is accepted
// into the immutable question bank.
const generationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["question", "options", "correctAnswer"],
        "properties": {
          "question": {"type": "string", "minLength": 1},
          "options": {
            "type": "array",
            "minItems": 2,
            "items": {"type": "string", "minLength": 1}
          },
          "correctAnswer": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var compiledGenerationSchema = jsonschema.MustCompileString("generation.json", generationSchema)
