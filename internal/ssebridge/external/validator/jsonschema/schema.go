package jsonschema

// DefaultDSLSchema is the minimal UI DSL shape the bridge validates
// against when no deployment-specific schema is configured: a title,
// pixel dimensions, and a non-empty element list.
const DefaultDSLSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "width", "height", "elements"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "width": {"type": "integer", "minimum": 1},
    "height": {"type": "integer", "minimum": 1},
    "elements": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`
