package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator guards the tracking surface with JSON schemas so
// obviously malformed payloads are rejected before struct binding.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// Schemas are compiled in rather than loaded from disk; the tracking
// payloads are small and change with the code, not with deployment.
var schemaSources = map[string]string{
	"track_action": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["session_id", "sku"],
		"properties": {
			"customer_key": {"type": "string", "maxLength": 128},
			"session_id": {"type": "string", "minLength": 1, "maxLength": 128},
			"sku": {"type": "string", "minLength": 1, "maxLength": 64},
			"position_on_page": {"type": "integer", "minimum": 0},
			"score_snapshot": {
				"type": "object",
				"properties": {
					"composite": {"type": ["number", "string", "null"]},
					"personalize": {"type": ["number", "string", "null"]},
					"question": {"type": ["number", "string", "null"]},
					"order": {"type": ["number", "string", "null"]},
					"tracking": {"type": ["number", "string", "null"]},
					"version": {"type": "integer", "minimum": 0}
				},
				"additionalProperties": false
			}
		},
		"additionalProperties": false
	}`,
	"weights_update": `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["personalize", "question", "order", "tracking"],
		"properties": {
			"personalize": {"type": "number", "minimum": 0},
			"question": {"type": "number", "minimum": 0},
			"order": {"type": "number", "minimum": 0},
			"tracking": {"type": "number", "minimum": 0},
			"updated_by": {"type": "string", "maxLength": 128}
		},
		"additionalProperties": false
	}`,
}

// NewSchemaValidator compiles the built-in schemas.
func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema, len(schemaSources))}
	for name, source := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}
	return sv, nil
}

// ValidatePayload validates raw request bytes against a named schema.
func (sv *SchemaValidator) ValidatePayload(schemaName string, data []byte) *ValidationResult {
	return sv.validate(schemaName, data)
}

// ValidateStruct validates a Go value against a named schema.
func (sv *SchemaValidator) ValidateStruct(schemaName string, data interface{}) *ValidationResult {
	return sv.validate(schemaName, data)
}

func (sv *SchemaValidator) validate(schemaName string, data interface{}) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	var documentLoader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		documentLoader = gojsonschema.NewStringLoader(v)
	case []byte:
		documentLoader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &ValidationResult{
				Valid: false,
				Errors: []ValidationError{{
					Field:   "data",
					Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
					Code:    "JSON_MARSHAL_ERROR",
				}},
			}
		}
		documentLoader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "validation",
				Message: fmt.Sprintf("Validation error: %v", err),
				Code:    "VALIDATION_ERROR",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}

	if !result.Valid() {
		for _, err := range result.Errors() {
			validationResult.Errors = append(validationResult.Errors, ValidationError{
				Field:   err.Field(),
				Message: err.Description(),
				Code:    "VALIDATION_ERROR",
				Value:   err.Value(),
				Context: err.Context().String(),
			})
		}
	}

	return validationResult
}

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
	Context string      `json:"context,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// GetAvailableSchemas returns a list of loaded schema names
func (sv *SchemaValidator) GetAvailableSchemas() []string {
	schemas := make([]string, 0, len(sv.schemas))
	for name := range sv.schemas {
		schemas = append(schemas, name)
	}
	return schemas
}

// SchemaExists checks if a schema with the given name is loaded
func (sv *SchemaValidator) SchemaExists(name string) bool {
	_, exists := sv.schemas[name]
	return exists
}
