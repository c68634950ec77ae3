// Package validation sanitizes and schema-checks incoming intents before
// anything else touches them. Rejections are values, never panics: callers
// receive either a validated view of the payload or a structured rejection
// with the offending field path.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voriongit/vorion/core/pkg/apierror"
)

// DefaultMaxPayloadBytes is the payload byte budget applied when none is
// configured.
const DefaultMaxPayloadBytes = 1 << 20 // 1 MiB

// FieldError pinpoints a single validation failure.
type FieldError struct {
	Path     string `json:"path"`
	Code     string `json:"code"`
	Expected string `json:"expected,omitempty"`
	Received string `json:"received,omitempty"`
}

// Rejection is the structured outcome of a failed validation.
type Rejection struct {
	Code   apierror.Code `json:"code"`
	Fields []FieldError  `json:"fields,omitempty"`
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if len(r.Fields) == 0 {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Code, r.Fields[0].Path, r.Fields[0].Code)
}

// Validator compiles schemas once and applies them to request bodies,
// query parameters, and path parameters.
type Validator struct {
	maxPayloadBytes int64
	schemas         map[string]*jsonschema.Schema
}

// New creates a validator with the given payload budget. A non-positive
// budget falls back to the default.
func New(maxPayloadBytes int64) *Validator {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &Validator{
		maxPayloadBytes: maxPayloadBytes,
		schemas:         make(map[string]*jsonschema.Schema),
	}
}

// RegisterSchema compiles and stores a JSON schema under a name.
func (v *Validator) RegisterSchema(name, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://vorion.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("validation: schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("validation: schema compile failed: %w", err)
	}
	v.schemas[name] = compiled
	return nil
}

// ValidateBody checks a raw request body against the named schema.
// On success it returns the sanitized, decoded payload; the raw input is
// never partially mutated.
func (v *Validator) ValidateBody(payload []byte, schemaName string) (map[string]any, *Rejection) {
	if int64(len(payload)) > v.maxPayloadBytes {
		return nil, &Rejection{
			Code: apierror.CodePayloadTooLarge,
			Fields: []FieldError{{
				Path:     "",
				Code:     "payload_too_large",
				Expected: fmt.Sprintf("<= %d bytes", v.maxPayloadBytes),
				Received: fmt.Sprintf("%d bytes", len(payload)),
			}},
		}
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &Rejection{
			Code:   apierror.CodeInvalidInput,
			Fields: []FieldError{{Path: "", Code: "malformed_json", Received: err.Error()}},
		}
	}

	sanitized := sanitizeValue(decoded)
	if fe := scanForInjection("", sanitized); fe != nil {
		return nil, &Rejection{Code: apierror.CodeValidation, Fields: []FieldError{*fe}}
	}

	if rej := v.applySchema(schemaName, sanitized); rej != nil {
		return nil, rej
	}

	obj, ok := sanitized.(map[string]any)
	if !ok {
		return nil, &Rejection{
			Code:   apierror.CodeValidation,
			Fields: []FieldError{{Path: "", Code: "type_mismatch", Expected: "object", Received: fmt.Sprintf("%T", sanitized)}},
		}
	}
	return obj, nil
}

// ValidateQuery checks query parameters against the named schema.
func (v *Validator) ValidateQuery(params map[string]string, schemaName string) (map[string]any, *Rejection) {
	return v.validateParams(params, schemaName)
}

// ValidatePath checks path parameters against the named schema.
func (v *Validator) ValidatePath(params map[string]string, schemaName string) (map[string]any, *Rejection) {
	return v.validateParams(params, schemaName)
}

func (v *Validator) validateParams(params map[string]string, schemaName string) (map[string]any, *Rejection) {
	decoded := make(map[string]any, len(params))
	for k, val := range params {
		decoded[sanitizeString(k)] = sanitizeString(val)
	}
	if fe := scanForInjection("", any(decoded)); fe != nil {
		return nil, &Rejection{Code: apierror.CodeValidation, Fields: []FieldError{*fe}}
	}
	if rej := v.applySchema(schemaName, any(decoded)); rej != nil {
		return nil, rej
	}
	return decoded, nil
}

func (v *Validator) applySchema(name string, value any) *Rejection {
	schema, ok := v.schemas[name]
	if !ok {
		return &Rejection{
			Code:   apierror.CodeInternal,
			Fields: []FieldError{{Path: "", Code: "unknown_schema", Received: name}},
		}
	}
	if err := schema.Validate(value); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Rejection{Code: apierror.CodeValidation, Fields: flattenSchemaError(ve)}
		}
		return &Rejection{
			Code:   apierror.CodeValidation,
			Fields: []FieldError{{Path: "", Code: "schema_violation", Received: err.Error()}},
		}
	}
	return nil
}

func flattenSchemaError(ve *jsonschema.ValidationError) []FieldError {
	// Leaf causes carry the precise instance location; the root message is
	// a generic summary.
	if len(ve.Causes) == 0 {
		return []FieldError{{
			Path:     strings.TrimPrefix(ve.InstanceLocation, "/"),
			Code:     "schema_violation",
			Expected: ve.Message,
		}}
	}
	var fields []FieldError
	for _, cause := range ve.Causes {
		fields = append(fields, flattenSchemaError(cause)...)
	}
	return fields
}
