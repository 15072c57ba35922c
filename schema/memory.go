package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/adapt-security/adapt-authoring-api/db"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FieldSpec describes one field of a MemorySchema.
type FieldSpec struct {
	// Type is one of "string", "number", "boolean", "id", "object", "array".
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
	// ReadOnly fields are stripped by Sanitize; callers cannot set them.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// MemorySchema is a minimal Schema backed by in-memory field definitions. It
// exists for tests and the bundled server binary; it is not a schema
// language implementation, and deployments plug in their own Engine.
type MemorySchema struct {
	SchemaName string
	Fields     map[string]FieldSpec

	raw json.RawMessage
}

func (s *MemorySchema) Name() string { return s.SchemaName }

func (s *MemorySchema) Raw() json.RawMessage {
	if s.raw == nil {
		names := make([]string, 0, len(s.Fields))
		for name := range s.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		props := map[string]any{}
		required := []string{}
		for _, name := range names {
			spec := s.Fields[name]
			props[name] = map[string]any{"type": spec.Type}
			if spec.Required {
				required = append(required, name)
			}
		}
		s.raw, _ = json.Marshal(map[string]any{
			"$anchor":    s.SchemaName,
			"type":       "object",
			"properties": props,
			"required":   required,
		})
	}
	return s.raw
}

func (s *MemorySchema) Validate(ctx context.Context, doc db.Document, opts ValidateOptions) (db.Document, error) {
	out := doc.Copy()
	if out == nil {
		out = db.Document{}
	}
	verr := &ValidationError{SchemaName: s.SchemaName}
	for name, spec := range s.Fields {
		val, present := out[name]
		if !present {
			if spec.Default != nil && opts.UseDefaults {
				out[name] = spec.Default
			} else if spec.Required && !opts.IgnoreRequired {
				verr.Errors = append(verr.Errors, FieldError{Field: name, Message: "required field missing"})
			}
			continue
		}
		normalized, ok := coerce(val, spec.Type)
		if !ok {
			verr.Errors = append(verr.Errors, FieldError{
				Field:   name,
				Message: fmt.Sprintf("expected %s, got %T", spec.Type, val),
			})
			continue
		}
		out[name] = normalized
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}
	return out, nil
}

func (s *MemorySchema) Sanitize(ctx context.Context, doc db.Document) (db.Document, error) {
	out := doc.Copy()
	for name, spec := range s.Fields {
		if spec.ReadOnly {
			delete(out, name)
		}
	}
	return out, nil
}

func coerce(val any, fieldType string) (any, bool) {
	switch fieldType {
	case "string":
		s, ok := val.(string)
		return s, ok
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return val, true
		}
		return nil, false
	case "boolean":
		b, ok := val.(bool)
		return b, ok
	case "id":
		switch t := val.(type) {
		case primitive.ObjectID:
			return t, true
		case string:
			if oid, err := primitive.ObjectIDFromHex(t); err == nil {
				return oid, true
			}
			return t, true
		}
		return nil, false
	case "object":
		switch t := val.(type) {
		case db.Document:
			return t, true
		case map[string]any:
			return db.Document(t), true
		}
		return nil, false
	case "array":
		a, ok := val.([]any)
		return a, ok
	default:
		return val, true
	}
}

// MemoryEngine is an Engine over a fixed set of MemorySchemas.
type MemoryEngine struct {
	schemas map[string]*MemorySchema
}

func NewMemoryEngine(schemas ...*MemorySchema) *MemoryEngine {
	e := &MemoryEngine{schemas: map[string]*MemorySchema{}}
	for _, s := range schemas {
		e.schemas[s.SchemaName] = s
	}
	return e
}

func (e *MemoryEngine) GetSchema(ctx context.Context, name string) (Schema, error) {
	s, ok := e.schemas[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

var (
	_ Schema = (*MemorySchema)(nil)
	_ Engine = (*MemoryEngine)(nil)
)
