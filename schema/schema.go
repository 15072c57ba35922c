// Package schema adapts the external schema engine to the request pipeline.
// The engine owns the schema language; this package owns the validation modes
// the pipeline needs (strict for writes, lax for query filters) and the
// sanitization of data crossing the API boundary.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by an Engine when no schema has the requested name.
var ErrNotFound = errors.New("schema not found")

// ValidateOptions control how strictly a document is validated.
type ValidateOptions struct {
	// IgnoreRequired skips required-field enforcement.
	IgnoreRequired bool
	// UseDefaults fills absent fields from schema defaults.
	UseDefaults bool
}

// StrictOptions is the mode for mutating payloads.
func StrictOptions() ValidateOptions {
	return ValidateOptions{IgnoreRequired: false, UseDefaults: true}
}

// LaxOptions is the mode for query filters: partial objects are fine and no
// defaults are injected.
func LaxOptions() ValidateOptions {
	return ValidateOptions{IgnoreRequired: true, UseDefaults: false}
}

// FieldError is one field-level validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates the field-level problems found in one document.
type ValidationError struct {
	SchemaName string       `json:"schema"`
	Errors     []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return fmt.Sprintf("validation against '%s' failed: %s", e.SchemaName, strings.Join(parts, "; "))
}

// IsValidationError reports whether err carries field-level validation detail.
func IsValidationError(err error) bool {
	target := &ValidationError{}
	return errors.As(err, &target)
}

// Schema is one named schema held by the engine.
type Schema interface {
	Name() string
	// Raw returns the schema document itself, for serving over HTTP.
	Raw() json.RawMessage
	// Validate returns a validated (and possibly defaulted/normalized) copy
	// of doc, or a ValidationError.
	Validate(ctx context.Context, doc db.Document, opts ValidateOptions) (db.Document, error)
	// Sanitize strips fields callers may not set or read directly. It is
	// idempotent.
	Sanitize(ctx context.Context, doc db.Document) (db.Document, error)
}

// Engine is the external schema engine boundary.
type Engine interface {
	GetSchema(ctx context.Context, name string) (Schema, error)
}

// Validate fetches the named schema and validates data against it.
func Validate(ctx context.Context, engine Engine, name string, data db.Document, opts ValidateOptions) (db.Document, error) {
	s, err := engine.GetSchema(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "getting schema '%s'", name)
	}
	return s.Validate(ctx, data, opts)
}

// NormalizeFilter runs lax validation over a query filter to normalize typed
// fields (notably id-like values). A compound $or has each branch validated
// independently. Validation failures never fail the query: the branch or
// filter is kept verbatim and the store arbitrates matching.
func NormalizeFilter(ctx context.Context, engine Engine, name string, filter db.Document) db.Document {
	if engine == nil || name == "" || filter == nil {
		return filter
	}
	if branches, ok := filter["$or"].([]any); ok {
		normalized := make([]any, 0, len(branches))
		for _, b := range branches {
			branch := asDocument(b)
			if branch == nil {
				normalized = append(normalized, b)
				continue
			}
			v, err := Validate(ctx, engine, name, branch, LaxOptions())
			if err != nil {
				logNormalizeFailure(name, err)
				normalized = append(normalized, b)
				continue
			}
			normalized = append(normalized, v)
		}
		out := filter.Copy()
		out["$or"] = normalized
		return out
	}
	v, err := Validate(ctx, engine, name, filter, LaxOptions())
	if err != nil {
		logNormalizeFailure(name, err)
		return filter
	}
	return v
}

func logNormalizeFailure(name string, err error) {
	grip.Debug(message.WrapError(err, message.Fields{
		"message": "query filter failed lax validation, keeping it verbatim",
		"schema":  name,
	}))
}

// Sanitize cleans a single document or a list of documents uniformly. Data of
// any other shape is returned untouched.
func Sanitize(ctx context.Context, engine Engine, name string, data any) (any, error) {
	if engine == nil || name == "" || data == nil {
		return data, nil
	}
	s, err := engine.GetSchema(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "getting schema '%s'", name)
	}
	switch t := data.(type) {
	case db.Document:
		return s.Sanitize(ctx, t)
	case db.DocumentList:
		out := make(db.DocumentList, 0, len(t))
		for _, doc := range t {
			clean, err := s.Sanitize(ctx, doc)
			if err != nil {
				return nil, errors.Wrap(err, "sanitizing list item")
			}
			out = append(out, clean)
		}
		return out, nil
	default:
		return data, nil
	}
}

func asDocument(v any) db.Document {
	switch t := v.(type) {
	case db.Document:
		return t
	case map[string]any:
		return db.Document(t)
	default:
		return nil
	}
}
