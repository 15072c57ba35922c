package route

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	api "github.com/adapt-security/adapt-authoring-api"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/evergreen-ci/gimlet"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type contextKey int

const requestContextKey contextKey = iota

// conventionally mutating verbs, used when a definition declares nothing
var conventionalModifiers = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// RequestContext is the normalized view of one request: resolved collection
// and schema, merged query parameters, and the decoded body. It lives for a
// single request and is never shared.
type RequestContext struct {
	Config         *Definition
	CollectionName string
	SchemaName     string
	// Query merges the query string and path parameters; path parameters
	// win.
	Query db.Document
	// Data is the decoded JSON body, nil when the request has none.
	Data db.Document
	// Modifying reports whether this verb mutates state on this route.
	Modifying bool
	// HasID is set when the route carried a singular-resource identifier.
	HasID bool
}

// GetContext returns the request context attached by the table middleware.
func GetContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// withContext wraps a handler with the request-context builder.
func (t *Table) withContext(def *Definition, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, err := t.buildContext(def, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(withRequestContext(r.Context(), rc)))
	}
}

// buildContext resolves names and merges the request inputs without mutating
// any of them.
func (t *Table) buildContext(def *Definition, r *http.Request) (*RequestContext, error) {
	collection := def.CollectionName
	if collection == "" {
		collection = t.module.Collection()
	}
	if collection == "" {
		return nil, api.NewConfigurationError("no collection resolvable for '%s'", r.URL.Path)
	}
	schemaName := def.SchemaName
	if schemaName == "" {
		schemaName = t.module.SchemaName()
	}

	query := db.Document{}
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			query[key] = vals[0]
		}
	}
	vars := mux.Vars(r)
	for key, val := range vars {
		query[key] = val
	}
	_, hasID := vars["_id"]

	data, err := decodeBody(r)
	if err != nil {
		return nil, err
	}

	return &RequestContext{
		Config:         def,
		CollectionName: collection,
		SchemaName:     schemaName,
		Query:          query,
		Data:           data,
		Modifying:      isModifying(def, r.Method),
		HasID:          hasID,
	}, nil
}

func isModifying(def *Definition, verb string) bool {
	if def.Modifying {
		return true
	}
	for _, m := range def.Modifiers {
		if m == verb {
			return true
		}
	}
	if len(def.Modifiers) == 0 {
		return conventionalModifiers[verb]
	}
	return false
}

func decodeBody(r *http.Request) (db.Document, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading request body")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	data := db.Document{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    errors.Wrap(err, "decoding request body").Error(),
		}
	}
	return data, nil
}
