package route

import (
	"fmt"
	"net/http"

	"github.com/adapt-security/adapt-authoring-api/auth"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/query"
	"github.com/adapt-security/adapt-authoring-api/resource"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/evergreen-ci/gimlet"
	"github.com/pkg/errors"
)

// verb → CRUD operation, fixed.
var verbToOperation = map[string]string{
	http.MethodPost:   "insert",
	http.MethodGet:    "find",
	http.MethodPut:    "replace",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

// verb → success status, fixed.
var verbToStatus = map[string]int{
	http.MethodPost:   http.StatusCreated,
	http.MethodGet:    http.StatusOK,
	http.MethodPut:    http.StatusOK,
	http.MethodPatch:  http.StatusOK,
	http.MethodDelete: http.StatusNoContent,
}

// MethodNotSupportedError is raised when a verb has no mapped operation.
type MethodNotSupportedError struct {
	Method string
}

func (e *MethodNotSupportedError) Error() string {
	return fmt.Sprintf("method '%s' is not supported", e.Method)
}

// InternalConsistencyError flags a broken invariant, e.g. multiple documents
// matching a single-document request. It is surfaced, never swallowed.
type InternalConsistencyError struct {
	Message string
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency violation: %s", e.Message)
}

// Operation resolves the CRUD operation name for an HTTP verb.
func Operation(verb string) (string, error) {
	op, ok := verbToOperation[verb]
	if !ok {
		return "", &MethodNotSupportedError{Method: verb}
	}
	return op, nil
}

// handleRequest is the generic dispatcher behind the default routes. It fires
// the request hook, applies access pre/post checks for non-privileged
// callers, invokes the mapped CRUD operation, and contracts list results for
// id-addressed routes.
func (t *Table) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := GetContext(ctx)
	if rc == nil {
		writeError(w, r, &InternalConsistencyError{Message: "request context missing"})
		return
	}
	op, err := Operation(r.Method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rc, err = t.Request.Invoke(ctx, rc); err != nil {
		writeError(w, r, err)
		return
	}

	caller := auth.GetCaller(ctx)
	preCheck := !caller.IsPrivileged() && r.Method != http.MethodGet && r.Method != http.MethodPost
	postCheck := !caller.IsPrivileged() && r.Method == http.MethodGet
	if preCheck {
		if err := t.module.Access.CheckItem(ctx, caller, rc.Query); err != nil {
			writeError(w, r, err)
			return
		}
	}

	opts := &resource.Options{
		SchemaName:     rc.SchemaName,
		CollectionName: rc.CollectionName,
		SkipValidation: rc.Config.SkipValidation,
	}

	var result any
	switch op {
	case "insert":
		result, err = t.module.Insert(ctx, rc.Data, opts, nil)
	case "find":
		result, err = t.runFind(w, r, rc, caller, postCheck, opts)
	case "replace":
		result, err = t.module.Replace(ctx, rc.Query, rc.Data, opts, nil)
	case "update":
		result, err = t.module.Update(ctx, rc.Query, rc.Data, opts, nil)
	case "delete":
		result, err = t.module.Delete(ctx, rc.Query, opts, nil)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result, err = contract(rc, result); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, verbToStatus[r.Method], result)
}

// runFind executes the paginated read path shared by GET routes.
func (t *Table) runFind(w http.ResponseWriter, r *http.Request, rc *RequestContext, caller *auth.Caller, postCheck bool, opts *resource.Options) (db.DocumentList, error) {
	ctx := r.Context()
	filter, qopts := query.ExtractOptions(rc.Query)
	count, err := t.module.Count(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	pg := query.Paginate(count, qopts, t.settings.DefaultPageSize, t.settings.MaxPageSize)
	docs, err := t.module.Find(ctx, filter, opts, pg.StoreOptions(qopts))
	if err != nil {
		return nil, err
	}
	if postCheck {
		docs = t.module.Access.FilterList(ctx, caller, docs)
	}
	clean, err := schema.Sanitize(ctx, t.module.Engine(), rc.SchemaName, docs)
	if err != nil {
		return nil, errors.Wrap(err, "sanitizing result set")
	}
	docs = clean.(db.DocumentList)
	if !rc.HasID {
		pg.SetHeaders(w, r.URL)
	}
	return docs, nil
}

// contract applies the "_id implies single item" rule: an id-addressed route
// must yield exactly one document.
func contract(rc *RequestContext, result any) (any, error) {
	docs, ok := result.(db.DocumentList)
	if !ok || !rc.HasID {
		return result, nil
	}
	switch len(docs) {
	case 0:
		return nil, db.ErrNotFound
	case 1:
		return docs[0], nil
	default:
		return nil, &InternalConsistencyError{
			Message: fmt.Sprintf("%d documents matched id-addressed route '%s'", len(docs), rc.Config.Path),
		}
	}
}

// handleQuery serves the advanced-query surface: the body carries the filter
// (including $or expressions) and both body and query string may carry store
// options.
func (t *Table) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := GetContext(ctx)
	if rc == nil {
		writeError(w, r, &InternalConsistencyError{Message: "request context missing"})
		return
	}
	var err error
	if rc, err = t.Request.Invoke(ctx, rc); err != nil {
		writeError(w, r, err)
		return
	}

	combined := rc.Query.Copy()
	if combined == nil {
		combined = db.Document{}
	}
	for key, val := range rc.Data {
		combined[key] = val
	}

	opts := &resource.Options{SchemaName: rc.SchemaName, CollectionName: rc.CollectionName}
	filter, qopts := query.ExtractOptions(combined)
	count, err := t.module.Count(ctx, filter, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pg := query.Paginate(count, qopts, t.settings.DefaultPageSize, t.settings.MaxPageSize)
	docs, err := t.module.Find(ctx, filter, opts, pg.StoreOptions(qopts))
	if err != nil {
		writeError(w, r, err)
		return
	}
	clean, err := schema.Sanitize(ctx, t.module.Engine(), rc.SchemaName, docs)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "sanitizing result set"))
		return
	}
	pg.SetHeaders(w, r.URL)
	respond(w, http.StatusOK, clean)
}

// handleSchema serves the resource's schema document.
func (t *Table) handleSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := GetContext(ctx)
	if rc == nil || rc.SchemaName == "" || t.module.Engine() == nil {
		writeError(w, r, gimlet.ErrorResponse{
			StatusCode: http.StatusNotFound,
			Message:    "no schema defined for this resource",
		})
		return
	}
	s, err := t.module.Engine().GetSchema(ctx, rc.SchemaName)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			err = gimlet.ErrorResponse{
				StatusCode: http.StatusNotFound,
				Message:    fmt.Sprintf("schema '%s' not found", rc.SchemaName),
			}
		}
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.Raw())
}
