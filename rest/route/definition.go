// Package route wires resource modules onto an HTTP router: the declarative
// route table, the per-request context builder, and the dispatcher that maps
// verbs onto CRUD operations.
package route

import (
	"net/http"
	"path"
	"strings"

	api "github.com/adapt-security/adapt-authoring-api"
	"github.com/adapt-security/adapt-authoring-api/auth"
	"github.com/adapt-security/adapt-authoring-api/hook"
	"github.com/adapt-security/adapt-authoring-api/resource"
	"github.com/gorilla/mux"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// Definition declares one path of a resource's HTTP surface. Definitions are
// built once at composition time and are immutable afterwards.
type Definition struct {
	// Path is relative to the resource root, e.g. "/{_id}".
	Path string
	// Handlers maps HTTP methods (http.MethodGet et al) to handlers.
	Handlers map[string]http.HandlerFunc
	// Permissions maps HTTP methods to the scopes securing them. A nil map
	// leaves the whole path unsecured; a non-nil map must cover every
	// handler verb.
	Permissions map[string][]string
	// Modifying marks every verb on this path as mutating. When false and
	// Modifiers is empty, the conventional verbs (POST/PUT/PATCH/DELETE)
	// count as mutating.
	Modifying bool
	// Modifiers lists the verbs treated as mutating on this path.
	Modifiers []string
	// SkipValidation turns off schema validation for writes on this path.
	SkipValidation bool
	// SchemaName and CollectionName override the module defaults.
	SchemaName     string
	CollectionName string
}

// TableOptions configure a route table.
type TableOptions struct {
	// Root names the resource and anchors its paths under the API prefix.
	Root string
	// PermissionsScope overrides the scope name used by the generated
	// default routes; it falls back to Root.
	PermissionsScope string
	// Definitions replaces the generated default surface when non-nil.
	Definitions []Definition
}

// Table is one resource's route table plus the request-scoped machinery the
// dispatcher needs.
type Table struct {
	root     string
	module   *resource.Module
	settings *api.Settings
	defs     []Definition

	// Request is invoked for every handled request before dispatch and may
	// transform the request context.
	Request *hook.Chainable[*RequestContext]
}

// NewTable builds and checks a resource's route table.
func NewTable(module *resource.Module, settings *api.Settings, opts TableOptions) (*Table, error) {
	if opts.Root == "" {
		return nil, api.NewConfigurationError("no resource root set")
	}
	if module.Collection() == "" {
		return nil, api.NewConfigurationError("resource '%s' has no collection name", opts.Root)
	}
	t := &Table{
		root:     opts.Root,
		module:   module,
		settings: settings,
		Request:  hook.NewChainable[*RequestContext]("request-received"),
	}
	defs := opts.Definitions
	if defs == nil {
		defs = t.defaultDefinitions(opts.PermissionsScope)
	}
	t.defs = dedupe(opts.Root, defs)
	for i := range t.defs {
		if err := checkPermissions(opts.Root, &t.defs[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Module returns the resource module this table dispatches to.
func (t *Table) Module() *resource.Module { return t.module }

// defaultDefinitions generates the conventional resource surface:
//
//	POST /           create
//	GET  /           list
//	GET  /schema     serve the schema
//	GET  /{_id}      read one
//	PUT/PATCH/DELETE /{_id}
//	POST/GET /query  advanced filters with pagination
func (t *Table) defaultDefinitions(scope string) []Definition {
	if scope == "" {
		scope = t.root
	}
	read := []string{"read:" + scope}
	write := []string{"write:" + scope}
	return []Definition{
		{
			Path:        "/",
			Handlers:    map[string]http.HandlerFunc{http.MethodPost: t.handleRequest, http.MethodGet: t.handleRequest},
			Permissions: map[string][]string{http.MethodPost: write, http.MethodGet: read},
		},
		{
			Path:        "/schema",
			Handlers:    map[string]http.HandlerFunc{http.MethodGet: t.handleSchema},
			Permissions: map[string][]string{http.MethodGet: {"read:schema"}},
		},
		{
			Path: "/{_id}",
			Handlers: map[string]http.HandlerFunc{
				http.MethodGet:    t.handleRequest,
				http.MethodPut:    t.handleRequest,
				http.MethodPatch:  t.handleRequest,
				http.MethodDelete: t.handleRequest,
			},
			Permissions: map[string][]string{
				http.MethodGet:    read,
				http.MethodPut:    write,
				http.MethodPatch:  write,
				http.MethodDelete: write,
			},
		},
		{
			Path:           "/query",
			SkipValidation: true,
			Handlers:       map[string]http.HandlerFunc{http.MethodPost: t.handleQuery, http.MethodGet: t.handleQuery},
			Permissions:    map[string][]string{http.MethodPost: read, http.MethodGet: read},
		},
	}
}

// dedupe keeps the first definition for each path and records a warning for
// the rest.
func dedupe(root string, defs []Definition) []Definition {
	seen := map[string]bool{}
	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if seen[def.Path] {
			grip.Warning(message.Fields{
				"message":  "duplicate route, keeping the first registration",
				"resource": root,
				"path":     def.Path,
			})
			continue
		}
		seen[def.Path] = true
		out = append(out, def)
	}
	return out
}

// checkPermissions rejects secured definitions whose scope map misses a
// handler verb.
func checkPermissions(root string, def *Definition) error {
	if def.Permissions == nil {
		grip.Warning(message.Fields{
			"message":  "route registered without permission scopes",
			"resource": root,
			"path":     def.Path,
		})
		return nil
	}
	for verb := range def.Handlers {
		if _, ok := def.Permissions[verb]; !ok {
			return api.NewConfigurationError("route '%s' handles %s without a permission entry", def.Path, verb)
		}
	}
	return nil
}

// Attach registers the table on the router and secures each verb with the
// permission engine.
func (t *Table) Attach(router *mux.Router, registry auth.Registry) {
	prefix := path.Join(t.settings.APIPrefix, t.root)
	for i := range t.defs {
		def := &t.defs[i]
		for verb, handler := range def.Handlers {
			if def.Permissions != nil && registry != nil {
				registry.SecureRoute(securePath(prefix, def.Path), strings.ToLower(verb), def.Permissions[verb])
			}
			wrapped := t.withContext(def, handler)
			if def.Path == "/" {
				router.HandleFunc(prefix, wrapped).Methods(verb)
				router.HandleFunc(prefix+"/", wrapped).Methods(verb)
				continue
			}
			router.HandleFunc(prefix+def.Path, wrapped).Methods(verb)
		}
	}
}

// securePath strips a trailing path parameter so parameterized routes are
// secured at their parent path.
func securePath(prefix, defPath string) string {
	parts := strings.Split(defPath, "/")
	last := parts[len(parts)-1]
	if strings.HasPrefix(last, "{") {
		parts = parts[:len(parts)-1]
	}
	joined := strings.Join(parts, "/")
	if joined == "/" || joined == "" {
		return prefix
	}
	return prefix + joined
}
