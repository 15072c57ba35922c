// Package api exposes CRUD operations on a backing document store as a
// permissioned, validated, paginated REST resource. A resource is described
// declaratively (collection, schema, routes, permission scopes) and the
// request pipeline - context building, validation, access control, hooks,
// caching, dispatch - is shared across every resource mounted on the server.
//
// The root package holds process-wide settings; the request pipeline itself
// lives in the subpackages (db, schema, hook, access, cache, query, resource,
// rest/route).
package api
