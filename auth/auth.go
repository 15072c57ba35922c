// Package auth defines the boundary to the external permission engine. The
// engine itself (scope grammar, identity resolution) lives outside this
// module; this package only carries the caller identity through a request and
// records which scopes secure which route.
package auth

import (
	"context"
	"fmt"
	"sync"
)

type contextKey int

const callerKey contextKey = iota

// Caller is the identity the external auth layer attaches to a request
// before the dispatcher runs.
type Caller struct {
	ID         string
	Privileged bool
	Scopes     []string
}

// HasScope reports whether the caller has been granted the named scope.
func (c *Caller) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the caller bypasses per-item access checks.
func (c *Caller) IsPrivileged() bool { return c != nil && c.Privileged }

// WithCaller attaches a caller to the context.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// GetCaller returns the caller attached to the context, or nil.
func GetCaller(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey).(*Caller)
	return c
}

// Registry is the permission engine's registration surface. Each route+verb
// is secured exactly once at startup.
type Registry interface {
	SecureRoute(path, verb string, scopes []string)
}

// MemoryRegistry records secured routes in memory. It backs tests and the
// bundled server binary; production deployments supply their own Registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	routes map[string][]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{routes: map[string][]string{}}
}

func (r *MemoryRegistry) SecureRoute(path, verb string, scopes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := routeKey(path, verb)
	if _, ok := r.routes[key]; ok {
		return
	}
	r.routes[key] = append([]string{}, scopes...)
}

// ScopesFor returns the scopes registered for a route+verb.
func (r *MemoryRegistry) ScopesFor(path, verb string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routes[routeKey(path, verb)]
}

func routeKey(path, verb string) string {
	return fmt.Sprintf("%s %s", verb, path)
}
