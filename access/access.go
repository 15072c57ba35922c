// Package access applies per-item authorization predicates to data entering
// or leaving the store. List results are filtered best-effort: a partial
// result beats a total failure, so per-item errors drop the item rather than
// failing the request. Single-item checks are strict.
package access

import (
	"context"
	"fmt"

	"github.com/adapt-security/adapt-authoring-api/auth"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// UnauthorizedError is raised when a single-item operation is vetoed.
type UnauthorizedError struct {
	Caller string
}

func (e *UnauthorizedError) Error() string {
	if e.Caller == "" {
		return "access denied"
	}
	return fmt.Sprintf("access denied for caller '%s'", e.Caller)
}

// IsUnauthorized reports whether err is an access veto.
func IsUnauthorized(err error) bool {
	target := &UnauthorizedError{}
	return errors.As(err, &target)
}

// CheckFunc reports whether the caller may act on the item. Each registered
// check is called at most once per item per request.
type CheckFunc func(ctx context.Context, caller *auth.Caller, item db.Document) (bool, error)

// Controller runs the registered checks against candidate items. Multiple
// checks combine with AND: every check must approve an item for it to pass.
type Controller struct {
	checks []CheckFunc
}

func NewController() *Controller { return &Controller{} }

// Tap registers a check. Checks are attached during module composition and
// never removed.
func (c *Controller) Tap(fn CheckFunc) {
	c.checks = append(c.checks, fn)
}

// Empty reports whether any checks are registered.
func (c *Controller) Empty() bool { return c == nil || len(c.checks) == 0 }

// Check filters data through the registered checks. A DocumentList comes back
// filtered to the approved items; a single Document either comes back intact
// or the call fails with an UnauthorizedError. Privileged callers and
// check-less controllers pass everything through.
func (c *Controller) Check(ctx context.Context, caller *auth.Caller, data any) (any, error) {
	if c.Empty() || caller.IsPrivileged() {
		return data, nil
	}
	switch t := data.(type) {
	case db.DocumentList:
		return c.FilterList(ctx, caller, t), nil
	case db.Document:
		if err := c.CheckItem(ctx, caller, t); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return data, nil
	}
}

// CheckItem applies every check to one item. A veto or a check error fails
// the call; the caller never receives the item.
func (c *Controller) CheckItem(ctx context.Context, caller *auth.Caller, item db.Document) error {
	if c.Empty() || caller.IsPrivileged() {
		return nil
	}
	var callerID string
	if caller != nil {
		callerID = caller.ID
	}
	for _, check := range c.checks {
		ok, err := check(ctx, caller, item)
		if err != nil {
			grip.Debug(message.WrapError(err, message.Fields{
				"message": "access check errored on a single-item operation",
				"caller":  callerID,
			}))
			return &UnauthorizedError{Caller: callerID}
		}
		if !ok {
			return &UnauthorizedError{Caller: callerID}
		}
	}
	return nil
}

// FilterList applies the checks to each item independently, dropping items
// that are vetoed or whose check errors. It never fails.
func (c *Controller) FilterList(ctx context.Context, caller *auth.Caller, items db.DocumentList) db.DocumentList {
	if c.Empty() || caller.IsPrivileged() {
		return items
	}
	filtered := make(db.DocumentList, 0, len(items))
	for _, item := range items {
		if err := c.CheckItem(ctx, caller, item); err != nil {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}
