// Package hook provides the lifecycle extension points fired by the request
// pipeline. Observers are attached while the owning module is composed and
// never removed, so invocation needs no locking.
package hook

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Chainable folds its observers over a value: each observer receives the
// previous observer's output and the final value is used downstream. The
// first observer error aborts the chain and propagates, so a pre-write hook
// can block the write.
type Chainable[T any] struct {
	name      string
	observers []func(context.Context, T) (T, error)
}

// NewChainable names the hook for error and log context.
func NewChainable[T any](name string) *Chainable[T] {
	return &Chainable[T]{name: name}
}

// Tap appends an observer. Firing order is registration order.
func (h *Chainable[T]) Tap(fn func(context.Context, T) (T, error)) {
	h.observers = append(h.observers, fn)
}

// Len returns the number of attached observers.
func (h *Chainable[T]) Len() int { return len(h.observers) }

// Invoke runs the chain. On error the input value that reached the failing
// observer is returned alongside the error.
func (h *Chainable[T]) Invoke(ctx context.Context, value T) (T, error) {
	for _, obs := range h.observers {
		next, err := obs(ctx, value)
		if err != nil {
			return value, errors.Wrapf(err, "invoking '%s' observer", h.name)
		}
		value = next
	}
	return value, nil
}

// FireAndForget broadcasts to its observers for side effects only. Observer
// failures are logged and never propagate: by the time a post-hook fires the
// operation has already committed.
type FireAndForget[T any] struct {
	name      string
	observers []func(context.Context, T) error
}

// NewFireAndForget names the hook for log context.
func NewFireAndForget[T any](name string) *FireAndForget[T] {
	return &FireAndForget[T]{name: name}
}

// Tap appends an observer. Firing order is registration order.
func (h *FireAndForget[T]) Tap(fn func(context.Context, T) error) {
	h.observers = append(h.observers, fn)
}

// Len returns the number of attached observers.
func (h *FireAndForget[T]) Len() int { return len(h.observers) }

// Invoke runs every observer regardless of individual failures.
func (h *FireAndForget[T]) Invoke(ctx context.Context, value T) {
	for _, obs := range h.observers {
		if err := obs(ctx, value); err != nil {
			grip.Error(message.WrapError(err, message.Fields{
				"message": "hook observer failed",
				"hook":    h.name,
			}))
		}
	}
}
