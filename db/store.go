// Package db defines the backing document store boundary and its MongoDB
// implementation. Documents are schemaless maps; the schema package is
// responsible for anything stronger.
package db

import (
	"context"

	"github.com/pkg/errors"
)

// Document is a single stored document.
type Document map[string]any

// DocumentList is an ordered set of documents, as returned by Find.
type DocumentList []Document

// Copy returns a shallow copy of the document. Callers that hand documents to
// hooks use this so observers cannot mutate the caller's map in place.
func (d Document) Copy() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Collation mirrors the store's collation document.
type Collation struct {
	Locale          string `json:"locale" bson:"locale"`
	Strength        int    `json:"strength,omitempty" bson:"strength,omitempty"`
	CaseLevel       bool   `json:"caseLevel,omitempty" bson:"caseLevel,omitempty"`
	NumericOrdering bool   `json:"numericOrdering,omitempty" bson:"numericOrdering,omitempty"`
}

// StoreOptions carries the store-level knobs split away from filter criteria.
type StoreOptions struct {
	Sort      map[string]int `json:"sort,omitempty"`
	Collation *Collation     `json:"collation,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Skip      int            `json:"skip,omitempty"`
	Upsert    bool           `json:"upsert,omitempty"`
}

// ErrNotFound is returned when a targeted operation matches no document.
var ErrNotFound = errors.New("document not found")

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the document store consumed by the request pipeline. The store is
// the final arbiter of filter matching; filters are passed through opaquely.
type Store interface {
	Insert(ctx context.Context, collection string, doc Document, opts *StoreOptions) (Document, error)
	Find(ctx context.Context, collection string, filter Document, opts *StoreOptions) (DocumentList, error)
	// Update applies an operator document ($set et al) to one matching
	// document and returns the post-image.
	Update(ctx context.Context, collection string, filter, patch Document, opts *StoreOptions) (Document, error)
	// Replace substitutes one matching document wholesale and returns the
	// post-image.
	Replace(ctx context.Context, collection string, filter, replacement Document, opts *StoreOptions) (Document, error)
	Delete(ctx context.Context, collection string, filter Document, opts *StoreOptions) error
	// DeleteMany removes every matching document and returns how many were
	// removed.
	DeleteMany(ctx context.Context, collection string, filter Document, opts *StoreOptions) (int, error)
	Count(ctx context.Context, collection string, filter Document) (int, error)
}
