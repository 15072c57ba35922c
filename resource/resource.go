// Package resource implements the canonical CRUD operations for one
// schema-backed collection. A Module owns the lifecycle hooks, the access
// controller, and the result cache for its resource; the REST layer drives
// it and other modules observe it through the hooks, which are the system's
// sole notification mechanism.
package resource

import (
	"context"
	"time"

	"github.com/adapt-security/adapt-authoring-api/access"
	"github.com/adapt-security/adapt-authoring-api/cache"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/hook"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/pkg/errors"
)

// Options are the per-call options for a CRUD operation. Zero values mean
// "use the module defaults": empty names fall back to the module's
// collection/schema and the boolean knobs default to validating and firing
// post-hooks.
type Options struct {
	SchemaName     string `json:"schemaName,omitempty"`
	CollectionName string `json:"collectionName,omitempty"`
	// SkipValidation bypasses schema validation and sanitization.
	SkipValidation bool `json:"skipValidation,omitempty"`
	// SuppressEvents skips the post-operation hooks.
	SuppressEvents bool `json:"suppressEvents,omitempty"`
	// RawUpdate treats update payloads as ready-made operator documents
	// instead of wrapping them in $set.
	RawUpdate bool `json:"rawUpdate,omitempty"`
	// Upsert inserts on update/replace when no document matches.
	Upsert bool `json:"upsert,omitempty"`
}

// Change carries the before and after images through the update hooks.
type Change struct {
	Original db.Document
	Updated  db.Document
}

// Config describes a Module.
type Config struct {
	Collection    string
	SchemaName    string
	CacheEnabled  bool
	CacheLifespan time.Duration
}

// Module exposes CRUD operations over one collection.
type Module struct {
	store  db.Store
	engine schema.Engine
	cache  *cache.ResultCache
	conf   Config

	// Lifecycle hooks, attached during composition.
	PreInsert  *hook.Chainable[db.Document]
	PostInsert *hook.FireAndForget[db.Document]
	PreUpdate  *hook.Chainable[Change]
	PostUpdate *hook.FireAndForget[Change]
	PreDelete  *hook.Chainable[db.Document]
	PostDelete *hook.FireAndForget[db.Document]

	// Access guards per-item operations.
	Access *access.Controller
}

// NewModule composes a Module over the given store and schema engine.
func NewModule(store db.Store, engine schema.Engine, conf Config) *Module {
	return &Module{
		store:      store,
		engine:     engine,
		cache:      cache.NewResultCache(conf.CacheEnabled, conf.CacheLifespan),
		conf:       conf,
		PreInsert:  hook.NewChainable[db.Document]("pre-insert"),
		PostInsert: hook.NewFireAndForget[db.Document]("post-insert"),
		PreUpdate:  hook.NewChainable[Change]("pre-update"),
		PostUpdate: hook.NewFireAndForget[Change]("post-update"),
		PreDelete:  hook.NewChainable[db.Document]("pre-delete"),
		PostDelete: hook.NewFireAndForget[db.Document]("post-delete"),
		Access:     access.NewController(),
	}
}

// Collection returns the module's default collection name.
func (m *Module) Collection() string { return m.conf.Collection }

// SchemaName returns the module's default schema name.
func (m *Module) SchemaName() string { return m.conf.SchemaName }

// Engine returns the schema engine the module validates against.
func (m *Module) Engine() schema.Engine { return m.engine }

// defaults fills per-call options from the module configuration.
func (m *Module) defaults(opts *Options) Options {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.CollectionName == "" {
		o.CollectionName = m.conf.Collection
	}
	if o.SchemaName == "" {
		o.SchemaName = m.conf.SchemaName
	}
	return o
}

// validateAndClean runs strict-or-lax validation followed by sanitization.
func (m *Module) validateAndClean(ctx context.Context, o Options, data db.Document, vopts schema.ValidateOptions) (db.Document, error) {
	if o.SkipValidation || o.SchemaName == "" || m.engine == nil {
		return data, nil
	}
	validated, err := schema.Validate(ctx, m.engine, o.SchemaName, data, vopts)
	if err != nil {
		return nil, err
	}
	clean, err := schema.Sanitize(ctx, m.engine, o.SchemaName, validated)
	if err != nil {
		return nil, err
	}
	return clean.(db.Document), nil
}

// Insert stores a new document. The pre-insert hook may transform the
// payload before validation; the post-insert hook observes the stored
// document.
func (m *Module) Insert(ctx context.Context, data db.Document, opts *Options, storeOpts *db.StoreOptions) (db.Document, error) {
	o := m.defaults(opts)
	data, err := m.PreInsert.Invoke(ctx, data.Copy())
	if err != nil {
		return nil, err
	}
	if data, err = m.validateAndClean(ctx, o, data, schema.StrictOptions()); err != nil {
		return nil, err
	}
	stored, err := m.store.Insert(ctx, o.CollectionName, data, storeOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "inserting into '%s'", o.CollectionName)
	}
	if !o.SuppressEvents {
		m.PostInsert.Invoke(ctx, stored)
	}
	return stored, nil
}

// Find returns the documents matching filter, consulting the result cache.
// The filter is normalized against the schema in lax mode; normalization is
// advisory and never fails the query.
func (m *Module) Find(ctx context.Context, filter db.Document, opts *Options, storeOpts *db.StoreOptions) (db.DocumentList, error) {
	o := m.defaults(opts)
	normalized := schema.NormalizeFilter(ctx, m.engine, o.SchemaName, filter)
	return m.cache.Get(ctx, normalized, o, storeOpts, func(ctx context.Context) (db.DocumentList, error) {
		docs, err := m.store.Find(ctx, o.CollectionName, normalized, storeOpts)
		return docs, errors.Wrapf(err, "finding in '%s'", o.CollectionName)
	})
}

// Count returns how many documents match filter, bypassing the cache.
func (m *Module) Count(ctx context.Context, filter db.Document, opts *Options) (int, error) {
	o := m.defaults(opts)
	normalized := schema.NormalizeFilter(ctx, m.engine, o.SchemaName, filter)
	count, err := m.store.Count(ctx, o.CollectionName, normalized)
	return count, errors.Wrapf(err, "counting in '%s'", o.CollectionName)
}

// findOriginal fetches the single document a targeted mutation refers to.
func (m *Module) findOriginal(ctx context.Context, o Options, filter db.Document) (db.Document, error) {
	docs, err := m.store.Find(ctx, o.CollectionName, filter, &db.StoreOptions{Limit: 1})
	if err != nil {
		return nil, errors.Wrapf(err, "looking up document in '%s'", o.CollectionName)
	}
	if len(docs) == 0 {
		return nil, db.ErrNotFound
	}
	return docs[0], nil
}

// Update patches the single document matching filter. Without Upsert a
// missing document fails with a not-found error. The changed fields pass
// through the pre-update hook and lax validation before the store applies
// them as a $set patch (or as the raw payload with RawUpdate).
func (m *Module) Update(ctx context.Context, filter, data db.Document, opts *Options, storeOpts *db.StoreOptions) (db.Document, error) {
	o := m.defaults(opts)
	original, err := m.findOriginal(ctx, o, filter)
	if err != nil {
		if !db.IsNotFound(err) || !o.Upsert {
			return nil, err
		}
		original = db.Document{}
	}

	patch := db.Document{}
	var set db.Document
	if o.RawUpdate {
		patch = data.Copy()
		switch t := patch["$set"].(type) {
		case db.Document:
			set = t
		case map[string]any:
			set = db.Document(t)
		default:
			set = db.Document{}
		}
	} else {
		set = data.Copy()
	}

	ch, err := m.PreUpdate.Invoke(ctx, Change{Original: original, Updated: set})
	if err != nil {
		return nil, err
	}
	set = ch.Updated
	if set, err = m.validateAndClean(ctx, o, set, schema.LaxOptions()); err != nil {
		return nil, err
	}
	patch["$set"] = set

	effectiveOpts := storeOptsWithUpsert(storeOpts, o.Upsert)
	updated, err := m.store.Update(ctx, o.CollectionName, filter, patch, effectiveOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "updating in '%s'", o.CollectionName)
	}
	if !o.SuppressEvents {
		m.PostUpdate.Invoke(ctx, Change{Original: original, Updated: updated})
	}
	return updated, nil
}

// Replace substitutes the single document matching filter with the full
// payload, which is validated strictly.
func (m *Module) Replace(ctx context.Context, filter, data db.Document, opts *Options, storeOpts *db.StoreOptions) (db.Document, error) {
	o := m.defaults(opts)
	original, err := m.findOriginal(ctx, o, filter)
	if err != nil {
		if !db.IsNotFound(err) || !o.Upsert {
			return nil, err
		}
		original = db.Document{}
	}

	ch, err := m.PreUpdate.Invoke(ctx, Change{Original: original, Updated: data.Copy()})
	if err != nil {
		return nil, err
	}
	replacement, err := m.validateAndClean(ctx, o, ch.Updated, schema.StrictOptions())
	if err != nil {
		return nil, err
	}

	effectiveOpts := storeOptsWithUpsert(storeOpts, o.Upsert)
	replaced, err := m.store.Replace(ctx, o.CollectionName, filter, replacement, effectiveOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "replacing in '%s'", o.CollectionName)
	}
	if !o.SuppressEvents {
		m.PostUpdate.Invoke(ctx, Change{Original: original, Updated: replaced})
	}
	return replaced, nil
}

// Delete removes the single document matching filter and returns it, so the
// caller can inspect what was removed.
func (m *Module) Delete(ctx context.Context, filter db.Document, opts *Options, storeOpts *db.StoreOptions) (db.Document, error) {
	o := m.defaults(opts)
	original, err := m.findOriginal(ctx, o, filter)
	if err != nil {
		return nil, err
	}
	if original, err = m.PreDelete.Invoke(ctx, original); err != nil {
		return nil, err
	}
	if err := m.store.Delete(ctx, o.CollectionName, filter, storeOpts); err != nil {
		return nil, errors.Wrapf(err, "deleting from '%s'", o.CollectionName)
	}
	if !o.SuppressEvents {
		m.PostDelete.Invoke(ctx, original)
	}
	return original, nil
}

// DeleteMany removes every document matching filter, firing the post-delete
// hook once per removed document, best effort.
func (m *Module) DeleteMany(ctx context.Context, filter db.Document, opts *Options, storeOpts *db.StoreOptions) (db.DocumentList, error) {
	o := m.defaults(opts)
	docs, err := m.store.Find(ctx, o.CollectionName, filter, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up documents in '%s'", o.CollectionName)
	}
	if _, err := m.store.DeleteMany(ctx, o.CollectionName, filter, storeOpts); err != nil {
		return nil, errors.Wrapf(err, "deleting from '%s'", o.CollectionName)
	}
	if !o.SuppressEvents {
		for _, doc := range docs {
			m.PostDelete.Invoke(ctx, doc)
		}
	}
	return docs, nil
}

func storeOptsWithUpsert(storeOpts *db.StoreOptions, upsert bool) *db.StoreOptions {
	if !upsert {
		return storeOpts
	}
	out := db.StoreOptions{}
	if storeOpts != nil {
		out = *storeOpts
	}
	out.Upsert = true
	return &out
}
