package resource

import (
	"context"
	"testing"
	"time"

	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ModuleSuite struct {
	store  *db.MockStore
	engine *schema.MemoryEngine
	module *Module

	suite.Suite
}

func TestModuleSuite(t *testing.T) {
	suite.Run(t, new(ModuleSuite))
}

func (s *ModuleSuite) SetupTest() {
	s.store = db.NewMockStore()
	s.engine = schema.NewMemoryEngine(&schema.MemorySchema{
		SchemaName: "article",
		Fields: map[string]schema.FieldSpec{
			"name":      {Type: "string", Required: true},
			"published": {Type: "boolean", Default: false},
			"views":     {Type: "number"},
			"internal":  {Type: "string", ReadOnly: true},
		},
	})
	s.module = NewModule(s.store, s.engine, Config{
		Collection: "articles",
		SchemaName: "article",
	})
}

func (s *ModuleSuite) TestInsert() {
	doc, err := s.module.Insert(context.Background(), db.Document{"name": "x"}, nil, nil)
	s.Require().NoError(err)
	s.NotEmpty(doc["_id"])
	s.Equal("x", doc["name"])
	// defaults injected by strict validation
	s.Equal(false, doc["published"])
}

func (s *ModuleSuite) TestInsertValidationFailure() {
	_, err := s.module.Insert(context.Background(), db.Document{"views": 1}, nil, nil)
	s.Require().Error(err)
	s.True(schema.IsValidationError(err))
	s.EqualValues(0, s.store.InsertCalls)
}

func (s *ModuleSuite) TestInsertStripsReadOnlyFields() {
	doc, err := s.module.Insert(context.Background(), db.Document{"name": "x", "internal": "nope"}, nil, nil)
	s.Require().NoError(err)
	s.NotContains(doc, "internal")
}

func (s *ModuleSuite) TestInsertHooks() {
	var observed db.Document
	s.module.PreInsert.Tap(func(_ context.Context, d db.Document) (db.Document, error) {
		d["name"] = d["name"].(string) + "-hooked"
		return d, nil
	})
	s.module.PostInsert.Tap(func(_ context.Context, d db.Document) error {
		observed = d
		return nil
	})

	doc, err := s.module.Insert(context.Background(), db.Document{"name": "x"}, nil, nil)
	s.Require().NoError(err)
	s.Equal("x-hooked", doc["name"])
	s.Equal(doc, observed)
}

func (s *ModuleSuite) TestInsertPreHookAbortsWrite() {
	s.module.PreInsert.Tap(func(_ context.Context, d db.Document) (db.Document, error) {
		return nil, errors.New("vetoed")
	})
	_, err := s.module.Insert(context.Background(), db.Document{"name": "x"}, nil, nil)
	s.Require().Error(err)
	s.EqualValues(0, s.store.InsertCalls)
}

func (s *ModuleSuite) TestInsertDoesNotMutateInput() {
	in := db.Document{"name": "x"}
	_, err := s.module.Insert(context.Background(), in, nil, nil)
	s.Require().NoError(err)
	s.NotContains(in, "published")
	s.NotContains(in, "_id")
}

func (s *ModuleSuite) TestFind() {
	s.store.Seed("articles", db.Document{"name": "a"}, db.Document{"name": "b"})
	docs, err := s.module.Find(context.Background(), db.Document{"name": "a"}, nil, nil)
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal("a", docs[0]["name"])
}

func (s *ModuleSuite) TestFindUsesCache() {
	cached := NewModule(s.store, s.engine, Config{
		Collection:    "articles",
		SchemaName:    "article",
		CacheEnabled:  true,
		CacheLifespan: time.Minute,
	})
	s.store.Seed("articles", db.Document{"name": "a"})

	for i := 0; i < 3; i++ {
		_, err := cached.Find(context.Background(), db.Document{"name": "a"}, nil, nil)
		s.Require().NoError(err)
	}
	s.EqualValues(1, s.store.FindCalls)
}

func (s *ModuleSuite) TestFindWithoutCacheHitsStore() {
	s.store.Seed("articles", db.Document{"name": "a"})
	for i := 0; i < 3; i++ {
		_, err := s.module.Find(context.Background(), db.Document{"name": "a"}, nil, nil)
		s.Require().NoError(err)
	}
	s.EqualValues(3, s.store.FindCalls)
}

func (s *ModuleSuite) TestFindKeepsInvalidOrBranches() {
	s.store.Seed("articles", db.Document{"name": "a", "views": 2})
	// "name": 1 fails lax validation; the branch must be kept verbatim and
	// the query still run
	docs, err := s.module.Find(context.Background(), db.Document{"$or": []any{
		map[string]any{"name": 1},
		map[string]any{"views": float64(2)},
	}}, nil, nil)
	s.Require().NoError(err)
	s.Len(docs, 1)
}

func (s *ModuleSuite) TestCount() {
	s.store.Seed("articles", db.Document{"name": "a"}, db.Document{"name": "b"})
	count, err := s.module.Count(context.Background(), db.Document{}, nil)
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *ModuleSuite) TestUpdate() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a"})

	var change Change
	s.module.PostUpdate.Tap(func(_ context.Context, c Change) error {
		change = c
		return nil
	})

	updated, err := s.module.Update(context.Background(), db.Document{"_id": "id1"}, db.Document{"name": "b"}, nil, nil)
	s.Require().NoError(err)
	s.Equal("b", updated["name"])
	s.Equal("a", change.Original["name"])
	s.Equal("b", change.Updated["name"])
}

func (s *ModuleSuite) TestUpdateMissingDocument() {
	_, err := s.module.Update(context.Background(), db.Document{"_id": "nope"}, db.Document{"name": "b"}, nil, nil)
	s.True(db.IsNotFound(err))
}

func (s *ModuleSuite) TestUpdateUpsert() {
	updated, err := s.module.Update(context.Background(), db.Document{"_id": "nope"}, db.Document{"name": "b"}, &Options{Upsert: true}, nil)
	// the mock store does not implement upserts, so the update itself still
	// fails, but the missing original must not short-circuit the attempt
	s.Error(err)
	s.Nil(updated)
	s.True(db.IsNotFound(errors.Cause(err)))
}

func (s *ModuleSuite) TestUpdatePartialPayloadSkipsRequired() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a"})
	// no "name" in the patch; lax validation must not require it
	updated, err := s.module.Update(context.Background(), db.Document{"_id": "id1"}, db.Document{"views": float64(5)}, nil, nil)
	s.Require().NoError(err)
	s.Equal(float64(5), updated["views"])
	s.Equal("a", updated["name"])
}

func (s *ModuleSuite) TestUpdatePreHookAbortsWrite() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a"})
	s.module.PreUpdate.Tap(func(_ context.Context, c Change) (Change, error) {
		return c, errors.New("vetoed")
	})
	_, err := s.module.Update(context.Background(), db.Document{"_id": "id1"}, db.Document{"name": "b"}, nil, nil)
	s.Require().Error(err)

	docs, err := s.store.Find(context.Background(), "articles", db.Document{"_id": "id1"}, nil)
	s.Require().NoError(err)
	s.Equal("a", docs[0]["name"])
}

func (s *ModuleSuite) TestRawUpdate() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a"})
	payload := db.Document{"$set": map[string]any{"name": "raw"}}
	updated, err := s.module.Update(context.Background(), db.Document{"_id": "id1"}, payload, &Options{RawUpdate: true}, nil)
	s.Require().NoError(err)
	s.Equal("raw", updated["name"])
}

func (s *ModuleSuite) TestReplace() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a", "views": 3})
	replaced, err := s.module.Replace(context.Background(), db.Document{"_id": "id1"}, db.Document{"name": "b"}, nil, nil)
	s.Require().NoError(err)
	s.Equal("b", replaced["name"])
	// full replacement, not a patch
	s.NotContains(replaced, "views")
	s.Equal("id1", replaced["_id"])
}

func (s *ModuleSuite) TestReplaceValidatesStrictly() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a"})
	_, err := s.module.Replace(context.Background(), db.Document{"_id": "id1"}, db.Document{"views": float64(1)}, nil, nil)
	s.True(schema.IsValidationError(err))
}

func (s *ModuleSuite) TestDelete() {
	s.store.Seed("articles", db.Document{"_id": "id1", "name": "a"})
	var observed db.Document
	s.module.PostDelete.Tap(func(_ context.Context, d db.Document) error {
		observed = d
		return nil
	})

	deleted, err := s.module.Delete(context.Background(), db.Document{"_id": "id1"}, nil, nil)
	s.Require().NoError(err)
	// the deleted document itself comes back, not a store acknowledgment
	s.Equal("a", deleted["name"])
	s.Equal(deleted, observed)

	count, err := s.store.Count(context.Background(), "articles", db.Document{})
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *ModuleSuite) TestDeleteMissingDocument() {
	_, err := s.module.Delete(context.Background(), db.Document{"_id": "nope"}, nil, nil)
	s.True(db.IsNotFound(err))
	// no store delete was attempted
	s.EqualValues(0, s.store.DeleteCalls)
}

func (s *ModuleSuite) TestDeleteManyFiresHooksBestEffort() {
	s.store.Seed("articles",
		db.Document{"name": "a", "kind": "old"},
		db.Document{"name": "b", "kind": "old"},
		db.Document{"name": "c", "kind": "new"},
	)
	var seen []string
	s.module.PostDelete.Tap(func(_ context.Context, d db.Document) error {
		seen = append(seen, d["name"].(string))
		if d["name"] == "a" {
			return errors.New("observer failure")
		}
		return nil
	})

	deleted, err := s.module.DeleteMany(context.Background(), db.Document{"kind": "old"}, nil, nil)
	s.Require().NoError(err)
	s.Len(deleted, 2)
	// the failure for "a" did not block the hook for "b"
	s.Equal([]string{"a", "b"}, seen)

	count, err := s.store.Count(context.Background(), "articles", db.Document{})
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *ModuleSuite) TestSuppressEvents() {
	fired := false
	s.module.PostInsert.Tap(func(context.Context, db.Document) error {
		fired = true
		return nil
	})
	_, err := s.module.Insert(context.Background(), db.Document{"name": "x"}, &Options{SuppressEvents: true}, nil)
	s.Require().NoError(err)
	s.False(fired)
}

func (s *ModuleSuite) TestOptionOverrides() {
	s.store.Seed("drafts", db.Document{"anything": "goes"})
	docs, err := s.module.Find(context.Background(), db.Document{}, &Options{CollectionName: "drafts"}, nil)
	s.Require().NoError(err)
	s.Len(docs, 1)
}
