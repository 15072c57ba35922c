package db

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// MockStore is an in-memory Store used by tests. Matching is intentionally
// simple: top-level field equality plus $or across sub-filters, which covers
// everything the request pipeline itself decides on.
type MockStore struct {
	mu          sync.Mutex
	collections map[string]DocumentList
	nextID      int64

	// FailWith, when set, is returned by every operation.
	FailWith error

	// call counters, for asserting on cache behavior
	FindCalls   int64
	InsertCalls int64
	CountCalls  int64
	DeleteCalls int64
}

func NewMockStore() *MockStore {
	return &MockStore{collections: map[string]DocumentList{}}
}

// Seed loads documents into a collection without counting as store calls.
func (s *MockStore) Seed(collection string, docs ...Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		stored := d.Copy()
		if _, ok := stored["_id"]; !ok {
			stored["_id"] = s.newID()
		}
		s.collections[collection] = append(s.collections[collection], stored)
	}
}

func (s *MockStore) newID() string {
	return fmt.Sprintf("mock-id-%d", atomic.AddInt64(&s.nextID, 1))
}

func (s *MockStore) Insert(ctx context.Context, collection string, doc Document, opts *StoreOptions) (Document, error) {
	atomic.AddInt64(&s.InsertCalls, 1)
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := doc.Copy()
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = s.newID()
	}
	s.collections[collection] = append(s.collections[collection], stored)
	return stored.Copy(), nil
}

func (s *MockStore) Find(ctx context.Context, collection string, filter Document, opts *StoreOptions) (DocumentList, error) {
	atomic.AddInt64(&s.FindCalls, 1)
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := DocumentList{}
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			out = append(out, doc.Copy())
		}
	}
	return applyOptions(out, opts), nil
}

func (s *MockStore) Update(ctx context.Context, collection string, filter, patch Document, opts *StoreOptions) (Document, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range s.collections[collection] {
		if !matches(doc, filter) {
			continue
		}
		updated := doc.Copy()
		if set, ok := patch["$set"].(Document); ok {
			for k, v := range set {
				updated[k] = v
			}
		} else if set, ok := patch["$set"].(map[string]any); ok {
			for k, v := range set {
				updated[k] = v
			}
		}
		s.collections[collection][i] = updated
		return updated.Copy(), nil
	}
	return nil, ErrNotFound
}

func (s *MockStore) Replace(ctx context.Context, collection string, filter, replacement Document, opts *StoreOptions) (Document, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range s.collections[collection] {
		if !matches(doc, filter) {
			continue
		}
		replaced := replacement.Copy()
		replaced["_id"] = doc["_id"]
		s.collections[collection][i] = replaced
		return replaced.Copy(), nil
	}
	return nil, ErrNotFound
}

func (s *MockStore) Delete(ctx context.Context, collection string, filter Document, opts *StoreOptions) error {
	atomic.AddInt64(&s.DeleteCalls, 1)
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, doc := range docs {
		if matches(doc, filter) {
			s.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MockStore) DeleteMany(ctx context.Context, collection string, filter Document, opts *StoreOptions) (int, error) {
	atomic.AddInt64(&s.DeleteCalls, 1)
	if s.FailWith != nil {
		return 0, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := DocumentList{}
	removed := 0
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return removed, nil
}

func (s *MockStore) Count(ctx context.Context, collection string, filter Document) (int, error) {
	atomic.AddInt64(&s.CountCalls, 1)
	if s.FailWith != nil {
		return 0, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			count++
		}
	}
	return count, nil
}

func matches(doc, filter Document) bool {
	for key, want := range filter {
		if key == "$or" {
			if !matchesOr(doc, want) {
				return false
			}
			continue
		}
		if !valuesEqual(doc[key], want) {
			return false
		}
	}
	return true
}

func matchesOr(doc Document, branches any) bool {
	rv := reflect.ValueOf(branches)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		branch := toDocument(rv.Index(i).Interface())
		if branch != nil && matches(doc, branch) {
			return true
		}
	}
	return false
}

func toDocument(v any) Document {
	switch t := v.(type) {
	case Document:
		return t
	case map[string]any:
		return Document(t)
	default:
		return nil
	}
}

// valuesEqual tolerates the numeric type drift introduced by JSON decoding.
func valuesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func applyOptions(docs DocumentList, opts *StoreOptions) DocumentList {
	if opts == nil {
		return docs
	}
	if len(opts.Sort) == 1 {
		for field, dir := range opts.Sort {
			sortDocs(docs, field, dir)
		}
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			return DocumentList{}
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	return docs
}

func sortDocs(docs DocumentList, field string, dir int) {
	sort.SliceStable(docs, func(i, j int) bool {
		less := compareValues(docs[i][field], docs[j][field]) < 0
		if dir < 0 {
			return !less
		}
		return less
	})
}

func compareValues(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

var _ Store = (*MockStore)(nil)

// ErrMockFailure is a convenience error tests can assign to FailWith.
var ErrMockFailure = errors.New("mock store failure")
