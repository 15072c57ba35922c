package route

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adapt-security/adapt-authoring-api/auth"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/resource"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
)

type DispatchSuite struct {
	suite.Suite

	store    *db.MockStore
	engine   *schema.MemoryEngine
	module   *resource.Module
	table    *Table
	router   *mux.Router
	registry *auth.MemoryRegistry
}

func TestDispatchSuite(t *testing.T) {
	suite.Run(t, new(DispatchSuite))
}

func (s *DispatchSuite) SetupTest() {
	s.store = db.NewMockStore()
	s.engine = schema.NewMemoryEngine(&schema.MemorySchema{
		SchemaName: "article",
		Fields: map[string]schema.FieldSpec{
			"name":   {Type: "string", Required: true},
			"rating": {Type: "number"},
			"draft":  {Type: "boolean", Default: true},
		},
	})
	s.module = resource.NewModule(s.store, s.engine, resource.Config{
		Collection: "articles",
		SchemaName: "article",
	})

	var err error
	s.table, err = NewTable(s.module, testSettings(), TableOptions{Root: "articles"})
	s.Require().NoError(err)

	s.router = mux.NewRouter()
	s.registry = auth.NewMemoryRegistry()
	s.table.Attach(s.router, s.registry)
}

func (s *DispatchSuite) do(method, url string, body any, caller *auth.Caller) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, url, reader)
	if caller != nil {
		req = req.WithContext(auth.WithCaller(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *DispatchSuite) decode(rec *httptest.ResponseRecorder) db.Document {
	doc := db.Document{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func (s *DispatchSuite) decodeList(rec *httptest.ResponseRecorder) []db.Document {
	var docs []db.Document
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &docs))
	return docs
}

func (s *DispatchSuite) seed(n int) {
	docs := make([]db.Document, 0, n)
	for i := 1; i <= n; i++ {
		docs = append(docs, db.Document{
			"_id":  fmt.Sprintf("id-%03d", i),
			"name": fmt.Sprintf("article %d", i),
		})
	}
	s.store.Seed("articles", docs...)
}

func (s *DispatchSuite) TestCreateReturnsCreatedDocument() {
	rec := s.do(http.MethodPost, "/api/articles", db.Document{"name": "hello"}, nil)

	s.Equal(http.StatusCreated, rec.Code)
	doc := s.decode(rec)
	s.Equal("hello", doc["name"])
	s.NotEmpty(doc["_id"])
	// the schema default applies when the field is absent
	s.Equal(true, doc["draft"])
	s.EqualValues(1, s.store.InsertCalls)
}

func (s *DispatchSuite) TestCreateValidationFailure() {
	rec := s.do(http.MethodPost, "/api/articles", db.Document{"rating": 3}, nil)

	s.Equal(http.StatusBadRequest, rec.Code)
	body := s.decode(rec)
	s.Equal("request data failed validation", body["message"])
	s.NotEmpty(body["errors"])
	s.EqualValues(0, s.store.InsertCalls)
}

func (s *DispatchSuite) TestMalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/api/articles", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Equal(http.StatusBadRequest, rec.Code)
	s.EqualValues(0, s.store.InsertCalls)
}

func (s *DispatchSuite) TestListWithPaginationHeaders() {
	s.seed(3)
	rec := s.do(http.MethodGet, "/api/articles", nil, nil)

	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.decodeList(rec), 3)
	s.Equal("1", rec.Header().Get(HeaderPage))
	s.Equal("10", rec.Header().Get(HeaderPageSize))
	s.Equal("1", rec.Header().Get(HeaderPageTotal))
	s.Empty(rec.Header().Get("Link"))
}

func (s *DispatchSuite) TestGetSingleDocument() {
	s.seed(3)
	rec := s.do(http.MethodGet, "/api/articles/id-002", nil, nil)

	s.Equal(http.StatusOK, rec.Code)
	doc := s.decode(rec)
	s.Equal("article 2", doc["name"])
	// id-addressed responses carry the document itself, not a list
	s.False(bytes.HasPrefix(bytes.TrimSpace(rec.Body.Bytes()), []byte("[")))
	s.Empty(rec.Header().Get(HeaderPage))
}

func (s *DispatchSuite) TestGetMissingDocument() {
	s.seed(1)
	rec := s.do(http.MethodGet, "/api/articles/id-999", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *DispatchSuite) TestGetDuplicatedIDFailsLoudly() {
	s.store.Seed("articles",
		db.Document{"_id": "dupe", "name": "one"},
		db.Document{"_id": "dupe", "name": "two"},
	)
	rec := s.do(http.MethodGet, "/api/articles/dupe", nil, nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *DispatchSuite) TestUpdatePatchesDocument() {
	s.seed(1)
	rec := s.do(http.MethodPatch, "/api/articles/id-001", db.Document{"rating": 5}, nil)

	s.Equal(http.StatusOK, rec.Code)
	doc := s.decode(rec)
	s.Equal("article 1", doc["name"])
	s.EqualValues(5, doc["rating"])
}

func (s *DispatchSuite) TestReplaceRequiresFullDocument() {
	s.seed(1)
	rec := s.do(http.MethodPut, "/api/articles/id-001", db.Document{"rating": 5}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/articles/id-001", db.Document{"name": "replaced"}, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("replaced", s.decode(rec)["name"])
}

func (s *DispatchSuite) TestDeleteDocument() {
	s.seed(1)
	rec := s.do(http.MethodDelete, "/api/articles/id-001", nil, nil)

	s.Equal(http.StatusNoContent, rec.Code)
	s.Empty(rec.Body.Bytes())
	s.EqualValues(1, s.store.DeleteCalls)
}

func (s *DispatchSuite) TestDeleteMissingDocument() {
	s.seed(1)
	rec := s.do(http.MethodDelete, "/api/articles/id-999", nil, nil)

	s.Equal(http.StatusNotFound, rec.Code)
	s.EqualValues(0, s.store.DeleteCalls)

	remaining, err := s.store.Find(context.Background(), "articles", nil, nil)
	s.NoError(err)
	s.Len(remaining, 1)
}

func (s *DispatchSuite) TestAccessPreCheckDeniesMutation() {
	s.seed(1)
	s.module.Access.Tap(func(ctx context.Context, caller *auth.Caller, item db.Document) (bool, error) {
		return caller.HasScope("write:articles"), nil
	})

	rec := s.do(http.MethodDelete, "/api/articles/id-001", nil, &auth.Caller{ID: "u1"})
	s.Equal(http.StatusForbidden, rec.Code)
	s.EqualValues(0, s.store.DeleteCalls)

	rec = s.do(http.MethodDelete, "/api/articles/id-001", nil, &auth.Caller{ID: "u2", Scopes: []string{"write:articles"}})
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *DispatchSuite) TestPrivilegedCallerBypassesChecks() {
	s.seed(1)
	s.module.Access.Tap(func(context.Context, *auth.Caller, db.Document) (bool, error) {
		return false, nil
	})

	rec := s.do(http.MethodDelete, "/api/articles/id-001", nil, &auth.Caller{ID: "root", Privileged: true})
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *DispatchSuite) TestAccessPostCheckFiltersReads() {
	s.store.Seed("articles",
		db.Document{"_id": "a", "name": "mine", "owner": "u1"},
		db.Document{"_id": "b", "name": "theirs", "owner": "u2"},
	)
	s.module.Access.Tap(func(ctx context.Context, caller *auth.Caller, item db.Document) (bool, error) {
		return item["owner"] == caller.ID, nil
	})

	rec := s.do(http.MethodGet, "/api/articles", nil, &auth.Caller{ID: "u1"})
	s.Equal(http.StatusOK, rec.Code)
	docs := s.decodeList(rec)
	s.Require().Len(docs, 1)
	s.Equal("mine", docs[0]["name"])

	// a filtered-out id-addressed read looks like a missing document
	rec = s.do(http.MethodGet, "/api/articles/b", nil, &auth.Caller{ID: "u1"})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *DispatchSuite) TestQueryWithOrFilter() {
	s.store.Seed("articles",
		db.Document{"_id": "a", "name": "alpha"},
		db.Document{"_id": "b", "name": "beta"},
		db.Document{"_id": "c", "name": "gamma"},
	)

	body := db.Document{"$or": []any{
		db.Document{"name": "alpha"},
		db.Document{"name": "beta"},
	}}
	rec := s.do(http.MethodPost, "/api/articles/query", body, nil)

	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.decodeList(rec), 2)
}

func (s *DispatchSuite) TestQueryToleratesInvalidOrBranch() {
	s.store.Seed("articles", db.Document{"_id": "a", "name": "alpha"})

	// the rating branch carries a value the schema cannot coerce; the
	// query still runs with the branch kept as supplied
	body := db.Document{"$or": []any{
		db.Document{"name": "alpha"},
		db.Document{"rating": "not-a-number"},
	}}
	rec := s.do(http.MethodPost, "/api/articles/query", body, nil)

	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.decodeList(rec), 1)
}

func (s *DispatchSuite) TestQueryPagination() {
	s.seed(25)
	rec := s.do(http.MethodGet, "/api/articles/query?page=3", nil, nil)

	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.decodeList(rec), 5)
	s.Equal("3", rec.Header().Get(HeaderPage))
	s.Equal("10", rec.Header().Get(HeaderPageSize))
	s.Equal("3", rec.Header().Get(HeaderPageTotal))

	link := rec.Header().Get("Link")
	s.Contains(link, `rel="first"`)
	s.Contains(link, `rel="prev"`)
	s.NotContains(link, `rel="next"`)
	s.NotContains(link, `rel="last"`)
}

func (s *DispatchSuite) TestQueryPageSizeCapped() {
	s.seed(25)
	rec := s.do(http.MethodGet, "/api/articles/query?limit=100", nil, nil)

	s.Equal(http.StatusOK, rec.Code)
	// testSettings caps pages at 20 documents
	s.Len(s.decodeList(rec), 20)
	s.Equal("20", rec.Header().Get(HeaderPageSize))
	s.Equal("2", rec.Header().Get(HeaderPageTotal))
}

func (s *DispatchSuite) TestSchemaEndpoint() {
	rec := s.do(http.MethodGet, "/api/articles/schema", nil, nil)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("application/schema+json", rec.Header().Get("Content-Type"))
	raw := map[string]any{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &raw))
	s.Equal("article", raw["$anchor"])
}

func (s *DispatchSuite) TestSchemaEndpointWithoutSchema() {
	module := resource.NewModule(db.NewMockStore(), nil, resource.Config{Collection: "notes"})
	table, err := NewTable(module, testSettings(), TableOptions{Root: "notes"})
	s.Require().NoError(err)
	router := mux.NewRouter()
	table.Attach(router, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/notes/schema", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *DispatchSuite) TestRequestHookCanRewriteContext() {
	s.seed(2)
	s.table.Request.Tap(func(ctx context.Context, rc *RequestContext) (*RequestContext, error) {
		rc.Query["name"] = "article 1"
		return rc, nil
	})

	rec := s.do(http.MethodGet, "/api/articles", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Len(s.decodeList(rec), 1)
}

func (s *DispatchSuite) TestRequestHookAborts() {
	s.seed(1)
	s.table.Request.Tap(func(ctx context.Context, rc *RequestContext) (*RequestContext, error) {
		return rc, fmt.Errorf("nope")
	})

	rec := s.do(http.MethodDelete, "/api/articles/id-001", nil, nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.EqualValues(0, s.store.DeleteCalls)
}
