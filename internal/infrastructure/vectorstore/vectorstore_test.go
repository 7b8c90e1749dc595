package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
)

type recordedCall struct {
	method string
	path   string
	body   map[string]any
}

func qdrantServer(t *testing.T, collectionExists bool) (*httptest.Server, func() []recordedCall) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []recordedCall
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := recordedCall{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&call.body)
		}
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/help_articles":
			if !collectionExists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{"status":"green"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/help_articles":
			_, _ = w.Write([]byte(`{"result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/help_articles/points":
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/help_articles/points/search":
			_, _ = w.Write([]byte(`{"result":[
				{"id":"a1","score":0.92,"payload":{"article_id":"a1","title":"Reset password","url":"https://help.example.com/a1","content":"Open settings"}},
				{"id":7,"score":0.81,"payload":{"article_id":"a7","title":"Billing","url":"https://help.example.com/a7","content":"Invoices"}}
			]}`))
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}))
	t.Cleanup(server.Close)

	return server, func() []recordedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedCall(nil), calls...)
	}
}

func newQdrant(url string) *QdrantStore {
	return NewQdrantStore(config.VectorStoreConfig{URL: url + "/", APIKey: "secret", Collection: "help_articles"}, nil)
}

func TestQdrantEnsureCollectionCreatesMissing(t *testing.T) {
	t.Parallel()

	server, calls := qdrantServer(t, false)
	store := newQdrant(server.URL)

	err := store.EnsureCollection(context.Background(), domain.CollectionSpec{Dimension: 1536, Distance: "Cosine"})
	require.NoError(t, err)

	got := calls()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodGet, got[0].method)
	assert.Equal(t, http.MethodPut, got[1].method)
	vectors, ok := got[1].body["vectors"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1536), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestQdrantEnsureCollectionKeepsExisting(t *testing.T) {
	t.Parallel()

	server, calls := qdrantServer(t, true)
	store := newQdrant(server.URL)

	require.NoError(t, store.EnsureCollection(context.Background(), domain.CollectionSpec{Dimension: 3}))
	assert.Len(t, calls(), 1)
}

func TestQdrantEnsureCollectionValidates(t *testing.T) {
	t.Parallel()

	store := newQdrant("http://127.0.0.1:1")
	err := store.EnsureCollection(context.Background(), domain.CollectionSpec{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQdrantUpsertAndSearch(t *testing.T) {
	t.Parallel()

	server, calls := qdrantServer(t, true)
	store := newQdrant(server.URL)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, nil))
	assert.Empty(t, calls(), "empty upsert must not call the server")

	err := store.Upsert(ctx, []domain.VectorPoint{{
		ID:      "a1",
		Vector:  []float32{0.1, 0.2},
		Payload: domain.ArticlePayload{ArticleID: "a1", Title: "Reset password"},
	}})
	require.NoError(t, err)

	upsert := calls()[0]
	points, ok := upsert.body["points"].([]any)
	require.True(t, ok)
	require.Len(t, points, 1)
	first := points[0].(map[string]any)
	assert.Equal(t, "a1", first["id"])
	assert.Equal(t, "Reset password", first["payload"].(map[string]any)["title"])

	hits, err := store.Search(ctx, []float32{0.1, 0.2}, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].ID)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-9)
	assert.Equal(t, "Open settings", hits[0].Payload.Content)
	assert.Equal(t, "7", hits[1].ID)

	recorded := calls()
	require.Len(t, recorded, 2)
	search := recorded[1]
	assert.Contains(t, search.path, "/points/search")
	assert.Equal(t, 0.7, search.body["score_threshold"])
	assert.Equal(t, float64(5), search.body["limit"])
	assert.Equal(t, true, search.body["with_payload"])
}

func TestQdrantSurfacesUpstreamErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	store := NewQdrantStore(config.VectorStoreConfig{URL: server.URL, Collection: "help_articles"}, server.Client())
	_, err := store.Search(context.Background(), []float32{1}, 5, 0.7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")

	err = store.EnsureCollection(context.Background(), domain.CollectionSpec{Dimension: 3})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "lookup collection help_articles"))
}

func TestMemoryStoreSearchRanksByCosine(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, domain.CollectionSpec{Name: "x", Dimension: 2}))

	require.NoError(t, store.Upsert(ctx, []domain.VectorPoint{
		{ID: "same", Vector: []float32{2, 0}},
		{ID: "close", Vector: []float32{1, 0.2}},
		{ID: "orthogonal", Vector: []float32{0, 1}},
	}))
	require.NoError(t, store.Upsert(ctx, []domain.VectorPoint{{ID: "same", Vector: []float32{3, 0}}}))
	assert.Equal(t, 3, store.Len())

	hits, err := store.Search(ctx, []float32{1, 0}, 5, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "same", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "close", hits[1].ID)

	hits, err = store.Search(ctx, []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryStoreRejectsWrongDimension(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, domain.CollectionSpec{Name: "x", Dimension: 3}))

	err := store.Upsert(ctx, []domain.VectorPoint{{ID: "a", Vector: []float32{1, 2}}})
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len())

	assert.ErrorIs(t, store.EnsureCollection(ctx, domain.CollectionSpec{Name: "x"}), domain.ErrInvalidInput)
}

func TestCosineHandlesZeroVectors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestPgvectorRejectsUnsafeCollection(t *testing.T) {
	t.Parallel()

	_, err := NewPgvectorStore(nil, "help_articles; DROP TABLE articles")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	store, err := NewPgvectorStore(nil, "help_articles")
	require.NoError(t, err)

	query, args, err := store.searchQuery([]float32{0.1, 0.2}, 5, 0.7)
	require.NoError(t, err)
	assert.Contains(t, query, `FROM "help_articles"`)
	assert.Contains(t, query, "1 - (embedding <=> $1) AS score")
	assert.Contains(t, query, "LIMIT 5")
	assert.Len(t, args, 3)

	query, _, err = store.upsertQuery(domain.VectorPoint{ID: "a1", Vector: []float32{0.1}})
	require.NoError(t, err)
	assert.Contains(t, query, `INSERT INTO "help_articles"`)
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE")

	stmts := createCollectionSQL("help_articles", 1536)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], "vector(1536)")
}
