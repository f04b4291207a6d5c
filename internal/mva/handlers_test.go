package mva_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-petshop/internal/common"
	"github.com/noah-isme/backend-petshop/internal/mva"
)

// memoryStore is both the writable store and the reload source.
type memoryStore struct {
	mu      sync.Mutex
	entries map[mva.Key]mva.Entry
}

func newMemoryStore(entries ...mva.Entry) *memoryStore {
	s := &memoryStore{entries: map[mva.Key]mva.Entry{}}
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	return s
}

func (s *memoryStore) Name() string { return "postgres" }

func (s *memoryStore) Entries(context.Context) ([]mva.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mva.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (s *memoryStore) Upsert(_ context.Context, e mva.Entry) (mva.Entry, error) {
	if err := e.Validate(); err != nil {
		return mva.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return e, nil
}

func (s *memoryStore) Delete(_ context.Context, key mva.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return mva.ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

type recordingScheduler struct {
	reasons []string
}

func (r *recordingScheduler) Schedule(_ context.Context, reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

type errorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type resolveResponse struct {
	Data mva.ResolveView `json:"data"`
}

type listResponse struct {
	Data       []mva.EntryView   `json:"data"`
	Pagination common.Pagination `json:"pagination"`
	Snapshot   mva.SnapshotView  `json:"snapshot"`
}

func newHandler(t *testing.T, store *memoryStore) (*mva.Handler, http.Handler, *recordingScheduler) {
	t.Helper()
	v := common.NewValidator()
	require.NoError(t, mva.RegisterValidations(v))
	holder := mva.NewHolder(nil)
	reloader := &mva.Reloader{Holder: holder, Source: store, Logger: zerolog.Nop()}
	_, err := reloader.Reload(context.Background())
	require.NoError(t, err)
	sched := &recordingScheduler{}
	h := &mva.Handler{
		Holder:     holder,
		Store:      store,
		Reloader:   reloader,
		Scheduler:  sched,
		Validate:   v,
		MaxPerPage: 100,
		Logger:     zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Get("/api/v1/mva/resolve", h.Resolve)
	r.Get("/api/v1/admin/mva", h.List)
	r.Put("/api/v1/admin/mva", h.Upsert)
	r.Delete("/api/v1/admin/mva/{product}/{origin}/{destination}", h.Delete)
	r.Post("/api/v1/admin/mva/reload", h.Reload)
	return h, r, sched
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedStore() *memoryStore {
	return newMemoryStore(
		mva.Entry{Key: mva.NewKey("2309.10.00", "SP", "RJ"), Percent: decimal.RequireFromString("40")},
		mva.Entry{Key: mva.NewKey("racao", "SP", "RJ"), Percent: decimal.RequireFromString("35.5")},
	)
}

func TestResolveHandler(t *testing.T) {
	_, router, _ := newHandler(t, seedStore())

	t.Run("product hit", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/v1/mva/resolve?product=2309.10.00&category=racao&origin=sp&destination=RJ", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body resolveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.True(t, body.Data.Hit)
		require.Equal(t, "40", body.Data.MVAPercent)
		require.Equal(t, "product", body.Data.Matched)
		require.Equal(t, "SP", body.Data.Origin)
	})

	t.Run("category fallback", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/v1/mva/resolve?product=unknown&category=racao&origin=SP&destination=RJ", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body resolveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "35.5", body.Data.MVAPercent)
		require.Equal(t, "category", body.Data.Matched)
	})

	t.Run("miss is zero", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/v1/mva/resolve?product=2309.10.00&origin=RJ&destination=SP", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body resolveResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.False(t, body.Data.Hit)
		require.Equal(t, "0", body.Data.MVAPercent)
	})

	t.Run("invalid state", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/v1/mva/resolve?product=x&origin=XX&destination=RJ", "")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "origin", body.Error.Details["field"])
	})
}

func TestListHandlerPaginates(t *testing.T) {
	_, router, _ := newHandler(t, seedStore())
	rec := do(t, router, http.MethodGet, "/api/v1/admin/mva?limit=1&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.Equal(t, "racao", body.Data[0].Product)
	require.Equal(t, 2, body.Pagination.TotalItems)
	require.Equal(t, "postgres", body.Snapshot.Source)
}

func TestListHandlerPageBeyondRange(t *testing.T) {
	_, router, _ := newHandler(t, seedStore())
	rec := do(t, router, http.MethodGet, "/api/v1/admin/mva?limit=50&page=184467440737095518", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Data)
	require.Equal(t, 2, body.Pagination.TotalItems)
}

func TestUpsertAndDeleteRefreshSnapshot(t *testing.T) {
	h, router, sched := newHandler(t, seedStore())

	rec := do(t, router, http.MethodPut, "/api/v1/admin/mva",
		`{"product":"areia-gato","origin":"MG","destination":"ba","percent":"71.78","description":"areia higienica"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, h.Holder.Resolve(mva.NewKey("areia-gato", "MG", "BA")).Equal(decimal.RequireFromString("71.78")))
	require.Equal(t, []string{"upsert areia-gato|MG|BA"}, sched.reasons)

	rec = do(t, router, http.MethodDelete, "/api/v1/admin/mva/areia-gato/MG/BA", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, h.Holder.Resolve(mva.NewKey("areia-gato", "MG", "BA")).IsZero())
	require.Len(t, sched.reasons, 2)

	rec = do(t, router, http.MethodDelete, "/api/v1/admin/mva/areia-gato/MG/BA", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpsertValidation(t *testing.T) {
	_, router, sched := newHandler(t, seedStore())
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"bad state", `{"product":"a","origin":"XX","destination":"RJ","percent":"10"}`, "origin"},
		{"bad percent", `{"product":"a","origin":"SP","destination":"RJ","percent":"ten"}`, "percent"},
		{"negative percent", `{"product":"a","origin":"SP","destination":"RJ","percent":"-1"}`, "percent"},
		{"missing product", `{"origin":"SP","destination":"RJ","percent":"10"}`, "product"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, "/api/v1/admin/mva", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
			require.Equal(t, tc.field, body.Error.Details["field"])
		})
	}
	require.Empty(t, sched.reasons)

	rec := do(t, router, http.MethodPut, "/api/v1/admin/mva", `{"product":"a","unknown":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWritesRejectedForReadOnlySource(t *testing.T) {
	h, router, _ := newHandler(t, seedStore())
	h.Store = nil
	rec := do(t, router, http.MethodPut, "/api/v1/admin/mva", `{"product":"a","origin":"SP","destination":"RJ","percent":"1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "READ_ONLY_SOURCE", body.Error.Code)
}

func TestReloadHandler(t *testing.T) {
	store := seedStore()
	h, router, sched := newHandler(t, store)
	_, err := store.Upsert(context.Background(), mva.Entry{Key: mva.NewKey("x", "PR", "SC"), Percent: decimal.NewFromInt(12)})
	require.NoError(t, err)
	require.Equal(t, 2, h.Holder.Load().Len())

	rec := do(t, router, http.MethodPost, "/api/v1/admin/mva/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, h.Holder.Load().Len())
	require.Equal(t, []string{"manual reload"}, sched.reasons)
}
