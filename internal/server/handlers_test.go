package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsukeru/internal/config"
	"github.com/hyperjump/mitsukeru/internal/discovery"
	"github.com/hyperjump/mitsukeru/internal/keyword"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/recommend"
	"github.com/hyperjump/mitsukeru/internal/storage"
	"go.uber.org/zap"
)

// Braid Studio sits about a mile north of central London, the Nail Bar about
// eight, and Pop Up has no location at all.
var testBusinesses = []models.BusinessSummary{
	{ID: 1, Name: "Braid Studio", Rating: 4,
		Locations: []models.Location{{Latitude: 51.5219, Longitude: -0.1278, Enabled: true}}},
	{ID: 2, Name: "Nail Bar and Spa Lounge", Rating: 5,
		Locations: []models.Location{{Latitude: 51.6232, Longitude: -0.1278, Enabled: true}}},
	{ID: 3, Name: "Pop Up", Rating: 3},
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   storage.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	index, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { index.Close() })

	catalog := &models.Catalog{
		Businesses: testBusinesses,
		Profiles: []models.Profile{
			{ID: "me", Embedding: []float32{1, 0}},
			{ID: "twin", Embedding: []float32{0.9, 0.1}},
		},
		Appointments: []models.Appointment{
			{BusinessID: 2, CustomerID: "twin"},
			{BusinessID: 2, CustomerID: "twin"},
		},
	}
	if err := store.ImportCatalog(ctx, catalog); err != nil {
		t.Fatal(err)
	}
	if err := index.Rebuild(ctx, testBusinesses); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.BleveIndexPath = ""

	rec := recommend.New(store, store, recommend.WithParams(cfg.Discovery.RecommendParams()))
	pipeline := discovery.NewPipeline(rec, discovery.WithParams(cfg.Discovery.PipelineParams()))
	srv := NewServer(store, index, pipeline, rec, cfg, zap.NewNop())
	return &testEnv{srv: srv, handler: srv.Router(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

type resultsBody struct {
	RequestID string `json:"request_id"`
	Results   []struct {
		Business models.BusinessSummary `json:"business"`
		Distance *float64               `json:"distance"`
		Score    float64                `json:"score"`
	} `json:"results"`
	Total   int  `json:"total"`
	Relaxed bool `json:"relaxed"`
}

func decodeResults(t *testing.T, w *httptest.ResponseRecorder) resultsBody {
	t.Helper()
	var out resultsBody
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	return out
}

func (b resultsBody) ids() []int64 {
	ids := make([]int64, len(b.Results))
	for i, r := range b.Results {
		ids[i] = r.Business.ID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var london = map[string]float64{"latitude": 51.5074, "longitude": -0.1278}

func TestHandleDiscover_SortOrders(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body map[string]interface{}
		want []int64
	}{
		{"distance", map[string]interface{}{"address": london}, []int64{1, 2, 3}},
		{"rating", map[string]interface{}{"address": london, "sort_by": "rating"}, []int64{2, 1, 3}},
		{"rating filter", map[string]interface{}{"address": london, "rating": 5}, []int64{2}},
		{"radius filter", map[string]interface{}{"address": london, "radius": "5"}, []int64{1}},
		{"exact name", map[string]interface{}{"address": london, "search_input": "Braid Studio"}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/discover", tt.body, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
			}
			out := decodeResults(t, w)
			if !equalIDs(out.ids(), tt.want) {
				t.Errorf("ids: got %v, want %v", out.ids(), tt.want)
			}
			if out.Total != len(tt.want) {
				t.Errorf("total: got %d", out.Total)
			}
		})
	}
}

func TestHandleDiscover_ResponseShape(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/discover",
		map[string]interface{}{"address": london}, map[string]string{"X-Request-ID": "req-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := w.Header().Get("X-Request-ID"); got != "req-1" {
		t.Errorf("request id header: got %q", got)
	}
	out := decodeResults(t, w)
	if out.RequestID != "req-1" {
		t.Errorf("request_id: got %q", out.RequestID)
	}
	if !out.Relaxed {
		t.Error("empty query should relax the cutoff")
	}
	if out.Results[0].Distance == nil || *out.Results[0].Distance > 1.1 {
		t.Errorf("braid distance: got %v", out.Results[0].Distance)
	}
	if out.Results[2].Distance != nil {
		t.Errorf("business without locations should have null distance, got %v", *out.Results[2].Distance)
	}
}

func TestHandleDiscover_GeneratesRequestID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/discover", map[string]interface{}{}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}
}

func TestHandleDiscover_Recommended(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]interface{}{"address": london, "sort_by": "recommended"}

	w := env.do(t, http.MethodPost, "/api/v1/discover", body, map[string]string{"X-User-ID": "me"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeResults(t, w).ids(); !equalIDs(got, []int64{2, 1, 3}) {
		t.Errorf("twin's favourite should lead, got %v", got)
	}

	// Without a session the recommender leaves the relevance order alone.
	w = env.do(t, http.MethodPost, "/api/v1/discover", body, nil)
	if got := decodeResults(t, w).ids(); !equalIDs(got, []int64{1, 2, 3}) {
		t.Errorf("anonymous order should not be personalised, got %v", got)
	}
}

func TestHandleDiscover_SearchSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/discover",
		map[string]interface{}{"address": london}, map[string]string{"X-Search-Session": "tab-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if n := env.srv.latest.InFlight(); n != 0 {
		t.Errorf("in flight after completion: got %d", n)
	}
}

func TestHandleDiscover_BadRequest(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body interface{}
	}{
		{"radius", map[string]interface{}{"radius": 7}},
		{"rating", map[string]interface{}{"rating": 9}},
		{"sort", map[string]interface{}{"sort_by": "price"}},
		{"latitude", map[string]interface{}{"address": map[string]float64{"latitude": 120}}},
		{"body", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/discover", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/search",
		map[string]interface{}{"query": "braid studio", "address": london}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	out := decodeResults(t, w)
	if !equalIDs(out.ids(), []int64{1}) {
		t.Errorf("ids: got %v", out.ids())
	}
	if out.Results[0].Score <= 0 || out.Results[0].Score > 1 {
		t.Errorf("score: got %v", out.Results[0].Score)
	}
}

func TestHandleSearch_Overrides(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query":   "",
		"address": london,
		"params":  map[string]float64{"cutoff": 1000},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	// Pop Up has no enabled location and never passes a finite cutoff.
	if out := decodeResults(t, w); out.Total != 2 {
		t.Errorf("total: got %d", out.Total)
	}

	w = env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query":   "",
		"address": london,
		"limit":   1,
		"offset":  1,
		"params":  map[string]float64{"cutoff": 1000},
	}, nil)
	if out := decodeResults(t, w); !equalIDs(out.ids(), []int64{2}) || out.Total != 2 {
		t.Errorf("page: got %v total %d", out.ids(), out.Total)
	}
}

func TestHandleSearch_ZeroBeta(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"query":   "",
		"address": london,
		"params":  map[string]float64{"beta": 0, "cutoff": 1000},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	// Pop Up has no enabled location and stays above any finite cutoff.
	out := decodeResults(t, w)
	if out.Total != 2 || !equalIDs(out.ids(), []int64{1, 2}) {
		t.Errorf("got %v total %d", out.ids(), out.Total)
	}
}

func TestHandleSearch_BadRequest(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing address", map[string]interface{}{"query": "nails"}},
		{"alpha", map[string]interface{}{"address": london, "params": map[string]float64{"alpha": 3}}},
		{"limit", map[string]interface{}{"address": london, "limit": 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/search", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleRecommend(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/recommend",
		map[string]interface{}{"address": london, "business_ids": []int64{1, 2}},
		map[string]string{"X-User-ID": "me"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if got := decodeResults(t, w).ids(); !equalIDs(got, []int64{2, 1}) {
		t.Errorf("ids: got %v", got)
	}

	w = env.do(t, http.MethodPost, "/api/v1/recommend", map[string]interface{}{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing address: got %d", w.Code)
	}
}

func TestHandleSuggest(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/businesses/suggest?q=brad&limit=5", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Suggestions []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"suggestions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Suggestions) == 0 || out.Suggestions[0].Name != "Braid Studio" {
		t.Errorf("suggestions: got %+v", out.Suggestions)
	}

	for _, path := range []string{"/api/v1/businesses/suggest", "/api/v1/businesses/suggest?q=x&limit=0"} {
		if w := env.do(t, http.MethodGet, path, nil, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, w.Code)
		}
	}
}

func TestHandleBusinessLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/businesses/1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}

	put := map[string]interface{}{
		"name":      "Fade Lab",
		"rating":    4.5,
		"locations": []map[string]float64{{"latitude": 51.5, "longitude": -0.12}},
	}
	w = env.do(t, http.MethodPut, "/api/v1/businesses/10", put, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("put: got %d, body: %s", w.Code, w.Body.String())
	}
	got, err := env.store.GetBusiness(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Fade Lab" || len(got.Locations) != 1 || !got.Locations[0].Enabled {
		t.Errorf("stored business: got %+v", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/businesses/suggest?q=fade", nil, nil)
	if !bytes.Contains(w.Body.Bytes(), []byte("Fade Lab")) {
		t.Errorf("new business should be suggested, body: %s", w.Body.String())
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/businesses/10", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/businesses/10", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/businesses/10", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d", w.Code)
	}
}

func TestHandlePutBusiness_Invalid(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"missing name", "/api/v1/businesses/10", map[string]interface{}{"rating": 3}},
		{"rating", "/api/v1/businesses/10", map[string]interface{}{"name": "x", "rating": 6}},
		{"location", "/api/v1/businesses/10", map[string]interface{}{"name": "x",
			"locations": []map[string]float64{{"latitude": 91}}}},
		{"id", "/api/v1/businesses/abc", map[string]interface{}{"name": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, tt.path, tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["businesses"] != float64(3) || out["profiles"] != float64(2) || out["appointments"] != float64(2) {
		t.Errorf("counts: got %v", out)
	}
	if out["name_index_size"] != float64(3) {
		t.Errorf("name_index_size: got %v", out["name_index_size"])
	}
	if _, ok := out["disk_usage_bytes"]; !ok {
		t.Error("expected disk_usage_bytes")
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}
