package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptrun/internal/config"
	"ptrun/internal/metrics"
	"ptrun/internal/model"
	"ptrun/internal/output"
)

func writeOutput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	events := []model.Event{
		{ID: 1, Name: "Meia Maratona de Lisboa", StartDate: "2025-03-15", DistrictCode: model.Int(11)},
		{ID: 2, Name: "Corrida do Porto", StartDate: "2024-11-02", DistrictCode: model.Int(13)},
		{ID: 3, Name: "Trail da Serra", StartDate: "2025-06-01"},
	}
	require.NoError(t, output.NewWriter(dir).Write(events, "2025-01-01"))
	return dir
}

func newTestServer(t *testing.T, dir string, cfg config.ServeConfig) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := metrics.New()
	m.ObserveListing(1, nil)
	return NewServer(dir, cfg, m.Registry)
}

func get(s *Server, path string, auth ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeIDs(t *testing.T, body []byte) []int {
	t.Helper()
	var events []model.Event
	require.NoError(t, json.Unmarshal(body, &events))
	ids := make([]int, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, t.TempDir(), config.ServeConfig{})
	rec := get(s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestViews(t *testing.T) {
	s := newTestServer(t, writeOutput(t), config.ServeConfig{})

	tests := []struct {
		path string
		ids  []int
	}{
		{"/events", []int{2, 1, 3}},
		{"/upcoming", []int{1, 3}},
		{"/years/2025", []int{1, 3}},
		{"/districts/11", []int{1}},
		{"/districts/13", []int{2}},
		{"/districts/5", []int{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			rec := get(s, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			assert.Equal(t, tt.ids, decodeIDs(t, rec.Body.Bytes()))
		})
	}
}

func TestGroupedViews(t *testing.T) {
	s := newTestServer(t, writeOutput(t), config.ServeConfig{})

	rec := get(s, "/upcoming/districts")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups map[string][]model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	assert.Len(t, groups, 1)
	assert.Len(t, groups["11"], 1)

	rec = get(s, "/districts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	assert.Len(t, groups, 2)
}

func TestSingleEvent(t *testing.T) {
	s := newTestServer(t, writeOutput(t), config.ServeConfig{})

	rec := get(s, "/events/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var ev model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "Corrida do Porto", ev.Name)

	assert.Equal(t, http.StatusNotFound, get(s, "/events/99").Code)
	assert.Equal(t, http.StatusBadRequest, get(s, "/events/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(s, "/events/-1").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/years/1999").Code)
}

func TestMissingOutput(t *testing.T) {
	s := newTestServer(t, t.TempDir(), config.ServeConfig{})
	assert.Equal(t, http.StatusNotFound, get(s, "/events").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/districts/11").Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, t.TempDir(), config.ServeConfig{})
	rec := get(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ptrun_listings_total{result="succeeded"} 1`)
}

func TestNoMetricsWithoutGatherer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(t.TempDir(), config.ServeConfig{}, nil)
	assert.Equal(t, http.StatusNotFound, get(s, "/metrics").Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.ServeConfig{BasicAuth: &config.BasicAuthConfig{Username: "admin", Password: "secret"}}
	s := newTestServer(t, writeOutput(t), cfg)

	assert.Equal(t, http.StatusOK, get(s, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, get(s, "/events").Code)
	assert.Equal(t, http.StatusUnauthorized, get(s, "/events", "admin", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(s, "/events", "admin", "secret").Code)
	assert.Equal(t, http.StatusUnauthorized, get(s, "/metrics").Code)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	cfg := config.ServeConfig{BasicAuth: &config.BasicAuthConfig{Username: "admin"}}
	s := newTestServer(t, writeOutput(t), cfg)
	assert.Equal(t, http.StatusOK, get(s, "/events").Code)
}
