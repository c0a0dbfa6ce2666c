package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kjannette/energy-monitor/internal/metrics"
	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/kjannette/energy-monitor/internal/query"
	"github.com/kjannette/energy-monitor/internal/repository"
	"github.com/kjannette/energy-monitor/internal/scheduler"
	"github.com/kjannette/energy-monitor/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store interface {
	query.Reader
	Pinger
}, opts Options) http.Handler {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(query.NewService(store, 0), store, opts).Handler()
}

func seededStore(t *testing.T, values ...string) *repository.MemoryPriceRepo {
	t.Helper()
	store := repository.NewMemoryPriceRepo()
	require.NoError(t, store.SavePrices(context.Background(), testutil.HourlyPrices(day, values...)))
	return store
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestPrices_DefaultLimit(t *testing.T) {
	h := newTestServer(t, seededStore(t, "1", "2", "3", "4", "5"), Options{DefaultLimit: 3})

	rr := get(h, "/prices")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got []models.PriceRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "5", got[0].Value.String())
	assert.Equal(t, models.ZonePeninsula, got[0].Zone)
	assert.True(t, got[0].Timestamp.After(got[1].Timestamp))
}

func TestPrices_ExplicitLimit(t *testing.T) {
	h := newTestServer(t, seededStore(t, "1", "2", "3"), Options{})

	rr := get(h, "/prices?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []models.PriceRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestPrices_EmptyStoreIsEmptyArray(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryPriceRepo(), Options{})

	rr := get(h, "/prices")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestPrices_BadLimit(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryPriceRepo(), Options{})
	for _, q := range []string{"?limit=0", "?limit=-5", "?limit=abc", "?limit=1001"} {
		rr := get(h, "/prices"+q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		assert.Contains(t, rr.Body.String(), `"error"`, q)
	}
}

func TestStats(t *testing.T) {
	h := newTestServer(t, seededStore(t, "100", "200", "300"), Options{})

	rr := get(h, "/stats?date=2024-01-15")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"max":"300","min":"100","avg":"200","count":3}`, rr.Body.String())
}

func TestStats_EmptyDay(t *testing.T) {
	h := newTestServer(t, seededStore(t, "100"), Options{})

	rr := get(h, "/stats?date=2024-01-20")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"max":null,"min":null,"avg":null,"count":0}`, rr.Body.String())
}

func TestStats_InvalidDateReturns400(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryPriceRepo(), Options{})
	for _, q := range []string{"/stats?date=bad-date", "/stats", "/stats?date=2024-02-30"} {
		rr := get(h, q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

type downStore struct{}

func (downStore) GetLastPrices(context.Context, int) ([]models.PriceRecord, error) {
	return nil, &repository.StoreError{Op: "get last prices", Err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
}

func (downStore) GetDailyStats(context.Context, time.Time) (*models.DailyStats, error) {
	return nil, &repository.StoreError{Op: "get daily stats", Err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestStoreFailureIsGeneric500(t *testing.T) {
	h := newTestServer(t, downStore{}, Options{})

	for _, target := range []string{"/prices", "/stats?date=2024-01-15"} {
		rr := get(h, target)
		assert.Equal(t, http.StatusInternalServerError, rr.Code, target)
		assert.NotContains(t, rr.Body.String(), "10.0.0.5", target)
	}
}

func TestHealth(t *testing.T) {
	var body healthResponse

	rr := get(newTestServer(t, repository.NewMemoryPriceRepo(), Options{Backend: "memory"}), "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "connected", body.Store.Status)
	assert.Equal(t, "memory", body.Store.Backend)
	assert.Nil(t, body.Ingest)
}

func TestHealth_StoreDownIs503(t *testing.T) {
	rr := get(newTestServer(t, downStore{}, Options{}), "/health")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "disconnected", body.Store.Status)
}

type stubIngest struct {
	state scheduler.State
	last  *scheduler.CycleResult
}

func (s stubIngest) State() scheduler.State { return s.state }

func (s stubIngest) LastCycle() (scheduler.CycleResult, bool) {
	if s.last == nil {
		return scheduler.CycleResult{}, false
	}
	return *s.last, true
}

func TestHealth_ReportsIngest(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	store := repository.NewMemoryPriceRepo()

	rr := get(newTestServer(t, store, Options{Ingest: stubIngest{state: scheduler.Running}}), "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotNil(t, body.Ingest)
	assert.Equal(t, "running", body.Ingest.State)
	assert.Empty(t, body.Ingest.LastCycleAt)

	failed := &scheduler.CycleResult{Started: started, Err: errors.New("fetch prices: ree transport: connection refused")}
	rr = get(newTestServer(t, store, Options{Ingest: stubIngest{last: failed}}), "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	body = healthResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "idle", body.Ingest.State)
	assert.Equal(t, "2024-01-15T10:00:00Z", body.Ingest.LastCycleAt)
	assert.Contains(t, body.Ingest.LastError, "connection refused")

	ok := &scheduler.CycleResult{Started: started, Fetched: 24}
	rr = get(newTestServer(t, store, Options{Ingest: stubIngest{last: ok}}), "/health")
	body = healthResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 24, body.Ingest.LastFetched)
	assert.Empty(t, body.Ingest.LastError)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewIngest(reg)
	m.ObserveCycle(metrics.OutcomeSuccess, 24, time.Second)

	rr := get(newTestServer(t, repository.NewMemoryPriceRepo(), Options{Gatherer: reg}), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "energy_monitor_ingest_records_total 24")

	rr = get(newTestServer(t, repository.NewMemoryPriceRepo(), Options{}), "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryPriceRepo(), Options{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/prices", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query    string
		deflt    int
		expected int
		wantErr  bool
	}{
		{"", 100, 100, false},
		{"?limit=50", 100, 50, false},
		{"?limit=0", 100, 0, false},
		{"?limit=-5", 100, -5, false},
		{"?limit=abc", 100, 0, true},
		{"?limit=1.5", 100, 0, true},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/test"+tc.query, nil)
		got, err := parseLimit(req, tc.deflt)
		if tc.wantErr {
			if !errors.Is(err, query.ErrInvalidArgument) {
				t.Fatalf("parseLimit(%q) err = %v, want ErrInvalidArgument", tc.query, err)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Fatalf("parseLimit(%q, %d) = %d, %v; want %d", tc.query, tc.deflt, got, err, tc.expected)
		}
	}
}

func TestCorsMiddleware_Headers(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(inner, "https://myapp.example.com")

	req := httptest.NewRequest(http.MethodGet, "/prices", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "https://myapp.example.com" {
		t.Fatalf("expected custom origin, got %q", origin)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") != "GET, OPTIONS" {
		t.Fatalf("unexpected Allow-Methods %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCorsMiddleware_DefaultOrigin(t *testing.T) {
	handler := corsMiddleware(http.NotFoundHandler(), "")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/prices", nil))

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for OPTIONS")
	})
	handler := corsMiddleware(inner, "*")

	req := httptest.NewRequest(http.MethodOptions, "/prices", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
}
