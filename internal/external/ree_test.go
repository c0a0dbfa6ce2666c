package external

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoGroups = `{
  "data": {"type": "Precios mercado peninsular en tiempo real"},
  "included": [
    {"type": "PVPC", "attributes": {"values": [
      {"value": 12.3, "percentage": 0.5, "datetime": "2024-01-01T00:00:00.000+01:00"},
      {"value": 45.67, "percentage": 0.5, "datetime": "2024-01-01T01:00:00.000+01:00"}
    ]}},
    {"type": "Spot", "attributes": {"values": [
      {"value": 80, "datetime": "2024-01-01T02:00:00.000+01:00"}
    ]}}
  ]
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts REEOptions) *REEClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	opts.Logger = quietLogger()
	return NewREEClient(opts)
}

func serve(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestFetchSpotPrices_FlattensAllGroups(t *testing.T) {
	var gotReq *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		serve(twoGroups)(w, r)
	}, REEOptions{Now: func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }})

	prices, err := client.FetchSpotPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 3)

	assert.Equal(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), prices[0].Timestamp)
	assert.Equal(t, "12.3", prices[0].Value.String())
	assert.Equal(t, "45.67", prices[1].Value.String())
	assert.Equal(t, "80", prices[2].Value.String())
	for _, p := range prices {
		assert.Equal(t, models.ZonePeninsula, p.Zone)
		assert.Nil(t, p.Tags)
	}

	require.NotNil(t, gotReq)
	assert.Equal(t, "/mercados/precios-mercados-tiempo-real", gotReq.URL.Path)
	assert.Equal(t, "2024-01-01T00:00", gotReq.URL.Query().Get("start_date"))
	assert.Equal(t, "2024-01-01T23:59", gotReq.URL.Query().Get("end_date"))
	assert.Equal(t, "hour", gotReq.URL.Query().Get("time_trunc"))
	assert.Equal(t, "EnergyMonitor/1.0", gotReq.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", gotReq.Header.Get("Accept"))
}

func TestFetchSpotPrices_EmptyEnvelope(t *testing.T) {
	client := newTestClient(t, serve(`{"included": []}`), REEOptions{})
	prices, err := client.FetchSpotPrices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestFetchSpotPrices_UpstreamRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance window"))
	}, REEOptions{})

	_, err := client.FetchSpotPrices(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindUpstreamRejected, fe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.Equal(t, "maintenance window", fe.Body)
}

func TestFetchSpotPrices_NoRetryInsideClient(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}, REEOptions{})

	_, err := client.FetchSpotPrices(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFetchSpotPrices_DecodeError(t *testing.T) {
	client := newTestClient(t, serve(`{"included": [`), REEOptions{})

	_, err := client.FetchSpotPrices(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindDecode, fe.Kind)
}

func TestFetchSpotPrices_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewREEClient(REEOptions{BaseURL: url, Logger: quietLogger()})
	_, err := client.FetchSpotPrices(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTransport, fe.Kind)
}

func TestFetchSpotPrices_TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, REEOptions{Timeout: 50 * time.Millisecond})
	defer close(release)

	start := time.Now()
	_, err := client.FetchSpotPrices(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTransport, fe.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

const withMalformed = `{"included": [{"attributes": {"values": [
  {"value": 10.5, "datetime": "2024-01-01T00:00:00Z"},
  {"value": "NaN", "datetime": "2024-01-01T01:00:00Z"},
  {"value": null, "datetime": "2024-01-01T02:00:00Z"},
  {"value": {"x": 1}, "datetime": "2024-01-01T03:00:00Z"},
  {"value": "20.25", "datetime": "2024-01-01T04:00:00Z"},
  {"value": 30, "datetime": "not a time"}
]}}]}`

func TestFetchSpotPrices_MalformedValueSubstitutesZero(t *testing.T) {
	client := newTestClient(t, serve(withMalformed), REEOptions{Policy: SubstituteZero})

	prices, err := client.FetchSpotPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 5, "bad datetime dropped, malformed values kept")

	want := []string{"10.5", "0", "0", "0", "20.25"}
	for i, p := range prices {
		assert.True(t, p.Value.Equal(decimal.RequireFromString(want[i])), "record %d: %s", i, p.Value)
	}
}

func TestFetchSpotPrices_MalformedValueDropped(t *testing.T) {
	client := newTestClient(t, serve(withMalformed), REEOptions{Policy: DropRecord})

	prices, err := client.FetchSpotPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "10.5", prices[0].Value.String())
	assert.Equal(t, "20.25", prices[1].Value.String())
}

func TestParseMalformedValuePolicy(t *testing.T) {
	p, err := ParseMalformedValuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SubstituteZero, p)

	p, err = ParseMalformedValuePolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, DropRecord, p)
	assert.Equal(t, "drop", p.String())

	_, err = ParseMalformedValuePolicy("min")
	assert.Error(t, err)
}

func TestFetchErrorMessages(t *testing.T) {
	rejected := &FetchError{Kind: KindUpstreamRejected, Status: 500, Body: "boom"}
	assert.Contains(t, rejected.Error(), "500")
	assert.Contains(t, rejected.Error(), "boom")

	cause := errors.New("dial tcp: refused")
	transport := &FetchError{Kind: KindTransport, Err: cause}
	assert.ErrorIs(t, transport, cause)
	assert.Contains(t, transport.Error(), "transport")
}
