package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontier/internal/analysis"
	"frontier/internal/config"
	"frontier/internal/data"
	"frontier/internal/portfolio"
	"frontier/internal/storage"
)

var testNow = time.Date(2025, 6, 30, 15, 0, 0, 0, time.UTC)

// fakeFetcher serves deterministic random walks and fails for BAD-prefixed tickers.
type fakeFetcher struct {
	calls int32
}

func (f *fakeFetcher) FetchPrices(_ context.Context, ticker string, rng data.Range) (*data.PriceData, error) {
	atomic.AddInt32(&f.calls, 1)
	if strings.HasPrefix(ticker, "BAD") {
		return nil, fmt.Errorf("%w: %s", data.ErrUnknownTicker, ticker)
	}

	h := fnv.New64a()
	h.Write([]byte(ticker))
	seed := int64(h.Sum64() >> 1)
	r := rand.New(rand.NewSource(seed))
	drift := 0.0003 + float64(seed%5)*0.0002
	vol := 0.008 + float64(seed%7)*0.002

	pd := &data.PriceData{Ticker: ticker}
	for d := rng.Start; d.Before(rng.End); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			pd.Dates = append(pd.Dates, d)
		}
	}
	shocks := make([]float64, len(pd.Dates))
	mean := 0.0
	for i := range shocks {
		shocks[i] = r.NormFloat64()
		mean += shocks[i] / float64(len(shocks))
	}
	px := 50.0
	for i := range shocks {
		px *= 1 + drift + vol*(shocks[i]-mean)
		pd.Closes = append(pd.Closes, px)
	}
	return pd, nil
}

type testServer struct {
	*Server
	fetcher *fakeFetcher
}

func newTestServer(t *testing.T, withStore bool) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Port = 8080
	cfg.StaticDir = t.TempDir()
	cfg.MaxTickers = 20
	cfg.PeriodsPerYear = portfolio.TradingDays
	cfg.FrontierPoints = 6
	cfg.Samples = 20

	universes, err := data.LoadUniverses("")
	require.NoError(t, err)

	ff := &fakeFetcher{}
	metrics := NewMetrics()
	fetcher := data.NewCachedFetcher(ff, data.NewMemoryCache(time.Hour), metrics, 4)

	var store RunStore
	if withStore {
		st, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		store = st
	}

	s := NewServer(cfg, fetcher, store, universes, metrics)
	s.now = func() time.Time { return testNow }
	return &testServer{Server: s, fetcher: ff}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodOptions, "/api/analyze", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/analyze", map[string]interface{}{
		"tickers":        []string{"aapl", "MSFT", "jnj", "AAPL"},
		"risk_free_rate": 0.01,
		"samples":        30,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AnalyzeResponse](t, rec)
	require.NotNil(t, resp.Result)
	assert.Equal(t, []string{"AAPL", "MSFT", "JNJ"}, resp.Tickers)
	assert.Equal(t, 0.01, resp.RiskFreeRate)
	assert.True(t, resp.End.Equal(testNow.Truncate(24*time.Hour)), resp.End.String())
	assert.Len(t, resp.Strategies, 3)
	assert.Len(t, resp.Samples, 30)
	assert.GreaterOrEqual(t, len(resp.Frontier), 2)
	assert.LessOrEqual(t, len(resp.Frontier), 6)
	require.NotNil(t, resp.MaxSharpe)
	require.NotNil(t, resp.MinVariance)
	assert.InDelta(t, 1, resp.MaxSharpe.Weights.Sum(), 1e-9)
	assert.LessOrEqual(t, resp.MinVariance.Stats.Volatility, resp.MaxSharpe.Stats.Volatility+1e-9)
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.RunID)
}

func TestAnalyzeCachesPrices(t *testing.T) {
	ts := newTestServer(t, false)
	body := map[string]interface{}{"tickers": []string{"AAPL", "MSFT"}, "samples": 0}

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/analyze", body).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/analyze", body).Code)

	assert.Equal(t, int32(2), atomic.LoadInt32(&ts.fetcher.calls))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.CacheMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.Optimizations.WithLabelValues("compare", "ok")))
}

func TestAnalyzeReportsFailedTickers(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/analyze", map[string]interface{}{
		"tickers": []string{"AAPL", "BADX", "MSFT"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[AnalyzeResponse](t, rec)
	assert.Equal(t, []string{"AAPL", "MSFT"}, resp.Tickers)
	assert.Contains(t, resp.Error, "some tickers failed: BADX")
	assert.Contains(t, resp.Failed, "BADX")
}

func TestAnalyzeUniverse(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/analyze", map[string]interface{}{"universe": "Tech", "samples": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META"}, decode[AnalyzeResponse](t, rec).Tickers)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, false)

	many := make([]string, 21)
	for i := range many {
		many[i] = fmt.Sprintf("T%d", i)
	}
	cases := map[string]interface{}{
		"invalid json":     "{not json",
		"one ticker":       map[string]interface{}{"tickers": []string{"AAPL", "aapl"}},
		"too many tickers": map[string]interface{}{"tickers": many},
		"too many years":   map[string]interface{}{"tickers": []string{"AAPL", "MSFT"}, "years": 101},
		"unknown universe": map[string]interface{}{"universe": "mars"},
		"risk free rate":   map[string]interface{}{"tickers": []string{"AAPL", "MSFT"}, "risk_free_rate": 2},
		"all tickers fail": map[string]interface{}{"tickers": []string{"BAD1", "BAD2"}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/analyze", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestRunHistory(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodPost, "/api/analyze", map[string]interface{}{
		"tickers": []string{"AAPL", "MSFT", "JNJ"},
		"samples": 0,
		"save":    true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[AnalyzeResponse](t, rec).RunID
	require.NotEmpty(t, id)

	rec = ts.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[map[string][]*storage.Run](t, rec)["runs"]
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)

	rec = ts.do(t, http.MethodGet, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[storage.Run](t, rec)
	assert.Equal(t, []string{"AAPL", "MSFT", "JNJ"}, run.Tickers)
	assert.Len(t, run.Strategies, 3)

	rec = ts.do(t, http.MethodGet, "/api/runs/"+id+"/weights.png?strategy=Equal+Weight", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = ts.do(t, http.MethodGet, "/api/runs/"+id+"/weights.png?strategy=Nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/runs?limit=zero", nil).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/runs/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/runs/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/runs/"+id, nil).Code)
}

func TestRunHistoryDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/api/runs", nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/analyze", map[string]interface{}{
		"tickers": []string{"AAPL", "MSFT"},
		"save":    true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AnalyzeResponse](t, rec)
	assert.Empty(t, resp.RunID)
	assert.Contains(t, resp.Warnings, "run history is disabled, analysis not saved")
}

func optimizeBody(objective string) map[string]interface{} {
	return map[string]interface{}{
		"assets": []string{"A", "B"},
		"returns": [][]float64{
			{0.01, 0.02},
			{-0.01, 0.00},
			{0.02, 0.01},
			{0.00, -0.01},
			{0.015, 0.005},
		},
		"objective": objective,
	}
}

func TestOptimize(t *testing.T) {
	ts := newTestServer(t, false)

	for _, obj := range []string{ObjectiveMinVol, ObjectiveMaxSharpe, ObjectiveEqualWeight} {
		t.Run(obj, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/optimize", optimizeBody(obj))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			resp := decode[OptimizeResponse](t, rec)
			assert.Equal(t, []string{"A", "B"}, resp.Assets)
			assert.InDelta(t, 1, resp.Weights.Sum(), 1e-9)
			require.NotNil(t, resp.Stats)
			assert.Greater(t, resp.Stats.Volatility, 0.0)
		})
	}

	body := optimizeBody(ObjectiveEfficientReturn)
	body["target_return"] = 1.5
	rec := ts.do(t, http.MethodPost, "/api/optimize", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 1.5, decode[OptimizeResponse](t, rec).Stats.Return, 1e-5)

	rec = ts.do(t, http.MethodPost, "/api/optimize", optimizeBody(ObjectiveFrontier))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[OptimizeResponse](t, rec)
	assert.Nil(t, resp.Weights)
	assert.NotEmpty(t, resp.Frontier)
}

func TestOptimizeErrors(t *testing.T) {
	ts := newTestServer(t, false)

	unreachable := optimizeBody(ObjectiveEfficientReturn)
	unreachable["target_return"] = 5.0
	noTarget := optimizeBody(ObjectiveEfficientReturn)
	ragged := optimizeBody(ObjectiveMinVol)
	ragged["returns"] = [][]float64{{0.01, 0.02}, {0.01}}
	infeasible := optimizeBody(ObjectiveMinVol)
	infeasible["bounds"] = map[string]float64{"lower": 0, "upper": 0.3}
	wrongBounds := optimizeBody(ObjectiveMinVol)
	wrongBounds["asset_bounds"] = []map[string]float64{{"lower": 0, "upper": 1}}
	onePoint := optimizeBody(ObjectiveFrontier)
	onePoint["frontier_points"] = 1
	negativePoints := optimizeBody(ObjectiveFrontier)
	negativePoints["frontier_points"] = -3

	cases := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"unknown objective", optimizeBody("max_return"), http.StatusBadRequest},
		{"missing target", noTarget, http.StatusBadRequest},
		{"unreachable target", unreachable, http.StatusBadRequest},
		{"ragged matrix", ragged, http.StatusBadRequest},
		{"asset bounds length", wrongBounds, http.StatusBadRequest},
		{"single frontier point", onePoint, http.StatusBadRequest},
		{"negative frontier points", negativePoints, http.StatusBadRequest},
		{"infeasible bounds", infeasible, http.StatusUnprocessableEntity},
		{"invalid json", "[", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/optimize", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.Optimizations.WithLabelValues(ObjectiveMinVol, "did_not_converge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.Optimizations.WithLabelValues(ObjectiveEfficientReturn, "unreachable_target")))
}

func TestListUniverses(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/universes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[map[string]data.Universes](t, rec)["universes"]
	assert.Contains(t, u, "mexican")
	assert.Contains(t, u["us"], "JPM")
}

func TestInvalidateCache(t *testing.T) {
	ts := newTestServer(t, false)
	body := map[string]interface{}{"tickers": []string{"AAPL", "MSFT"}, "samples": 0}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/analyze", body).Code)

	rec := ts.do(t, http.MethodDelete, "/api/cache?ticker=aapl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, CacheResponse{Ticker: "AAPL", Removed: 1}, decode[CacheResponse](t, rec))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/analyze", body).Code)
	assert.Equal(t, int32(4), atomic.LoadInt32(&ts.fetcher.calls))

	rec = ts.do(t, http.MethodDelete, "/api/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CacheResponse](t, rec).Purged)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	ts.do(t, http.MethodGet, "/api/health", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "frontier_http_request_duration_seconds")
	assert.Contains(t, out, `route="/api/health"`)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", analysis.ErrInvalidRequest), http.StatusBadRequest},
		{&portfolio.InsufficientDataError{}, http.StatusBadRequest},
		{fmt.Errorf("%w: x", portfolio.ErrUnreachableTarget), http.StatusBadRequest},
		{&portfolio.OptimizationDidNotConvergeError{Objective: "min_vol"}, http.StatusUnprocessableEntity},
		{&portfolio.ZeroVolatilityError{}, http.StatusUnprocessableEntity},
		{&portfolio.NegativeVarianceError{Variance: -1}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: id", storage.ErrRunNotFound), http.StatusNotFound},
		{fmt.Errorf("fetch prices: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}
