package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"frontier/internal/analysis"
	"frontier/internal/data"
	"frontier/internal/portfolio"
	"frontier/internal/report"
	"frontier/internal/storage"
)

const (
	defaultYears    = 2
	maxYears        = 100
	defaultRunLimit = 20
	sampleSeed      = 1
)

// Health returns a simple health check
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AnalyzeRequest is the JSON body for the analyze endpoint
type AnalyzeRequest struct {
	Tickers          []string           `json:"tickers"`
	Universe         string             `json:"universe"`
	Years            int                `json:"years"`
	RiskFreeRate     *float64           `json:"risk_free_rate"`
	CurrentPortfolio map[string]float64 `json:"current_portfolio"`
	MarketCaps       map[string]float64 `json:"market_caps"`
	FrontierPoints   int                `json:"frontier_points"`
	Samples          *int               `json:"samples"`
	Save             bool               `json:"save"`
}

// AnalyzeResponse is the full JSON response
type AnalyzeResponse struct {
	*analysis.Result
	MaxSharpe   *portfolio.StrategyResult `json:"max_sharpe,omitempty"`
	MinVariance *portfolio.StrategyResult `json:"min_variance,omitempty"`
	RunID       string                    `json:"run_id,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps pipeline errors to HTTP status codes: caller mistakes are
// 400, numerical failures 422.
func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrInvalidRequest),
		errors.Is(err, analysis.ErrNotEnoughAssets),
		errors.Is(err, portfolio.ErrInsufficientData),
		errors.Is(err, portfolio.ErrDimensionMismatch),
		errors.Is(err, portfolio.ErrUnreachableTarget),
		errors.Is(err, data.ErrUnknownTicker),
		errors.Is(err, data.ErrNotEnoughData):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrDidNotConverge),
		errors.Is(err, portfolio.ErrZeroVolatility),
		errors.Is(err, portfolio.ErrNegativeVariance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorKind is the metrics label for an optimization failure.
func errorKind(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrDidNotConverge):
		return "did_not_converge"
	case errors.Is(err, portfolio.ErrZeroVolatility):
		return "zero_volatility"
	case errors.Is(err, portfolio.ErrNegativeVariance):
		return "negative_variance"
	case errors.Is(err, portfolio.ErrUnreachableTarget):
		return "unreachable_target"
	case errors.Is(err, portfolio.ErrInsufficientData), errors.Is(err, portfolio.ErrDimensionMismatch):
		return "bad_input"
	default:
		return "error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeError(w, status, err.Error())
}

// Analyze handles POST /api/analyze
func (s *Server) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	tickers := req.Tickers
	if req.Universe != "" {
		u, ok := s.universes.Lookup(req.Universe)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown universe %q", req.Universe))
			return
		}
		tickers = append(append([]string(nil), u...), tickers...)
	}
	tickers = data.NormalizeTickers(tickers)
	if len(tickers) < 2 {
		writeError(w, http.StatusBadRequest, "please provide at least 2 tickers to compute a frontier")
		return
	}
	if len(tickers) > s.cfg.MaxTickers {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("maximum %d tickers allowed", s.cfg.MaxTickers))
		return
	}

	// Validate years (default 2, must be integer >= 1)
	years := req.Years
	if years < 1 {
		years = defaultYears
	}
	if years > maxYears {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("maximum %d years of historical data allowed", maxYears))
		return
	}

	rf := s.cfg.RiskFreeRate
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}
	points := req.FrontierPoints
	if points == 0 {
		points = s.cfg.FrontierPoints
	}
	samples := s.cfg.Samples
	if req.Samples != nil {
		samples = *req.Samples
	}

	res, err := s.analyzer.Analyze(r.Context(), analysis.Request{
		Tickers:          tickers,
		Range:            data.LastYears(years, s.now()),
		RiskFreeRate:     rf,
		PeriodsPerYear:   s.cfg.PeriodsPerYear,
		FrontierPoints:   points,
		Samples:          samples,
		Seed:             sampleSeed,
		MarketCaps:       req.MarketCaps,
		CurrentPortfolio: req.CurrentPortfolio,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := AnalyzeResponse{Result: res}
	if ms, ok := res.Strategy(portfolio.StrategyMaxSharpe); ok {
		resp.MaxSharpe = &ms
	}
	if mv, ok := res.Strategy(portfolio.StrategyMinVol); ok {
		resp.MinVariance = &mv
	}

	// Warn about any failed tickers
	if len(res.Failed) > 0 {
		failed := make([]string, 0, len(res.Failed))
		for t, msg := range res.Failed {
			failed = append(failed, t+": "+msg)
		}
		sort.Strings(failed)
		resp.Error = "some tickers failed: " + strings.Join(failed, "; ")
	}

	if req.Save {
		if s.store == nil {
			resp.Warnings = append(resp.Warnings, "run history is disabled, analysis not saved")
		} else {
			run := res.Record()
			if err := s.store.SaveRun(r.Context(), run); err != nil {
				s.fail(w, r, err)
				return
			}
			resp.RunID = run.ID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// OptimizeRequest runs one objective against a caller-supplied returns matrix.
type OptimizeRequest struct {
	Assets         []string          `json:"assets"`
	Returns        [][]float64       `json:"returns"`
	PeriodsPerYear float64           `json:"periods_per_year"`
	Objective      string            `json:"objective"`
	RiskFreeRate   float64           `json:"risk_free_rate"`
	TargetReturn   *float64          `json:"target_return"`
	Bounds         *portfolio.Bound  `json:"bounds"`
	AssetBounds    []portfolio.Bound `json:"asset_bounds"`
	FrontierPoints int               `json:"frontier_points"`
}

// OptimizeResponse carries the optimal weights, or the frontier for the
// "frontier" objective.
type OptimizeResponse struct {
	Assets    []string                  `json:"assets"`
	Objective string                    `json:"objective"`
	Weights   portfolio.Weights         `json:"weights,omitempty"`
	Stats     *portfolio.PortfolioStats `json:"stats,omitempty"`
	Frontier  []portfolio.FrontierPoint `json:"frontier_points,omitempty"`
}

// Objectives accepted by the optimize endpoint.
const (
	ObjectiveMinVol          = "min_vol"
	ObjectiveMaxSharpe       = "max_sharpe"
	ObjectiveEqualWeight     = "equal_weight"
	ObjectiveEfficientReturn = "efficient_return"
	ObjectiveFrontier        = "frontier"
)

// Optimize handles POST /api/optimize
func (s *Server) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Objective == "" {
		req.Objective = ObjectiveMinVol
	}
	if req.PeriodsPerYear == 0 {
		req.PeriodsPerYear = s.cfg.PeriodsPerYear
	}
	if req.FrontierPoints == 0 {
		req.FrontierPoints = s.cfg.FrontierPoints
	}

	opt, err := buildOptimizer(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := OptimizeResponse{Assets: opt.Estimates().Assets(), Objective: req.Objective}
	err = s.observe(req.Objective, func() error {
		var err error
		switch req.Objective {
		case ObjectiveMinVol:
			resp.Weights, err = opt.MinVol()
		case ObjectiveMaxSharpe:
			resp.Weights, err = opt.MaxSharpe(req.RiskFreeRate)
		case ObjectiveEqualWeight:
			resp.Weights, err = opt.EqualWeight()
		case ObjectiveEfficientReturn:
			resp.Weights, err = opt.EfficientReturn(*req.TargetReturn)
		case ObjectiveFrontier:
			resp.Frontier, err = opt.Frontier(req.FrontierPoints)
		}
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if resp.Weights != nil {
		st, err := opt.Estimates().Stats(resp.Weights, req.RiskFreeRate)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.Stats = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func buildOptimizer(req OptimizeRequest) (*portfolio.Optimizer, error) {
	switch req.Objective {
	case ObjectiveMinVol, ObjectiveMaxSharpe, ObjectiveEqualWeight:
	case ObjectiveFrontier:
		if req.FrontierPoints < 2 {
			return nil, fmt.Errorf("frontier_points must be at least 2, got %d", req.FrontierPoints)
		}
	case ObjectiveEfficientReturn:
		if req.TargetReturn == nil {
			return nil, fmt.Errorf("objective %s needs target_return", req.Objective)
		}
	default:
		return nil, fmt.Errorf("unknown objective %q", req.Objective)
	}

	returns, err := portfolio.NewReturnsMatrix(req.Assets, req.Returns)
	if err != nil {
		return nil, err
	}
	est, err := portfolio.Estimate(returns, portfolio.WithPeriodsPerYear(req.PeriodsPerYear))
	if err != nil {
		return nil, err
	}

	var opts []portfolio.OptimizerOption
	if req.Bounds != nil {
		opts = append(opts, portfolio.WithBounds(req.Bounds.Lower, req.Bounds.Upper))
	}
	if req.AssetBounds != nil {
		opts = append(opts, portfolio.WithAssetBounds(req.AssetBounds))
	}
	return portfolio.NewOptimizer(est, opts...)
}

func (s *Server) observe(objective string, fn func() error) error {
	start := s.now()
	err := fn()
	s.metrics.ObserveOptimization(objective, s.now().Sub(start), err)
	return err
}

// ListUniverses handles GET /api/universes
func (s *Server) ListUniverses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]data.Universes{"universes": s.universes})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return false
	}
	return true
}

// ListRuns handles GET /api/runs?limit=N
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*storage.Run{"runs": runs})
}

// GetRun handles GET /api/runs/{id}
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DeleteRun handles DELETE /api/runs/{id}
func (s *Server) DeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.DeleteRun(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunWeightsChart handles GET /api/runs/{id}/weights.png?strategy=NAME and
// renders the allocation as a pie chart. The strategy defaults to max Sharpe.
func (s *Server) RunWeightsChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := r.URL.Query().Get("strategy")
	if name == "" {
		name = portfolio.StrategyMaxSharpe
	}
	strategy, ok := run.Strategy(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s has no strategy %q", run.ID, name))
		return
	}

	png, err := report.WeightsPie(name+" allocation", run.Tickers, strategy.Weights)
	if errors.Is(err, report.ErrNothingToPlot) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// CacheResponse reports what an invalidation removed.
type CacheResponse struct {
	Ticker  string `json:"ticker,omitempty"`
	Removed int    `json:"removed"`
	Purged  bool   `json:"purged"`
}

// InvalidateCache handles DELETE /api/cache?ticker=T. Without a ticker the
// whole price cache is purged.
func (s *Server) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	cache := s.fetcher.Cache()
	ticker := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))
	if ticker == "" {
		if err := cache.Purge(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		log.Info().Msg("price cache purged")
		writeJSON(w, http.StatusOK, CacheResponse{Purged: true})
		return
	}

	n, err := cache.Invalidate(r.Context(), ticker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	log.Info().Str("ticker", ticker).Int("removed", n).Msg("price cache invalidated")
	writeJSON(w, http.StatusOK, CacheResponse{Ticker: ticker, Removed: n})
}
