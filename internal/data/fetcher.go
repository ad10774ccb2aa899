package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	// ErrUnknownTicker is returned when the provider has no chart for a symbol.
	ErrUnknownTicker = errors.New("unknown ticker")
	// ErrNotEnoughData is returned when a series has too few usable closes.
	ErrNotEnoughData = errors.New("not enough price data")
)

// PriceData holds the adjusted close price series for a ticker
type PriceData struct {
	Ticker  string      `json:"ticker"`
	Closes  []float64   `json:"closes"`
	Dates   []time.Time `json:"dates"`
	Partial bool        `json:"partial,omitempty"`
}

// YearsAvailable is the span covered by the series, in years.
func (p *PriceData) YearsAvailable() float64 {
	if len(p.Dates) < 2 {
		return 0
	}
	return p.Dates[len(p.Dates)-1].Sub(p.Dates[0]).Hours() / 24 / 365.25
}

// Range is a half-open date window [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastYears returns the window of the given number of years ending at now,
// truncated to whole days.
func LastYears(years int, now time.Time) Range {
	end := now.UTC().Truncate(24 * time.Hour)
	return Range{Start: end.AddDate(-years, 0, 0), End: end}
}

// Validate rejects empty or inverted windows.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range needs both start and end")
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("date range end %s is not after start %s", r.End.Format(dateLayout), r.Start.Format(dateLayout))
	}
	return nil
}

// Fetcher retrieves one ticker's price history.
type Fetcher interface {
	FetchPrices(ctx context.Context, ticker string, rng Range) (*PriceData, error)
}

const (
	dateLayout       = "2006-01-02"
	defaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultMinPoints = 30
	// partialSlack is how late a series may start before it is flagged partial.
	partialSlack = 7 * 24 * time.Hour
)

type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooClient downloads daily history from the Yahoo Finance chart API.
// Requests are rate limited and pass through a circuit breaker.
type YahooClient struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	minPoints int
}

// ClientOption configures a YahooClient.
type ClientOption func(*YahooClient)

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(u string) ClientOption {
	return func(c *YahooClient) { c.baseURL = u }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *YahooClient) { c.http.Timeout = d }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *YahooClient) {
		burst := int(math.Max(1, math.Ceil(rps)))
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMinPoints sets the minimum number of usable closes per series.
func WithMinPoints(n int) ClientOption {
	return func(c *YahooClient) { c.minPoints = n }
}

// NewYahooClient returns a client with a 15s timeout, 4 req/s and a breaker
// that opens after 3 consecutive provider failures.
func NewYahooClient(opts ...ClientOption) *YahooClient {
	c := &YahooClient{
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(4), 4),
		minPoints: defaultMinPoints,
	}
	for _, opt := range opts {
		opt(c)
	}

	st := gobreaker.Settings{Name: "yahoo"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	// Bad symbols and short histories do not count as provider failures.
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrUnknownTicker) || errors.Is(err, ErrNotEnoughData) || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)
	return c
}

// FetchPrices downloads adjusted daily closes for ticker within rng.
func (c *YahooClient) FetchPrices(ctx context.Context, ticker string, rng Range) (*PriceData, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, ticker, rng)
	})
	if err != nil {
		return nil, err
	}
	return res.(*PriceData), nil
}

func (c *YahooClient) fetch(ctx context.Context, ticker string, rng Range) (*PriceData, error) {
	u := fmt.Sprintf(
		"%s/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d&events=div%%2Csplit",
		c.baseURL, url.PathEscape(ticker), rng.Start.Unix(), rng.End.Unix(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	// Yahoo requires a user-agent header
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; FrontierApp/1.0)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error fetching %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo finance returned %s for %s", resp.Status, ticker)
	}

	var yr yahooResponse
	if err := json.NewDecoder(resp.Body).Decode(&yr); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s: %w", ticker, err)
	}

	if yr.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnknownTicker, ticker, yr.Chart.Error.Description)
	}
	if len(yr.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: no data returned for %s", ErrUnknownTicker, ticker)
	}

	result := yr.Chart.Result[0]
	var closes []*float64
	switch {
	case len(result.Indicators.AdjClose) > 0:
		closes = result.Indicators.AdjClose[0].AdjClose
	case len(result.Indicators.Quote) > 0:
		closes = result.Indicators.Quote[0].Close
	default:
		return nil, fmt.Errorf("no quote data for %s", ticker)
	}

	pd := &PriceData{Ticker: result.Meta.Symbol}
	if pd.Ticker == "" {
		pd.Ticker = ticker
	}
	for i, px := range closes {
		if px == nil || i >= len(result.Timestamp) {
			continue
		}
		val := *px
		if math.IsNaN(val) || val <= 0 {
			continue
		}
		pd.Closes = append(pd.Closes, val)
		pd.Dates = append(pd.Dates, time.Unix(result.Timestamp[i], 0).UTC())
	}

	if len(pd.Closes) == 0 || len(pd.Closes) < c.minPoints {
		return nil, fmt.Errorf("%w for %s (got %d points, need at least %d)", ErrNotEnoughData, ticker, len(pd.Closes), c.minPoints)
	}
	pd.Partial = pd.Dates[0].Sub(rng.Start) > partialSlack

	log.Debug().
		Str("ticker", pd.Ticker).
		Int("points", len(pd.Closes)).
		Bool("partial", pd.Partial).
		Msg("fetched prices")
	return pd, nil
}
