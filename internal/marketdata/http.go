package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // exchange close times need America/New_York everywhere

	"market-signal-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultEndpoint    = "https://www.quandl.com/api/v1/datasets/GOOG"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// exchangeClose is the local wall-clock time rows are stamped with.
const exchangeClose = "16:30"

var newYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Dataset is the tabular payload returned by the dataset API.
type Dataset struct {
	ColumnNames []string `json:"column_names"`
	Data        [][]any  `json:"data"`
}

// StatusError is returned for a non-200 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// HTTPSource fetches daily price datasets over HTTP. It implements
// PriceSource and ObservationSource.
type HTTPSource struct {
	endpoint    string
	authToken   string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      *slog.Logger
}

// ClientOption configures HTTPSource.
type ClientOption func(*HTTPSource)

// WithAuthToken sets the API token sent as the auth_token query parameter.
func WithAuthToken(token string) ClientOption {
	return func(s *HTTPSource) {
		s.authToken = token
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *HTTPSource) {
		s.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(s *HTTPSource) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(s *HTTPSource) {
		s.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(s *HTTPSource) {
		s.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *HTTPSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHTTPSource creates a dataset client rooted at endpoint. An empty
// endpoint means DefaultEndpoint.
func NewHTTPSource(endpoint string, opts ...ClientOption) *HTTPSource {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	s := &HTTPSource{
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DatasetURL returns the dataset URL of symbol: <endpoint>/<EXCHANGE>_<TICKER>.
func (s *HTTPSource) DatasetURL(symbol domain.Symbol) string {
	u := s.endpoint + "/" + url.PathEscape(symbol.Exchange()+"_"+symbol.Ticker())
	if s.authToken != "" {
		u += "?" + url.Values{"auth_token": {s.authToken}}.Encode()
	}
	return u
}

// FetchDataset downloads the raw dataset of symbol with retries and
// exponential backoff. Client errors other than 429 are not retried.
func (s *HTTPSource) FetchDataset(ctx context.Context, symbol domain.Symbol) (*Dataset, error) {
	if s.authToken == "" {
		s.logger.Debug("requesting dataset anonymously", slog.String("symbol", string(symbol)))
	}
	body, err := s.get(ctx, s.DatasetURL(symbol))
	if err != nil {
		return nil, &DataSourceError{Symbol: symbol, Op: "fetch dataset", Err: err}
	}
	var ds Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		return nil, &DataSourceError{Symbol: symbol, Op: "decode dataset", Err: err}
	}
	return &ds, nil
}

// FetchObservations returns the dataset of symbol in long format.
func (s *HTTPSource) FetchObservations(ctx context.Context, symbol domain.Symbol) ([]*domain.Observation, error) {
	ds, err := s.FetchDataset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	obs, err := ds.Observations(symbol)
	if err != nil {
		return nil, &DataSourceError{Symbol: symbol, Op: "decode dataset", Err: err}
	}
	return obs, nil
}

// FetchPriceSeries implements PriceSource.
func (s *HTTPSource) FetchPriceSeries(ctx context.Context, symbol domain.Symbol) (*domain.TimeSeries, error) {
	ds, err := s.FetchDataset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	ts, err := ds.Series()
	if err != nil {
		return nil, &DataSourceError{Symbol: symbol, Op: "decode dataset", Err: err}
	}
	s.logger.Info("fetched price series",
		slog.String("symbol", string(symbol)),
		slog.Int("rows", ts.Len()))
	return ts, nil
}

func (s *HTTPSource) get(ctx context.Context, u string) ([]byte, error) {
	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*s.backoffMult), s.maxDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		lastErr = &StatusError{Code: resp.StatusCode, Body: string(body)}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < http.StatusInternalServerError {
			return nil, lastErr
		}
		s.logger.Warn("dataset request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("status", resp.StatusCode))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Series pivots the dataset into a series keyed by exchange close time.
// Column names are lower-cased; null and non-numeric cells are missing.
func (ds *Dataset) Series() (*domain.TimeSeries, error) {
	dateCol, err := ds.dateColumn()
	if err != nil {
		return nil, err
	}
	b := domain.NewSeriesBuilder()
	for i, row := range ds.Data {
		t, err := rowTimestamp(row, dateCol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		b.Touch(t)
		for j, name := range ds.ColumnNames {
			if j == dateCol || j >= len(row) {
				continue
			}
			if v, ok := row[j].(float64); ok && domain.IsFinite(v) {
				b.Set(t, strings.ToLower(name), v)
			}
		}
	}
	return b.Build(), nil
}

// Observations flattens the dataset into one observation per present cell.
func (ds *Dataset) Observations(symbol domain.Symbol) ([]*domain.Observation, error) {
	dateCol, err := ds.dateColumn()
	if err != nil {
		return nil, err
	}
	var out []*domain.Observation
	for i, row := range ds.Data {
		t, err := rowTimestamp(row, dateCol)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		for j, name := range ds.ColumnNames {
			if j == dateCol || j >= len(row) {
				continue
			}
			if v, ok := row[j].(float64); ok && domain.IsFinite(v) {
				out = append(out, &domain.Observation{
					Symbol:    symbol,
					Timestamp: t,
					Metric:    strings.ToLower(name),
					Value:     v,
				})
			}
		}
	}
	return out, nil
}

func (ds *Dataset) dateColumn() (int, error) {
	for i, name := range ds.ColumnNames {
		if strings.EqualFold(name, "date") {
			return i, nil
		}
	}
	return 0, fmt.Errorf("dataset has no date column")
}

func rowTimestamp(row []any, dateCol int) (domain.Timestamp, error) {
	if dateCol >= len(row) {
		return 0, fmt.Errorf("missing date")
	}
	date, ok := row[dateCol].(string)
	if !ok {
		return 0, fmt.Errorf("date %v is not a string", row[dateCol])
	}
	return CloseTimestamp(date)
}

// CloseTimestamp returns the epoch seconds of 16:30 New York time on date
// (YYYY-MM-DD), honouring daylight saving.
func CloseTimestamp(date string) (domain.Timestamp, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+exchangeClose, newYork)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", date, err)
	}
	return domain.Timestamp(t.Unix()), nil
}
