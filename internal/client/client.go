package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/retry"
	"github.com/kjstillabower/weather-aggregator/internal/validation"
)

// WeatherClient is the upstream surface the service depends on.
type WeatherClient interface {
	GetCityWeather(ctx context.Context, city string) (models.CityWeather, error)
	Find(ctx context.Context, query string) ([]models.CityWeather, error)
}

var ErrInvalidAPIKey = errors.New("invalid API key")

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 1 << 20

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number    int
	LastErr   error
	NextDelay time.Duration
}

// Request is one upstream call. Endpoint labels metrics.
type Request struct {
	Endpoint string
	Path     string
	Query    url.Values
}

// Options configure a Client. Zero values take defaults.
type Options struct {
	Timeout    time.Duration
	Policy     retry.Policy
	Counter    *observability.Counter
	Breaker    *gobreaker.CircuitBreaker
	HTTPClient *http.Client
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(Attempt)
}

// Client is the WeatherClient for an OpenWeather-style API. Safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	policy  retry.Policy
	counter *observability.Counter
	breaker *gobreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(Attempt)
}

// New returns a Client for baseURL. apiKey is sent as the appid query
// parameter on every request; an empty key yields ErrInvalidAPIKey.
func New(apiKey, baseURL string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Counter == nil {
		opts.Counter = observability.NewCounter()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.OnRetry == nil {
		opts.OnRetry = func(Attempt) {}
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		policy:  opts.Policy.Normalize(),
		counter: opts.Counter,
		breaker: opts.Breaker,
		sleep:   opts.Sleep,
		onRetry: opts.OnRetry,
	}, nil
}

// BreakerSettings configure NewBreaker.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// NewBreaker builds a circuit breaker that trips after ConsecutiveFailures
// retryable failures. Client errors (4xx) and bad payloads do not count.
func NewBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsRetryable(err)
		},
	})
}

// GetCityWeather fetches one reading from GET {base}/weather?q=city.
func (c *Client) GetCityWeather(ctx context.Context, city string) (models.CityWeather, error) {
	var w models.CityWeather
	req := Request{Endpoint: "weather", Path: "/weather", Query: url.Values{"q": {city}}}
	if err := c.FetchWithRetry(ctx, req, c.policy.MaxRetries, c.policy.BaseDelay, &w); err != nil {
		return models.CityWeather{}, err
	}
	if err := validation.Struct(w); err != nil {
		return models.CityWeather{}, err
	}
	return w, nil
}

// Find searches GET {base}/find?q=query. Results are never cached.
func (c *Client) Find(ctx context.Context, query string) ([]models.CityWeather, error) {
	var out []models.CityWeather
	req := Request{Endpoint: "find", Path: "/find", Query: url.Values{"q": {query}}}
	if err := c.FetchWithRetry(ctx, req, c.policy.MaxRetries, c.policy.BaseDelay, &out); err != nil {
		return nil, err
	}
	if err := validation.Slice(out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchWithRetry issues req and decodes a 2xx body into out. A retryable
// failure with attempts remaining sleeps delay and tries again with the
// delay doubled. Any other failure is returned as classified.
// attemptsRemaining is clamped to the policy's MaxRetries.
func (c *Client) FetchWithRetry(ctx context.Context, req Request, attemptsRemaining int, delay time.Duration, out any) error {
	return c.fetch(ctx, req, c.policy.Attempts(attemptsRemaining), delay, 1, out)
}

func (c *Client) fetch(ctx context.Context, req Request, remaining int, delay time.Duration, number int, out any) error {
	err := c.do(ctx, req, out)
	if err == nil {
		return nil
	}
	if remaining <= 0 || !retry.IsRetryable(err) {
		return err
	}

	observability.UpstreamRetriesTotal.Inc()
	c.onRetry(Attempt{Number: number, LastErr: err, NextDelay: delay})
	if serr := c.sleep(ctx, delay); serr != nil {
		return err
	}
	return c.fetch(ctx, req, remaining-1, delay*2, number+1, out)
}

type response struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, req Request, out any) error {
	c.counter.IncNetworkRequests()
	start := time.Now()

	resp, err := c.execute(ctx, req)
	label := string(CategorizeError(err))
	if err == nil {
		label = "success"
	}
	observability.UpstreamCallsTotal.WithLabelValues(req.Endpoint, label).Inc()
	observability.UpstreamDuration.WithLabelValues(req.Endpoint, label).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return apperror.Validation("body", "response body is not valid JSON: "+err.Error())
	}
	return nil
}

// execute runs one HTTP round trip, through the breaker when configured.
func (c *Client) execute(ctx context.Context, req Request) (response, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, req)
	}
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return response{}, apperror.Network("circuit breaker open", err)
	}
	if err != nil {
		return response{}, err
	}
	return v.(response), nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return response{}, apperror.Validation("request", err.Error())
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return response{}, apperror.Network("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, apperror.Network("read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response{}, apperror.Backend(resp.StatusCode, body)
	}
	return response{status: resp.StatusCode, body: body}, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	for k, vs := range req.Query {
		params[k] = vs
	}
	params.Set("appid", c.apiKey)
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	if id := observability.CorrelationID(ctx); id != "" {
		httpReq.Header.Set("X-Correlation-ID", id)
	}
	return httpReq, nil
}

// ValidateAPIKey makes a single unretried request and reports a 401 as
// ErrInvalidAPIKey. Used at startup when enabled.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.roundTrip(ctx, Request{Endpoint: "weather", Path: "/weather", Query: url.Values{"q": {"London"}}})
	if apperror.StatusCode(err) == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
