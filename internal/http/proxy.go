package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregator/internal/observability"
)

// DefaultFeedURL is the raw weather feed relayed by the passthrough.
const DefaultFeedURL = "https://us-central1-mobile-assignment-server.cloudfunctions.net/weather"

const maxFeedBytes = 4 << 20

// Proxy relays the upstream feed unchanged to browsers on other origins.
type Proxy struct {
	feedURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewProxy returns a Proxy for feedURL. A nil client gets a 10s timeout.
func NewProxy(feedURL string, client *http.Client, logger *zap.Logger) *Proxy {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{feedURL: feedURL, client: client, logger: logger}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
}

// ServeHTTP answers OPTIONS preflights with 200, and GET with the feed body.
// Any failure, including a non-JSON body, becomes a 500 with details.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := p.fetch(r.Context())
	if err != nil {
		observability.LoggerFromContext(r.Context(), p.logger).Error("error fetching weather data", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to fetch weather data",
			"details": err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (p *Proxy) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("upstream returned invalid JSON")
	}
	return body, nil
}
