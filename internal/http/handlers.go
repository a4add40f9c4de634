package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
	"github.com/kjstillabower/weather-aggregator/internal/lifecycle"
	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/service"
	"github.com/kjstillabower/weather-aggregator/internal/traffic"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService *service.WeatherService
	health         *HealthConfig
	outcomes       *traffic.Tracker
	drain          *lifecycle.Drain
	logger         *zap.Logger
	statusLog      statusLog
}

// NewHandler returns a Handler. health may be nil; outcomes and drain may be
// nil when health reporting is not needed.
func NewHandler(weatherService *service.WeatherService, health *HealthConfig, outcomes *traffic.Tracker, drain *lifecycle.Drain, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if health == nil {
		health = &HealthConfig{}
	}
	return &Handler{
		weatherService: weatherService,
		health:         health,
		outcomes:       outcomes,
		drain:          drain,
		logger:         logger,
	}
}

// Routes registers every endpoint on r. Weather routes go through timeout
// when it is positive.
func (h *Handler) Routes(r *mux.Router, proxy http.Handler, timeout time.Duration) {
	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	if proxy != nil {
		r.Handle("/api/weather", proxy).Methods(http.MethodGet, http.MethodOptions)
	}

	api := r.NewRoute().Subrouter()
	if timeout > 0 {
		api.Use(TimeoutMiddleware(timeout))
	}
	api.HandleFunc("/weather/{city}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather", h.GetBatch).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)
	api.HandleFunc("/cities/{city}/detail", h.GetDetail).Methods(http.MethodGet)
	api.HandleFunc("/cache", h.ClearCache).Methods(http.MethodDelete)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/reset", h.ResetStats).Methods(http.MethodPost)
}

// GetWeather handles GET /weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	result, err := h.weatherService.GetWeatherData(r.Context(), city)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.outcomes.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

// GetBatch handles GET /weather?city=A&city=B or ?cities=A,B. No cities means
// the configured defaults. sort=name orders the result by city name.
// A valid aggregate entry is served whatever cities are named; see
// WeatherService.GetMultipleCitiesWeather.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cities := parseCities(q["city"], q.Get("cities"))
	result, err := h.weatherService.GetMultipleCitiesWeather(r.Context(), cities)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if strings.EqualFold(q.Get("sort"), "name") {
		result = models.SortByCity(result)
	}
	h.outcomes.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

func parseCities(repeated []string, csv string) []string {
	var out []string
	for _, c := range repeated {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	for _, c := range strings.Split(csv, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Search handles GET /search?q=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	result, err := h.weatherService.SearchCities(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if result == nil {
		result = []models.CityWeather{}
	}
	h.outcomes.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

// GetDetail handles GET /cities/{city}/detail. Failures carry the retry and
// ledger state so clients can act on hardReset.
func (h *Handler) GetDetail(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer h.weatherService.Counter().TrackRenderTime("CityDetail", start)

	detail, err := h.weatherService.LoadCityDetail(r.Context(), mux.Vars(r)["city"])
	if err != nil {
		status, code := classify(err)
		h.recordOutcome(status)
		writeJSON(w, status, map[string]interface{}{
			"error":      errorPayload(r, code, messageFor(err)),
			"retries":    detail.Retries,
			"errorCount": detail.ErrorCount,
			"hardReset":  detail.HardReset,
		})
		h.logServiceError(r, err)
		return
	}
	h.outcomes.Record(traffic.Success)
	writeJSON(w, http.StatusOK, detail)
}

// ClearCache handles DELETE /cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.weatherService.ClearCache(r.Context()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.weatherService.Counter().Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counter":    snap,
		"errorCount": h.weatherService.Ledger().Count(r.Context()),
	})
}

// ResetStats handles POST /stats/reset.
func (h *Handler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.weatherService.Counter().Reset()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorPayload(r *http.Request, code, message string) map[string]string {
	return map[string]string{
		"code":      code,
		"message":   message,
		"requestId": observability.CorrelationID(r.Context()),
	}
}

// writeError writes {"error":{"code","message","requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{"error": errorPayload(r, code, message)})
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	if errors.Is(err, service.ErrCityNotFound) {
		return http.StatusNotFound, "CITY_NOT_FOUND"
	}
	e, ok := apperror.As(err)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	switch e.Kind {
	case apperror.KindValidation:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case apperror.KindBackend:
		switch {
		case e.StatusCode >= 500:
			return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
		case e.StatusCode == http.StatusNotFound:
			return http.StatusNotFound, "NOT_FOUND"
		case e.StatusCode == http.StatusTooManyRequests:
			return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED"
		case e.StatusCode >= 400:
			return e.StatusCode, "UPSTREAM_REJECTED"
		}
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case apperror.KindNetwork:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case apperror.KindCache:
		return http.StatusInternalServerError, "CACHE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func messageFor(err error) string {
	if errors.Is(err, service.ErrCityNotFound) {
		return "City not found"
	}
	return apperror.UserMessage(err)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	h.recordOutcome(status)
	writeError(w, r, status, code, messageFor(err))
	h.logServiceError(r, err)
}

// recordOutcome counts only server-side failures toward the degraded check;
// client errors are answered requests.
func (h *Handler) recordOutcome(status int) {
	if status >= http.StatusInternalServerError {
		h.outcomes.Record(traffic.Failure)
		return
	}
	h.outcomes.Record(traffic.Success)
}

func (h *Handler) logServiceError(r *http.Request, err error) {
	observability.LoggerFromContext(r.Context(), h.logger).Debug("request failed",
		zap.Stringer("kind", apperror.KindOf(err)), zap.Error(err))
}
