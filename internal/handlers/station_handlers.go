package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kipavy/bigdata-filrouge/internal/repository"
	"github.com/kipavy/bigdata-filrouge/pkg/logging"
	"github.com/kipavy/bigdata-filrouge/pkg/metrics"
)

// StationHandler handles warehouse read API endpoints
type StationHandler struct {
	repo    repository.WarehouseReader
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStationHandler creates a new station handler
func NewStationHandler(repo repository.WarehouseReader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StationHandler {
	return &StationHandler{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// RegisterRoutes registers all API routes
func (h *StationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/stations", h.ListStations).Methods(http.MethodGet)
	router.HandleFunc("/api/stations/{id}", h.GetStation).Methods(http.MethodGet)
	router.HandleFunc("/api/availability", h.GetAvailability).Methods(http.MethodGet)
	router.HandleFunc("/api/availability/latest", h.GetLatestAvailability).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListStations handles GET /api/stations
func (h *StationHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/stations").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	stations, total, err := h.repo.ListStations(ctx, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_STATIONS_ERROR] Failed to list stations", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/stations")
		h.sendError(w, "failed to retrieve stations", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/stations", "GET", "200")
	h.sendJSON(w, paginated(stations, total, page, limit), http.StatusOK)
}

// GetStation handles GET /api/stations/{id}
func (h *StationHandler) GetStation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/stations/{id}").Observe(time.Since(startTime).Seconds())
	}()

	stationID := mux.Vars(r)["id"]

	station, err := h.repo.GetStation(ctx, stationID)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.metrics.RecordAPIRequest("/api/stations/{id}", "GET", "404")
			h.sendError(w, "station not found", http.StatusNotFound)
			return
		}

		h.logger.Error(ctx, "[API_GET_STATION_ERROR] Failed to get station", logging.Fields{
			"station_id": stationID,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/stations/{id}")
		h.sendError(w, "failed to retrieve station", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/stations/{id}", "GET", "200")
	h.sendJSON(w, station, http.StatusOK)
}

// GetAvailability handles GET /api/availability
func (h *StationHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/availability").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := parsePagination(r)

	filter := repository.AvailabilityFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if stationID := r.URL.Query().Get("station_id"); stationID != "" {
		filter.StationID = &stationID
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			h.sendError(w, "invalid from timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.From = &from
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			h.sendError(w, "invalid to timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.To = &to
	}

	records, total, err := h.repo.GetAvailability(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_AVAILABILITY_ERROR] Failed to get availability", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/availability")
		h.sendError(w, "failed to retrieve availability", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/availability", "GET", "200")
	h.sendJSON(w, paginated(records, total, page, limit), http.StatusOK)
}

// GetLatestAvailability handles GET /api/availability/latest
func (h *StationHandler) GetLatestAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/availability/latest").Observe(time.Since(startTime).Seconds())
	}()

	records, err := h.repo.GetLatestAvailability(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_LATEST_AVAILABILITY_ERROR] Failed to get latest availability", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/availability/latest")
		h.sendError(w, "failed to retrieve latest availability", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/availability/latest", "GET", "200")
	h.sendJSON(w, records, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *StationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.HealthCheck(r.Context()); err != nil {
		h.sendJSON(w, map[string]string{"status": "unhealthy"}, http.StatusServiceUnavailable)
		return
	}
	h.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = 100

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	return page, limit
}

func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

func (h *StationHandler) sendJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error(context.Background(), "[API_ENCODE_ERROR] Failed to encode response", logging.Fields{}, err)
	}
}

func (h *StationHandler) sendError(w http.ResponseWriter, message string, code int) {
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	}, code)
}
