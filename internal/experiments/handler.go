package experiments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/promptlab/backend/internal/metrics"
	"github.com/promptlab/backend/internal/models"
)

type Handler struct {
	service *Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(service *Service, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, metrics: m, logger: logger}
}

// Routes builds the router for the HTTP API.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.observe)

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/generate", h.Generate).Methods("POST")
	api.HandleFunc("/export/{id}", h.Export).Methods("POST")

	exps := api.PathPrefix("/experiments").Subrouter()
	exps.HandleFunc("", h.List).Methods("GET")
	exps.HandleFunc("/export/{id}", h.Export).Methods("POST")
	exps.HandleFunc("/{id}", h.Get).Methods("GET")
	exps.HandleFunc("/{id}", h.Rename).Methods("PATCH")
	exps.HandleFunc("/{id}", h.Delete).Methods("DELETE")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method not allowed"})
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:              "ok",
		LiveModelConfigured: h.service.LiveModelConfigured(),
		Timestamp:           time.Now().UTC(),
	})
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.service.Generate(r.Context(), req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Details: verr.Details})
			return
		}
		h.logger.Error("generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate responses"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r.URL.Query(), "limit", DefaultListLimit)

	experiments, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list experiments failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list experiments"})
		return
	}

	writeJSON(w, http.StatusOK, models.ExperimentListResponse{Experiments: experiments})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	exp, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, err, "Failed to load experiment")
		return
	}

	writeJSON(w, http.StatusOK, models.ExperimentResponse{Experiment: *exp})
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req models.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	exp, err := h.service.Rename(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Name is required"})
			return
		}
		h.writeStoreError(w, err, "Failed to update experiment")
		return
	}

	writeJSON(w, http.StatusOK, models.ExperimentResponse{Experiment: *exp})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeStoreError(w, err, "Failed to delete experiment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export downloads the experiment as JSON, or as CSV with ?format=csv.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	exp, payload, err := h.service.Export(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, err, "Failed to export experiment")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+ExportFilename(exp.ID, "csv")+`"`)
		w.WriteHeader(http.StatusOK)
		if err := WriteCSV(w, exp); err != nil {
			h.logger.Error("write csv export failed", "experiment_id", exp.ID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Experiment not found"})
		return
	}
	h.logger.Error(message, "error", err)
	writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: message})
}

// ── Middleware ──────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records it in the HTTP metrics under its
// route template.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		h.metrics.HTTPRequest(r.Method, route, rec.status, elapsed)
		h.logger.Info("request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// ── Helpers ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
