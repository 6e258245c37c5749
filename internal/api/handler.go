package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/models"
	"github.com/Rounit002/silentlibrary-sub001/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-ID"
	headerReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
	maxKeyLength = 255
)

type Handler struct {
	svc *service.Reconciler
	log *slog.Logger
}

func NewHandler(svc *service.Reconciler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the API under /api/v1 on r.
func (h *Handler) Register(r *mux.Router) {
	r.Use(h.requestID, h.observe)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/owners", h.CreateOwner).Methods(http.MethodPost)
	v1.HandleFunc("/owners", h.ListOwners).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{id:[0-9]+}", h.GetOwner).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{id:[0-9]+}", h.DeleteOwner).Methods(http.MethodDelete)
	v1.HandleFunc("/owners/{id:[0-9]+}/enroll", h.Enroll).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id:[0-9]+}/renew", h.Renew).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id:[0-9]+}/payments", h.RecordPayment).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id:[0-9]+}/fee", h.UpdateFee).Methods(http.MethodPut)
	v1.HandleFunc("/owners/{id:[0-9]+}/advance/deposits", h.Deposit).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id:[0-9]+}/advance/usages", h.UseAdvance).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id:[0-9]+}/advance/usages/{entryId:[0-9]+}/reverse", h.ReverseAdvance).Methods(http.MethodPost)
	v1.HandleFunc("/owners/{id:[0-9]+}/accounts/{accountId:[0-9]+}/entries", h.Entries).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{id:[0-9]+}/audit", h.Audit).Methods(http.MethodGet)
	v1.HandleFunc("/expenses", h.RecordExpense).Methods(http.MethodPost)
	v1.HandleFunc("/reports/collections", h.Collections).Methods(http.MethodGet)
	v1.HandleFunc("/reports/profit-loss", h.ProfitLoss).Methods(http.MethodGet)
}

type ctxKey struct{}

// requestID tags every request with an id, reusing the caller's when given.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records metrics per route template and logs the request.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.log.Log(r.Context(), level, "http request",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"latency", elapsed)
	})
}

// readBody decodes and validates a JSON request into v. The raw body is
// returned for idempotency hashing.
func readBody(r *http.Request, v any) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after JSON body", domain.ErrInvalidInput)
	}
	if err := models.Validate(v); err != nil {
		return nil, err
	}
	return body, nil
}

var errBadIdempotencyKey = errors.New("idempotency key must be at most 255 characters")

// idempotent attaches the request's Idempotency-Key, if any, to its context.
func idempotent(r *http.Request, body []byte, status int) (context.Context, *service.Idempotency, error) {
	key := r.Header.Get(headerIdempotencyKey)
	if key == "" {
		return r.Context(), nil, nil
	}
	if len(key) > maxKeyLength {
		return nil, nil, errBadIdempotencyKey
	}
	// the route is part of the fingerprint so a key cannot cross endpoints
	fingerprint := append([]byte(r.Method+" "+r.URL.Path+"\n"), body...)
	idem := &service.Idempotency{Key: key, RequestHash: service.HashRequest(fingerprint), Status: status}
	return service.WithIdempotency(r.Context(), idem), idem, nil
}

// respondStored answers a keyed mutation. A replay repeats the status of
// the first response and carries a replay marker.
func respondStored(w http.ResponseWriter, idem *service.Idempotency, status int, payload any) {
	if idem != nil && idem.Replayed {
		w.Header().Set(headerReplayed, "true")
		if idem.Status != 0 {
			status = idem.Status
		}
	}
	respondJSON(w, status, payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrLedgerMismatch):
		return http.StatusInternalServerError
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail maps a service error onto a response. Internal errors are logged
// and hidden from the caller.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	switch code {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case http.StatusInternalServerError:
		h.log.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err)
		msg = "Internal Server Error"
		if errors.Is(err, domain.ErrLedgerMismatch) {
			msg = domain.ErrLedgerMismatch.Error()
		}
	}
	respondError(w, r, code, msg)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, message string) {
	respondJSON(w, code, models.ErrorResponse{Error: message, RequestID: requestIDFrom(r.Context())})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s", domain.ErrInvalidInput, name)
	}
	return id, nil
}
