package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"resortwala/internal/config"
	"resortwala/internal/domain"
	"resortwala/internal/export"
	"resortwala/internal/metrics"
	"resortwala/internal/realtime"
	"resortwala/internal/service"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Services groups everything the HTTP API calls into.
type Services struct {
	Properties domain.PropertyRepository
	Calendar   *service.CalendarService
	Bookings   *service.BookingService
	Payments   *service.PaymentService
	Exporter   *export.Exporter
	Hub        *realtime.Hub
	// Guard throttles rejected payment callbacks per remote address.
	Guard     domain.RateLimitStore
	Readiness map[string]ReadinessCheck
}

// HTTPServer exposes the REST API and the calendar WebSocket stream.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, svc: svc, auth: NewHTTPAuth(cfg), log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	s.public(mux, "GET /healthz", s.handleHealthz)
	s.public(mux, "GET /readyz", s.handleReadyz)
	s.public(mux, "POST /api/v1/payments/phonepe/callback", s.handlePhonePeCallback)

	s.handle(mux, "GET /api/v1/properties", permReadAvailability, s.handleProperties)
	s.handle(mux, "GET /api/v1/properties/{id}/availability", permReadAvailability, s.handleAvailability)
	s.handle(mux, "GET /api/v1/properties/{id}/calendar", permReadAvailability, s.handleCalendar)
	s.handle(mux, "POST /api/v1/properties/{id}/calendar/freeze", permManageCalendar, s.handleFreeze)
	s.handle(mux, "POST /api/v1/properties/{id}/calendar/unfreeze", permManageCalendar, s.handleUnfreeze)

	s.handle(mux, "POST /api/v1/bookings", permWriteBookings, s.handleCreateBooking)
	s.handle(mux, "GET /api/v1/bookings", permReadBookings, s.handleSearchBookings)
	s.handle(mux, "GET /api/v1/bookings/{id}", permReadBookings, s.handleGetBooking)
	s.handle(mux, "POST /api/v1/bookings/{id}/approve", permManageBookings, s.transitionHandler(s.svc.Bookings.Approve))
	s.handle(mux, "POST /api/v1/bookings/{id}/reject", permManageBookings, s.transitionHandler(s.svc.Bookings.Reject))
	s.handle(mux, "POST /api/v1/bookings/{id}/cancel", permManageBookings, s.transitionHandler(s.svc.Bookings.Cancel))
	s.handle(mux, "POST /api/v1/bookings/{id}/complete", permManageBookings, s.transitionHandler(s.svc.Bookings.Complete))
	s.handle(mux, "POST /api/v1/bookings/{id}/payments", permWriteBookings, s.handleInitiatePayment)
	s.handle(mux, "GET /api/v1/bookings/{id}/payments", permReadBookings, s.handleListPayments)
	s.handle(mux, "POST /api/v1/bookings/{id}/reviews", permWriteBookings, s.handleAddReview)

	s.handle(mux, "GET /api/v1/exports/bookings", permReadExports, s.handleExportBookings)
	s.handle(mux, "GET /ws/calendar", permReadAvailability, s.handleCalendarStream)
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern, permission string, h http.HandlerFunc) {
	mux.Handle(pattern, s.auth.Require(permission, counted(pattern, h)))
}

func (s *HTTPServer) public(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, counted(pattern, h))
}

func counted(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler with logging applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyring
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth), limiter: newRateLimiter(cfg.RateLimit)}
}

type clientContextKey struct{}

// Require checks credentials and the permission before calling next.
func (a *HTTPAuth) Require(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader))
			extra := strings.TrimSpace(r.Header.Get(a.keys.extraHeader))
			client, err := a.keys.authenticate(apiKey, extra, permission)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), clientContextKey{}, client))
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader)); apiKey != "" {
		return apiKey
	}
	return remoteHost(r)
}

// changedBy names the caller for audit fields: the API client name, or "api".
func changedBy(r *http.Request) string {
	if client, ok := r.Context().Value(clientContextKey{}).(config.APIClientKey); ok {
		if client.Name != "" {
			return client.Name
		}
	}
	return "api"
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		event := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			event = s.log.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation domain.ValidationErrors
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": validation})
	case errors.Is(err, domain.ErrPastDate), errors.Is(err, domain.ErrDateTooFar), errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		dates := make([]string, 0, len(conflict.Dates))
		for _, d := range conflict.Dates {
			dates = append(dates, d.Format("2006-01-02"))
		}
		writeJSON(w, http.StatusConflict, map[string]any{"error": domain.ErrConflict.Error(), "conflicts": dates})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrSignature):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
