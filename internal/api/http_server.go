package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studiobook/internal/config"
	"studiobook/internal/domain"
	"studiobook/internal/metrics"
	"studiobook/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
	readyTimeout    = 2 * time.Second
)

// HealthChecker is consulted by /readyz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the booking API to the studio front end.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      *service.BookingService
	verifier domain.AuthVerifier
	health   HealthChecker
	server   *http.Server
	limiter  *rateLimiter
	logger   *zerolog.Logger
	now      func() time.Time
}

var knownPaths = map[string]bool{
	"/api/confirm-booking": true,
	"/api/cancel-booking":  true,
	"/api/confirm-payment": true,
	"/api/booked-slots":    true,
	"/api/my-bookings":     true,
	"/api/update-profile":  true,
	"/api/admin/export":    true,
	"/api/status":          true,
	"/healthz":             true,
	"/readyz":              true,
}

func NewHTTPServer(
	cfg config.APIConfig,
	svc *service.BookingService,
	verifier domain.AuthVerifier,
	health HealthChecker,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		verifier: verifier,
		health:   health,
		logger:   logger,
		now:      time.Now,
	}
	srv.limiter = newRateLimiter(&srv.cfg)

	// Auth is attached per route so unknown paths and methods still get
	// 404 and 405 from the mux.
	mux := http.NewServeMux()
	mux.Handle("POST /api/confirm-booking", srv.private(srv.handleConfirmBooking))
	mux.Handle("POST /api/cancel-booking", srv.private(srv.handleCancelBooking))
	mux.Handle("DELETE /api/cancel-booking", srv.private(srv.handleCancelBooking))
	mux.Handle("POST /api/confirm-payment", srv.private(srv.handleConfirmPayment))
	mux.Handle("GET /api/my-bookings", srv.private(srv.handleMyBookings))
	mux.Handle("GET /api/bookings/{id}", srv.private(srv.handleGetBooking))
	mux.Handle("POST /api/update-profile", srv.private(srv.handleUpdateProfile))
	mux.Handle("GET /api/admin/export", srv.private(srv.handleExport))
	mux.Handle("GET /api/booked-slots", srv.public(srv.handleBookedSlots))
	mux.Handle("GET /api/status", srv.public(srv.handleStatus))
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	handler := srv.loggingMiddleware(corsMiddleware(cfg.CORSOrigins, mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return srv
}

func (s *HTTPServer) private(h http.HandlerFunc) http.Handler {
	return s.authMiddleware(s.rateLimitMiddleware(h))
}

func (s *HTTPServer) public(h http.HandlerFunc) http.Handler {
	return s.rateLimitMiddleware(h)
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Backend is running!"})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// loggingMiddleware assigns the request id, attaches a request logger to the
// context and records the access log line and metrics.
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLogger := s.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(reqLogger.WithContext(r.Context()))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		endpoint := endpointLabel(r.URL.Path)
		metrics.IncHTTP(endpoint, recorder.status)
		metrics.ObserveHTTP(endpoint, dur)

		reqLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func endpointLabel(path string) string {
	if knownPaths[path] {
		return path
	}
	if strings.HasPrefix(path, "/api/bookings/") {
		return "/api/bookings/{id}"
	}
	return "other"
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
