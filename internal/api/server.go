package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/journal"
	"codeberg.org/mutker/pifan/internal/logger"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes      = 4 << 10
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server exposes the telemetry service over HTTP and websocket.
type Server struct {
	backend Backend
	limiter *rate.Limiter
	mux     *http.ServeMux
}

// NewServer builds the routes. Operator control requests (mode and status)
// are admitted through limiter.
func NewServer(backend Backend, limiter *rate.Limiter) *Server {
	s := &Server{
		backend: backend,
		limiter: limiter,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/system", s.handleSystem)
	s.mux.HandleFunc("GET /api/fan/status", s.handleFanStatus)
	s.mux.HandleFunc("POST /api/fan/mode", s.limited(s.handleFanMode))
	s.mux.HandleFunc("POST /api/fan/status", s.limited(s.handleSetFanStatus))
	s.mux.HandleFunc("POST /api/fan/control_event", s.handleControlEvent)
	s.mux.HandleFunc("GET /api/fan/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("/api/", s.handleNotFound)

	return s
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Telemetry API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New().Wrap(ErrListenFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, envelope{Message: "rate limited"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Document())
}

func (s *Server) handleFanStatus(w http.ResponseWriter, _ *http.Request) {
	view := s.backend.FanState()
	writeJSON(w, http.StatusOK, envelope{Success: true, FanControl: &view})
}

func (s *Server) handleFanMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, err := s.backend.SetMode(r.Context(), req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Message:    "fan mode set to " + strings.ToLower(strings.TrimSpace(req.Mode)),
		FanControl: &view,
	})
}

func (s *Server) handleSetFanStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	view, err := s.backend.SetStatus(r.Context(), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Message:    "fan status set to " + strings.ToLower(strings.TrimSpace(req.Status)),
		FanControl: &view,
	})
}

func (s *Server) handleControlEvent(w http.ResponseWriter, r *http.Request) {
	var req controlEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	var temperature float64
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	view, err := s.backend.ApplyControlEvent(r.Context(), req.Action, temperature)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Message:    "control event applied: " + req.Action,
		FanControl: &view,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, errors.New().WithMessage(ErrInvalidLimit, "limit must be a positive integer"))
			return
		}
		limit = journal.ClampLimit(n)
	}

	events, err := s.backend.Events(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventsEnvelope{Success: true, Events: events})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.backend.Health()

	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, h)
}

func (*Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{Message: "API endpoint not found"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	errFactory := errors.New()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errFactory.WithMessage(ErrEmptyBody, "request body is empty")
		}
		return errFactory.Wrap(ErrMalformedBody, err).WithMessage("malformed JSON body")
	}

	return nil
}

func statusFor(err error) int {
	switch {
	case errors.HasCode(err, errors.ErrPolicyInputInvalid),
		errors.HasCode(err, ErrEmptyBody),
		errors.HasCode(err, ErrMalformedBody),
		errors.HasCode(err, ErrInvalidLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
	}

	writeJSON(w, status, envelope{Message: err.Error(), Code: string(errors.CodeOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
