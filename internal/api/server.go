package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/export"
	iduuid "github.com/JakeFAU/bulk-result-crawler/internal/id/uuid"
	"github.com/JakeFAU/bulk-result-crawler/internal/metrics"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
	"github.com/JakeFAU/bulk-result-crawler/internal/runs"
)

const (
	maxBodyBytes   = 1 << 16
	requestTimeout = 60 * time.Second
	exportFilename = "results.csv"
)

// RunService is the run lifecycle the handlers drive.
type RunService interface {
	Submit(ctx context.Context, req results.RangeRequest) (results.Run, error)
	Execute(ctx context.Context, req results.RangeRequest) (results.Run, error)
	Get(ctx context.Context, runID string) (results.Run, error)
	Export(ctx context.Context, runID string, w io.Writer) error
	Discard(runID string) error
}

// ReadyFunc reports whether a downstream dependency can serve traffic.
type ReadyFunc func(ctx context.Context) error

// Options configures the server.
type Options struct {
	CORSOrigin  string
	AuthEnabled bool
	APIKey      string
	// MaxRange caps the rolls one request may span. Zero uses
	// results.DefaultMaxRangeSize.
	MaxRange int
	// Ready checks run on /readyz; all must pass.
	Ready  []ReadyFunc
	Logger *zap.Logger
}

// Server wires HTTP handlers to the run service.
type Server struct {
	router   chi.Router
	runs     RunService
	maxRange int
	ready    []ReadyFunc
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc RunService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:     svc,
		maxRange: opts.MaxRange,
		ready:    opts.Ready,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(corsMiddleware(opts.CORSOrigin))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(s.apiKeyMiddleware(opts.APIKey))
		}
		// The sync route blocks for the whole run and is left without a deadline.
		r.Post("/sync", s.runSync)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Post("/", s.submitRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/results", s.getResults)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRange(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": string(run.Status)})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRange(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Execute(r.Context(), req)
	if err != nil {
		if run.ID != "" {
			s.logger.Warn("sync run did not succeed",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Error(err),
			)
		}
		s.writeRunError(w, err)
		return
	}
	defer func() {
		if err := s.runs.Discard(run.ID); err != nil {
			s.logger.Warn("discard run records", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	s.writeExport(w, r, run.ID, true)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	s.writeExport(w, r, runID, false)
}

func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, runID string, attachment bool) {
	var buf bytes.Buffer
	if err := s.runs.Export(r.Context(), runID, &buf); err != nil {
		s.writeRunError(w, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("write export failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (s *Server) decodeRange(w http.ResponseWriter, r *http.Request) (results.RangeRequest, bool) {
	var req results.RangeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return results.RangeRequest{}, false
	}
	req.Semester = strings.TrimSpace(req.Semester)
	req.InstituteCode = strings.TrimSpace(req.InstituteCode)
	if err := req.ValidateLimit(s.maxRange); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return results.RangeRequest{}, false
	}
	return req, true
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := chi.URLParam(r, "run_id")
	if !iduuid.Valid(runID) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return "", false
	}
	return runID, true
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, results.ErrInvalidRange):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, results.ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, runs.ErrRunNotFinished):
		s.writeError(w, http.StatusConflict, "run not finished")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, "run canceled")
	default:
		s.logger.Error("run request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

// RequestID returns the ID assigned to the request by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
