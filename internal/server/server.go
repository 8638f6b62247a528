// Package server exposes the explanation pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"model-explain/internal/dataset"
	"model-explain/internal/explain"
	"model-explain/internal/model"
	"model-explain/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// RequestMetrics counts served requests.
type RequestMetrics interface {
	HTTPRequestInc(route string, code int)
}

// Options configures a Server. Zero values disable the optional parts.
type Options struct {
	Port           int
	Store          *storage.Store      // enables persisted reports and /ranking
	Metrics        RequestMetrics      // request counting
	Gatherer       prometheus.Gatherer // source for /metrics, default registry when nil
	RequestTimeout time.Duration       // per /explain run, default 30s
	MaxInstances   int                 // per /explain request, default 1000
	MaxBodyBytes   int64               // per /explain request body, default 8 MiB
}

// Server provides the HTTP API for explanations.
type Server struct {
	pipeline *explain.Pipeline
	opts     Options
	handler  http.Handler
	server   *http.Server
}

// ExplainRequest is the body of POST /explain.
type ExplainRequest struct {
	Instances [][]float64 `json:"instances"`
	Store     bool        `json:"store,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ExplainResponse is the result of POST /explain.
type ExplainResponse struct {
	RequestID string          `json:"request_id,omitempty"`
	Stored    bool            `json:"stored"`
	Latency   float64         `json:"latency_ms"`
	Report    *explain.Report `json:"report"`
}

// New creates a server for p.
func New(p *explain.Pipeline, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = 1000
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{pipeline: p, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /explain", s.handleExplain)
	mux.HandleFunc("GET /ranking/{id}", s.handleRanking)
	mux.HandleFunc("GET /reports", s.handleReports)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /model/info", s.handleModelInfo)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	s.handler = s.countRequests(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Str("method", s.pipeline.Method()).Msg("starting explanation server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.opts.Metrics != nil {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			s.opts.Metrics.HTTPRequestInc(route, rec.code)
		}
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req ExplainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	// Validate request
	if len(req.Instances) == 0 {
		http.Error(w, "instances cannot be empty", http.StatusBadRequest)
		return
	}
	if len(req.Instances) > s.opts.MaxInstances {
		http.Error(w, fmt.Sprintf("at most %d instances per request", s.opts.MaxInstances), http.StatusRequestEntityTooLarge)
		return
	}
	if req.Store && s.opts.Store == nil {
		http.Error(w, "report storage is disabled", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	ds := dataset.New(s.pipeline.Adapter().Schema(), req.Instances)
	report, err := s.pipeline.Run(ctx, ds)
	if err != nil {
		var schemaErr *model.InvalidSchemaError
		status := http.StatusInternalServerError
		switch {
		case errors.As(err, &schemaErr):
			status = http.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("explanation failed")
		http.Error(w, fmt.Sprintf("explanation failed: %v", err), status)
		return
	}

	if req.Store {
		if err := s.opts.Store.Save(report); err != nil {
			log.Error().Err(err).Str("id", report.ID).Msg("failed to store report")
			http.Error(w, fmt.Sprintf("failed to store report: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, ExplainResponse{
		RequestID: req.RequestID,
		Stored:    req.Store,
		Latency:   float64(time.Since(start).Milliseconds()),
		Report:    report,
	})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		http.Error(w, "report storage is disabled", http.StatusNotFound)
		return
	}

	top := -1
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("invalid top %q", v), http.StatusBadRequest)
			return
		}
		top = n
	}

	report, err := s.opts.Store.Get(r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report.Summarize(top))
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		http.Error(w, "report storage is disabled", http.StatusNotFound)
		return
	}

	reports, err := s.opts.Store.List(r.URL.Query().Get("model"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]explain.Summary, len(reports))
	for i, rep := range reports {
		summaries[i] = rep.Summarize(5)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"method":  s.pipeline.Method(),
		"storage": s.opts.Store != nil,
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	adapter := s.pipeline.Adapter()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictor":    fmt.Sprintf("%T", adapter.Predictor()),
		"features":     adapter.Schema().Features,
		"output_space": adapter.OutputSpace(),
		"target_class": adapter.TargetClass(),
		"method":       s.pipeline.Method(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
