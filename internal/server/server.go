// Package server exposes the library, the highlight signal and the ingestion
// pipeline over HTTP, and pushes every change to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/config"
	"github.com/dharsanguruparan/mindflow/internal/events"
	"github.com/dharsanguruparan/mindflow/internal/highlight"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/model"
	"github.com/dharsanguruparan/mindflow/internal/processing"
	"github.com/dharsanguruparan/mindflow/internal/signing"
)

// Dispatcher hands staged uploads to a worker. *processing.Pool and
// *queue.Dispatcher satisfy it.
type Dispatcher interface {
	Submit(ctx context.Context, job processing.Job) error
}

// Definer looks up concept definitions. *processing.Client satisfies it.
type Definer interface {
	Definition(ctx context.Context, term string) (*string, error)
}

// ConceptExtractor finds the key concepts of free text. *processing.Client
// satisfies it.
type ConceptExtractor interface {
	ExtractConcepts(ctx context.Context, text string) ([]model.Concept, error)
}

// Deps are the collaborators the server shares with the rest of the process.
type Deps struct {
	Library     *library.Store
	Handles     *blob.Registry
	Signal      *highlight.Signal
	Bus         *events.Bus
	Jobs        *processing.JobStore
	Dispatcher  Dispatcher
	Definitions Definer
	Concepts    ConceptExtractor
	Signer      *signing.Signer
	Logger      *zap.Logger
}

// Server hosts HTTP handlers for MindFlow.
type Server struct {
	cfg       *config.Config
	lib       *library.Store
	handles   *blob.Registry
	signal    *highlight.Signal
	bus       *events.Bus
	jobs      *processing.JobStore
	dispatch  Dispatcher
	defs      Definer
	concepts  ConceptExtractor
	signer    *signing.Signer
	log       *zap.Logger
	uploadDir string
	now       func() time.Time

	once    sync.Once
	handler http.Handler
}

// New creates a configured server. The staging directory for uploads is
// created here so a bad TMPDIR fails at startup.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	dir := filepath.Join(os.TempDir(), "mindflow")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		lib:       deps.Library,
		handles:   deps.Handles,
		signal:    deps.Signal,
		bus:       deps.Bus,
		jobs:      deps.Jobs,
		dispatch:  deps.Dispatcher,
		defs:      deps.Definitions,
		concepts:  deps.Concepts,
		signer:    deps.Signer,
		log:       log.Named("http"),
		uploadDir: dir,
		now:       time.Now,
	}, nil
}

// UploadDir is where uploads are staged before ingestion.
func (s *Server) UploadDir() string {
	return s.uploadDir
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		s.handler = corsMiddleware(s.loggingMiddleware(s.routes()))
	})
	return s.handler
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.Info("listening", zap.String("address", s.cfg.Address))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentRoute)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/current", s.handleCurrent)
	mux.HandleFunc("/highlight", s.handleHighlight)
	mux.HandleFunc("/jobs/", s.handleJob)
	mux.HandleFunc("/definition/", s.handleDefinition)
	mux.HandleFunc("/concepts", s.handleConcepts)
	mux.HandleFunc("/graph", s.handleGraph)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"documents": s.lib.Len(),
		"handles":   s.handles.Len(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if r.URL.Path == "/ws" {
			// Upgrades need the raw writer for hijacking.
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(rec, r)
		}
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
