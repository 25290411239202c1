// Package api exposes the question-answering service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragqa/internal/domain"
	"ragqa/internal/extract"
)

// Service is the subset of the RAG service the HTTP layer needs.
type Service interface {
	Upload(ctx context.Context, docs []domain.DocumentInput) (domain.UploadResult, error)
	Ask(ctx context.Context, query string, k int) (domain.Answer, error)
	Metrics() domain.Metrics
	IndexedChunks() int
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr     string
	MaxUploadFiles int
	MaxUploadBytes int64
}

// Server is the HTTP front end.
type Server struct {
	config  Config
	service Service
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server and registers its routes.
func NewServer(config Config, service Service, logger *slog.Logger) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8000"
	}
	if config.MaxUploadFiles <= 0 {
		config.MaxUploadFiles = 3
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{config: config, service: service, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /ask", s.handleAsk)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.loggingMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.config.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.server.Shutdown(ctx)
}

type uploadResponse struct {
	Message   string                    `json:"message"`
	Documents []domain.UploadedDocument `json:"documents"`
}

// handleUpload handles POST /upload with multipart "files".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "No files provided")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "No files provided")
		return
	}
	if len(files) > s.config.MaxUploadFiles {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d files allowed", s.config.MaxUploadFiles))
		return
	}
	s.logger.Info("received files for upload", "count", len(files))

	docs := make([]domain.DocumentInput, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to extract text from file")
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to extract text from file")
			return
		}
		text, err := extract.Text(r.Context(), fh.Filename, content)
		switch {
		case errors.Is(err, extract.ErrUnsupportedFileType):
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %s. Use %s.", fh.Filename, strings.Join(extract.SupportedExtensions, ", ")))
			return
		case errors.Is(err, extract.ErrInvalidDocument):
			s.logger.Warn("unreadable upload", "file", fh.Filename, "error", err)
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Could not read file: %s", fh.Filename))
			return
		case errors.Is(err, extract.ErrPDFToolNotFound):
			s.logger.Error("text extraction failed", "file", fh.Filename, "error", err, "hint", extract.InstallInstructions())
			respondError(w, http.StatusNotImplemented, "PDF extraction is not available on this server")
			return
		}
		if err != nil {
			s.logger.Error("text extraction failed", "file", fh.Filename, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to extract text from file")
			return
		}
		if strings.TrimSpace(text) == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("No readable text found in file: %s", fh.Filename))
			return
		}
		docs = append(docs, domain.DocumentInput{Filename: fh.Filename, Text: text})
	}

	result, err := s.service.Upload(r.Context(), docs)
	if err != nil {
		s.logger.Error("upload failed", "error", err)
		respondError(w, statusFor(err), messageFor(err))
		return
	}
	msg := "Documents uploaded and indexed successfully"
	for _, d := range result.Documents {
		if d.Status != domain.StatusProcessed {
			msg = "Some documents could not be indexed"
			break
		}
	}
	respondJSON(w, http.StatusOK, uploadResponse{Message: msg, Documents: result.Documents})
}

// handleAsk handles GET /ask?query=...&k=...
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}
	k := 0
	if ks := r.URL.Query().Get("k"); ks != "" {
		parsed, err := strconv.Atoi(ks)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = parsed
	}
	s.logger.Info("received query", "query", query)

	answer, err := s.service.Ask(r.Context(), query, k)
	if err != nil {
		s.logger.Error("question answering failed", "error", err)
		respondError(w, statusFor(err), messageFor(err))
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"indexed_chunks": s.service.IndexedChunks(),
	})
}

// handleMetrics handles GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.service.Metrics())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery), errors.Is(err, domain.ErrNoReadableText):
		return http.StatusBadRequest
	case domain.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return "Query cannot be empty"
	case errors.Is(err, domain.ErrNoReadableText):
		return "No readable text found"
	case domain.IsProviderError(err):
		return "Upstream model provider failed"
	default:
		return "Internal server error"
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request with a generated request ID.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
