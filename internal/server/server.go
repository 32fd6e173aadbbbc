// Package server exposes sessions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/session"
)

// OwnerHeader carries the owner id. Authentication happens upstream.
const OwnerHeader = "X-Owner-ID"

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 64 << 20

type ctxKey struct{}

// Server routes requests to the caller's session.
type Server struct {
	sessions     *session.Manager
	defaultOwner string
	nowFunc      func() time.Time
}

// New creates a Server. Requests without an owner header use defaultOwner.
func New(sessions *session.Manager, defaultOwner string) *Server {
	return &Server{sessions: sessions, defaultOwner: defaultOwner, nowFunc: time.Now}
}

// Handler builds the router. An empty origins list allows any origin.
func (s *Server) Handler(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", OwnerHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}/terms/{columnId}", s.handleDrillDown)

		r.Get("/columns", s.handleListColumns)
		r.Patch("/columns/{id}", s.handleUpdateColumn)

		r.Get("/table", s.handleTable)
		r.Post("/table/sort/{columnId}", s.handleSortClick)
		r.Get("/export.csv", s.handleExportCSV)
		r.Get("/export.xlsx", s.handleExportXLSX)

		r.Get("/suggestions", s.handleSuggestions)
		r.Post("/suggestions/accept", s.handleAccept)
		r.Post("/suggestions/dismiss", s.handleDismiss)

		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			owner = s.defaultOwner
		}
		sess, err := s.sessions.Get(r.Context(), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxKey{}).(*session.Session)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

// statusOf maps an error class to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrSuggestionAlreadyResolved), errors.Is(err, model.ErrNoPendingSuggestion):
		return http.StatusConflict
	case model.IsValidation(err):
		return http.StatusBadRequest
	case session.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
