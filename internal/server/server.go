package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/mhollis/crmport/internal/auth"
	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/middleware"
	"github.com/mhollis/crmport/internal/session"
)

const defaultMaxUploadSize = 25 << 20

// Server exposes the import session lifecycle over HTTP.
type Server struct {
	sessions *session.Service
	log      *logrus.Logger
	router   chi.Router

	maxUploadSize int64
	corsOrigins   []string
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadSize caps the accepted upload body size in bytes.
func WithMaxUploadSize(size int64) Option {
	return func(s *Server) {
		if size > 0 {
			s.maxUploadSize = size
		}
	}
}

// WithCORSOrigins sets the allowed cross-origin request origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// New builds the HTTP server around the session service.
func New(sessions *session.Service, log *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		sessions:      sessions,
		log:           log,
		router:        chi.NewRouter(),
		maxUploadSize: defaultMaxUploadSize,
		corsOrigins:   []string{"http://localhost:3000"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	s.router.Use(middleware.Logging(s.log))
	s.router.Use(corsHandler.Handler)
	s.router.Use(s.identity)

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDestroySession)
			r.Put("/mapping", s.handleSetMapping)
			r.Get("/columns", s.handleAnalyzeColumns)
			r.Get("/columns/{field}/values", s.handleColumnValues)
			r.Get("/columns/{field}/filters", s.handleFilterCounts)
			r.Post("/columns/{field}/corrections", s.handleStoreCorrection)
			r.Post("/columns/{field}/corrections/remove", s.handleRemoveCorrection)
			r.Post("/columns/{field}/skip", s.handleSkipValue)
			r.Get("/validation", s.handleValidate)
			r.Get("/preview", s.handlePreview)
			r.Post("/commit", s.handleCommit)
			r.Get("/commit", s.handleCommitStatus)
			r.Get("/report", s.handleDownloadReport)
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// identity resolves the tenant and user headers into the request context.
// Handlers that require a tenant reject requests that arrived without one.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := r.Header.Get("X-Tenant-ID"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid tenant id")
				return
			}
			ctx = auth.ContextWithTenantID(ctx, id)
		}
		if raw := r.Header.Get("X-User-ID"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid user id")
				return
			}
			ctx = auth.ContextWithUserID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeServiceError maps service failures onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logrus.WithError(err).Warn("failed to encode error response")
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}
