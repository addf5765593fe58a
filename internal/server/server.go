// Package server provides the HTTP API for Mitsukeru.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hyperjump/mitsukeru/internal/config"
	"github.com/hyperjump/mitsukeru/internal/discovery"
	"github.com/hyperjump/mitsukeru/internal/keyword"
	"github.com/hyperjump/mitsukeru/internal/ranking"
	"github.com/hyperjump/mitsukeru/internal/recommend"
	"github.com/hyperjump/mitsukeru/internal/session"
	"github.com/hyperjump/mitsukeru/internal/storage"
	"go.uber.org/zap"
)

const (
	headerRequestID     = "X-Request-ID"
	headerUserID        = "X-User-ID"
	headerSearchSession = "X-Search-Session"
)

type requestIDKey struct{}

// Server is the HTTP server for the Mitsukeru API.
type Server struct {
	storage      storage.Storage
	index        keyword.NameIndex
	pipeline     *discovery.Pipeline
	recommender  *recommend.Recommender
	searchParams ranking.Params
	latest       *discovery.Latest
	validate     *validator.Validate
	cfg          *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies. The name index may be
// nil, in which case suggestions are unavailable.
func NewServer(
	store storage.Storage,
	index keyword.NameIndex,
	pipeline *discovery.Pipeline,
	recommender *recommend.Recommender,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		storage:      store,
		index:        index,
		pipeline:     pipeline,
		recommender:  recommender,
		searchParams: cfg.Discovery.SearchParams(),
		latest:       discovery.NewLatest(),
		validate:     validator.New(),
		cfg:          cfg,
		logger:       logger,
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(userSession)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/discover", s.handleDiscover)
		r.Post("/search", s.handleSearch)
		r.Post("/recommend", s.handleRecommend)
		r.Get("/businesses/suggest", s.handleSuggest)
		r.Get("/businesses/{id}", s.handleGetBusiness)
		r.Put("/businesses/{id}", s.handlePutBusiness)
		r.Delete("/businesses/{id}", s.handleDeleteBusiness)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestID tags each request with an id, reusing the caller's X-Request-ID when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userSession binds the X-User-ID header to the request context.
func userSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := session.WithUserID(r.Context(), r.Header.Get(headerUserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
