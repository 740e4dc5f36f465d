// Package server exposes the HTTP trigger surface. Every request must
// carry the shared-secret path segment first; triggered work runs in the
// background and the response never waits for it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"feedie/internal/feed"
	"feedie/internal/prune"
	"feedie/internal/report"
)

type Server struct {
	syncer *feed.Syncer
	pruner *prune.Pruner
	key    string
	logger *logrus.Logger
	router chi.Router
}

func New(syncer *feed.Syncer, pruner *prune.Pruner, key string, logger *logrus.Logger) *Server {
	s := &Server{
		syncer: syncer,
		pruner: pruner,
		key:    key,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(s.requireKey)

	r.HandleFunc("/{key}/crawl/{feedID}", s.handleCrawl)
	r.HandleFunc("/{key}/crawl-all", s.handleCrawlAll)
	r.HandleFunc("/{key}/prune", s.handlePrune)
	r.NotFound(s.handleAlive)

	s.router = r
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("Trigger server listening")
	return http.ListenAndServe(addr, s.router)
}

// requireKey answers any request whose first path segment is not the
// configured secret with an empty body; no action is taken.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seg, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if s.key == "" || seg != s.key {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	s.respond(w, fmt.Sprintf("crawling %s", feedID))

	go func() {
		// Detached from the request context: the response has already
		// been sent and the work outlives it.
		if _, err := s.syncer.SyncOne(context.Background(), feedID); err != nil {
			s.fatal(err)
		}
	}()
}

func (s *Server) handleCrawlAll(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "crawling all")

	go func() {
		if _, err := s.syncer.SyncAll(context.Background()); err != nil {
			s.fatal(err)
		}
	}()
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "pruning")

	go func() {
		if _, err := s.pruner.Run(context.Background()); err != nil {
			s.fatal(err)
		}
	}()
}

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "alive")
}

func (s *Server) respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}

// fatal handles an invocation-fatal error in server mode: report it and
// stay alive, leaving the invocation incomplete. The HTTP caller already
// got its response.
func (s *Server) fatal(err error) {
	s.logger.WithError(err).Error("Triggered run failed")
	report.Error(err)
}
