// Package sandbox is an in-memory stand-in for the learning-platform
// backend. It serves the REST surface the harness drives, including
// session and CSRF cookies and the per-account login throttle, so the
// schedulers can be exercised end to end without a live target.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/ratelimit"
)

// Options configures the sandbox.
type Options struct {
	SessionCookie    string
	CSRFCookie       string
	CSRFHeader       string
	LoginMaxAttempts int
	LoginWindow      time.Duration
	Trails           []Trail
}

// OptionsFromConfig mirrors the harness's cookie names and throttle so a
// run against the sandbox sees what it expects.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SessionCookie:    cfg.Auth.SessionCookieName,
		CSRFCookie:       cfg.Auth.CSRFCookieName,
		CSRFHeader:       cfg.Auth.CSRFHeaderName,
		LoginMaxAttempts: cfg.Auth.RateLimitMaxAttempts,
		LoginWindow:      time.Duration(cfg.Auth.RateLimitWindowSeconds) * time.Second,
	}
}

// Server is the fake backend.
type Server struct {
	opts    Options
	store   *store
	limiter *ratelimit.KeyedLimiter
	logger  *zap.Logger
	router  chi.Router

	requests sync.Map // route pattern -> *atomic.Int64
}

type ctxKey struct{}

// New creates a sandbox server.
func New(opts Options, logger *zap.Logger) *Server {
	if opts.SessionCookie == "" {
		opts.SessionCookie = "rota_session"
	}
	if opts.CSRFCookie == "" {
		opts.CSRFCookie = "rota_csrf"
	}
	if opts.CSRFHeader == "" {
		opts.CSRFHeader = "X-CSRF-Token"
	}
	if opts.LoginMaxAttempts < 1 {
		opts.LoginMaxAttempts = 5
	}
	if opts.LoginWindow <= 0 {
		opts.LoginWindow = time.Minute
	}
	if opts.Trails == nil {
		opts.Trails = DefaultTrails()
	}

	s := &Server{
		opts:    opts,
		store:   newStore(opts.Trails),
		limiter: ratelimit.NewKeyedLimiter(opts.LoginMaxAttempts, opts.LoginWindow),
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.countRequests)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.Register)
		r.Post("/login", s.Login)
	})

	r.Route("/trails", func(r chi.Router) {
		r.Get("/", s.ListTrails)
		r.Get("/showcase", s.Showcase)
		r.Route("/{trailID}", func(r chi.Router) {
			r.Get("/", s.GetTrail)
			r.Get("/sections", s.ListSections)
			r.Get("/sections/{sectionID}/items", s.ListSectionItems)
			r.Get("/sections-with-items", s.SectionsWithItems)
			r.Get("/included-items", s.IncludedItems)
			r.Get("/requirements", s.Requirements)
			r.Get("/audience", s.Audience)
			r.Get("/learn", s.Learn)
			r.Get("/items/{itemID}", s.GetItem)

			r.Group(func(r chi.Router) {
				r.Use(s.requireSession, s.requireCSRF)
				r.Put("/items/{itemID}/progress", s.UpdateItemProgress)
				r.Post("/items/{itemID}/form-submissions", s.SubmitForm)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/me", s.Me)
		r.Route("/user-trails/{trailID}", func(r chi.Router) {
			r.With(s.requireCSRF).Post("/enroll", s.Enroll)
			r.Get("/progress", s.TrailProgress)
			r.Get("/items-progress", s.ItemsProgress)
			r.Get("/sections-progress", s.SectionsProgress)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sandbox listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Requests returns how many requests hit the route pattern, e.g.
// "/user-trails/{trailID}/enroll".
func (s *Server) Requests(pattern string) int64 {
	if v, ok := s.requests.Load(pattern); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Submissions returns the number of accepted form submissions.
func (s *Server) Submissions() int {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.store.submissions
}

// Enrolled reports whether email is enrolled in trailID.
func (s *Server) Enrolled(email, trailID string) bool {
	return s.store.enrolled(email, trailID)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		v, _ := s.requests.LoadOrStore(pattern, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(s.opts.SessionCookie)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		sess, ok := s.store.session(c.Value)
		if !ok {
			s.respondError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		w.Header().Set(s.opts.CSRFHeader, sess.CSRF)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

// requireCSRF enforces the double-submit rule: the header must equal the
// CSRF cookie, and both must belong to the session.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := r.Context().Value(ctxKey{}).(session)
		header := r.Header.Get(s.opts.CSRFHeader)
		c, err := r.Cookie(s.opts.CSRFCookie)
		if header == "" || err != nil || c.Value != header || header != sess.CSRF {
			s.respondError(w, http.StatusForbidden, "CSRF token missing or invalid")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFrom(r *http.Request) session {
	sess, _ := r.Context().Value(ctxKey{}).(session)
	return sess
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.logger.Debug("sandbox error", zap.Int("status", status), zap.String("error", message))
	s.respondJSON(w, status, map[string]string{"error": message})
}
