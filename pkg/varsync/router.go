package varsync

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/varkit/pkg/variable"
)

// requestIDHeader is the canonical request correlation header.
const requestIDHeader = "X-Request-ID"

type config struct {
	token string
	log   *slog.Logger
}

// Option configures the router.
type Option func(*config)

// WithToken requires "Authorization: bearer <token>" on every request.
// Without it the API is open, which is only appropriate for tests and
// loopback deployments.
func WithToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithLogger sets the logger for request failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// Router returns the HTTP surface of the variable store: the snapshot
// endpoint polled by remote providers plus the CRUD sync surface consumed by
// external tooling, all backed by the given provider.
func Router(p variable.Provider, opts ...Option) http.Handler {
	cfg := config{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &handler{provider: p, log: cfg.log}

	r := chi.NewRouter()
	r.Use(requestID)
	if cfg.token != "" {
		r.Use(bearerAuth(cfg.token))
	}

	r.Route("/v1/variables", func(r chi.Router) {
		r.Get("/", h.getAll)
		r.Post("/", h.create)
		r.Post("/batch", h.batch)
		r.Get("/{name}", h.getOne)
		r.Put("/{name}", h.update)
		r.Delete("/{name}", h.delete)
	})
	return r
}

// requestID attaches a correlation identifier to every request, reusing the
// client-supplied one when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// bearerAuth rejects requests without the expected bearer token.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, got, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") ||
				subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
