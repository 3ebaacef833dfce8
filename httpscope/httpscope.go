// Package httpscope translates HTTP boundaries into container scope signals.
//
// The middleware opens a fresh request scope for every request and tears it
// down when the handler returns, so RequestScoped components live exactly as
// long as one request. Session scoping is opt-in and keyed by a cookie:
//
//	scopes := httpscope.New(c, httpscope.WithSessions())
//	r := scopes.Router()
//	r.Get("/me", func(w http.ResponseWriter, req *http.Request) {
//	    visit, _ := httpscope.ResolveType[*VisitCounter](c, req)
//	    ...
//	})
package httpscope

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	ioc "github.com/km-arc/go-ioc"
)

// DefaultSessionCookie carries the session scope token between requests.
const DefaultSessionCookie = "ioc_session"

// Option configures a Scopes boundary.
type Option func(*Scopes)

// WithSessions enables session scoping. Each browser session gets a token
// cookie on first contact; SessionScoped components then live across that
// client's requests until EndSession or container shutdown.
func WithSessions() Option {
	return func(s *Scopes) { s.sessions = true }
}

// WithSessionCookie overrides the session cookie name. Implies WithSessions.
func WithSessionCookie(name string) Option {
	return func(s *Scopes) {
		s.sessions = true
		s.cookie = name
	}
}

// WithLogger routes middleware logging (scope teardown failures) to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scopes) { s.log = log }
}

// Scopes signals request and session scope boundaries for one container.
type Scopes struct {
	c        *ioc.Container
	sessions bool
	cookie   string
	log      logrus.FieldLogger
}

// New creates the boundary for c.
func New(c *ioc.Container, opts ...Option) *Scopes {
	s := &Scopes{c: c, cookie: DefaultSessionCookie, log: logrus.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Middleware returns the scope-signaling middleware, chi-compatible.
func (s *Scopes) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if s.sessions {
				ctx = s.bindSession(ctx, w, r)
			}

			token := ioc.NewToken()
			ctx, err := s.c.EnterScope(ctx, ioc.RequestScoped, token)
			if err != nil {
				s.log.WithError(err).Error("entering request scope")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			// Deferred so teardown survives handler panics; WithoutCancel so it
			// survives the client going away.
			defer func() {
				exitCtx := context.WithoutCancel(r.Context())
				if err := s.c.ExitScope(exitCtx, ioc.RequestScoped, token); err != nil {
					s.log.WithError(err).WithField("token", string(token)).Warn("request scope teardown")
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bindSession activates (or joins) the session scope named by the cookie. A
// missing or malformed cookie gets a fresh token.
func (s *Scopes) bindSession(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	var token ioc.Token
	if cookie, err := r.Cookie(s.cookie); err == nil {
		if _, perr := uuid.Parse(cookie.Value); perr == nil {
			token = ioc.Token(cookie.Value)
		}
	}
	if token == "" {
		token = ioc.NewToken()
		http.SetCookie(w, &http.Cookie{
			Name:     s.cookie,
			Value:    string(token),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	if s.c.ScopeActive(ioc.SessionScoped, token) {
		return ioc.WithToken(ctx, ioc.SessionScoped, token)
	}
	scoped, err := s.c.EnterScope(ctx, ioc.SessionScoped, token)
	if err != nil {
		// Lost a race with a concurrent request of the same session; the
		// scope is active now, riding along is enough.
		return ioc.WithToken(ctx, ioc.SessionScoped, token)
	}
	return scoped
}

// EndSession tears the request's session scope down and expires the cookie.
// Call from a logout handler.
func (s *Scopes) EndSession(w http.ResponseWriter, r *http.Request) error {
	token, ok := ioc.TokenFrom(r.Context(), ioc.SessionScoped)
	if !ok {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return s.c.ExitScope(context.WithoutCancel(r.Context()), ioc.SessionScoped, token)
}

// Router returns a chi router with RealIP, Recoverer and the scope middleware
// mounted.
func (s *Scopes) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.Middleware())
	return r
}

// ── Request helpers ───────────────────────────────────────────────────────────

// Resolve resolves id within the request's scopes.
func Resolve[T any](c *ioc.Container, r *http.Request, id string) (T, error) {
	return ioc.Resolve[T](r.Context(), c, id)
}

// ResolveType resolves the single component assignable to T within the
// request's scopes.
func ResolveType[T any](c *ioc.Container, r *http.Request) (T, error) {
	return ioc.ResolveType[T](r.Context(), c)
}

// RequestToken returns the request scope token bound to r.
func RequestToken(r *http.Request) (ioc.Token, bool) {
	return ioc.TokenFrom(r.Context(), ioc.RequestScoped)
}

// SessionToken returns the session scope token bound to r.
func SessionToken(r *http.Request) (ioc.Token, bool) {
	return ioc.TokenFrom(r.Context(), ioc.SessionScoped)
}
