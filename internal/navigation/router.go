// Package navigation decides, before each page transition, whether the
// current session may enter a route or must be redirected.
package navigation

import (
	"context"
	"errors"
	"sync"

	"github.com/isdelr/ender-auth/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrNavigationSuperseded is returned by Navigate when a newer navigation
// started before this one resolved.
var ErrNavigationSuperseded = errors.New("navigation superseded")

const (
	DefaultLoginPath = "/login"
	DefaultHomePath  = "/"
)

// Route is a navigable page.
type Route struct {
	Path         string
	RequiresAuth bool
}

// DefaultRoutes is the page table of the web app.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/login"},
		{Path: "/register"},
		{Path: "/", RequiresAuth: true},
	}
}

// AuthState is the session view the guard needs.
type AuthState interface {
	Token() string
	User() *models.UserResource
	FetchUser(ctx context.Context) error
}

// Decision is the outcome of guarding one transition.
type Decision struct {
	Requested  string
	Path       string
	Redirected bool
	// FetchErr is set when the lazy user fetch failed. The transition still
	// proceeds, possibly into a protected route with no user loaded.
	FetchErr error
}

// Router runs the guard and tracks the current path.
type Router struct {
	auth      AuthState
	routes    map[string]Route
	loginPath string
	homePath  string

	mu      sync.Mutex
	current string
	seq     uint64
	cancel  context.CancelFunc
}

// Option configures a Router.
type Option func(*Router)

// WithLoginPath overrides the redirect target for unauthenticated visits.
func WithLoginPath(path string) Option {
	return func(r *Router) { r.loginPath = path }
}

// WithHomePath overrides the redirect target for authenticated visits to login.
func WithHomePath(path string) Option {
	return func(r *Router) { r.homePath = path }
}

// NewRouter builds a Router over routes. Paths not in routes are public.
func NewRouter(auth AuthState, routes []Route, opts ...Option) *Router {
	r := &Router{
		auth:      auth,
		routes:    make(map[string]Route, len(routes)),
		loginPath: DefaultLoginPath,
		homePath:  DefaultHomePath,
	}
	for _, route := range routes {
		r.routes[route.Path] = route
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve applies the guard to a transition towards path:
//  1. with a token but no user, fetch the user and wait for it;
//  2. a protected route without a token redirects to login;
//  3. the login route with a token redirects home;
//  4. anything else proceeds.
func (r *Router) Resolve(ctx context.Context, path string) (Decision, error) {
	if path == "" {
		path = r.homePath
	}
	d := Decision{Requested: path, Path: path}

	if r.auth.Token() != "" && r.auth.User() == nil {
		if err := r.auth.FetchUser(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Decision{}, ctxErr
			}
			log.Warn().Err(err).Str("path", path).Msg("User fetch failed during navigation")
			d.FetchErr = err
		}
	}

	hasToken := r.auth.Token() != ""
	switch {
	case r.routes[path].RequiresAuth && !hasToken:
		d.Path, d.Redirected = r.loginPath, true
	case path == r.loginPath && hasToken:
		d.Path, d.Redirected = r.homePath, true
	}
	return d, nil
}

// Navigate runs a transition as a cancellable task. Starting a navigation
// cancels any one still in flight; the cancelled one returns
// ErrNavigationSuperseded and never updates Current.
func (r *Router) Navigate(ctx context.Context, path string) (Decision, error) {
	navCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.seq++
	seq := r.seq
	r.cancel = cancel
	r.mu.Unlock()

	d, err := r.Resolve(navCtx, path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.seq {
		return Decision{}, ErrNavigationSuperseded
	}
	r.cancel = nil
	if err != nil {
		return Decision{}, err
	}
	r.current = d.Path
	return d, nil
}

// Current returns the path of the last completed navigation.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
