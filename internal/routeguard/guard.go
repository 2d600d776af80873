// Package routeguard decides, per navigation, whether the current visitor may
// see a path: allow, redirect to login, or hold on a pending-verification
// interstitial. It owns the retry and timeout policy around identity
// resolution; the resolver itself never retries.
package routeguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aduanet.org/internal/identity"
	"aduanet.org/internal/kv"
	"aduanet.org/internal/obs"
)

// State is the outcome of one navigation evaluation.
type State string

const (
	StateChecking            State = "checking"
	StateAllowed             State = "allowed"
	StateRedirectLogin       State = "redirect_login"
	StatePendingVerification State = "pending_verification"
	StateError               State = "error"
)

// LastRouteKey is where the intended destination is persisted when an
// unauthenticated visitor is redirected away from a protected path.
const LastRouteKey = "lastVisitedRoute"

const (
	defaultMaxAttempts   = 3
	defaultBackoff       = 100 * time.Millisecond
	defaultSafetyTimeout = 5 * time.Second
)

// Decision carries the terminal state of a navigation plus the identity it was
// made for, when one exists.
type Decision struct {
	State    State
	Identity *identity.Identity
	Err      error
}

// Resolver is the slice of the identity resolver the guard needs.
type Resolver interface {
	Resolve(ctx context.Context) *identity.Identity
}

// Guard evaluates navigations. Public paths (login, registration) are allowed
// unconditionally so redirects can never loop.
type Guard struct {
	resolver Resolver
	routes   kv.Store
	public   map[string]struct{}

	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu      sync.Mutex
	allowed map[string]string // path -> identity id, the verified-once memo
}

// Option configures Guard behavior.
type Option func(*Guard)

// WithRetryPolicy overrides attempt count and backoff between attempts.
func WithRetryPolicy(attempts int, backoff time.Duration) Option {
	return func(g *Guard) {
		if attempts > 0 {
			g.maxAttempts = attempts
		}
		if backoff > 0 {
			g.backoff = backoff
		}
	}
}

// WithSafetyTimeout overrides the hard cap on how long a navigation may stay
// in Checking before it is forced to RedirectLogin.
func WithSafetyTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// New constructs a guard. publicPaths are allowed without an identity check.
func New(resolver Resolver, routes kv.Store, publicPaths []string, opts ...Option) *Guard {
	g := &Guard{
		resolver:    resolver,
		routes:      routes,
		public:      make(map[string]struct{}, len(publicPaths)),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		timeout:     defaultSafetyTimeout,
		allowed:     make(map[string]string),
	}
	for _, p := range publicPaths {
		g.public[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs the full state machine for a navigation to path. It always
// terminates within the safety timeout and never panics: unexpected failures
// inside the guard surface as StateError, never as a thrown exception.
func (g *Guard) Evaluate(ctx context.Context, path string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			decision = Decision{State: StateError, Err: fmt.Errorf("routeguard: %v", r)}
		}
		obs.ObserveGuardState(string(decision.State))
	}()

	if _, ok := g.public[path]; ok {
		return Decision{State: StateAllowed}
	}

	dctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan Decision, 1)
	go func() {
		done <- g.attemptLoop(dctx, path)
	}()

	select {
	case d := <-done:
		return d
	case <-dctx.Done():
		// Resolution never completed. Force the redirect so the UI cannot hang;
		// the late result, if any, is dropped.
		g.rememberRoute(path)
		return Decision{State: StateRedirectLogin, Err: dctx.Err()}
	}
}

// attemptLoop performs up to maxAttempts resolutions with fixed backoff. The
// attempt counter is local to one navigation, so it resets on route change.
func (g *Guard) attemptLoop(ctx context.Context, path string) Decision {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		id := g.resolver.Resolve(ctx)
		if id != nil {
			if id.Kind == identity.KindAuthenticated && !id.Verified {
				return Decision{State: StatePendingVerification, Identity: id}
			}
			g.markAllowed(path, id.ID)
			return Decision{State: StateAllowed, Identity: id}
		}
		if attempt < g.maxAttempts {
			select {
			case <-time.After(g.backoff):
			case <-ctx.Done():
				g.rememberRoute(path)
				return Decision{State: StateRedirectLogin, Err: ctx.Err()}
			}
		}
	}
	g.rememberRoute(path)
	return Decision{State: StateRedirectLogin}
}

// Recheck serves re-renders: once a path was allowed for an identity, repeat
// calls return Allowed without resolving again. Mid-session revocation is
// therefore only observed on the next real navigation or sign-out.
func (g *Guard) Recheck(ctx context.Context, path string) Decision {
	g.mu.Lock()
	idID, ok := g.allowed[path]
	g.mu.Unlock()
	if ok {
		return Decision{State: StateAllowed, Identity: &identity.Identity{ID: idID}}
	}
	return g.Evaluate(ctx, path)
}

// Reset clears the verified-once memo. Called on sign-out.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed = make(map[string]string)
}

// ConsumeLastRoute returns the persisted post-login destination and removes it,
// so it is restored exactly once.
func (g *Guard) ConsumeLastRoute(ctx context.Context) (string, bool) {
	path, err := g.routes.Get(ctx, LastRouteKey)
	if errors.Is(err, kv.ErrNotFound) {
		return "", false
	}
	if err != nil {
		obs.Log("warn", "last_route_read_failed", map[string]any{"error": err.Error()})
		return "", false
	}
	if err := g.routes.Delete(ctx, LastRouteKey); err != nil {
		obs.Log("warn", "last_route_delete_failed", map[string]any{"error": err.Error()})
	}
	return path, true
}

func (g *Guard) markAllowed(path, identityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed[path] = identityID
}

// rememberRoute persists the intended destination for post-login redirect. A
// short independent context is used because the navigation's own context may
// already be past its deadline.
func (g *Guard) rememberRoute(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.routes.Set(ctx, LastRouteKey, path); err != nil {
		obs.Log("warn", "last_route_write_failed", map[string]any{"error": err.Error()})
	}
}
