package identity

import (
	"context"
	"sync"
	"time"

	"aduanet.org/internal/authevents"
	"aduanet.org/internal/guest"
	"aduanet.org/internal/obs"
)

const (
	defaultCacheTTL     = 10 * time.Second
	defaultInflightWait = 2 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// RemoteSource is the slice of the remote identity service the resolver needs.
// Implementations must report "no active session" as (nil, nil), reserving the
// error return for transport and server failures.
type RemoteSource interface {
	GetSession(ctx context.Context) (*Session, error)
	ProfileByID(ctx context.Context, userID string) (*Profile, error)
	CompanyRow(ctx context.Context, companyID string) (map[string]any, error)
}

// GuestSource yields the persisted guest record. Corrupt records are deleted by
// the source and reported as absent.
type GuestSource interface {
	Load(ctx context.Context) (*guest.Record, error)
}

// Resolver produces a single authoritative identity by consulting, in order,
// its own cache, the guest store and the remote identity service. All state is
// owned by the struct so independent resolvers can coexist in one process.
type Resolver struct {
	remote RemoteSource
	guests GuestSource
	now    func() time.Time

	ttl  time.Duration
	wait time.Duration
	poll time.Duration

	mu         sync.Mutex
	cached     *Identity
	companyRow map[string]any
	cachedAt   time.Time
	hasCached  bool
	inflight   bool
	lastErr    error
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithClock overrides the time source. Tests use it to age the cache without sleeping.
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithCacheTTL overrides the cache freshness window.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithInflightWait overrides how long a caller waits on a resolution already in
// flight, and the interval at which it re-checks.
func WithInflightWait(wait, poll time.Duration) ResolverOption {
	return func(r *Resolver) {
		if wait > 0 {
			r.wait = wait
		}
		if poll > 0 {
			r.poll = poll
		}
	}
}

// NewResolver constructs a resolver over the given sources.
func NewResolver(remote RemoteSource, guests GuestSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		remote: remote,
		guests: guests,
		now:    time.Now,
		ttl:    defaultCacheTTL,
		wait:   defaultInflightWait,
		poll:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the current identity, or nil when there is none. It never
// returns an error: every failure degrades to nil and is recorded for
// inspection via LastError. A cached result younger than the TTL is returned
// without I/O; a resolution already in flight is awaited rather than repeated.
func (r *Resolver) Resolve(ctx context.Context) *Identity {
	r.mu.Lock()
	if r.hasCached && r.now().Sub(r.cachedAt) < r.ttl {
		id := cloneIdentity(r.cached)
		r.mu.Unlock()
		obs.ObserveCacheHit()
		return id
	}
	if r.inflight {
		r.mu.Unlock()
		return r.awaitInflight(ctx)
	}
	r.inflight = true
	r.mu.Unlock()

	id, companyRow, err := r.resolveRemote(ctx)

	r.mu.Lock()
	if err != nil {
		// Failures are not cached: the route guard's bounded retries must be
		// able to reach the sources again. A clean "no session" result is
		// cached as nil like any other resolution.
		r.cached = nil
		r.companyRow = nil
		r.hasCached = false
		r.lastErr = err
	} else {
		r.cached = id
		r.companyRow = companyRow
		r.cachedAt = r.now()
		r.hasCached = true
		r.lastErr = nil
	}
	r.inflight = false
	r.mu.Unlock()

	return cloneIdentity(id)
}

// awaitInflight coalesces concurrent callers onto one remote resolution: it
// polls until the in-flight call completes, then returns whatever the cache
// holds. The result may be slightly stale; that is the documented trade-off.
func (r *Resolver) awaitInflight(ctx context.Context) *Identity {
	deadline := time.NewTimer(r.wait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.cachedSnapshot()
		case <-deadline.C:
			return r.cachedSnapshot()
		case <-ticker.C:
			r.mu.Lock()
			done := !r.inflight
			id := cloneIdentity(r.cached)
			r.mu.Unlock()
			if done {
				return id
			}
		}
	}
}

func (r *Resolver) cachedSnapshot() *Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneIdentity(r.cached)
}

// resolveRemote runs one full resolution cycle: guest store first, then the
// remote session/profile pair, with a best-effort company prefetch.
func (r *Resolver) resolveRemote(ctx context.Context) (*Identity, map[string]any, error) {
	rec, err := r.guests.Load(ctx)
	if err != nil {
		// The guest layer failing to read is unusual; log and fall through to remote.
		obs.Log("warn", "guest_load_failed", map[string]any{"error": err.Error()})
	}
	if rec != nil {
		obs.ObserveResolution("guest", "identity")
		return &Identity{
			ID:       rec.ID,
			Email:    rec.Email,
			Kind:     KindGuest,
			Verified: true,
			Role:     RoleViewer,
		}, nil, nil
	}

	sess, err := r.remote.GetSession(ctx)
	if err != nil {
		obs.ObserveResolution("remote", "error")
		return nil, nil, err
	}
	if sess == nil {
		obs.ObserveResolution("remote", "none")
		return nil, nil, nil
	}

	prof, err := r.remote.ProfileByID(ctx, sess.UserID)
	if err != nil {
		// Fail closed: a session without its profile never yields a partial identity.
		obs.ObserveResolution("remote", "error")
		return nil, nil, err
	}

	id := &Identity{
		ID:        prof.ID,
		Email:     prof.Email,
		Kind:      KindAuthenticated,
		Verified:  prof.EmailVerified,
		CompanyID: prof.CompanyID,
		Role:      NormalizeRole(prof.Role),
	}
	if id.Email == "" {
		id.Email = sess.Email
	}

	var companyRow map[string]any
	if prof.CompanyID != "" {
		row, err := r.remote.CompanyRow(ctx, prof.CompanyID)
		if err != nil {
			obs.Log("warn", "company_prefetch_failed", map[string]any{
				"company_id": prof.CompanyID,
				"error":      err.Error(),
			})
		} else {
			companyRow = row
		}
	}

	obs.ObserveResolution("remote", "identity")
	return id, companyRow, nil
}

// LastError reports the failure recorded by the most recent resolution cycle,
// or nil if it succeeded.
func (r *Resolver) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// CompanySnapshot returns the raw company row prefetched alongside the cached
// identity, if any. Callers normalize it through the company package.
func (r *Resolver) CompanySnapshot() (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.companyRow == nil {
		return nil, false
	}
	row := make(map[string]any, len(r.companyRow))
	for k, v := range r.companyRow {
		row[k] = v
	}
	return row, true
}

// Invalidate drops the cached identity so the next Resolve consults the
// sources again. Called on explicit sign-out and on remote sign-out events.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.companyRow = nil
	r.hasCached = false
	r.lastErr = nil
}

// Watch invalidates the cache whenever a sign-out event arrives. It returns
// when the events channel closes or the context ends.
func (r *Resolver) Watch(ctx context.Context, events <-chan authevents.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type == authevents.SignedOut {
				r.Invalidate()
			}
		}
	}
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
