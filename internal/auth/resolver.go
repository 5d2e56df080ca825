// Package auth discovers the anti-forgery security token required for mutating
// requests and persists it between runs.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Sources are consulted in order after the cache and before the store.
	Sources []Source
	// Store persists resolved tokens and is consulted after Sources.
	Store docbridge.TokenStore
	// Fetch is the network source, consulted last and gated by Cooldown.
	Fetch Source
	// Skip disables resolution entirely.
	Skip bool

	Logger        docbridge.Logger
	Cooldown      time.Duration
	FailureWindow time.Duration
	FailureLimit  int
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Resolver finds a security token in a fixed priority order and caches it:
// cache, configured sources, local store, network fetch.
type Resolver struct {
	config ResolverConfig
	logger docbridge.Logger

	mutex       sync.Mutex
	cached      *docbridge.SecurityToken
	lastFailure time.Time
	failures    []time.Time
}

// NewResolver creates a resolver with defaults for unset timings.
func NewResolver(config ResolverConfig) *Resolver {
	if config.Logger == nil {
		config.Logger = docbridge.NopLogger{}
	}

	if config.Cooldown == 0 {
		config.Cooldown = constants.TokenFetchCooldown
	}

	if config.FailureWindow == 0 {
		config.FailureWindow = constants.TokenFailureWindow
	}

	if config.FailureLimit == 0 {
		config.FailureLimit = constants.TokenFailureLimit
	}

	if config.Now == nil {
		config.Now = time.Now
	}

	return &Resolver{config: config, logger: config.Logger}
}

// Resolve returns the security token or nil when no source has one.
// Source failures are logged and skipped; only ctx cancellation is returned.
func (r *Resolver) Resolve(ctx context.Context) (*docbridge.SecurityToken, error) {
	if r.config.Skip {
		return nil, nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cached != nil {
		return r.copyCached(), nil
	}

	sources := r.localSources()

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := source.TryRead(ctx)
		if err != nil {
			r.logger.Debug("Security token source failed", map[string]interface{}{
				"source": string(source.Kind()),
				"error":  err,
			})

			continue
		}

		if value != "" {
			return r.accept(ctx, value, source.Kind()), nil
		}
	}

	if r.config.Fetch == nil {
		return nil, nil
	}

	return r.fetch(ctx)
}

func (r *Resolver) localSources() []Source {
	sources := make([]Source, 0, len(r.config.Sources)+1)
	sources = append(sources, r.config.Sources...)

	if r.config.Store != nil {
		sources = append(sources, &StoreSource{Store: r.config.Store})
	}

	return sources
}

func (r *Resolver) fetch(ctx context.Context) (*docbridge.SecurityToken, error) {
	now := r.config.Now()

	if !r.lastFailure.IsZero() && now.Sub(r.lastFailure) < r.config.Cooldown {
		r.logger.Debug("Security token fetch suppressed by cooldown", map[string]interface{}{
			"retry_after": r.config.Cooldown - now.Sub(r.lastFailure),
		})

		return nil, nil
	}

	value, err := r.config.Fetch.TryRead(ctx)
	if err == nil && value != "" {
		r.failures = nil
		r.lastFailure = time.Time{}

		return r.accept(ctx, value, r.config.Fetch.Kind()), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if err == nil {
		err = ErrEmptyTokenReply
	}

	r.recordFailure(ctx, now, err)

	return nil, nil
}

func (r *Resolver) recordFailure(ctx context.Context, now time.Time, err error) {
	r.lastFailure = now

	recent := r.failures[:0]

	for _, at := range r.failures {
		if now.Sub(at) < r.config.FailureWindow {
			recent = append(recent, at)
		}
	}

	r.failures = append(recent, now)

	r.logger.Warn("Failed to fetch security token", map[string]interface{}{
		"error":    err,
		"failures": len(r.failures),
	})

	if len(r.failures) < r.config.FailureLimit {
		return
	}

	r.cached = nil
	r.failures = nil

	if r.config.Store != nil {
		clearErr := r.config.Store.Clear(ctx)
		if clearErr != nil {
			r.logger.Warn("Failed to clear stored security token", map[string]interface{}{"error": clearErr})
		}
	}
}

func (r *Resolver) accept(ctx context.Context, value string, source docbridge.TokenSource) *docbridge.SecurityToken {
	token := &docbridge.SecurityToken{
		Value:      value,
		Source:     source,
		ResolvedAt: r.config.Now(),
	}

	r.cached = token

	if source != docbridge.SourceLocalStore && r.config.Store != nil {
		err := r.config.Store.Save(ctx, token)
		if err != nil {
			r.logger.Warn("Failed to persist security token", map[string]interface{}{"error": err})
		}
	}

	r.logger.Debug("Resolved security token", map[string]interface{}{
		"source": string(source),
		"token":  docbridge.MaskSecret(value),
	})

	return r.copyCached()
}

func (r *Resolver) copyCached() *docbridge.SecurityToken {
	token := *r.cached

	return &token
}

// Invalidate drops the cached and stored token after the server rejected it.
func (r *Resolver) Invalidate(ctx context.Context) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.cached = nil

	if r.config.Store == nil {
		return
	}

	err := r.config.Store.Clear(ctx)
	if err != nil {
		r.logger.Warn("Failed to clear stored security token", map[string]interface{}{"error": err})
	}
}

// Cached returns the cached token without consulting any source.
func (r *Resolver) Cached() *docbridge.SecurityToken {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cached == nil {
		return nil
	}

	return r.copyCached()
}

// Skipped reports whether resolution is disabled.
func (r *Resolver) Skipped() bool {
	return r.config.Skip
}
