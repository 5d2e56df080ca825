package bridge

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fivetwenty-io/docbridge/internal/auth"
	"github.com/fivetwenty-io/docbridge/internal/client"
	"github.com/fivetwenty-io/docbridge/internal/origin"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Token store configuration, re-exported for callers outside the module.
type (
	StoreConfig = auth.StoreConfig
	StoreType   = auth.StoreType
	NATSConfig  = auth.NATSConfig
)

const (
	StoreTypeFile   = auth.StoreTypeFile
	StoreTypeNATS   = auth.StoreTypeNATS
	StoreTypeMemory = auth.StoreTypeMemory
	StoreTypeNone   = auth.StoreTypeNone
)

type settings struct {
	options        client.Options
	store          *StoreConfig
	discoverOnInit bool
}

// Option configures New.
type Option func(*settings)

// WithLogger sets the logger used by every component.
func WithLogger(logger docbridge.Logger) Option {
	return func(s *settings) {
		s.options.Logger = logger
	}
}

// WithZapLogger logs through a zap logger.
func WithZapLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.options.Logger = docbridge.NewZapLogger(logger)
	}
}

// WithStore persists security tokens in the configured backend. Tokens of
// different servers are kept apart by the server origin unless Key is set.
// The client opens one store per session and closes it with the session.
func WithStore(config *StoreConfig) Option {
	return func(s *settings) {
		s.store = config
		s.options.Store = nil
	}
}

// WithTokenStore persists security tokens in store for every session. The
// caller keeps ownership: neither Reconfigure nor Close closes store.
func WithTokenStore(store docbridge.TokenStore) Option {
	return func(s *settings) {
		s.store = nil
		s.options.Store = store
		s.options.StoreFactory = nil
	}
}

// WithCookieJar shares a cookie jar across sessions.
func WithCookieJar(jar http.CookieJar) Option {
	return func(s *settings) {
		s.options.Jar = jar
	}
}

// WithDocumentFile searches the HTML document at path for a meta-tag token.
func WithDocumentFile(path string) Option {
	return func(s *settings) {
		s.options.Document = auth.FileDocument(path)
	}
}

// WithDocument searches an in-memory HTML document for a meta-tag token.
func WithDocument(document string) Option {
	return func(s *settings) {
		s.options.Document = auth.StringDocument(document)
	}
}

// WithEnvLookup replaces os.LookupEnv for the environment token source.
func WithEnvLookup(lookup func(key string) (string, bool)) Option {
	return func(s *settings) {
		s.options.LookupEnv = lookup
	}
}

// WithMetrics records per-endpoint request metrics.
func WithMetrics(collector *docbridge.MetricsCollector) Option {
	return func(s *settings) {
		s.options.Metrics = collector
	}
}

// WithInterceptors runs custom request and response interceptors.
func WithInterceptors(chain *docbridge.InterceptorChain) Option {
	return func(s *settings) {
		s.options.Interceptors = chain
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *settings) {
		s.options.HTTPClient = httpClient
	}
}

// WithDiscoverOnInit probes the configured resources before New returns.
// A failed discovery is logged, not returned.
func WithDiscoverOnInit() Option {
	return func(s *settings) {
		s.discoverOnInit = true
	}
}

// New creates a client for config.
func New(ctx context.Context, config *docbridge.Config, opts ...Option) (docbridge.Client, error) {
	if config == nil {
		return nil, docbridge.ErrConfigRequired
	}

	current := &settings{}
	for _, opt := range opts {
		opt(current)
	}

	if current.store != nil {
		current.options.StoreFactory = storeFactory(current.store)
	}

	c, err := client.New(config, current.options)
	if err != nil {
		return nil, fmt.Errorf("failed to create new client: %w", err)
	}

	if current.discoverOnInit {
		_, discoverErr := c.SystemInfo(ctx)
		if discoverErr != nil && current.options.Logger != nil {
			current.options.Logger.Warn("Initial discovery failed", map[string]interface{}{"error": discoverErr})
		}
	}

	return c, nil
}

// NewWithToken creates a client for resource on baseURL with an auth token.
func NewWithToken(ctx context.Context, baseURL, resource, authToken string, opts ...Option) (docbridge.Client, error) {
	config := docbridge.DefaultConfig()
	config.BaseURL = baseURL
	config.Resource = resource
	config.AuthToken = authToken

	return New(ctx, config, opts...)
}

// storeFactory opens one store per session, keyed by the server origin.
func storeFactory(base *StoreConfig) func(*docbridge.Config) (docbridge.TokenStore, error) {
	return func(config *docbridge.Config) (docbridge.TokenStore, error) {
		key := base.Key
		if key == "" {
			serverOrigin, ok := origin.Of(config.BaseURL)
			if !ok {
				serverOrigin = config.BaseURL
			}

			key = serverOrigin
		}

		return auth.NewStoreBuilder().
			WithType(base.Type).
			WithPath(base.Path).
			WithKey(key).
			WithNATSConfig(base.NATS).
			Build()
	}
}
