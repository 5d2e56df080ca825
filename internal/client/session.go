package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/fivetwenty-io/docbridge/internal/auth"
	"github.com/fivetwenty-io/docbridge/internal/bulk"
	"github.com/fivetwenty-io/docbridge/internal/constants"
	dbhttp "github.com/fivetwenty-io/docbridge/internal/http"
	"github.com/fivetwenty-io/docbridge/internal/origin"
	"github.com/fivetwenty-io/docbridge/internal/schema"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// session is one configuration together with everything derived from it: the
// executor, the token cache, the resource cache and the system cache. A
// session is never mutated after construction except through its own caches.
type session struct {
	number    uint64
	config    *docbridge.Config
	executor  *dbhttp.Client
	resolver  *auth.Resolver
	probe     *schema.Probe
	pipeline  *bulk.Pipeline
	store     docbridge.TokenStore
	ownsStore bool
	timeout   time.Duration
	logger    docbridge.Logger
}

func newSession(number uint64, config *docbridge.Config, opts *Options) (*session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = docbridge.NopLogger{}
	}

	store := docbridge.TokenStore(auth.NewMemoryStore())
	ownsStore := true

	switch {
	case opts.Store != nil:
		store = opts.Store
		ownsStore = false
	case opts.StoreFactory != nil:
		created, err := opts.StoreFactory(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}

		store = created
	}

	var jar http.CookieJar = opts.Jar
	if jar == nil {
		created, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}

		jar = created
	}

	current := &session{
		number:    number,
		config:    config,
		store:     store,
		ownsStore: ownsStore,
		timeout:   opts.TokenTimeout,
		logger:    logger,
	}

	if current.timeout <= 0 {
		current.timeout = constants.ShortHTTPTimeout
	}

	sources := make([]auth.Source, 0, 3)
	if opts.Document != nil {
		sources = append(sources, &auth.MetaTagSource{Document: opts.Document})
	}

	sources = append(sources,
		&auth.EnvSource{Lookup: opts.LookupEnv},
		&auth.CookieSource{Jar: jar, URL: config.BaseURL},
	)

	current.resolver = auth.NewResolver(auth.ResolverConfig{
		Sources: sources,
		Store:   store,
		Fetch:   &auth.FetchSource{Fetch: current.fetchToken},
		Skip:    config.SkipSecurityToken,
		Logger:  logger,
	})

	httpOpts := []dbhttp.Option{
		dbhttp.WithLogger(logger),
		dbhttp.WithDebug(config.Debug),
		dbhttp.WithCookieJar(jar),
		dbhttp.WithOriginPolicy(origin.NewPolicy(logger)),
	}

	if config.TransportRetries > 0 {
		httpOpts = append(httpOpts, dbhttp.WithRetryConfig(config.TransportRetries, config.RetryWaitMin, config.RetryWaitMax))
	}

	if opts.HTTPClient != nil {
		httpOpts = append(httpOpts, dbhttp.WithHTTPClient(opts.HTTPClient))
	}

	if opts.Metrics != nil {
		httpOpts = append(httpOpts, dbhttp.WithMetrics(opts.Metrics))
	}

	if opts.Interceptors != nil {
		httpOpts = append(httpOpts, dbhttp.WithInterceptors(opts.Interceptors))
	}

	current.executor = dbhttp.NewClient(config, current.resolver, httpOpts...)
	current.probe = schema.NewProbe(current.executor, config, logger)
	current.pipeline = bulk.NewPipeline(current, current, config, logger)

	return current, nil
}

// fetchToken asks the token endpoint for a fresh token. The request is a GET,
// so it never consults the resolver itself.
func (s *session) fetchToken(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.executor.Execute(ctx, &dbhttp.Request{
		Method: http.MethodGet,
		Path:   s.config.TokenPath,
		Strict: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching security token: %w", err)
	}

	return resp.Body, nil
}

// CreateRecord implements bulk.Creator.
func (s *session) CreateRecord(ctx context.Context, resource string, record docbridge.Record, idempotencyKey string) (docbridge.Record, error) {
	resp, err := s.executor.Execute(ctx, &dbhttp.Request{
		Method:         http.MethodPost,
		Path:           s.config.ResourcePath(resource),
		Body:           record,
		Strict:         true,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return decodeRecord(resp)
}

// SystemInfo implements bulk.Discoverer.
func (s *session) SystemInfo(ctx context.Context) (*docbridge.SystemInfo, error) {
	return s.probe.Aggregate(ctx, []string{s.config.Resource}, s.config.OptionalSet())
}

func (s *session) close() error {
	if !s.ownsStore {
		return nil
	}

	closer, ok := s.store.(io.Closer)
	if !ok {
		return nil
	}

	return closer.Close()
}

func decodeRecord(resp *dbhttp.Response) (docbridge.Record, error) {
	record := docbridge.Record{}

	err := docbridge.DecodeData(resp.Data, &record)
	if err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}

	return record, nil
}
