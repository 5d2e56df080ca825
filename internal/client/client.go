// Package client implements docbridge.Client on top of the request executor,
// the credential resolver, the schema probe and the bulk pipeline.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fivetwenty-io/docbridge/internal/auth"
	"github.com/fivetwenty-io/docbridge/internal/constants"
	dbhttp "github.com/fivetwenty-io/docbridge/internal/http"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Static errors for err113 compliance.
var (
	ErrClientClosed = errors.New("client is closed")
)

var _ docbridge.Client = (*Client)(nil)

// Options are the collaborators shared by every session of a Client.
type Options struct {
	Logger docbridge.Logger
	// Store is shared by every session and never closed by the client.
	Store docbridge.TokenStore
	// StoreFactory creates the token store of a session when Store is nil. The
	// session owns the result and closes it when replaced. Nil keeps tokens in
	// memory.
	StoreFactory func(config *docbridge.Config) (docbridge.TokenStore, error)
	// TokenTimeout bounds one security token fetch. Zero uses
	// constants.ShortHTTPTimeout.
	TokenTimeout time.Duration
	// Jar holds session cookies. Nil creates a fresh jar per session.
	Jar http.CookieJar
	// Document is the host document searched for a meta-tag token.
	Document auth.DocumentProvider
	// LookupEnv reads process-global variables. Nil uses os.LookupEnv.
	LookupEnv    func(key string) (string, bool)
	Metrics      *docbridge.MetricsCollector
	Interceptors *docbridge.InterceptorChain
	HTTPClient   *http.Client
}

// Client is the adaptive resource client. All state derived from the
// configuration lives in one session that Reconfigure replaces atomically.
type Client struct {
	options Options
	logger  docbridge.Logger
	session atomic.Pointer[session]
	counter atomic.Uint64
	closed  atomic.Bool
}

// New creates a client for config.
func New(config *docbridge.Config, options Options) (*Client, error) {
	if options.Logger == nil {
		options.Logger = docbridge.NopLogger{}
	}

	client := &Client{
		options: options,
		logger:  options.Logger,
	}

	err := client.Reconfigure(config)
	if err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) current() *session {
	return c.session.Load()
}

// Config implements docbridge.Client.Config.
func (c *Client) Config() *docbridge.Config {
	return c.current().config.Clone()
}

// Reconfigure implements docbridge.Client.Reconfigure. The previous session's
// token, resource and system caches are dropped with it.
func (c *Client) Reconfigure(config *docbridge.Config) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	if config == nil {
		return docbridge.ErrConfigRequired
	}

	normalized := config.Normalize()

	err := normalized.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	next, err := newSession(c.counter.Add(1), normalized, &c.options)
	if err != nil {
		return err
	}

	previous := c.session.Swap(next)
	if previous == nil {
		return nil
	}

	if closeErr := previous.close(); closeErr != nil {
		c.logger.Warn("Failed to close previous token store", map[string]interface{}{"error": closeErr})
	}

	c.logger.Info("Client reconfigured", map[string]interface{}{
		"session":  next.number,
		"base_url": normalized.BaseURL,
		"resource": normalized.Resource,
	})

	return nil
}

// Close releases the token store of the active session unless it was
// supplied through Options.Store.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	return c.current().close()
}

// List implements docbridge.ResourceClient.List. An empty resource lists the
// primary resource.
func (c *Client) List(ctx context.Context, resource string, opts *docbridge.ListOptions) ([]docbridge.Record, error) {
	s := c.current()
	if resource == "" {
		resource = s.config.Resource
	}

	query, err := listQuery(s.config, opts)
	if err != nil {
		return nil, err
	}

	resp, err := s.executor.Execute(ctx, &dbhttp.Request{
		Method: http.MethodGet,
		Path:   s.config.ResourcePath(resource),
		Query:  query,
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", resource, err)
	}

	records := []docbridge.Record{}

	err = docbridge.DecodeData(resp.Data, &records)
	if err != nil {
		return nil, fmt.Errorf("parsing %s listing: %w", resource, err)
	}

	return records, nil
}

func listQuery(config *docbridge.Config, opts *docbridge.ListOptions) (url.Values, error) {
	if opts == nil {
		opts = &docbridge.ListOptions{}
	}

	query := url.Values{}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = config.Fields
	}

	if len(fields) > 0 {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encoding fields: %w", err)
		}

		query.Set(constants.FieldsParam, string(data))
	}

	if len(opts.Filters) > 0 {
		data, err := json.Marshal(opts.Filters)
		if err != nil {
			return nil, fmt.Errorf("encoding filters: %w", err)
		}

		query.Set(constants.FiltersParam, string(data))
	}

	if opts.OrderBy != "" {
		query.Set(constants.OrderByParam, opts.OrderBy)
	}

	if opts.Start > 0 {
		query.Set(constants.StartParam, strconv.Itoa(opts.Start))
	}

	if opts.PageLength > 0 {
		query.Set(constants.PageLengthParam, strconv.Itoa(opts.PageLength))
	}

	return query, nil
}

// Get implements docbridge.ResourceClient.Get.
func (c *Client) Get(ctx context.Context, resource, id string) (docbridge.Record, error) {
	s := c.current()

	resp, err := s.executor.Execute(ctx, &dbhttp.Request{
		Method: http.MethodGet,
		Path:   s.config.DocumentPath(resource, id),
		Strict: true,
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", resource, id, err)
	}

	return decodeRecord(resp)
}

// Create implements docbridge.ResourceClient.Create.
func (c *Client) Create(ctx context.Context, resource string, record docbridge.Record) (docbridge.Record, error) {
	created, err := c.current().CreateRecord(ctx, resource, record, "")
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", resource, err)
	}

	return created, nil
}

// Update implements docbridge.ResourceClient.Update.
func (c *Client) Update(ctx context.Context, resource, id string, record docbridge.Record) (docbridge.Record, error) {
	s := c.current()

	resp, err := s.executor.Execute(ctx, &dbhttp.Request{
		Method: http.MethodPut,
		Path:   s.config.DocumentPath(resource, id),
		Body:   record,
	})
	if err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", resource, id, err)
	}

	return decodeRecord(resp)
}

// Delete implements docbridge.ResourceClient.Delete.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	s := c.current()

	_, err := s.executor.Delete(ctx, s.config.DocumentPath(resource, id))
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", resource, id, err)
	}

	return nil
}

// ProbeResource implements docbridge.SchemaClient.ProbeResource.
func (c *Client) ProbeResource(ctx context.Context, name string, optional bool) docbridge.ResourceInfo {
	return c.current().probe.Probe(ctx, name, optional)
}

// SystemInfo implements docbridge.SchemaClient.SystemInfo.
func (c *Client) SystemInfo(ctx context.Context) (*docbridge.SystemInfo, error) {
	return c.current().SystemInfo(ctx)
}

// ResolveSecurityToken implements docbridge.CredentialClient.ResolveSecurityToken.
// It returns nil and no error when no source has a token.
func (c *Client) ResolveSecurityToken(ctx context.Context) (*docbridge.SecurityToken, error) {
	return c.current().resolver.Resolve(ctx)
}

// BulkCreate implements docbridge.BulkClient.BulkCreate. The run stays on the
// session that was active when it started. Concurrent runs on one Client are not
// coordinated and share the session's caches.
func (c *Client) BulkCreate(ctx context.Context, records []docbridge.Record, opts docbridge.BulkOptions) (*docbridge.BulkCreateResult, error) {
	return c.current().pipeline.Run(ctx, records, opts)
}

// Snapshot implements docbridge.Client.Snapshot.
func (c *Client) Snapshot() docbridge.DebugSnapshot {
	s := c.current()

	snapshot := docbridge.DebugSnapshot{
		BaseURL:       s.config.BaseURL,
		Resource:      s.config.Resource,
		CrossOrigin:   s.executor.Classification().CrossOrigin,
		AuthToken:     docbridge.MaskSecret(s.config.AuthToken),
		Resources:     s.probe.Snapshot(),
		SystemInfo:    s.probe.System(),
		FallbackMode:  s.config.FallbackMode,
		SkipToken:     s.config.SkipSecurityToken,
		SessionNumber: s.number,
	}

	if token := s.resolver.Cached(); token != nil {
		snapshot.Token = docbridge.MaskSecret(token.Value)
		snapshot.TokenSource = token.Source
	}

	return snapshot
}
