// Package http executes single requests against the resource server: header
// assembly, cookie policy, per-request timeout, response decoding and error
// classification.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/internal/origin"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// TokenProvider supplies the security token for mutating requests.
type TokenProvider interface {
	Resolve(ctx context.Context) (*docbridge.SecurityToken, error)
	Invalidate(ctx context.Context)
}

// Request is one call to the resource server.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    interface{}
	Headers map[string]string
	// Strict disables absorbing optional-resource failures into empty results.
	Strict bool
	// IdempotencyKey is sent as X-Idempotency-Key when set.
	IdempotencyKey string
}

// Response is a decoded reply.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Data is the data member of the success envelope.
	Data json.RawMessage
	// Empty marks an optional-resource failure absorbed as an empty result.
	Empty bool
}

// Client executes requests for one session.
type Client struct {
	baseURL        string
	authToken      string
	httpClient     *retryablehttp.Client
	tokens         TokenProvider
	policy         *origin.Policy
	classification origin.Classification
	jar            http.CookieJar
	includeCookies bool
	forceCookies   bool
	customCookies  string
	skipToken      bool
	classifier     *docbridge.Classifier
	strict         *docbridge.Classifier
	timeout        time.Duration
	userAgent      string
	logger         docbridge.Logger
	debug          bool
	interceptors   *docbridge.InterceptorChain
	metrics        *docbridge.MetricsCollector
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger docbridge.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request and response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig sets transport retry configuration.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = client
	}
}

// WithCookieJar sets the cookie store consulted for session cookies.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.jar = jar
	}
}

// WithOriginPolicy shares an origin policy between clients.
func WithOriginPolicy(policy *origin.Policy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithInterceptors adds request and response interceptors.
func WithInterceptors(chain *docbridge.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// WithMetrics records per-endpoint metrics into collector.
func WithMetrics(collector *docbridge.MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// NewClient creates a client for config. tokens may be nil when no security
// token is ever needed.
func NewClient(config *docbridge.Config, tokens TokenProvider, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = config.TransportRetries
	retryClient.RetryWaitMin = config.RetryWaitMin
	retryClient.RetryWaitMax = config.RetryWaitMax
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{
		baseURL:        strings.TrimSuffix(config.BaseURL, "/"),
		authToken:      config.AuthToken,
		httpClient:     retryClient,
		tokens:         tokens,
		includeCookies: config.IncludeCookies,
		forceCookies:   config.ForceCookies,
		customCookies:  config.CustomCookies,
		skipToken:      config.SkipSecurityToken,
		classifier:     config.Classifier(),
		strict:         docbridge.NewClassifier(config.Resource, config.ResourcePath(config.Resource), nil),
		timeout:        config.Timeout,
		userAgent:      config.UserAgent,
		logger:         docbridge.NopLogger{},
		debug:          config.Debug,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.timeout <= 0 {
		client.timeout = constants.DefaultHTTPTimeout
	}

	if client.userAgent == "" {
		client.userAgent = constants.DefaultUserAgent
	}

	if client.policy == nil {
		client.policy = origin.NewPolicy(client.logger)
	}

	client.classification = client.policy.Classify(config.Origin, config.BaseURL)

	chain := docbridge.NewInterceptorChain()
	if client.debug {
		chain.AddRequestInterceptor(docbridge.LoggingInterceptor(client.logger))
		chain.AddResponseInterceptor(docbridge.LoggingResponseInterceptor(client.logger))
	}

	if client.metrics != nil {
		chain.AddRequestInterceptor(docbridge.MetricsRequestInterceptor(client.metrics))
		chain.AddResponseInterceptor(docbridge.MetricsResponseInterceptor(client.metrics))
	}

	if client.interceptors != nil {
		chain.AddRequestInterceptor(client.interceptors.ExecuteRequestInterceptors)
		chain.AddResponseInterceptor(client.interceptors.ExecuteResponseInterceptors)
	}

	client.interceptors = chain

	return client
}

// Classification returns the origin classification of the resource server.
func (c *Client) Classification() origin.Classification {
	return c.classification
}

// Execute performs req under the per-request timeout.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	interceptReq := &docbridge.Request{
		Method:  req.Method,
		Path:    req.Path,
		Headers: httpReq.Header,
	}

	err = c.interceptors.ExecuteRequestInterceptors(ctx, interceptReq)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		failure := c.transportError(ctx, req.Path, err)
		_ = c.interceptors.ExecuteResponseInterceptors(ctx, interceptReq, &docbridge.Response{Error: failure})

		return nil, failure
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		failure := c.transportError(ctx, req.Path, err)
		_ = c.interceptors.ExecuteResponseInterceptors(ctx, interceptReq, &docbridge.Response{StatusCode: httpResp.StatusCode, Error: failure})

		return nil, failure
	}

	c.storeCookies(httpResp)

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	interceptResp := &docbridge.Response{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: body}

	if httpResp.StatusCode >= http.StatusOK && httpResp.StatusCode < http.StatusMultipleChoices {
		_ = c.interceptors.ExecuteResponseInterceptors(ctx, interceptReq, interceptResp)

		return resp, decodeEnvelope(resp)
	}

	failure := c.classify(ctx, req, resp)
	interceptResp.Error = failure
	_ = c.interceptors.ExecuteResponseInterceptors(ctx, interceptReq, interceptResp)

	if failure != nil {
		return resp, failure
	}

	resp.Empty = true
	resp.Data = json.RawMessage("[]")

	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, req *Request) (*retryablehttp.Request, error) {
	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	var rawBody interface{}

	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}

		rawBody = data
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, reqURL, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.authToken != "" {
		httpReq.Header.Set("Authorization", AuthorizationValue(c.authToken))
	}

	if isMutating(req.Method) && !c.skipToken && c.tokens != nil && origin.AttachSecurityToken(c.classification) {
		token, err := c.tokens.Resolve(ctx)
		if err != nil {
			return nil, err
		}

		if token != nil {
			httpReq.Header.Set(constants.SecurityTokenHeader, token.Value)
		}
	}

	if cookie := c.cookieHeader(); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}

	if req.IdempotencyKey != "" {
		httpReq.Header.Set(constants.IdempotencyKeyHeader, req.IdempotencyKey)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) cookieHeader() string {
	if !origin.AttachCookies(c.classification, c.forceCookies) {
		return ""
	}

	parts := make([]string, 0)

	if c.includeCookies && c.jar != nil {
		if target, err := url.Parse(c.baseURL); err == nil {
			for _, cookie := range c.jar.Cookies(target) {
				parts = append(parts, cookie.Name+"="+cookie.Value)
			}
		}
	}

	if custom := strings.TrimSpace(c.customCookies); custom != "" {
		parts = append(parts, custom)
	}

	return strings.Join(parts, "; ")
}

func (c *Client) storeCookies(resp *http.Response) {
	if c.jar == nil || !c.includeCookies || !origin.AttachCookies(c.classification, c.forceCookies) {
		return
	}

	if cookies := resp.Cookies(); len(cookies) > 0 {
		c.jar.SetCookies(resp.Request.URL, cookies)
	}
}

func (c *Client) transportError(ctx context.Context, path string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return docbridge.NewTimeoutError(path, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("request to %s canceled: %w", path, context.Canceled)
	default:
		return docbridge.NewNetworkError(path, err)
	}
}

func (c *Client) classify(ctx context.Context, req *Request, resp *Response) error {
	if c.tokens != nil && isMutating(req.Method) && docbridge.IsSecurityTokenRejection(resp.Body) {
		c.logger.Warn("Security token rejected by server, discarding it", map[string]interface{}{
			"path": req.Path,
		})
		c.tokens.Invalidate(ctx)
	}

	classifier := c.classifier
	if req.Strict || isMutating(req.Method) {
		classifier = c.strict
	}

	empty, err := classifier.Classify(resp.StatusCode, req.Path, resp.Body)
	if empty {
		c.logger.Debug("Optional resource missing, returning empty result", map[string]interface{}{
			"path": req.Path,
		})

		return nil
	}

	return err
}

func decodeEnvelope(resp *Response) error {
	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 {
		return nil
	}

	var envelope docbridge.Envelope

	err := json.Unmarshal(trimmed, &envelope)
	if err != nil {
		return fmt.Errorf("%w: %w", docbridge.ErrMalformedEnvelope, err)
	}

	resp.Data = envelope.Data

	return nil
}

// AuthorizationValue returns the Authorization header for token: as is when it
// already names a scheme, otherwise as a Bearer token.
func AuthorizationValue(token string) string {
	token = strings.TrimSpace(token)
	if strings.Contains(token, " ") {
		return token
	}

	return "Bearer " + token
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodDelete, Path: path})
}
