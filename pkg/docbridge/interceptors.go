package docbridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// startedKey marks when the executor began a call in Request.Metadata.
const startedKey = "started_at"

// Request is the view of one resource-server call handed to interceptors.
// Headers set here are copied onto the outgoing request.
type Request struct {
	Method   string
	Path     string
	Headers  http.Header
	Body     []byte
	Metadata map[string]interface{}
}

// Endpoint names the call as "METHOD path", the key used by MetricsCollector.
func (r *Request) Endpoint() string {
	return r.Method + " " + r.Path
}

// Response is what came back for a Request. Error is set when the call failed
// in transport or was classified as a failure; StatusCode is zero when no
// reply arrived.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Error      error
}

// Failed reports whether the call ended in an error or a 4xx/5xx reply.
func (r *Response) Failed() bool {
	return r.Error != nil || r.StatusCode >= http.StatusBadRequest
}

// RequestInterceptor runs before a call; an error aborts the call.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor runs once per call, after the reply or the failure.
type ResponseInterceptor func(ctx context.Context, req *Request, resp *Response) error

// InterceptorChain runs hooks in registration order. It is not safe to add
// hooks while calls are in flight.
type InterceptorChain struct {
	before []RequestInterceptor
	after  []ResponseInterceptor
}

func NewInterceptorChain() *InterceptorChain {
	return &InterceptorChain{}
}

// AddRequestInterceptor appends a hook run before every call.
func (c *InterceptorChain) AddRequestInterceptor(interceptor RequestInterceptor) {
	c.before = append(c.before, interceptor)
}

// AddResponseInterceptor appends a hook run after every call.
func (c *InterceptorChain) AddResponseInterceptor(interceptor ResponseInterceptor) {
	c.after = append(c.after, interceptor)
}

// ExecuteRequestInterceptors stops at the first hook that fails.
func (c *InterceptorChain) ExecuteRequestInterceptors(ctx context.Context, req *Request) error {
	for position, hook := range c.before {
		if err := hook(ctx, req); err != nil {
			return fmt.Errorf("before-call hook %d on %s: %w", position, req.Endpoint(), err)
		}
	}

	return nil
}

// ExecuteResponseInterceptors stops at the first hook that fails.
func (c *InterceptorChain) ExecuteResponseInterceptors(ctx context.Context, req *Request, resp *Response) error {
	for position, hook := range c.after {
		if err := hook(ctx, req, resp); err != nil {
			return fmt.Errorf("after-call hook %d on %s: %w", position, req.Endpoint(), err)
		}
	}

	return nil
}

// LoggingInterceptor traces every outgoing call at debug level.
func LoggingInterceptor(logger Logger) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		logger.Debug("Calling resource server", map[string]interface{}{
			"method": req.Method,
			"path":   req.Path,
		})

		return nil
	}
}

// LoggingResponseInterceptor logs failed calls as errors and the rest at
// debug level.
func LoggingResponseInterceptor(logger Logger) ResponseInterceptor {
	return func(_ context.Context, req *Request, resp *Response) error {
		fields := map[string]interface{}{
			"method":      req.Method,
			"path":        req.Path,
			"status_code": resp.StatusCode,
		}

		if resp.Error == nil {
			logger.Debug("Resource server replied", fields)

			return nil
		}

		fields["error"] = resp.Error
		logger.Error("Resource server call failed", fields)

		return nil
	}
}

// HeaderInterceptor sets fixed headers on every call, replacing earlier values.
func HeaderInterceptor(headers map[string]string) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Headers == nil {
			req.Headers = http.Header{}
		}

		for name, value := range headers {
			req.Headers.Set(name, value)
		}

		return nil
	}
}

// Metrics are the running totals of one endpoint.
type Metrics struct {
	TotalRequests   int64
	TotalErrors     int64
	TotalLatency    time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time
}

// MetricsCollector keeps Metrics per endpoint ("METHOD path"). Wire it with
// MetricsRequestInterceptor and MetricsResponseInterceptor.
type MetricsCollector struct {
	mutex     sync.Mutex
	endpoints map[string]*Metrics
	observer  func(endpoint string, metrics Metrics)
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{endpoints: map[string]*Metrics{}}
}

// SetOnChange registers fn to receive a copy of an endpoint's totals after
// each call. fn runs outside the collector's lock.
func (m *MetricsCollector) SetOnChange(fn func(endpoint string, metrics Metrics)) {
	m.mutex.Lock()
	m.observer = fn
	m.mutex.Unlock()
}

// GetMetrics returns the totals of endpoint, false if it was never called.
func (m *MetricsCollector) GetMetrics(endpoint string) (Metrics, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	totals, ok := m.endpoints[endpoint]
	if !ok {
		return Metrics{}, false
	}

	return *totals, true
}

func (m *MetricsCollector) record(endpoint string, latency time.Duration, measured, failed bool) {
	m.mutex.Lock()

	totals := m.endpoints[endpoint]
	if totals == nil {
		totals = &Metrics{}
		m.endpoints[endpoint] = totals
	}

	totals.TotalRequests++
	totals.LastRequestTime = time.Now()

	if measured {
		totals.TotalLatency += latency
		totals.AverageLatency = totals.TotalLatency / time.Duration(totals.TotalRequests)
	}

	if failed {
		totals.TotalErrors++
	}

	snapshot := *totals
	observer := m.observer

	m.mutex.Unlock()

	if observer != nil {
		observer(endpoint, snapshot)
	}
}

// MetricsRequestInterceptor stamps the call start so the response side can
// measure latency.
func MetricsRequestInterceptor(_ *MetricsCollector) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Metadata == nil {
			req.Metadata = map[string]interface{}{}
		}

		req.Metadata[startedKey] = time.Now()

		return nil
	}
}

// MetricsResponseInterceptor adds the finished call to collector.
func MetricsResponseInterceptor(collector *MetricsCollector) ResponseInterceptor {
	return func(_ context.Context, req *Request, resp *Response) error {
		started, measured := req.Metadata[startedKey].(time.Time)

		var latency time.Duration
		if measured {
			latency = time.Since(started)
		}

		collector.record(req.Endpoint(), latency, measured, resp.Failed())

		return nil
	}
}
