package docbridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one document as exchanged with the resource server.
type Record map[string]interface{}

// TokenSource identifies where a security token was discovered.
type TokenSource string

const (
	SourceMetaTag     TokenSource = "meta-tag"
	SourceEnvironment TokenSource = "environment"
	SourceCookie      TokenSource = "cookie"
	SourceLocalStore  TokenSource = "local-store"
	SourceServerFetch TokenSource = "server-fetch"
)

// SecurityToken is an anti-forgery token and its provenance.
type SecurityToken struct {
	Value      string      `json:"value"       yaml:"value"`
	Source     TokenSource `json:"source"      yaml:"source"`
	ResolvedAt time.Time   `json:"resolved_at" yaml:"resolved_at"`
}

// ResourceInfo is the outcome of probing one resource collection.
type ResourceInfo struct {
	Name       string `json:"name"            yaml:"name"`
	Exists     bool   `json:"exists"          yaml:"exists"`
	Accessible bool   `json:"accessible"      yaml:"accessible"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// SystemInfo aggregates probes of the required and optional resources.
type SystemInfo struct {
	Required           []ResourceInfo `json:"required"                      yaml:"required"`
	Optional           []ResourceInfo `json:"optional"                      yaml:"optional"`
	Recommendations    []string       `json:"recommendations,omitempty"     yaml:"recommendations,omitempty"`
	FallbacksAvailable []string       `json:"fallbacks_available,omitempty" yaml:"fallbacks_available,omitempty"`
	WriteTarget        string         `json:"write_target,omitempty"        yaml:"write_target,omitempty"`
	CheckedAt          time.Time      `json:"checked_at"                    yaml:"checked_at"`
}

// Lookup returns the probe result for name.
func (s *SystemInfo) Lookup(name string) (ResourceInfo, bool) {
	for _, group := range [][]ResourceInfo{s.Required, s.Optional} {
		for _, info := range group {
			if info.Name == name {
				return info, true
			}
		}
	}

	return ResourceInfo{}, false
}

// Envelope is the success body shape: {"data": ...}.
type Envelope struct {
	Data json.RawMessage `json:"data"`
}

// BulkCreateItemResult is the terminal outcome of one input record.
type BulkCreateItemResult struct {
	Index    int    `json:"index"            yaml:"index"`
	Success  bool   `json:"success"          yaml:"success"`
	Record   Record `json:"record,omitempty" yaml:"record,omitempty"`
	Error    error  `json:"-"                yaml:"-"`
	Attempts int    `json:"attempts"         yaml:"attempts"`
}

// ErrorMessage returns the error text or "".
func (r BulkCreateItemResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}

	return r.Error.Error()
}

// BulkCreateBatchResult aggregates one batch window.
type BulkCreateBatchResult struct {
	Number    int                    `json:"number"    yaml:"number"`
	Start     int                    `json:"start"     yaml:"start"`
	Items     []BulkCreateItemResult `json:"items"     yaml:"items"`
	Completed int                    `json:"completed" yaml:"completed"`
	Failed    int                    `json:"failed"    yaml:"failed"`
}

// BulkCreateResult aggregates a whole bulk run.
type BulkCreateResult struct {
	Success   bool                    `json:"success"   yaml:"success"`
	Target    string                  `json:"target"    yaml:"target"`
	Requested int                     `json:"requested" yaml:"requested"`
	Total     int                     `json:"total"     yaml:"total"`
	Completed int                     `json:"completed" yaml:"completed"`
	Failed    int                     `json:"failed"    yaml:"failed"`
	Retries   int                     `json:"retries"   yaml:"retries"`
	Duration  time.Duration           `json:"duration"  yaml:"duration"`
	Halted    bool                    `json:"halted"    yaml:"halted"`
	Canceled  bool                    `json:"canceled"  yaml:"canceled"`
	Batches   []BulkCreateBatchResult `json:"batches"   yaml:"batches"`
	Results   []BulkCreateItemResult  `json:"results"   yaml:"results"`
	Errors    []string                `json:"errors"    yaml:"errors"`
	Created   []Record                `json:"created"   yaml:"created"`
}

// ItemError formats a per-item failure for BulkCreateResult.Errors.
func ItemError(index int, err error) string {
	return fmt.Sprintf("item %d: %s", index, err.Error())
}

// ProgressSnapshot is emitted before each item is attempted.
type ProgressSnapshot struct {
	Total        int            `json:"total"         yaml:"total"`
	Processed    int            `json:"processed"     yaml:"processed"`
	Completed    int            `json:"completed"     yaml:"completed"`
	Failed       int            `json:"failed"        yaml:"failed"`
	Retries      int            `json:"retries"       yaml:"retries"`
	CurrentIndex int            `json:"current_index" yaml:"current_index"`
	Batch        int            `json:"batch"         yaml:"batch"`
	Elapsed      time.Duration  `json:"elapsed"       yaml:"elapsed"`
	ETA          *time.Duration `json:"eta,omitempty" yaml:"eta,omitempty"`
}

// EventType distinguishes pipeline events.
type EventType string

const (
	EventProgress      EventType = "progress"
	EventBatchComplete EventType = "batch_complete"
)

// Event is a discrete pipeline notification for channel consumers.
type Event struct {
	Type     EventType
	Progress *ProgressSnapshot
	Batch    *BulkCreateBatchResult
}

// BulkOptions tunes one bulk run. Zero values select the defaults.
type BulkOptions struct {
	BatchSize            int
	DelayBetweenRequests time.Duration
	DelayBetweenBatches  time.Duration
	// MaxRetries is the number of additional attempts; nil uses the session config.
	MaxRetries  *int
	StopOnError bool
	// BackoffUnit scales the 2^attempt backoff. Defaults to one second.
	BackoffUnit     time.Duration
	OnProgress      func(ProgressSnapshot)
	OnBatchComplete func(BulkCreateBatchResult)
	// Events receives progress and batch events; sends never block the run.
	Events chan<- Event
	// DisableIdempotencyKeys stops sending the per-item idempotency header.
	DisableIdempotencyKeys bool
}

// Retries returns a pointer for BulkOptions.MaxRetries.
func Retries(n int) *int {
	return &n
}

// ListOptions narrows a listing call.
type ListOptions struct {
	Fields     []string
	Filters    [][]interface{}
	OrderBy    string
	Start      int
	PageLength int
}

// DebugSnapshot describes client state without touching the network.
type DebugSnapshot struct {
	BaseURL       string         `json:"base_url"                 yaml:"base_url"`
	Resource      string         `json:"resource"                 yaml:"resource"`
	CrossOrigin   bool           `json:"cross_origin"             yaml:"cross_origin"`
	Token         string         `json:"token"                    yaml:"token"`
	TokenSource   TokenSource    `json:"token_source,omitempty"   yaml:"token_source,omitempty"`
	AuthToken     string         `json:"auth_token"               yaml:"auth_token"`
	Resources     []ResourceInfo `json:"resources"                yaml:"resources"`
	SystemInfo    *SystemInfo    `json:"system_info,omitempty"    yaml:"system_info,omitempty"`
	FallbackMode  bool           `json:"fallback_mode"            yaml:"fallback_mode"`
	SkipToken     bool           `json:"skip_security_token"      yaml:"skip_security_token"`
	SessionNumber uint64         `json:"session_number"           yaml:"session_number"`
}
