package docbridge

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fivetwenty-io/docbridge/internal/constants"
)

// Config is the per-session client configuration. A Client never mutates it;
// reconfiguration replaces it as a whole and discards every derived cache.
//
// # Authentication
//
// AuthToken is sent on every request. A bare value is sent as a Bearer token; a
// value that already names a scheme ("token key:secret", "Bearer x") is sent as is.
// The anti-forgery security token is discovered at run time unless
// SkipSecurityToken is set.
//
// # Schema discovery
//
// Resource is the preferred collection. FallbackResources are tried in order when
// FallbackMode is enabled and Resource is missing. OptionalResources are probed
// silently and their absence is never an error.
type Config struct {
	// BaseURL is the resource server address, e.g. "https://erp.example.com".
	BaseURL string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	// AuthToken is the long-lived bearer-style credential.
	AuthToken string `json:"auth_token,omitempty" mapstructure:"auth_token" yaml:"auth_token,omitempty"`
	// Resource is the primary resource collection name.
	Resource string `json:"resource" mapstructure:"resource" yaml:"resource"`
	// ResourcePrefix is the collection path prefix. Defaults to "/api/resource".
	ResourcePrefix string `json:"resource_prefix,omitempty" mapstructure:"resource_prefix" yaml:"resource_prefix,omitempty"`
	// FallbackResources are alternative collection names in preference order.
	FallbackResources []string `json:"fallback_resources,omitempty" mapstructure:"fallback_resources" yaml:"fallback_resources,omitempty"`
	// OptionalResources are non-critical collections.
	OptionalResources []string `json:"optional_resources,omitempty" mapstructure:"optional_resources" yaml:"optional_resources,omitempty"`
	// Fields is the projection requested on listings.
	Fields []string `json:"fields,omitempty" mapstructure:"fields" yaml:"fields,omitempty"`
	// Timeout is the hard per-request timeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	// MaxRetries is the default number of additional bulk attempts per item.
	// Nil means constants.DefaultMaxRetries; zero disables retries.
	MaxRetries *int `json:"max_retries,omitempty" mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	// IncludeCookies attaches session cookies from the cookie store.
	IncludeCookies bool `json:"include_cookies" mapstructure:"include_cookies" yaml:"include_cookies"`
	// CustomCookies is a raw Cookie header value sent alongside session cookies.
	CustomCookies string `json:"custom_cookies,omitempty" mapstructure:"custom_cookies" yaml:"custom_cookies,omitempty"`
	// ForceCookies attaches cookies even to cross-origin servers.
	ForceCookies bool `json:"force_cookies" mapstructure:"force_cookies" yaml:"force_cookies"`
	// SkipSecurityToken disables security token discovery and the header.
	SkipSecurityToken bool `json:"skip_security_token" mapstructure:"skip_security_token" yaml:"skip_security_token"`
	// ValidateSchemas probes resources before bulk runs.
	ValidateSchemas bool `json:"validate_schemas" mapstructure:"validate_schemas" yaml:"validate_schemas"`
	// FallbackMode allows writing to a fallback resource when the primary is missing.
	FallbackMode bool `json:"fallback_mode" mapstructure:"fallback_mode" yaml:"fallback_mode"`
	// Origin is the caller's own origin. Empty means the caller is the server's own session.
	Origin string `json:"origin,omitempty" mapstructure:"origin" yaml:"origin,omitempty"`
	// TokenPath is the security token endpoint.
	TokenPath string `json:"token_path,omitempty" mapstructure:"token_path" yaml:"token_path,omitempty"`
	// TransportRetries enables transport-level retries on 429/5xx and connection errors.
	TransportRetries int `json:"transport_retries" mapstructure:"transport_retries" yaml:"transport_retries"`
	// RetryWaitMin is the minimum transport retry wait.
	RetryWaitMin time.Duration `json:"retry_wait_min,omitempty" mapstructure:"retry_wait_min" yaml:"retry_wait_min,omitempty"`
	// RetryWaitMax is the maximum transport retry wait.
	RetryWaitMax time.Duration `json:"retry_wait_max,omitempty" mapstructure:"retry_wait_max" yaml:"retry_wait_max,omitempty"`
	// UserAgent overrides the default User-Agent header.
	UserAgent string `json:"user_agent,omitempty" mapstructure:"user_agent" yaml:"user_agent,omitempty"`
	// Debug logs every request and response.
	Debug bool `json:"debug" mapstructure:"debug" yaml:"debug"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		ResourcePrefix:   constants.DefaultResourcePrefix,
		Timeout:          constants.DefaultHTTPTimeout,
		MaxRetries:       Retries(constants.DefaultMaxRetries),
		IncludeCookies:   true,
		ValidateSchemas:  true,
		TokenPath:        constants.DefaultTokenPath,
		TransportRetries: constants.DefaultTransportRetries,
		RetryWaitMin:     constants.DefaultRetryWaitMin,
		RetryWaitMax:     constants.DefaultRetryWaitMax,
		UserAgent:        constants.DefaultUserAgent,
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.FallbackResources = slices.Clone(c.FallbackResources)
	clone.OptionalResources = slices.Clone(c.OptionalResources)
	clone.Fields = slices.Clone(c.Fields)

	if c.MaxRetries != nil {
		clone.MaxRetries = Retries(*c.MaxRetries)
	}

	return &clone
}

// Normalize returns a copy with a canonical base URL and zero values defaulted.
func (c *Config) Normalize() *Config {
	out := c.Clone()

	out.BaseURL = strings.TrimSuffix(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL != "" && !strings.HasPrefix(out.BaseURL, "http://") && !strings.HasPrefix(out.BaseURL, "https://") {
		out.BaseURL = "https://" + out.BaseURL
	}

	if out.ResourcePrefix == "" {
		out.ResourcePrefix = constants.DefaultResourcePrefix
	}

	out.ResourcePrefix = "/" + strings.Trim(out.ResourcePrefix, "/")

	if out.Timeout == 0 {
		out.Timeout = constants.DefaultHTTPTimeout
	}

	if out.TokenPath == "" {
		out.TokenPath = constants.DefaultTokenPath
	}

	if out.UserAgent == "" {
		out.UserAgent = constants.DefaultUserAgent
	}

	if out.RetryWaitMin == 0 {
		out.RetryWaitMin = constants.DefaultRetryWaitMin
	}

	if out.RetryWaitMax == 0 {
		out.RetryWaitMax = constants.DefaultRetryWaitMax
	}

	if out.MaxRetries == nil {
		out.MaxRetries = Retries(constants.DefaultMaxRetries)
	}

	return out
}

// Validate checks the fields a session cannot work without.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrBaseURLRequired
	}

	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}

	if c.Resource == "" {
		return ErrResourceRequired
	}

	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	return nil
}

// RetryLimit returns the configured number of additional attempts per item.
func (c *Config) RetryLimit() int {
	if c.MaxRetries == nil {
		return constants.DefaultMaxRetries
	}

	return *c.MaxRetries
}

// ResourcePath returns the collection path of name.
func (c *Config) ResourcePath(name string) string {
	prefix := c.ResourcePrefix
	if prefix == "" {
		prefix = constants.DefaultResourcePrefix
	}

	return prefix + "/" + url.PathEscape(name)
}

// DocumentPath returns the path of one document in a collection.
func (c *Config) DocumentPath(resource, id string) string {
	return c.ResourcePath(resource) + "/" + url.PathEscape(id)
}

// OptionalSet lists names treated as optional by the error classifier: the
// configured optional resources and the fallbacks.
func (c *Config) OptionalSet() []string {
	names := make([]string, 0, len(c.OptionalResources)+len(c.FallbackResources))
	names = append(names, c.FallbackResources...)

	for _, name := range c.OptionalResources {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	return names
}

// Classifier returns the error classifier for this configuration.
func (c *Config) Classifier() *Classifier {
	return NewClassifier(c.Resource, c.ResourcePath(c.Resource), c.OptionalSet())
}
