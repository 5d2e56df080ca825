package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration and token files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default hard timeout for a single request.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for token fetches and document lookups.
	ShortHTTPTimeout = 10 * time.Second

	// NATSConnectTimeout bounds the initial NATS connection for the KV token store.
	NATSConnectTimeout = 5 * time.Second
)

// Retry limits.
const (
	// DefaultMaxRetries is the default number of additional attempts per bulk item.
	DefaultMaxRetries = 3

	// DefaultTransportRetries disables transport-level retries; item retries belong to the pipeline.
	DefaultTransportRetries = 0

	// DefaultRetryWaitMin is the minimum transport retry wait.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum transport retry wait.
	DefaultRetryWaitMax = 10 * time.Second

	// ExponentialBackoffBase is the base for exponential backoff.
	ExponentialBackoffBase = 2

	// DefaultBackoffUnit is multiplied by ExponentialBackoffBase^attempt.
	DefaultBackoffUnit = time.Second

	// MaxBackoff caps a single retry wait.
	MaxBackoff = 5 * time.Minute
)

// Batching limits.
const (
	// DefaultBatchSize is the number of items per bulk batch.
	DefaultBatchSize = 5

	// EventBufferSize is the suggested buffer for pipeline event channels.
	EventBufferSize = 100
)

// Credential resolution.
const (
	// TokenFetchCooldown is the minimum time between network token fetches after a failure.
	TokenFetchCooldown = 30 * time.Second

	// TokenFailureWindow is the window in which two fetch failures clear the cached token.
	TokenFailureWindow = 2 * time.Minute

	// TokenFailureLimit is the number of fetch failures inside the window that clears the cache.
	TokenFailureLimit = 2

	// TokenMaskVisible is the number of leading characters kept when masking a token.
	TokenMaskVisible = 4
)

// Wire contract.
const (
	// DefaultResourcePrefix is the path prefix of resource collections.
	DefaultResourcePrefix = "/api/resource"

	// DefaultTokenPath is the token-issuing endpoint.
	DefaultTokenPath = "/api/method/frappe.auth.get_csrf_token"

	// MetadataResource is the collection describing resource schemas.
	MetadataResource = "DocType"

	// SecurityTokenHeader carries the anti-forgery token.
	SecurityTokenHeader = "X-Frappe-CSRF-Token"

	// IdempotencyKeyHeader carries the per-item idempotency key.
	IdempotencyKeyHeader = "X-Idempotency-Key"

	// PageLengthParam limits listing responses.
	PageLengthParam = "limit_page_length"

	// FieldsParam selects projected fields.
	FieldsParam = "fields"

	// FiltersParam carries listing filters.
	FiltersParam = "filters"

	// OrderByParam sorts listings.
	OrderByParam = "order_by"

	// StartParam is the listing offset.
	StartParam = "limit_start"

	// ProbePageLength is the page size used by existence listings.
	ProbePageLength = 1

	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "docbridge-go"
)

// Environment variables.
const (
	// EnvSecurityToken is the primary environment-global token variable.
	EnvSecurityToken = "DOCBRIDGE_CSRF_TOKEN"

	// EnvSecurityTokenAlias is the alias consulted after EnvSecurityToken.
	EnvSecurityTokenAlias = "CSRF_TOKEN"

	// EnvPrefix is the viper environment prefix.
	EnvPrefix = "DOCBRIDGE"
)

// UI and display constants.
const (
	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"

	// JSONIndentSize is the number of spaces for JSON indentation.
	JSONIndentSize = 2
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"
)
