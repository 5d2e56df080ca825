package docbridge

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/fivetwenty-io/docbridge/internal/constants"
)

// ResourceClient provides CRUD access to resource collections.
type ResourceClient interface {
	List(ctx context.Context, resource string, opts *ListOptions) ([]Record, error)
	Get(ctx context.Context, resource, id string) (Record, error)
	Create(ctx context.Context, resource string, record Record) (Record, error)
	Update(ctx context.Context, resource, id string, record Record) (Record, error)
	Delete(ctx context.Context, resource, id string) error
}

// SchemaClient exposes resource discovery.
type SchemaClient interface {
	ProbeResource(ctx context.Context, name string, optional bool) ResourceInfo
	SystemInfo(ctx context.Context) (*SystemInfo, error)
}

// CredentialClient exposes security token discovery.
type CredentialClient interface {
	ResolveSecurityToken(ctx context.Context) (*SecurityToken, error)
}

// BulkClient exposes the bulk-creation pipeline.
type BulkClient interface {
	BulkCreate(ctx context.Context, records []Record, opts BulkOptions) (*BulkCreateResult, error)
}

// Client is the adaptive resource client. One Client holds one session: a
// configuration together with its token, resource and system caches.
type Client interface {
	ResourceClient
	SchemaClient
	CredentialClient
	BulkClient

	// Config returns a copy of the active configuration.
	Config() *Config
	// Reconfigure replaces the configuration and discards every cache of the previous one.
	Reconfigure(config *Config) error
	// Snapshot describes the session without network access.
	Snapshot() DebugSnapshot
	// Close releases the token store of the active session.
	Close() error
}

// TokenStore persists a security token between runs.
type TokenStore interface {
	Load(ctx context.Context) (*SecurityToken, error)
	Save(ctx context.Context, token *SecurityToken) error
	Clear(ctx context.Context) error
}

// Backoff returns the wait before retry attempt (attempt starts at 1):
// unit * 2^attempt, capped at constants.MaxBackoff.
func Backoff(attempt int, unit time.Duration) time.Duration {
	if unit <= 0 {
		unit = constants.DefaultBackoffUnit
	}

	if attempt < 1 {
		attempt = 1
	}

	wait := float64(unit) * math.Pow(constants.ExponentialBackoffBase, float64(attempt))
	if math.IsInf(wait, 0) || math.IsNaN(wait) || wait >= float64(constants.MaxBackoff) {
		return constants.MaxBackoff
	}

	return time.Duration(wait)
}

// DecodeData unmarshals the data member of a success envelope into out.
func DecodeData(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, out)
}
